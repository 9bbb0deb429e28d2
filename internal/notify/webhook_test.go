package notify_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tidewatch/internal/config"
	"tidewatch/internal/hub"
	"tidewatch/internal/models"
	"tidewatch/internal/notify"
)

type receiver struct {
	mu       sync.Mutex
	payloads []notify.Payload
	sigs     []string
	status   int
	hits     int
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.hits++
	if rc.status != 0 {
		w.WriteHeader(rc.status)
		return
	}
	var p notify.Payload
	_ = json.Unmarshal(body, &p)
	rc.payloads = append(rc.payloads, p)
	rc.sigs = append(rc.sigs, r.Header.Get(notify.SignatureHeader))
}

func frame(t *testing.T, ev models.Event) []byte {
	t.Helper()
	b, err := ev.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func alertEvent(id uint64, sev models.Severity) models.Event {
	return models.NewAlertEvent(models.Alert{
		ID: id, Type: models.AlertTypeThreshold, Severity: sev,
		Message: "sea_level 3.2 >= 3 at sensor A1", SourceSensorID: "A1",
	})
}

func TestWebhook_FiltersBySeverity(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	w, err := notify.NewWebhook(config.NotifyConfig{WebhookURL: srv.URL, MinSeverity: "medium", Secret: "s3cret"})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}

	for _, ev := range []models.Event{
		alertEvent(1, models.SeverityLow),
		alertEvent(2, models.SeverityMedium),
		alertEvent(3, models.SeverityHigh),
		models.NewReadingEvent(models.Reading{SensorID: "A1"}),
	} {
		if err := w.WriteFrame(frame(t, ev)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.payloads) != 2 {
		t.Fatalf("received %d notifications, want 2", len(rc.payloads))
	}
	if rc.payloads[0].Alert.ID != 2 || rc.payloads[1].Alert.ID != 3 {
		t.Errorf("notified alerts %d, %d", rc.payloads[0].Alert.ID, rc.payloads[1].Alert.ID)
	}
	if rc.payloads[1].Event != "alert.high" {
		t.Errorf("event = %q", rc.payloads[1].Event)
	}
	if rc.sigs[0] == "" {
		t.Error("missing signature header")
	}
}

func TestWebhook_FailureDoesNotCloseSubscription(t *testing.T) {
	rc := &receiver{status: http.StatusBadGateway}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	w, err := notify.NewWebhook(config.NotifyConfig{WebhookURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	h := hub.New(hub.Config{})
	sub, err := w.Attach(h)
	if err != nil {
		t.Fatal(err)
	}
	h.Publish(alertEvent(1, models.SeverityHigh))

	deadline := time.Now().Add(3 * time.Second)
	for {
		rc.mu.Lock()
		hits := rc.hits
		rc.mu.Unlock()
		if hits >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("webhook hit %d times, want 2 (one retry)", hits)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if sub.State() != hub.StateOpen {
		t.Errorf("subscriber state = %v, want open", sub.State())
	}
}

func TestNewWebhook_Validation(t *testing.T) {
	if _, err := notify.NewWebhook(config.NotifyConfig{}); err == nil {
		t.Error("expected error without url")
	}
	if _, err := notify.NewWebhook(config.NotifyConfig{WebhookURL: "http://x", MinSeverity: "urgent"}); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestSign(t *testing.T) {
	a := notify.Sign("k", []byte("body"))
	if a != notify.Sign("k", []byte("body")) || a == notify.Sign("other", []byte("body")) {
		t.Error("signature is not a keyed digest")
	}
}

func TestWebhook_ReadingBurstDoesNotDisconnect(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var got []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p notify.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p.Alert.ID == 1 {
			<-gate // slow endpoint while readings pile up
		}
		mu.Lock()
		got = append(got, p.Alert.ID)
		mu.Unlock()
	}))
	defer srv.Close()

	wh, err := notify.NewWebhook(config.NotifyConfig{WebhookURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	h := hub.New(hub.Config{QueueSize: 4, Overflow: hub.Disconnect})
	sub, err := wh.Attach(h)
	if err != nil {
		t.Fatal(err)
	}

	h.Publish(alertEvent(1, models.SeverityHigh))
	for i := 0; i < 10; i++ {
		h.Publish(models.NewReadingEvent(models.Reading{
			SensorID:  "A1",
			Timestamp: time.Date(2025, 1, 1, 0, i, 0, 0, time.UTC),
			Values:    map[string]float64{"sea_level": 1},
		}))
	}
	h.Publish(alertEvent(2, models.SeverityHigh))
	close(gate)

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notified %d alerts, want 2 (state=%v err=%v)", n, sub.State(), sub.Err())
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("notified alerts %v, want [1 2]", got)
	}
	if sub.State() != hub.StateOpen {
		t.Errorf("subscriber state = %v, want open", sub.State())
	}
}
