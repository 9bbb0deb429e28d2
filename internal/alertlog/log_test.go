package alertlog_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tidewatch/internal/alertlog"
	"tidewatch/internal/models"
	"tidewatch/internal/storage"
)

// flakyStore fails InsertBatch while fail is set.
type flakyStore struct {
	storage.AlertStore
	fail atomic.Bool
}

func (f *flakyStore) InsertBatch(ctx context.Context, alerts []models.Alert) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.AlertStore.InsertBatch(ctx, alerts)
}

func openStore(t *testing.T, path string) storage.AlertStore {
	t.Helper()
	s, err := storage.NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	return s
}

func openLog(t *testing.T) *alertlog.Log {
	t.Helper()
	store := openStore(t, filepath.Join(t.TempDir(), "alerts.db"))
	l, err := alertlog.Open(context.Background(), store)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func alert(sensor string) models.Alert {
	return models.Alert{
		Type:           models.AlertTypeThreshold,
		Severity:       models.SeverityHigh,
		Message:        "sea_level 3.2 >= 3 at sensor " + sensor,
		SourceSensorID: sensor,
	}
}

func TestAppendBatch_AssignsConsecutiveIDs(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	out, err := l.AppendBatch(ctx, []models.Alert{alert("a"), alert("a"), alert("a")})
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	for i, a := range out {
		if a.ID != uint64(i+1) {
			t.Errorf("out[%d].ID = %d, want %d", i, a.ID, i+1)
		}
		if a.CreatedAt.IsZero() {
			t.Errorf("out[%d].CreatedAt not set", i)
		}
	}
	if l.LastID() != 3 {
		t.Errorf("LastID = %d, want 3", l.LastID())
	}
}

func TestAppend_ConcurrentIDsStrictlyIncreasing(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	const workers, perWorker = 8, 10
	ids := make(chan uint64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				a, err := l.Append(ctx, alert("buoy"))
				if err != nil {
					t.Errorf("Append: %v", err)
					return
				}
				ids <- a.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	for id := uint64(1); id <= workers*perWorker; id++ {
		if !seen[id] {
			t.Errorf("missing id %d", id)
		}
	}

	got, err := l.Query(ctx, alertlog.MaxQueryLimit, alertlog.Cursor{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID >= got[i-1].ID {
			t.Fatalf("query not newest first at %d: %d then %d", i, got[i-1].ID, got[i].ID)
		}
	}
}

func TestAppend_StoreFailureConsumesNoID(t *testing.T) {
	store := &flakyStore{AlertStore: openStore(t, filepath.Join(t.TempDir(), "alerts.db"))}
	l, err := alertlog.Open(context.Background(), store)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()
	ctx := context.Background()

	if _, err := l.Append(ctx, alert("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	store.fail.Store(true)
	_, err = l.Append(ctx, alert("a"))
	if !models.IsWrite(err) {
		t.Fatalf("Append with failing store = %v, want WriteError", err)
	}

	store.fail.Store(false)
	a, err := l.Append(ctx, alert("a"))
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if a.ID != 2 {
		t.Errorf("ID after failed append = %d, want 2", a.ID)
	}
}

func TestAppend_RejectsInvalidAlert(t *testing.T) {
	l := openLog(t)

	bad := alert("a")
	bad.Severity = "catastrophic"
	_, err := l.Append(context.Background(), bad)
	if !errors.Is(err, models.ErrInvalidSeverity) {
		t.Fatalf("Append = %v, want ErrInvalidSeverity", err)
	}
	if l.LastID() != 0 {
		t.Errorf("LastID = %d, want 0", l.LastID())
	}
}

func TestOpen_ResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.db")

	l, err := alertlog.Open(ctx, openStore(t, path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.AppendBatch(ctx, []models.Alert{alert("a"), alert("b")}); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	_ = l.Close()

	l, err = alertlog.Open(ctx, openStore(t, path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	a, err := l.Append(ctx, alert("c"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if a.ID != 3 {
		t.Errorf("ID after restart = %d, want 3", a.ID)
	}

	got, err := l.Query(ctx, 0, alertlog.Cursor{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Query returned %d alerts, want 3", len(got))
	}
}

func TestQuery_Cursor(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, alert("a")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := l.Query(ctx, 2, alertlog.Cursor{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].ID != 5 || got[1].ID != 4 {
		t.Errorf("Query(limit 2) = %+v", got)
	}

	got, err = l.Query(ctx, 0, alertlog.Cursor{AfterID: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Query(after 3) returned %d, want 2", len(got))
	}

	got, err = l.Query(ctx, 0, alertlog.Cursor{AfterID: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Query(after 5) = %v, want empty non-nil slice", got)
	}
}

func TestParseCursor(t *testing.T) {
	ts := "2025-03-01T10:00:00Z"
	want, _ := time.Parse(time.RFC3339, ts)

	tests := []struct {
		name    string
		in      string
		want    alertlog.Cursor
		wantErr bool
	}{
		{"empty", "", alertlog.Cursor{}, false},
		{"id", "42", alertlog.Cursor{AfterID: 42}, false},
		{"timestamp", ts, alertlog.Cursor{Since: want}, false},
		{"garbage", "yesterday", alertlog.Cursor{}, true},
		{"negative", "-1", alertlog.Cursor{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := alertlog.ParseCursor(tt.in)
			if tt.wantErr {
				if !models.IsValidation(err) {
					t.Fatalf("ParseCursor(%q) error = %v, want ValidationError", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCursor(%q): %v", tt.in, err)
			}
			if got.AfterID != tt.want.AfterID || !got.Since.Equal(tt.want.Since) {
				t.Errorf("ParseCursor(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
