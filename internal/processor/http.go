package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tidewatch/internal/kafka"
	"tidewatch/internal/worker"
)

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// healthHandler reports unhealthy only when the alert log is unreachable.
// A broken export path degrades but does not fail the check.
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]string{"alert_log": "ok"},
	}
	status := http.StatusOK

	if err := p.alertLog.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["alert_log"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if p.producer != nil {
		resp.Checks["kafka"] = "ok"
		if err := p.producer.HealthCheck(ctx); err != nil {
			resp.Checks["kafka"] = err.Error()
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, status, resp)
}

type statsResponse struct {
	UptimeSeconds float64      `json:"uptime_seconds"`
	Alerts        alertStats   `json:"alerts"`
	Readings      readingStats `json:"readings"`
	Hub           hubStats     `json:"hub"`
	Export        *exportStats `json:"export,omitempty"`
}

type alertStats struct {
	LastID uint64 `json:"last_id"`
}

type readingStats struct {
	Sensors   int `json:"sensors"`
	Retention int `json:"retention"`
}

type hubStats struct {
	Subscribers int `json:"subscribers"`
}

type exportStats struct {
	Worker   worker.Stats        `json:"worker"`
	Producer kafka.ProducerStats `json:"producer"`
}

func (p *Processor) stats() statsResponse {
	s := statsResponse{
		UptimeSeconds: time.Since(p.startedAt).Seconds(),
		Alerts:        alertStats{LastID: p.alertLog.LastID()},
		Readings:      readingStats{Sensors: len(p.readings.Sensors()), Retention: p.readings.Capacity()},
		Hub:           hubStats{Subscribers: p.hub.Count()},
	}
	if p.pool != nil {
		s.Export = &exportStats{Worker: p.pool.Stats(), Producer: p.producer.Stats()}
	}
	return s
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
