// Package handlers implements the HTTP surface: ingestion, alert and reading
// queries, and the live websocket channel.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tidewatch/internal/gateway"
	"tidewatch/internal/logger"
	"tidewatch/internal/models"
)

const defaultMaxBodySize = 1 << 20 // 1MB

// Submitter is the ingestion gateway as seen by transports.
type Submitter interface {
	SubmitReading(ctx context.Context, r models.Reading) (gateway.Result, error)
	SubmitAlert(ctx context.Context, a models.Alert) (models.Alert, error)
}

// IngestHandler accepts single readings over HTTP (POST /ingest/reading).
type IngestHandler struct {
	gateway     Submitter
	maxBodySize int64
}

// IngestConfig holds configuration for the ingest handlers
type IngestConfig struct {
	Gateway     Submitter
	MaxBodySize int64
}

// NewIngestHandler creates a new reading ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	return &IngestHandler{gateway: cfg.Gateway, maxBodySize: cfg.MaxBodySize}
}

// IngestResponse is returned for an accepted or duplicate reading
type IngestResponse struct {
	Status   gateway.Status `json:"status"`
	SensorID string         `json:"sensor_id"`
	AlertIDs []uint64       `json:"alert_ids"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r, h.maxBodySize)
	if !ok {
		return
	}

	reading, err := models.DecodeReading(body)
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}

	res, err := h.gateway.SubmitReading(gateway.WithSource(r.Context(), "http"), reading)
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		Status:   res.Status,
		SensorID: res.SensorID,
		AlertIDs: res.AlertIDs(),
	})
}

// AlertIngestHandler accepts alerts raised by upstream detectors
// (POST /ingest/alert) and answers with the logged alert.
type AlertIngestHandler struct {
	gateway     Submitter
	maxBodySize int64
}

// NewAlertIngestHandler creates a new alert ingest handler
func NewAlertIngestHandler(cfg IngestConfig) *AlertIngestHandler {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	return &AlertIngestHandler{gateway: cfg.Gateway, maxBodySize: cfg.MaxBodySize}
}

// AlertInput is the wire form of an upstream alert.
type AlertInput struct {
	Type           string               `json:"alert_type"`
	Severity       string               `json:"severity"`
	Message        string               `json:"message"`
	SourceSensorID string               `json:"source_sensor_id"`
	Payload        *models.AlertPayload `json:"payload,omitempty"`
}

func (h *AlertIngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r, h.maxBodySize)
	if !ok {
		return
	}

	var in AlertInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	logged, err := h.gateway.SubmitAlert(gateway.WithSource(r.Context(), "http"), models.Alert{
		Type:           in.Type,
		Severity:       models.Severity(in.Severity),
		Message:        in.Message,
		SourceSensorID: in.SourceSensorID,
		Payload:        in.Payload,
	})
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logged)
}

// readJSONBody enforces method, content type and size, writing the error
// response itself when it returns false.
func readJSONBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	return body, true
}

// writeSubmitError maps gateway errors onto status codes.
func writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field})
	case models.IsWrite(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "alert log unavailable, retry later")
	default:
		reqLog := logger.WithRequestID(r.Header.Get("X-Request-ID"))
		reqLog.Error().Err(err).Msg("ingest failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
