package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"tidewatch/internal/alertlog"
	"tidewatch/internal/logger"
	"tidewatch/internal/models"
)

// AlertQuerier reads the alert log.
type AlertQuerier interface {
	Query(ctx context.Context, limit int, since alertlog.Cursor) ([]models.Alert, error)
}

// AlertsHandler serves GET /alerts?limit=&since=, newest first.
type AlertsHandler struct {
	log AlertQuerier
}

func NewAlertsHandler(log AlertQuerier) *AlertsHandler {
	return &AlertsHandler{log: log}
}

func (h *AlertsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer", Field: "limit"})
			return
		}
		limit = n
	}

	since, err := alertlog.ParseCursor(q.Get("since"))
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := h.log.Query(r.Context(), limit, since)
	if err != nil {
		reqLog := logger.WithRequestID(r.Header.Get("X-Request-ID"))
		reqLog.Error().Err(err).Msg("alert query failed")
		writeError(w, http.StatusInternalServerError, "failed to query alerts")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}
