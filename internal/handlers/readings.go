package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"tidewatch/internal/models"
)

// RecentReader returns the retained readings of a sensor.
type RecentReader interface {
	Recent(sensorID string, k int) ([]models.Reading, error)
}

// ReadingsHandler serves GET /readings/{sensor_id}?k=, oldest first.
type ReadingsHandler struct {
	store RecentReader
}

func NewReadingsHandler(store RecentReader) *ReadingsHandler {
	return &ReadingsHandler{store: store}
}

func (h *ReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("sensor_id")
	if sensorID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sensor id is required", Field: "sensor_id"})
		return
	}

	k := 0
	if s := r.URL.Query().Get("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "k must be an integer", Field: "k"})
			return
		}
		k = n
	}

	readings, err := h.store.Recent(sensorID, k)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown sensor "+strconv.Quote(sensorID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sensor")
		return
	}
	writeJSON(w, http.StatusOK, readings)
}
