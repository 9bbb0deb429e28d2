// Package gateway is the single entry point for readings and upstream
// alerts, whatever transport they arrive on. For every accepted reading it
// evaluates rules, logs the resulting alerts, stores the reading and fans
// everything out, in that order, before returning.
package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"tidewatch/internal/alerts"
	"tidewatch/internal/logger"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
	"tidewatch/internal/readings"
)

// Status reports what happened to a submitted reading.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
)

const lockStripes = 256

// Result of a successful SubmitReading.
type Result struct {
	Status   Status
	SensorID string
	Alerts   []models.Alert
}

// AlertIDs lists the ids of the alerts raised by the reading.
func (r Result) AlertIDs() []uint64 {
	ids := make([]uint64, len(r.Alerts))
	for i, a := range r.Alerts {
		ids[i] = a.ID
	}
	return ids
}

// AlertLog persists alerts and assigns their ids.
type AlertLog interface {
	AppendBatch(ctx context.Context, alerts []models.Alert) ([]models.Alert, error)
}

// Publisher fans events out to live subscribers.
type Publisher interface {
	Publish(ev models.Event)
}

// Exporter hands envelopes to an asynchronous exporter without blocking.
type Exporter interface {
	Submit(env *models.Envelope) bool
}

// Gateway validates and routes submissions. Submissions for the same sensor
// are serialized; different sensors proceed in parallel.
type Gateway struct {
	store    *readings.Store
	engine   alerts.Evaluator
	alertLog AlertLog
	hub      Publisher
	exporter Exporter
	nodeID   string

	locks [lockStripes]sync.Mutex
	log   zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithExporter forwards every fanned-out event to e as well.
func WithExporter(e Exporter) Option {
	return func(g *Gateway) { g.exporter = e }
}

// WithNodeID sets the ingest node stamped on exported envelopes.
func WithNodeID(id string) Option {
	return func(g *Gateway) { g.nodeID = id }
}

// New wires a gateway.
func New(store *readings.Store, engine alerts.Evaluator, alertLog AlertLog, hub Publisher, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		engine:   engine,
		alertLog: alertLog,
		hub:      hub,
		log:      logger.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type sourceKey struct{}

// WithSource tags ctx with the transport a submission arrived on (http,
// mqtt, kafka) for metrics and logs.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "direct"
}

// SubmitReading validates r and runs it through the pipeline.
//
// A malformed reading fails with a *models.ValidationError and has no side
// effects. A reading whose sensor id and timestamp match a retained reading
// is reported as StatusDuplicate and has no side effects either. If the
// alert log cannot persist the raised alerts, a *models.WriteError is
// returned and the reading is neither stored nor published, so the caller
// may retry.
func (g *Gateway) SubmitReading(ctx context.Context, r models.Reading) (Result, error) {
	start := time.Now()
	source := sourceFrom(ctx)
	defer func() {
		metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	r.Normalize()
	if err := r.Validate(); err != nil {
		g.rejected(source, err)
		return Result{}, err
	}

	// once validated the reading is processed to completion
	ctx = context.WithoutCancel(ctx)

	mu := g.lockFor(r.SensorID)
	mu.Lock()
	defer mu.Unlock()

	if g.store.Contains(r.SensorID, r.Timestamp) {
		metrics.IngestReadingsTotal.WithLabelValues(source, string(StatusDuplicate)).Inc()
		g.log.Debug().Str("sensor_id", r.SensorID).Time("timestamp", r.Timestamp).Msg("duplicate reading")
		return Result{Status: StatusDuplicate, SensorID: r.SensorID}, nil
	}

	logged, err := g.alertLog.AppendBatch(ctx, g.engine.Evaluate(r))
	if err != nil {
		metrics.IngestReadingsTotal.WithLabelValues(source, "failed").Inc()
		return Result{}, err
	}

	g.store.Append(r)

	g.publish(models.NewReadingEvent(r))
	for _, a := range logged {
		g.publish(models.NewAlertEvent(a))
	}

	metrics.IngestReadingsTotal.WithLabelValues(source, string(StatusAccepted)).Inc()
	if len(logged) > 0 {
		g.log.Info().
			Str("sensor_id", r.SensorID).
			Str("source", source).
			Int("alerts", len(logged)).
			Msg("reading raised alerts")
	}

	return Result{Status: StatusAccepted, SensorID: r.SensorID, Alerts: logged}, nil
}

// SubmitAlert logs and fans out an alert built elsewhere, e.g. by an
// upstream detector. Id and creation time are always assigned here.
func (g *Gateway) SubmitAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	source := sourceFrom(ctx)

	a.Normalize()
	if a.Type == "" {
		a.Type = models.AlertTypeUpstream
	}
	a.ID = 0
	a.CreatedAt = time.Time{}
	if err := a.Validate(); err != nil {
		g.rejected(source, err)
		return models.Alert{}, err
	}

	ctx = context.WithoutCancel(ctx)

	mu := g.lockFor(a.SourceSensorID)
	mu.Lock()
	defer mu.Unlock()

	logged, err := g.alertLog.AppendBatch(ctx, []models.Alert{a})
	if err != nil {
		return models.Alert{}, err
	}

	g.publish(models.NewAlertEvent(logged[0]))
	return logged[0], nil
}

func (g *Gateway) publish(ev models.Event) {
	g.hub.Publish(ev)
	if g.exporter != nil {
		g.exporter.Submit(models.NewEnvelope(ev, g.nodeID))
	}
}

func (g *Gateway) rejected(source string, err error) {
	field := "unknown"
	var ve *models.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		field, _, _ = strings.Cut(ve.Field, ".")
	}
	metrics.IngestValidationErrors.WithLabelValues(field).Inc()
	metrics.IngestReadingsTotal.WithLabelValues(source, "rejected").Inc()
	g.log.Debug().Err(err).Str("source", source).Msg("submission rejected")
}

func (g *Gateway) lockFor(sensorID string) *sync.Mutex {
	return &g.locks[xxhash.Sum64String(sensorID)%lockStripes]
}
