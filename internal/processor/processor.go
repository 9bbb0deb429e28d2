// Package processor assembles the service: alert log, readings store, rule
// engine, hub, export pool and every ingestion transport.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tidewatch/internal/alertlog"
	"tidewatch/internal/alerts"
	"tidewatch/internal/config"
	"tidewatch/internal/gateway"
	"tidewatch/internal/handlers"
	"tidewatch/internal/hub"
	"tidewatch/internal/kafka"
	"tidewatch/internal/logger"
	"tidewatch/internal/middleware"
	"tidewatch/internal/mqtt"
	"tidewatch/internal/notify"
	"tidewatch/internal/readings"
	"tidewatch/internal/storage"
	"tidewatch/internal/worker"
)

// Processor owns every component and their lifecycle.
type Processor struct {
	cfg *config.Config
	log zerolog.Logger

	alertLog *alertlog.Log
	readings *readings.Store
	engine   *alerts.Engine
	hub      *hub.Hub
	gateway  *gateway.Gateway

	// nil when Kafka is not configured
	producer *kafka.Producer
	pool     *worker.Pool
	consumer *kafka.Consumer

	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
	startedAt  time.Time
	wg         sync.WaitGroup
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	return &Processor{
		cfg:   cfg,
		log:   logger.WithComponent("processor"),
		ready: make(chan struct{}),
	}
}

// Ready is closed once the HTTP listener is bound.
func (p *Processor) Ready() <-chan struct{} { return p.ready }

// Addr returns the bound HTTP address. Valid after Ready.
func (p *Processor) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down in dependency order.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info().Msg("processor starting")
	p.startedAt = time.Now()

	if err := p.initCore(ctx); err != nil {
		p.closeCore()
		return err
	}
	if err := p.initExport(); err != nil {
		p.closeCore()
		return err
	}
	p.initGateway()

	if err := p.initHTTPServer(); err != nil {
		p.closeExport()
		p.closeCore()
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}
	if err := p.initTransports(ctx); err != nil {
		_ = p.httpServer.Close()
		p.closeExport()
		p.closeCore()
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.log.Info().Str("addr", p.Addr()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(p.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	close(p.ready)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	<-ctx.Done()
	p.log.Info().Msg("shutdown signal received")
	return p.shutdown()
}

// initCore opens the alert log and builds the in-memory components.
func (p *Processor) initCore(ctx context.Context) error {
	store, err := storage.Open(ctx, p.cfg.Storage)
	if err != nil {
		return fmt.Errorf("open alert store: %w", err)
	}
	p.alertLog, err = alertlog.Open(ctx, store)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open alert log: %w", err)
	}

	p.readings = readings.NewStore(p.cfg.Retention)

	rules := alerts.RulesFromConfig(p.cfg.Rules)
	var opts []alerts.Option
	if p.cfg.Threat.Enabled {
		opts = append(opts, alerts.WithThreatModel(alerts.NewThreatModel()))
	}
	p.engine = alerts.NewEngine(rules, opts...)

	overflow, err := hub.ParseOverflow(p.cfg.Hub.Overflow)
	if err != nil {
		return err
	}
	p.hub = hub.New(hub.Config{QueueSize: p.cfg.Hub.QueueSize, Overflow: overflow})

	p.log.Info().
		Str("backend", p.cfg.Storage.Backend).
		Uint64("last_alert_id", p.alertLog.LastID()).
		Int("rules", len(rules)).
		Bool("threat_model", p.cfg.Threat.Enabled).
		Int("retention", p.cfg.Retention).
		Msg("core initialized")
	return nil
}

// initExport starts the Kafka producer and its worker pool when brokers are
// configured.
func (p *Processor) initExport() error {
	if len(p.cfg.Kafka.Brokers) == 0 {
		p.log.Info().Msg("kafka export disabled")
		return nil
	}

	producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.Topic, p.cfg.Kafka.Producer)
	if err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}
	p.producer = producer

	p.pool = worker.NewPool(worker.Config{
		Publisher:      producer,
		QueueSize:      p.cfg.ExportQueueSize,
		Workers:        p.cfg.Kafka.Producer.PoolSize,
		BatchSize:      p.cfg.Kafka.Producer.BatchSize,
		BatchTimeout:   p.cfg.Kafka.Producer.BatchTimeout,
		PublishTimeout: p.cfg.Kafka.Producer.WriteTimeout,
	})
	p.pool.Start()

	p.log.Info().
		Strs("brokers", p.cfg.Kafka.Brokers).
		Str("topic", p.cfg.Kafka.Topic).
		Int("workers", p.cfg.Kafka.Producer.PoolSize).
		Msg("kafka export initialized")
	return nil
}

func (p *Processor) initGateway() {
	nodeID := p.cfg.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}

	opts := []gateway.Option{gateway.WithNodeID(nodeID)}
	if p.pool != nil {
		opts = append(opts, gateway.WithExporter(p.pool))
	}
	p.gateway = gateway.New(p.readings, p.engine, p.alertLog, p.hub, opts...)
}

// initHTTPServer binds the listener and builds the route table.
func (p *Processor) initHTTPServer() error {
	mux := http.NewServeMux()

	ingestCfg := handlers.IngestConfig{Gateway: p.gateway}
	mux.Handle("/ingest/reading", handlers.NewIngestHandler(ingestCfg))
	mux.Handle("/ingest/alert", handlers.NewAlertIngestHandler(ingestCfg))
	mux.Handle("GET /alerts", handlers.NewAlertsHandler(p.alertLog))
	mux.Handle("GET /readings/{sensor_id}", handlers.NewReadingsHandler(p.readings))
	mux.Handle("GET /ws", handlers.NewLiveHandler(p.hub, p.cfg.Hub.WriteTimeout, p.cfg.Hub.IdleTimeout))

	mux.HandleFunc("GET /health", p.healthHandler)
	mux.HandleFunc("GET /stats", p.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", p.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	p.listener = ln

	p.httpServer = &http.Server{
		Handler:           middleware.Chain(mux, middleware.Recovery, middleware.Logging),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return nil
}

// initTransports starts the optional feeds and the webhook notifier.
func (p *Processor) initTransports(ctx context.Context) error {
	if p.cfg.Notify.WebhookURL != "" {
		wh, err := notify.NewWebhook(p.cfg.Notify)
		if err != nil {
			return fmt.Errorf("failed to initialize webhook: %w", err)
		}
		if _, err = wh.Attach(p.hub); err != nil {
			return err
		}
		p.log.Info().Str("min_severity", p.cfg.Notify.MinSeverity).Msg("webhook notifier subscribed")
	}

	if len(p.cfg.Kafka.Brokers) > 0 && p.cfg.Kafka.ReadingsTopic != "" {
		consumer, err := kafka.NewConsumer(p.cfg.Kafka, p.gateway)
		if err != nil {
			return fmt.Errorf("failed to initialize consumer: %w", err)
		}
		p.consumer = consumer
		p.runBackground(ctx, "kafka consumer", consumer.Run)
	}

	if p.cfg.MQTT.BrokerURL != "" {
		sub, err := mqtt.NewSubscriber(p.cfg.MQTT, p.gateway)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt: %w", err)
		}
		p.runBackground(ctx, "mqtt subscriber", sub.Run)
	}
	return nil
}

func (p *Processor) runBackground(ctx context.Context, name string, run func(context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := run(ctx); err != nil {
			p.log.Error().Err(err).Str("task", name).Msg("background task exited")
		}
	}()
}

// shutdown stops intake first, then flushes fan-out and export, then closes
// the alert log.
func (p *Processor) shutdown() error {
	p.log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. Stop accepting new HTTP requests
	p.log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		p.log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Feeds return on ctx cancellation; wait for them and the server loop
	p.wg.Wait()
	if p.consumer != nil {
		if err := p.consumer.Close(); err != nil {
			p.log.Error().Err(err).Msg("consumer close error")
		}
	}

	// 3. Drain live subscribers, websocket clients and the notifier
	p.log.Info().Int("subscribers", p.hub.Count()).Msg("draining hub")
	if err := p.hub.Shutdown(shutdownCtx); err != nil {
		p.log.Warn().Err(err).Msg("hub shutdown timeout")
	}

	p.closeExport()
	p.closeCore()

	p.log.Info().Msg("processor stopped gracefully")
	return nil
}

func (p *Processor) closeExport() {
	if p.pool != nil {
		done := make(chan struct{})
		go func() {
			p.pool.Stop()
			close(done)
		}()
		select {
		case <-done:
			p.log.Info().Msg("export workers stopped")
		case <-time.After(15 * time.Second):
			p.log.Warn().Msg("worker shutdown timeout - forcing exit")
		}
	}
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.log.Error().Err(err).Msg("producer close error")
		}
	}
}

func (p *Processor) closeCore() {
	if p.alertLog != nil {
		if err := p.alertLog.Close(); err != nil {
			p.log.Error().Err(err).Msg("alert log close error")
		}
	}
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.stats()
			ev := p.log.Info().
				Int("subscribers", s.Hub.Subscribers).
				Int("sensors", s.Readings.Sensors).
				Uint64("last_alert_id", s.Alerts.LastID)
			if s.Export != nil {
				ev = ev.
					Uint64("export_processed", s.Export.Worker.Processed).
					Uint64("export_failed", s.Export.Worker.Failed).
					Uint64("export_dropped", s.Export.Worker.Dropped).
					Uint64("producer_sent", s.Export.Producer.MessagesSent)
			}
			ev.Msg("stats")
		}
	}
}
