// Package hub fans readings and alerts out to live subscribers. Each
// subscriber owns a bounded queue drained by its own delivery goroutine, so
// Publish never waits on subscriber I/O.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tidewatch/internal/logger"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

var (
	ErrClosed          = errors.New("hub is shut down")
	ErrDeliveryFailure = errors.New("delivery failure")
	ErrSlowConsumer    = errors.New("subscriber queue overflow")
)

// Overflow decides what happens when a subscriber queue is full.
type Overflow string

const (
	// DropOldest discards the oldest queued frame to make room.
	DropOldest Overflow = "drop_oldest"
	// Disconnect closes the subscriber.
	Disconnect Overflow = "disconnect"
)

// ParseOverflow validates a configured policy; "" means DropOldest.
func ParseOverflow(s string) (Overflow, error) {
	switch Overflow(s) {
	case "", DropOldest:
		return DropOldest, nil
	case Disconnect:
		return Disconnect, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

const DefaultQueueSize = 256

// Config tunes per-subscriber delivery.
type Config struct {
	QueueSize int
	Overflow  Overflow
}

// Sink is where a subscriber's frames end up, typically a websocket.
// WriteFrame is only ever called from the subscriber's delivery goroutine.
type Sink interface {
	WriteFrame(frame []byte) error
	Close() error
}

// Hub tracks live subscribers. The zero value is not usable; use New.
type Hub struct {
	cfg Config

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool

	wg  sync.WaitGroup
	log zerolog.Logger
}

// New creates a hub.
func New(cfg Config) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Overflow == "" {
		cfg.Overflow = DropOldest
	}
	return &Hub{
		cfg:  cfg,
		subs: make(map[*Subscriber]struct{}),
		log:  logger.WithComponent("hub"),
	}
}

// SubscribeOption overrides hub defaults for one subscriber.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	overflow Overflow
	types    map[models.EventType]struct{}
}

// WithEventTypes restricts delivery to events of the given types. Other
// events never enter the subscriber's queue.
func WithEventTypes(types ...models.EventType) SubscribeOption {
	return func(o *subscribeOptions) {
		o.types = make(map[models.EventType]struct{}, len(types))
		for _, t := range types {
			o.types[t] = struct{}{}
		}
	}
}

// WithOverflow sets the overflow policy for this subscriber only.
func WithOverflow(policy Overflow) SubscribeOption {
	return func(o *subscribeOptions) { o.overflow = policy }
}

// Subscribe registers sink and starts delivering to it. Only events
// published after Subscribe returns are delivered.
func (h *Hub) Subscribe(sink Sink, opts ...SubscribeOption) (*Subscriber, error) {
	o := subscribeOptions{overflow: h.cfg.Overflow}
	for _, opt := range opts {
		opt(&o)
	}
	s := newSubscriber(h, sink, o)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[s] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	metrics.HubSubscribers.Inc()
	s.open()
	go s.run()

	s.log.Debug().Msg("subscriber connected")
	return s, nil
}

// Unsubscribe stops delivery to s immediately. Queued frames are discarded.
// Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.remove(s)
	s.beginClose(false, nil)
}

// Publish encodes ev once and enqueues it on every open subscriber.
func (h *Hub) Publish(ev models.Event) {
	frame, err := ev.Marshal()
	if err != nil {
		h.log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	metrics.HubEventsPublished.WithLabelValues(string(ev.Type)).Inc()
	for _, s := range subs {
		if s.accepts(ev.Type) {
			s.enqueue(frame)
		}
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Shutdown refuses new subscribers, flushes every queue, closes all sinks
// and waits for delivery goroutines until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	h.log.Info().Int("subscribers", len(subs)).Msg("shutting down hub")
	for _, s := range subs {
		s.beginClose(true, nil)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()

	if ok {
		metrics.HubSubscribers.Dec()
	}
}
