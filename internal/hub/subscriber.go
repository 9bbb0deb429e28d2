package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

// State is a subscriber lifecycle stage. Transitions only move forward:
// Connecting -> Open -> Closing -> Closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscriber is a live connection owned by a Hub.
type Subscriber struct {
	id   string
	hub  *Hub
	sink Sink

	overflow Overflow
	// nil accepts every event type
	types map[models.EventType]struct{}

	// mu orders enqueue against close so no frame lands after Closing
	mu    sync.Mutex
	state atomic.Int32
	queue chan []byte
	drain bool
	cause error

	quit chan struct{}
	done chan struct{}

	log zerolog.Logger
}

func newSubscriber(h *Hub, sink Sink, o subscribeOptions) *Subscriber {
	id := uuid.NewString()
	return &Subscriber{
		id:       id,
		hub:      h,
		sink:     sink,
		overflow: o.overflow,
		types:    o.types,
		queue: make(chan []byte, h.cfg.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   h.log.With().Str("subscriber_id", id).Logger(),
	}
}

// ID identifies the subscriber in logs.
func (s *Subscriber) ID() string { return s.id }

// State returns the current lifecycle stage.
func (s *Subscriber) State() State { return State(s.state.Load()) }

// Done is closed once the subscriber reached StateClosed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err returns why the subscriber closed, or nil for a normal close.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Publish delivers ev to this subscriber only. It is a no-op once the
// subscriber is closing or when ev's type is filtered out.
func (s *Subscriber) Publish(ev models.Event) {
	if !s.accepts(ev.Type) {
		return
	}
	frame, err := ev.Marshal()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode event")
		return
	}
	s.enqueue(frame)
}

// Close is shorthand for Hub.Unsubscribe.
func (s *Subscriber) Close() {
	s.hub.Unsubscribe(s)
}

func (s *Subscriber) accepts(t models.EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

func (s *Subscriber) open() {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

func (s *Subscriber) enqueue(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateOpen {
		s.log.Debug().Str("state", s.State().String()).Msg("publish to closed subscriber ignored")
		return
	}

	select {
	case s.queue <- frame:
		return
	default:
	}

	switch s.overflow {
	case Disconnect:
		metrics.HubFramesDropped.WithLabelValues("disconnect").Inc()
		s.log.Warn().Msg("subscriber queue full, disconnecting")
		s.closeLocked(false, ErrSlowConsumer)
	default:
		select {
		case <-s.queue:
			metrics.HubFramesDropped.WithLabelValues("drop_oldest").Inc()
		default:
		}
		select {
		case s.queue <- frame:
		default:
			metrics.HubFramesDropped.WithLabelValues("drop_newest").Inc()
		}
	}
}

func (s *Subscriber) beginClose(drain bool, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(drain, cause)
}

func (s *Subscriber) closeLocked(drain bool, cause error) {
	if !s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return
	}
	s.drain = drain
	s.cause = cause
	close(s.quit)
}

func (s *Subscriber) run() {
	defer s.finish()

	for {
		select {
		case <-s.quit:
			s.mu.Lock()
			drain := s.drain
			s.mu.Unlock()
			if drain {
				s.flush()
			}
			return
		case frame := <-s.queue:
			if !s.deliver(frame) {
				return
			}
		}
	}
}

func (s *Subscriber) flush() {
	for {
		select {
		case frame := <-s.queue:
			if !s.deliver(frame) {
				return
			}
		default:
			return
		}
	}
}

func (s *Subscriber) deliver(frame []byte) bool {
	if err := s.sink.WriteFrame(frame); err != nil {
		metrics.HubDeliveryFailures.Inc()
		s.log.Warn().Err(err).Msg("delivery failed, closing subscriber")
		s.beginClose(false, errors.Join(ErrDeliveryFailure, err))
		return false
	}
	return true
}

func (s *Subscriber) finish() {
	// a delivery error may have closed us without going through Unsubscribe
	s.beginClose(false, nil)
	s.hub.remove(s)

	if err := s.sink.Close(); err != nil {
		s.log.Debug().Err(err).Msg("sink close")
	}
	s.state.Store(int32(StateClosed))
	close(s.done)
	s.hub.wg.Done()

	s.log.Debug().Msg("subscriber closed")
}
