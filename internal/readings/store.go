// Package readings keeps a bounded window of recent readings per sensor.
package readings

import (
	"slices"
	"sync"
	"time"

	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

// DefaultRetention is used when a store is created with a non-positive capacity.
const DefaultRetention = 500

// Store is a set of per-sensor ring buffers. Appends to one sensor are
// serialized by that sensor's lock; different sensors never contend beyond
// the brief map lookup.
type Store struct {
	capacity int

	mu      sync.RWMutex
	sensors map[string]*series
}

type series struct {
	mu    sync.RWMutex
	buf   []models.Reading
	head  int // index of the oldest reading
	count int
	// timestamps currently retained, for duplicate detection
	seen map[int64]struct{}
}

// NewStore creates a store retaining at most capacity readings per sensor.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultRetention
	}
	return &Store{
		capacity: capacity,
		sensors:  make(map[string]*series),
	}
}

// Capacity returns the per-sensor retention N.
func (s *Store) Capacity() int { return s.capacity }

// Append stores a copy of r. It returns false, storing nothing, when a
// reading with the same sensor and timestamp is already retained. When the
// sensor's buffer is full the oldest reading is evicted.
func (s *Store) Append(r models.Reading) bool {
	ser := s.getOrCreate(r.SensorID)

	ser.mu.Lock()
	defer ser.mu.Unlock()

	ts := r.Timestamp.UnixNano()
	if _, dup := ser.seen[ts]; dup {
		return false
	}

	if ser.count == s.capacity {
		oldest := ser.buf[ser.head]
		delete(ser.seen, oldest.Timestamp.UnixNano())
		ser.buf[ser.head] = r.Clone()
		ser.head = (ser.head + 1) % s.capacity
		metrics.ReadingStoreEvictions.Inc()
	} else {
		ser.buf[(ser.head+ser.count)%s.capacity] = r.Clone()
		ser.count++
	}
	ser.seen[ts] = struct{}{}
	return true
}

// Contains reports whether a reading with this sensor and timestamp is retained.
func (s *Store) Contains(sensorID string, ts time.Time) bool {
	ser := s.get(sensorID)
	if ser == nil {
		return false
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	_, ok := ser.seen[ts.UnixNano()]
	return ok
}

// Recent returns the last k readings for a sensor in arrival order. A k of
// zero or less, or larger than what is retained, returns everything retained.
func (s *Store) Recent(sensorID string, k int) ([]models.Reading, error) {
	ser := s.get(sensorID)
	if ser == nil {
		return nil, models.ErrNotFound
	}

	ser.mu.RLock()
	defer ser.mu.RUnlock()

	if k <= 0 || k > ser.count {
		k = ser.count
	}
	out := make([]models.Reading, 0, k)
	for i := ser.count - k; i < ser.count; i++ {
		out = append(out, ser.buf[(ser.head+i)%s.capacity].Clone())
	}
	return out, nil
}

// Len returns how many readings are retained for a sensor.
func (s *Store) Len(sensorID string) int {
	ser := s.get(sensorID)
	if ser == nil {
		return 0
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return ser.count
}

// Sensors returns the known sensor ids, sorted.
func (s *Store) Sensors() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sensors))
	for id := range s.sensors {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (s *Store) get(sensorID string) *series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sensors[sensorID]
}

func (s *Store) getOrCreate(sensorID string) *series {
	if ser := s.get(sensorID); ser != nil {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok := s.sensors[sensorID]; ok {
		return ser
	}
	ser := &series{
		buf:  make([]models.Reading, s.capacity),
		seen: make(map[int64]struct{}),
	}
	s.sensors[sensorID] = ser
	metrics.ReadingStoreSensors.Set(float64(len(s.sensors)))
	return ser
}
