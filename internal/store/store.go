// Package store implements the MappingStore: an ordered, concurrently
// accessed set of mappings served under a reader/writer discipline where
// readers take an O(1) immutable snapshot and writers apply copy-on-write.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/stubsrv/internal/mapping"
)

// Settings is store-wide mutable configuration consulted by the matching
// algorithm and response generator. It travels inside the same Snapshot as
// the mapping list so one matching operation sees one consistent value.
type Settings struct {
	PerfectThreshold    float64
	AllowPartialMatches bool
	GlobalDelay         time.Duration
	RequestLogCapacity  int
	FallbackStatus      int
}

// DefaultSettings returns perfect-match threshold 1.0, no global delay,
// log capacity 1000, fallback 404.
func DefaultSettings() Settings {
	return Settings{
		PerfectThreshold:    1.0,
		AllowPartialMatches: false,
		RequestLogCapacity:  1000,
		FallbackStatus:      404,
	}
}

// Snapshot is the immutable view of the store a single matching operation
// uses for its entire duration.
type Snapshot struct {
	Mappings []*mapping.Mapping // insertion order
	Settings Settings
}

// ByID returns the mapping with the given id in this snapshot, if present.
func (s *Snapshot) ByID(id uuid.UUID) (*mapping.Mapping, bool) {
	for _, m := range s.Mappings {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// ErrNotFound is returned by Update/Delete when no mapping has the id.
var ErrNotFound = fmt.Errorf("mapping not found")

// ErrDuplicateID is returned by Add when the id is already present.
var ErrDuplicateID = fmt.Errorf("mapping id already exists")

// Store is the concurrently accessed mapping set.
type Store struct {
	writeMu   sync.Mutex // serializes writers only; readers never take this
	current   atomic.Pointer[Snapshot]
	nextIndex int // writer-only state, protected by writeMu
}

// New returns an empty store with default settings.
func New() *Store {
	s := &Store{}
	s.current.Store(&Snapshot{Settings: DefaultSettings()})
	return s
}

// Snapshot returns the current immutable view in O(1).
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Get returns one mapping by id from the current snapshot.
func (s *Store) Get(id uuid.UUID) (*mapping.Mapping, bool) {
	return s.Snapshot().ByID(id)
}

// List returns every mapping from the current snapshot, insertion order.
func (s *Store) List() []*mapping.Mapping {
	return s.Snapshot().Mappings
}

// Add inserts a new mapping, assigning its InsertionIndex, and publishes a
// new snapshot. Fails if the id already exists (invariant 1).
func (s *Store) Add(m *mapping.Mapping) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.current.Load()
	if _, exists := snap.ByID(m.ID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
	}

	copied := *m
	copied.InsertionIndex = s.nextIndex
	s.nextIndex++

	next := make([]*mapping.Mapping, len(snap.Mappings)+1)
	copy(next, snap.Mappings)
	next[len(snap.Mappings)] = &copied

	s.publish(&Snapshot{Mappings: next, Settings: snap.Settings})
	return nil
}

// Update replaces the mapping with m.ID in place, preserving its original
// InsertionIndex. Fails if no mapping has that id.
func (s *Store) Update(m *mapping.Mapping) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.current.Load()
	next := make([]*mapping.Mapping, len(snap.Mappings))
	found := false
	for i, existing := range snap.Mappings {
		if existing.ID == m.ID {
			copied := *m
			copied.InsertionIndex = existing.InsertionIndex
			next[i] = &copied
			found = true
			continue
		}
		next[i] = existing
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, m.ID)
	}

	s.publish(&Snapshot{Mappings: next, Settings: snap.Settings})
	return nil
}

// Delete removes the mapping with the given id. Fails if absent.
func (s *Store) Delete(id uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.current.Load()
	next := make([]*mapping.Mapping, 0, len(snap.Mappings))
	found := false
	for _, existing := range snap.Mappings {
		if existing.ID == id {
			found = true
			continue
		}
		next = append(next, existing)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.publish(&Snapshot{Mappings: next, Settings: snap.Settings})
	return nil
}

// Reset empties the mapping set, leaving Settings and the insertion-index
// counter untouched (subsequent adds keep getting fresh indices).
func (s *Store) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.current.Load()
	s.publish(&Snapshot{Settings: snap.Settings})
}

// UpdateSettings applies fn to a copy of the current Settings and publishes
// it. Mappings are left untouched.
func (s *Store) UpdateSettings(fn func(*Settings)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.current.Load()
	settings := snap.Settings
	fn(&settings)
	s.publish(&Snapshot{Mappings: snap.Mappings, Settings: settings})
}

func (s *Store) publish(next *Snapshot) {
	s.current.Store(next)
}
