// Package requestlog implements the append-only, bounded FIFO log of
// (request, winning-mapping-id or null, response) triples the server
// records for every inbound request.
package requestlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/matcher"
)

// MatchCandidate is one non-zero-scoring mapping the matching algorithm
// ranked (the winner included, when there is one), kept lightweight so the
// log never retains a full *mapping.Mapping.
type MatchCandidate struct {
	MappingID uuid.UUID
	Score     float64
}

// Timing records when a request arrived, when matching finished, and when
// the response was fully written.
type Timing struct {
	Started   time.Time
	Matched   time.Time
	Completed time.Time
}

// ProxyMetadata is attached to an Entry only when the winning mapping's
// response was a proxy pass-through.
type ProxyMetadata struct {
	UpstreamURL    string
	UpstreamStatus int
	Error          string // non-empty when the proxy call itself failed
}

// Entry is one logged exchange.
type Entry struct {
	ID                     uuid.UUID
	Request                *httpmsg.RequestMessage
	MappingID              *uuid.UUID // nil when no mapping matched
	PartialMatchCandidates []MatchCandidate
	Response               *httpmsg.ResponseMessage
	Timing                 Timing
	ProxyMetadata          *ProxyMetadata
	LoggedAt               time.Time
}

// Log is the concurrently accessed request log. append holds a single
// writer lock; List/FindByMapping/Count take a snapshot copy under the
// same lock and then operate lock-free.
type Log struct {
	mu       sync.Mutex
	capacity int // 0 = unbounded
	entries  []*Entry

	subsMu sync.Mutex
	subs   map[chan *Entry]struct{}
}

// New returns an empty log. capacity <= 0 means unbounded.
func New(capacity int) *Log {
	return &Log{capacity: capacity, subs: make(map[chan *Entry]struct{})}
}

// Append records entry, assigning it an ID and timestamp if unset, and
// evicts the oldest entry if the log is at capacity. Every active
// subscriber receives the entry on a best-effort, non-blocking basis.
func (l *Log) Append(entry *Entry) *Entry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if l.capacity > 0 && len(l.entries) > l.capacity {
		over := len(l.entries) - l.capacity
		l.entries = l.entries[over:]
	}
	l.mu.Unlock()

	l.broadcast(entry)
	return entry
}

// List returns every entry matching filter, oldest first. A nil filter
// returns every entry. filter is evaluated against each entry's Request
// the same way a mapping's tree is scored; an entry is included when the
// score is a perfect match (1.0).
func (l *Log) List(filter *matcher.Matcher) []*Entry {
	snap := l.snapshot()
	if filter == nil {
		return snap
	}
	out := make([]*Entry, 0, len(snap))
	for _, e := range snap {
		if filter.Score(e.Request) >= 1.0 {
			out = append(out, e)
		}
	}
	return out
}

// FindByMapping returns every logged entry whose MappingID equals id.
func (l *Log) FindByMapping(id uuid.UUID) []*Entry {
	snap := l.snapshot()
	out := make([]*Entry, 0)
	for _, e := range snap {
		if e.MappingID != nil && *e.MappingID == id {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of entries currently retained.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// SetCapacity changes the log's retention bound. A non-positive capacity
// makes the log unbounded. If the log already holds more entries than the
// new capacity allows, the oldest are evicted immediately.
func (l *Log) SetCapacity(capacity int) {
	l.mu.Lock()
	l.capacity = capacity
	if l.capacity > 0 && len(l.entries) > l.capacity {
		over := len(l.entries) - l.capacity
		l.entries = l.entries[over:]
	}
	l.mu.Unlock()
}

// Reset discards every retained entry.
func (l *Log) Reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

func (l *Log) snapshot() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Subscribe returns a channel that receives every entry appended after the
// call, and an unsubscribe function the caller must invoke when done.
func (l *Log) Subscribe() (<-chan *Entry, func()) {
	ch := make(chan *Entry, 16)
	l.subsMu.Lock()
	l.subs[ch] = struct{}{}
	l.subsMu.Unlock()

	unsubscribe := func() {
		l.subsMu.Lock()
		if _, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(ch)
		}
		l.subsMu.Unlock()
	}
	return ch, unsubscribe
}

func (l *Log) broadcast(entry *Entry) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber: drop rather than block the append path.
		}
	}
}
