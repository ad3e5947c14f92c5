// Package scenario implements named state machines that gate mapping
// eligibility. Every scenario starts in state "Started"; transitions are
// serialized per scenario name via a compare-and-swap so contending
// requests targeting different scenarios never block each other.
package scenario

import "sync"

// StartedState is the initial state of every scenario.
const StartedState = "Started"

// Scenario is a snapshot of one scenario's current state, returned by List.
type Scenario struct {
	Name  string
	State string
}

type entry struct {
	mu    sync.Mutex
	state string
}

// Engine owns the scenario table for one server.
type Engine struct {
	mu       sync.RWMutex
	entries  map[string]*entry
}

// New returns an empty scenario engine.
func New() *Engine {
	return &Engine{entries: make(map[string]*entry)}
}

// StateOf returns a scenario's current state. A scenario that has never
// been transitioned implicitly exists in StartedState.
func (e *Engine) StateOf(name string) string {
	e.mu.RLock()
	en, ok := e.entries[name]
	e.mu.RUnlock()
	if !ok {
		return StartedState
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.state
}

// Transition performs a compare-and-swap: if the scenario's current state
// equals from, it is set to to and Transition returns true. Otherwise the
// state is left untouched and Transition returns false — the caller lost
// the race and must re-evaluate whatever decision depended on the old
// state.
func (e *Engine) Transition(name, from, to string) bool {
	en := e.getOrCreate(name)
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.state != from {
		return false
	}
	en.state = to
	return true
}

func (e *Engine) getOrCreate(name string) *entry {
	e.mu.RLock()
	en, ok := e.entries[name]
	e.mu.RUnlock()
	if ok {
		return en
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok = e.entries[name]; ok {
		return en
	}
	en = &entry{state: StartedState}
	e.entries[name] = en
	return en
}

// List returns every scenario that has been referenced so far, in no
// particular order.
func (e *Engine) List() []Scenario {
	e.mu.RLock()
	names := make([]string, 0, len(e.entries))
	ents := make([]*entry, 0, len(e.entries))
	for name, en := range e.entries {
		names = append(names, name)
		ents = append(ents, en)
	}
	e.mu.RUnlock()

	out := make([]Scenario, len(names))
	for i, name := range names {
		ents[i].mu.Lock()
		out[i] = Scenario{Name: name, State: ents[i].state}
		ents[i].mu.Unlock()
	}
	return out
}

// Reset sets one scenario back to StartedState, creating it if absent.
func (e *Engine) Reset(name string) {
	en := e.getOrCreate(name)
	en.mu.Lock()
	en.state = StartedState
	en.mu.Unlock()
}

// ResetAll sets every known scenario back to StartedState.
func (e *Engine) ResetAll() {
	e.mu.RLock()
	ents := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		ents = append(ents, en)
	}
	e.mu.RUnlock()

	for _, en := range ents {
		en.mu.Lock()
		en.state = StartedState
		en.mu.Unlock()
	}
}
