// Package mapping defines the Mapping rule type and its fluent,
// value-constructing builder.
package mapping

import (
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/stubsrv/internal/matcher"
)

// ScenarioClause gates a mapping's eligibility on scenario state and,
// when chosen, advances the scenario afterwards.
type ScenarioClause struct {
	Name          string
	RequiredState string // empty means "any state"
	NewState      string // empty means "no transition"
}

// Timing holds the optional per-mapping delay configuration.
type Timing struct {
	FixedDelay       time.Duration
	RandomDelayMin   time.Duration
	RandomDelayMax   time.Duration
	HasRandomDelay   bool
}

// Webhook describes one fire-and-forget (or awaited) outbound call issued
// alongside a mapping's response.
type Webhook struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Mapping is one immutable (matcher tree -> response template) rule.
// Mappings are replaced by id rather than mutated in place once stored.
type Mapping struct {
	ID       uuid.UUID
	Title    string
	Priority int
	Tree     *matcher.Matcher
	Response *ResponseSpec
	Scenario *ScenarioClause
	Timing   Timing

	WebhookList              []Webhook
	UseWebhooksFireAndForget bool

	// InsertionIndex is assigned by the store when the mapping is added
	// and used as the final tiebreaker in the matching algorithm.
	InsertionIndex int
}

// Builder accumulates mapping configuration; each With* call returns a new
// Builder so builders are safe to branch from and reuse.
type Builder struct {
	m     Mapping
	idSet bool
}

// NewBuilder returns a Builder with priority 0 and no ID of its own; Build
// draws a fresh random ID for each Mapping unless WithID set one.
func NewBuilder() Builder {
	return Builder{m: Mapping{Priority: 0}}
}

func (b Builder) WithID(id uuid.UUID) Builder {
	b.m.ID = id
	b.idSet = true
	return b
}

func (b Builder) WithTitle(title string) Builder {
	b.m.Title = title
	return b
}

func (b Builder) WithPriority(priority int) Builder {
	b.m.Priority = priority
	return b
}

func (b Builder) WithTree(tree *matcher.Matcher) Builder {
	b.m.Tree = tree
	return b
}

func (b Builder) WithResponse(resp *ResponseSpec) Builder {
	b.m.Response = resp
	return b
}

func (b Builder) WithScenario(clause *ScenarioClause) Builder {
	b.m.Scenario = clause
	return b
}

func (b Builder) WithFixedDelay(d time.Duration) Builder {
	b.m.Timing.FixedDelay = d
	return b
}

func (b Builder) WithRandomDelay(min, max time.Duration) Builder {
	b.m.Timing.RandomDelayMin = min
	b.m.Timing.RandomDelayMax = max
	b.m.Timing.HasRandomDelay = true
	return b
}

func (b Builder) WithWebhooks(fireAndForget bool, hooks ...Webhook) Builder {
	b.m.WebhookList = hooks
	b.m.UseWebhooksFireAndForget = fireAndForget
	return b
}

// Build produces the immutable Mapping. Without WithID every call draws a
// fresh random ID, so mappings built from one shared builder never collide.
// InsertionIndex is left at its zero value; the store assigns it on Add.
func (b Builder) Build() *Mapping {
	m := b.m
	if !b.idSet {
		m.ID = uuid.New()
	}
	return &m
}

// EligibleUnder reports whether the mapping may be considered for matching
// given the current state of the scenario it names (or true if it names
// none, or the scenario has no recorded state yet and RequiredState is
// empty).
func (m *Mapping) EligibleUnder(currentState string, hasScenario bool) bool {
	if m.Scenario == nil {
		return true
	}
	if m.Scenario.RequiredState == "" {
		return true
	}
	if !hasScenario {
		return false
	}
	return m.Scenario.RequiredState == currentState
}
