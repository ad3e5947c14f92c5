// Package matchengine implements the matching algorithm: given a snapshot
// of mappings and a request, it scores every eligible mapping and selects a
// winner, or reports the top partial candidates when none qualifies.
package matchengine

import (
	"sort"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/scenario"
	"github.com/getmockd/stubsrv/internal/store"
)

// maxPartialCandidates bounds how many ranked non-zero candidates (the
// winner included, when there is one) a Result retains for diagnostics.
const maxPartialCandidates = 5

// Candidate is one scored mapping considered during a match.
type Candidate struct {
	Mapping *mapping.Mapping
	Score   float64
}

// Result is the outcome of one matching operation.
type Result struct {
	Winner     *mapping.Mapping
	Candidates []Candidate // top partial candidates, present whether or not Winner is set
}

// Matched reports whether a winner was selected.
func (r Result) Matched() bool {
	return r.Winner != nil
}

// Match scores every mapping in snap eligible under scenarios's current
// state against req, drops mappings scoring 0, and ranks the rest by
// priority (ascending), then score (descending), then insertion order.
// Mappings scoring below snap.Settings.PerfectThreshold are discarded as
// winners unless AllowPartialMatches is set, in which case the first-ranked
// mapping wins at any non-zero score.
//
// On a winning Response with a Scenario transition, the caller is
// responsible for applying the scenario CAS and re-running Match if it
// loses the race (see the scenario package's Transition semantics).
func Match(snap *store.Snapshot, scenarios *scenario.Engine, req *httpmsg.RequestMessage) Result {
	candidates := scoreEligible(snap, scenarios, req)

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Mapping.Priority != b.Mapping.Priority {
			return a.Mapping.Priority < b.Mapping.Priority
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Mapping.InsertionIndex < b.Mapping.InsertionIndex
	})

	top := candidates
	if len(top) > maxPartialCandidates {
		top = top[:maxPartialCandidates]
	}

	if len(candidates) == 0 {
		return Result{}
	}

	if snap.Settings.AllowPartialMatches {
		return Result{Winner: candidates[0].Mapping, Candidates: top}
	}
	threshold := snap.Settings.PerfectThreshold
	for _, c := range candidates {
		if c.Score >= threshold {
			return Result{Winner: c.Mapping, Candidates: top}
		}
	}
	return Result{Candidates: top}
}

func scoreEligible(snap *store.Snapshot, scenarios *scenario.Engine, req *httpmsg.RequestMessage) []Candidate {
	out := make([]Candidate, 0, len(snap.Mappings))
	for _, m := range snap.Mappings {
		hasScenario := false
		state := scenario.StartedState
		if m.Scenario != nil {
			state = scenarios.StateOf(m.Scenario.Name)
			hasScenario = true
		}
		if !m.EligibleUnder(state, hasScenario) {
			continue
		}
		var score float64
		if m.Tree != nil {
			score = m.Tree.Score(req)
		} else {
			score = 1.0
		}
		if score > 0 {
			out = append(out, Candidate{Mapping: m, Score: score})
		}
	}
	return out
}
