package matchengine

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/matcher"
	"github.com/getmockd/stubsrv/internal/scenario"
	"github.com/getmockd/stubsrv/internal/store"
)

func mustRequest(t *testing.T, method, target string) *httpmsg.RequestMessage {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	msg, err := httpmsg.FromHTTPRequest(r, nil, "127.0.0.1")
	require.NoError(t, err)
	return msg
}

func mustJSONRequest(t *testing.T, method, target, body string) *httpmsg.RequestMessage {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("Content-Type", "application/json")
	msg, err := httpmsg.FromHTTPRequest(r, []byte(body), "127.0.0.1")
	require.NoError(t, err)
	return msg
}

func exactPath(t *testing.T, path string) *matcher.Matcher {
	t.Helper()
	m, err := matcher.New(matcher.KindExact, matcher.Target{Field: matcher.FieldPath}, matcher.OpEquals, matcher.CaseSensitive, matcher.AcceptOnMatch, path)
	require.NoError(t, err)
	return m
}

func partialJSON(t *testing.T) *matcher.Matcher {
	t.Helper()
	m, err := matcher.NewJSON(matcher.KindJSONPartial, map[string]any{
		"$.a": "1",
		"$.b": "nope",
	}, matcher.AcceptOnMatch)
	require.NoError(t, err)
	return m
}

func TestMatchSelectsPerfectCandidate(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Add(mapping.NewBuilder().WithTitle("cats").WithTree(exactPath(t, "/cats")).Build()))
	require.NoError(t, s.Add(mapping.NewBuilder().WithTitle("dogs").WithTree(exactPath(t, "/dogs")).Build()))

	result := Match(s.Snapshot(), scenario.New(), mustRequest(t, "GET", "/dogs"))

	require.True(t, result.Matched())
	require.Equal(t, "dogs", result.Winner.Title)
}

func TestMatchReturnsNoWinnerBelowThreshold(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Add(mapping.NewBuilder().WithTitle("cats").WithTree(exactPath(t, "/cats")).Build()))

	result := Match(s.Snapshot(), scenario.New(), mustRequest(t, "GET", "/dogs"))

	require.False(t, result.Matched())
	require.Empty(t, result.Candidates)
}

func TestMatchAllowPartialPicksBestEvenBelowThreshold(t *testing.T) {
	s := store.New()
	s.UpdateSettings(func(set *store.Settings) { set.AllowPartialMatches = true })
	require.NoError(t, s.Add(mapping.NewBuilder().WithTitle("cats").WithTree(partialJSON(t)).Build()))

	result := Match(s.Snapshot(), scenario.New(), mustJSONRequest(t, "POST", "/dogs", `{"a":"1","b":"other"}`))

	require.True(t, result.Matched())
	require.Equal(t, "cats", result.Winner.Title)
}

func TestMatchOrdersByPriorityThenScoreThenInsertion(t *testing.T) {
	s := store.New()
	// Lower priority value wins regardless of insertion order.
	low := mapping.NewBuilder().WithTitle("low-priority").WithPriority(5).WithTree(exactPath(t, "/x")).Build()
	high := mapping.NewBuilder().WithTitle("high-priority").WithPriority(1).WithTree(exactPath(t, "/x")).Build()
	require.NoError(t, s.Add(low))
	require.NoError(t, s.Add(high))

	result := Match(s.Snapshot(), scenario.New(), mustRequest(t, "GET", "/x"))

	require.True(t, result.Matched())
	require.Equal(t, "high-priority", result.Winner.Title)
}

func TestMatchSkipsMappingIneligibleUnderScenario(t *testing.T) {
	s := store.New()
	gated := mapping.NewBuilder().
		WithTitle("gated").
		WithTree(exactPath(t, "/checkout")).
		WithScenario(&mapping.ScenarioClause{Name: "checkout", RequiredState: "CartFilled"}).
		Build()
	fallback := mapping.NewBuilder().WithTitle("fallback").WithTree(exactPath(t, "/checkout")).Build()
	require.NoError(t, s.Add(gated))
	require.NoError(t, s.Add(fallback))

	scenarios := scenario.New()
	result := Match(s.Snapshot(), scenarios, mustRequest(t, "GET", "/checkout"))
	require.True(t, result.Matched())
	require.Equal(t, "fallback", result.Winner.Title)

	scenarios.Transition("checkout", scenario.StartedState, "CartFilled")
	result = Match(s.Snapshot(), scenarios, mustRequest(t, "GET", "/checkout"))
	require.True(t, result.Matched())
	require.Equal(t, "gated", result.Winner.Title)
}

func TestMatchCandidatesCappedAtFive(t *testing.T) {
	s := store.New()
	for i := 0; i < 8; i++ {
		require.NoError(t, s.Add(mapping.NewBuilder().WithTitle("partial").WithTree(partialJSON(t)).Build()))
	}

	req := mustJSONRequest(t, "POST", "/else", `{"a":"1","b":"other"}`)
	result := Match(s.Snapshot(), scenario.New(), req)

	require.False(t, result.Matched())
	require.Len(t, result.Candidates, 5)
	for _, c := range result.Candidates {
		require.Equal(t, 0.5, c.Score)
	}
}
