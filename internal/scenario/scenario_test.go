package scenario

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewScenarioStartsAtStarted(t *testing.T) {
	e := New()
	require.Equal(t, StartedState, e.StateOf("checkout"))
}

func TestTransitionSucceedsFromExpectedState(t *testing.T) {
	e := New()
	ok := e.Transition("checkout", StartedState, "CartFilled")
	require.True(t, ok)
	require.Equal(t, "CartFilled", e.StateOf("checkout"))
}

func TestTransitionFailsFromUnexpectedState(t *testing.T) {
	e := New()
	ok := e.Transition("checkout", "WrongState", "CartFilled")
	require.False(t, ok)
	require.Equal(t, StartedState, e.StateOf("checkout"))
}

func TestResetReturnsToStarted(t *testing.T) {
	e := New()
	e.Transition("checkout", StartedState, "Done")
	e.Reset("checkout")
	require.Equal(t, StartedState, e.StateOf("checkout"))
}

func TestResetAll(t *testing.T) {
	e := New()
	e.Transition("a", StartedState, "X")
	e.Transition("b", StartedState, "Y")
	e.ResetAll()
	require.Equal(t, StartedState, e.StateOf("a"))
	require.Equal(t, StartedState, e.StateOf("b"))
}

func TestConcurrentTransitionsExactlyOneWinsPerStep(t *testing.T) {
	e := New()
	const n = 50
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			successes[i] = e.Transition("race", StartedState, "Advanced")
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one concurrent CAS from the same from-state should win")
	require.Equal(t, "Advanced", e.StateOf("race"))
}
