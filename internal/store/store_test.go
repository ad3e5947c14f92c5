package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/stubsrv/internal/mapping"
)

func TestAddAssignsInsertionIndex(t *testing.T) {
	s := New()
	a := mapping.NewBuilder().WithTitle("a").Build()
	b := mapping.NewBuilder().WithTitle("b").Build()

	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	got, ok := s.Get(a.ID)
	require.True(t, ok)
	require.Equal(t, 0, got.InsertionIndex)

	got, ok = s.Get(b.ID)
	require.True(t, ok)
	require.Equal(t, 1, got.InsertionIndex)
}

func TestAddRejectsDuplicateID(t *testing.T) {
	s := New()
	id := uuid.New()
	a := mapping.NewBuilder().WithID(id).Build()
	b := mapping.NewBuilder().WithID(id).Build()

	require.NoError(t, s.Add(a))
	err := s.Add(b)
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestUpdatePreservesInsertionIndex(t *testing.T) {
	s := New()
	a := mapping.NewBuilder().WithID(uuid.New()).WithTitle("a").Build()
	require.NoError(t, s.Add(a))

	revised := mapping.NewBuilder().WithID(a.ID).WithTitle("a-revised").Build()
	require.NoError(t, s.Update(revised))

	got, ok := s.Get(a.ID)
	require.True(t, ok)
	require.Equal(t, "a-revised", got.Title)
	require.Equal(t, 0, got.InsertionIndex)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	s := New()
	err := s.Update(mapping.NewBuilder().Build())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesMapping(t *testing.T) {
	s := New()
	a := mapping.NewBuilder().Build()
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Delete(a.ID))

	_, ok := s.Get(a.ID)
	require.False(t, ok)
}

func TestDeleteUnknownIDFails(t *testing.T) {
	s := New()
	err := s.Delete(uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResetEmptiesMappingsKeepsSettings(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(mapping.NewBuilder().Build()))
	s.UpdateSettings(func(set *Settings) { set.FallbackStatus = 599 })

	s.Reset()

	require.Empty(t, s.List())
	require.Equal(t, 599, s.Snapshot().Settings.FallbackStatus)
}

func TestSnapshotIsStableAcrossConcurrentWrite(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(mapping.NewBuilder().WithTitle("first").Build()))

	snap := s.Snapshot()
	require.NoError(t, s.Add(mapping.NewBuilder().WithTitle("second").Build()))

	// The snapshot taken before the second Add must still report only the
	// first mapping: a matching operation holding a snapshot never sees a
	// write that happens concurrently with it.
	require.Len(t, snap.Mappings, 1)
	require.Len(t, s.Snapshot().Mappings, 2)
}

func TestUpdateSettingsDoesNotTouchMappings(t *testing.T) {
	s := New()
	a := mapping.NewBuilder().Build()
	require.NoError(t, s.Add(a))

	s.UpdateSettings(func(set *Settings) { set.PerfectThreshold = 0.8 })

	require.Equal(t, 0.8, s.Snapshot().Settings.PerfectThreshold)
	require.Len(t, s.List(), 1)
}

func TestDefaultSettings(t *testing.T) {
	s := New()
	got := s.Snapshot().Settings
	require.Equal(t, 1.0, got.PerfectThreshold)
	require.False(t, got.AllowPartialMatches)
	require.Equal(t, 1000, got.RequestLogCapacity)
	require.Equal(t, 404, got.FallbackStatus)
}
