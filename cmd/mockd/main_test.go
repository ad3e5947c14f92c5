package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/stubsrv/internal/config"
	"github.com/getmockd/stubsrv/internal/logging"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/matcher"
	"github.com/getmockd/stubsrv/internal/server"
)

func TestWatchStaticMappingsUpdatesExistingAndAddsNew(t *testing.T) {
	srv := server.New(config.DefaultServerConfiguration(), logging.Nop())

	existing := mapping.NewBuilder().WithTitle("old").WithTree(matcher.AllOf()).
		WithResponse(&mapping.ResponseSpec{Status: 200}).Build()
	require.NoError(t, srv.Store().Add(existing))

	updated := mapping.NewBuilder().WithID(existing.ID).WithTitle("new").WithTree(matcher.AllOf()).
		WithResponse(&mapping.ResponseSpec{Status: 201}).Build()
	fresh := mapping.NewBuilder().WithTitle("fresh").WithTree(matcher.AllOf()).
		WithResponse(&mapping.ResponseSpec{Status: 202}).Build()

	events := make(chan config.WatchEvent, 1)
	events <- config.WatchEvent{Path: "mappings.json", Mappings: []*mapping.Mapping{updated, fresh}}
	close(events)

	watchStaticMappings(events, srv, logging.Nop())

	require.Len(t, srv.Store().List(), 2)
	got, ok := srv.Store().Get(existing.ID)
	require.True(t, ok)
	require.Equal(t, "new", got.Title)
}

func TestWatchStaticMappingsSkipsFailedReload(t *testing.T) {
	srv := server.New(config.DefaultServerConfiguration(), logging.Nop())

	events := make(chan config.WatchEvent, 1)
	events <- config.WatchEvent{Path: "broken.json", Error: fmt.Errorf("parse failure")}
	close(events)

	watchStaticMappings(events, srv, logging.Nop())
	require.Empty(t, srv.Store().List())
}
