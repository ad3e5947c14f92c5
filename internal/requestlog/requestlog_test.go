package requestlog

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/matcher"
)

func mustRequest(t *testing.T, method, target string) *httpmsg.RequestMessage {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	msg, err := httpmsg.FromHTTPRequest(r, nil, "127.0.0.1")
	require.NoError(t, err)
	return msg
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	l := New(0)
	e := l.Append(&Entry{Request: mustRequest(t, "GET", "/a")})
	require.NotEqual(t, uuid.Nil, e.ID)
	require.False(t, e.LoggedAt.IsZero())
}

func TestLogBoundEvictsOldestFirst(t *testing.T) {
	l := New(2)
	l.Append(&Entry{Request: mustRequest(t, "GET", "/a")})
	l.Append(&Entry{Request: mustRequest(t, "GET", "/b")})
	l.Append(&Entry{Request: mustRequest(t, "GET", "/c")})

	entries := l.List(nil)
	require.Len(t, entries, 2)
	require.Equal(t, "/b", entries[0].Request.Path)
	require.Equal(t, "/c", entries[1].Request.Path)
}

func TestResetEmptiesLog(t *testing.T) {
	l := New(0)
	l.Append(&Entry{Request: mustRequest(t, "GET", "/a")})
	l.Reset()
	require.Equal(t, 0, l.Count())
}

func TestFindByMapping(t *testing.T) {
	l := New(0)
	id := uuid.New()
	other := uuid.New()
	l.Append(&Entry{Request: mustRequest(t, "GET", "/a"), MappingID: &id})
	l.Append(&Entry{Request: mustRequest(t, "GET", "/b"), MappingID: &other})
	l.Append(&Entry{Request: mustRequest(t, "GET", "/c")})

	found := l.FindByMapping(id)
	require.Len(t, found, 1)
	require.Equal(t, "/a", found[0].Request.Path)
}

func TestListFiltersByMatchTree(t *testing.T) {
	l := New(0)
	l.Append(&Entry{Request: mustRequest(t, "GET", "/cats")})
	l.Append(&Entry{Request: mustRequest(t, "GET", "/dogs")})

	filter, err := matcher.New(matcher.KindExact, matcher.Target{Field: matcher.FieldPath}, matcher.OpEquals, matcher.CaseSensitive, matcher.AcceptOnMatch, "/dogs")
	require.NoError(t, err)

	entries := l.List(filter)
	require.Len(t, entries, 1)
	require.Equal(t, "/dogs", entries[0].Request.Path)
}

func TestAppendRetainsCandidatesTimingAndProxyMetadata(t *testing.T) {
	l := New(0)
	mid := uuid.New()
	e := l.Append(&Entry{
		Request:                mustRequest(t, "GET", "/a"),
		PartialMatchCandidates: []MatchCandidate{{MappingID: mid, Score: 0.5}},
		Timing:                 Timing{Started: time.Now(), Matched: time.Now(), Completed: time.Now()},
		ProxyMetadata:          &ProxyMetadata{UpstreamURL: "http://upstream.example", UpstreamStatus: 200},
	})

	require.Len(t, e.PartialMatchCandidates, 1)
	require.Equal(t, mid, e.PartialMatchCandidates[0].MappingID)
	require.Equal(t, "http://upstream.example", e.ProxyMetadata.UpstreamURL)
}

func TestSubscribeReceivesAppendedEntries(t *testing.T) {
	l := New(0)
	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	l.Append(&Entry{Request: mustRequest(t, "GET", "/a")})

	select {
	case e := <-ch:
		require.Equal(t, "/a", e.Request.Path)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber notification")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l := New(0)
	ch, unsubscribe := l.Subscribe()
	unsubscribe()

	_, ok := <-ch
	require.False(t, ok)
}
