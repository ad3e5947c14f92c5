package respgen

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/scenario"
	"github.com/getmockd/stubsrv/internal/store"
)

func mustRequest(t *testing.T, method, target, body string) *httpmsg.RequestMessage {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("Content-Type", "application/json")
	msg, err := httpmsg.FromHTTPRequest(r, []byte(body), "127.0.0.1")
	require.NoError(t, err)
	return msg
}

func TestGenerateStaticResponse(t *testing.T) {
	g := New(scenario.New(), store.New(), 0)
	m := mapping.NewBuilder().WithResponse(&mapping.ResponseSpec{
		Kind:   mapping.ResponseStatic,
		Status: 201,
		Body:   "hello",
	}).Build()

	resp, err := g.Generate(context.Background(), m, mustRequest(t, "GET", "/x", ""), 0)
	require.NoError(t, err)
	require.Equal(t, 201, resp.Status)
	require.Equal(t, "hello", string(resp.Body))
}

func TestGenerateTemplatedResponseSubstitutesRequestFields(t *testing.T) {
	g := New(scenario.New(), store.New(), 0)
	m := mapping.NewBuilder().WithResponse(&mapping.ResponseSpec{
		Kind:      mapping.ResponseStatic,
		Templated: true,
		Body:      "method={{request.method}} path={{request.path}} missing={{request.headers.Nope}}",
	}).Build()

	resp, err := g.Generate(context.Background(), m, mustRequest(t, "POST", "/widgets", `{"a":1}`), 0)
	require.NoError(t, err)
	require.Equal(t, "method=POST path=/widgets missing=", string(resp.Body))
}

func TestGenerateTemplatedBodyAsJsonPath(t *testing.T) {
	g := New(scenario.New(), store.New(), 0)
	m := mapping.NewBuilder().WithResponse(&mapping.ResponseSpec{
		Kind:      mapping.ResponseStatic,
		Templated: true,
		Body:      "name={{request.bodyAsJson.name}}",
	}).Build()

	resp, err := g.Generate(context.Background(), m, mustRequest(t, "POST", "/widgets", `{"name":"widget"}`), 0)
	require.NoError(t, err)
	require.Equal(t, "name=widget", string(resp.Body))
}

func TestGenerateScenarioStateTemplate(t *testing.T) {
	scenarios := scenario.New()
	scenarios.Transition("checkout", scenario.StartedState, "CartFilled")
	g := New(scenarios, store.New(), 0)
	m := mapping.NewBuilder().
		WithScenario(&mapping.ScenarioClause{Name: "checkout"}).
		WithResponse(&mapping.ResponseSpec{Kind: mapping.ResponseStatic, Templated: true, Body: "{{scenario.state}}"}).
		Build()

	resp, err := g.Generate(context.Background(), m, mustRequest(t, "GET", "/x", ""), 0)
	require.NoError(t, err)
	require.Equal(t, "CartFilled", string(resp.Body))
}

func TestGenerateCallbackResponse(t *testing.T) {
	g := New(scenario.New(), store.New(), 0)
	called := false
	m := mapping.NewBuilder().WithResponse(&mapping.ResponseSpec{
		Kind: mapping.ResponseCallback,
		CallbackFunc: func(req *httpmsg.RequestMessage) (*httpmsg.ResponseMessage, error) {
			called = true
			resp := httpmsg.NewResponseMessage()
			resp.Status = 418
			return resp, nil
		},
	}).Build()

	resp, err := g.Generate(context.Background(), m, mustRequest(t, "GET", "/x", ""), 0)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, 418, resp.Status)
}

func TestGenerateAppliesFixedDelay(t *testing.T) {
	g := New(scenario.New(), store.New(), 0)
	m := mapping.NewBuilder().
		WithFixedDelay(20 * time.Millisecond).
		WithResponse(&mapping.ResponseSpec{Kind: mapping.ResponseStatic, Body: "ok"}).
		Build()

	start := time.Now()
	_, err := g.Generate(context.Background(), m, mustRequest(t, "GET", "/x", ""), 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestGenerateDelayCancelledByContext(t *testing.T) {
	g := New(scenario.New(), store.New(), 0)
	m := mapping.NewBuilder().
		WithFixedDelay(time.Hour).
		WithResponse(&mapping.ResponseSpec{Kind: mapping.ResponseStatic, Body: "ok"}).
		Build()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, m, mustRequest(t, "GET", "/x", ""), 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateFaultPropagatesToResponse(t *testing.T) {
	g := New(scenario.New(), store.New(), 0)
	m := mapping.NewBuilder().WithResponse(&mapping.ResponseSpec{
		Kind: mapping.ResponseStatic,
		Body: "ignored",
		Fault: &httpmsg.Fault{Kind: httpmsg.FaultEmptyResponse},
	}).Build()

	resp, err := g.Generate(context.Background(), m, mustRequest(t, "GET", "/x", ""), 0)
	require.NoError(t, err)
	require.NotNil(t, resp.Fault)
	require.Equal(t, httpmsg.FaultEmptyResponse, resp.Fault.Kind)
}

func TestTruncatingWriterStopsAtLimit(t *testing.T) {
	var buf bytes.Buffer
	w := NewTruncatingWriter(&buf, 3)

	n, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, len("hello world"), n)
	require.Equal(t, "hel", buf.String())

	n, err = w.Write([]byte("more"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "hel", buf.String(), "nothing further is written once the limit is reached")
}
