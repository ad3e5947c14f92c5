// Package respgen builds the ResponseMessage for a winning mapping: static
// bodies, {{expr}} templated bodies, upstream proxying, embedder callbacks,
// and deliberate fault delivery, plus the fixed/random/global delay that
// precedes all of them.
package respgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/scenario"
	"github.com/getmockd/stubsrv/internal/store"
)

// Generator turns a matched mapping into a ResponseMessage.
type Generator struct {
	client    *http.Client
	scenarios *scenario.Engine
	store     *store.Store
}

// New returns a Generator. scenarios supplies scenario.state to templates;
// st receives mappings captured by SaveMappingOnFirstHit.
func New(scenarios *scenario.Engine, st *store.Store, proxyTimeout time.Duration) *Generator {
	if proxyTimeout <= 0 {
		proxyTimeout = 30 * time.Second
	}
	return &Generator{
		client:    &http.Client{Timeout: proxyTimeout},
		scenarios: scenarios,
		store:     st,
	}
}

// Generate applies the mapping's delay, then dispatches to the response
// path named by its ResponseSpec.Kind. ctx carries the inbound request's
// cancellation so a slow delay or proxy call unwinds on client disconnect
// or server shutdown.
func (g *Generator) Generate(ctx context.Context, m *mapping.Mapping, req *httpmsg.RequestMessage, globalDelay time.Duration) (*httpmsg.ResponseMessage, error) {
	if err := waitDelay(ctx, m.Timing, globalDelay); err != nil {
		return nil, err
	}

	spec := m.Response
	if spec == nil {
		resp := httpmsg.NewResponseMessage()
		g.dispatchWebhooks(ctx, m, req)
		return resp, nil
	}

	var resp *httpmsg.ResponseMessage
	var err error
	switch spec.Kind {
	case mapping.ResponseProxy:
		resp, err = g.proxy(ctx, m, spec, req)
	case mapping.ResponseCallback:
		if spec.CallbackFunc == nil {
			resp = httpmsg.NewResponseMessage()
		} else {
			resp, err = spec.CallbackFunc(req)
		}
	default:
		resp, err = g.buildStatic(spec, req, m)
	}
	if err != nil {
		return nil, err
	}

	if spec.Fault != nil {
		resp.Fault = spec.Fault
	}
	g.dispatchWebhooks(ctx, m, req)
	return resp, nil
}

func (g *Generator) buildStatic(spec *mapping.ResponseSpec, req *httpmsg.RequestMessage, m *mapping.Mapping) (*httpmsg.ResponseMessage, error) {
	resp := httpmsg.NewResponseMessage()
	resp.Status = spec.Status
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	for k, v := range spec.Headers {
		resp.Headers.Add(k, v)
	}

	body := spec.Body
	if spec.Templated {
		body = g.render(body, req, m)
	}
	if spec.BodyIsJSON {
		if !json.Valid([]byte(body)) {
			return nil, NewTemplateError("rendering bodyAsJson", fmt.Errorf("rendered body is not valid JSON"))
		}
		if _, ok := resp.Headers.Get("Content-Type"); !ok {
			resp.Headers.Add("Content-Type", "application/json")
		}
	}
	resp.Body = []byte(body)
	return resp, nil
}

// waitDelay applies the mapping's own fixed/random delay, then the
// store-wide global delay on top of it: the two are cumulative, not
// alternatives, so a mapping delay never shadows the global one.
func waitDelay(ctx context.Context, t mapping.Timing, globalDelay time.Duration) error {
	var mappingDelay time.Duration
	switch {
	case t.HasRandomDelay:
		mappingDelay = randomDuration(t.RandomDelayMin, t.RandomDelayMax)
	case t.FixedDelay > 0:
		mappingDelay = t.FixedDelay
	}
	if err := sleep(ctx, mappingDelay); err != nil {
		return err
	}
	return sleep(ctx, globalDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// randomDuration picks a value in [min, max], both ends inclusive.
func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min + 1)
	return min + time.Duration(rand.Int63n(span))
}
