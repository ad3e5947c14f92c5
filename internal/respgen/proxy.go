package respgen

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/matcher"
)

// hopByHopHeaders are never forwarded in either direction of a proxied
// exchange, beyond the transport-reserved set httpmsg already excludes.
var hopByHopHeaders = map[string]bool{
	"proxy-authenticate": true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
}

func isForwardable(name string) bool {
	return !httpmsg.IsExcludedHeader(name) && !hopByHopHeaders[strings.ToLower(name)]
}

func (g *Generator) proxy(ctx context.Context, m *mapping.Mapping, spec *mapping.ResponseSpec, req *httpmsg.RequestMessage) (*httpmsg.ResponseMessage, error) {
	target := strings.TrimRight(spec.ProxyURL, "/") + req.Path
	if q := req.Query; q != nil && len(q.Keys()) > 0 {
		var qs []string
		for _, k := range q.Keys() {
			for _, v := range q.Values(k) {
				qs = append(qs, k+"="+v)
			}
		}
		target += "?" + strings.Join(qs, "&")
	}

	outbound, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.BodyRaw()))
	if err != nil {
		return nil, NewProxyError("building proxy request", err)
	}
	for _, key := range req.Headers.Keys() {
		if !isForwardable(key) {
			continue
		}
		for _, v := range req.Headers.Values(key) {
			outbound.Header.Add(key, v)
		}
	}
	outbound.Header.Set("X-Forwarded-For", req.ClientIP)
	if host, ok := req.Headers.Get("Host"); ok {
		outbound.Header.Set("X-Forwarded-Host", host)
	}

	client := g.client
	if spec.ProxyClientCertFile != "" && spec.ProxyClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(spec.ProxyClientCertFile, spec.ProxyClientKeyFile)
		if err != nil {
			return nil, NewProxyError("loading proxy client certificate", err)
		}
		client = &http.Client{
			Timeout: g.client.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
			},
		}
	}

	upstream, err := client.Do(outbound)
	if err != nil {
		return nil, NewProxyError(fmt.Sprintf("proxy request to %s", target), err)
	}
	defer upstream.Body.Close()

	body, err := io.ReadAll(upstream.Body)
	if err != nil {
		return nil, NewProxyError("reading proxy response", err)
	}

	resp := httpmsg.NewResponseMessage()
	resp.Status = upstream.StatusCode
	for key, vals := range upstream.Header {
		if !isForwardable(key) {
			continue
		}
		for _, v := range vals {
			resp.Headers.Add(key, v)
		}
	}
	resp.Body = body

	if spec.SaveMappingOnFirstHit && g.store != nil {
		g.saveCapturedMapping(m, req, resp)
	}

	return resp, nil
}

func (g *Generator) saveCapturedMapping(original *mapping.Mapping, req *httpmsg.RequestMessage, resp *httpmsg.ResponseMessage) {
	headers := make(map[string]string)
	for _, k := range resp.Headers.Keys() {
		if v, ok := resp.Headers.Get(k); ok {
			headers[k] = v
		}
	}
	methodMatcher, err := matcher.New(matcher.KindMethod, matcher.Target{}, matcher.OpEquals, matcher.CaseInsensitive, matcher.AcceptOnMatch, req.Method)
	if err != nil {
		return
	}
	pathMatcher, err := matcher.New(matcher.KindExact, matcher.Target{Field: matcher.FieldPath}, matcher.OpEquals, matcher.CaseSensitive, matcher.AcceptOnMatch, req.Path)
	if err != nil {
		return
	}

	captured := mapping.NewBuilder().
		WithTitle("captured: " + req.Method + " " + req.Path).
		WithPriority(original.Priority - 1).
		WithTree(matcher.AllOf(methodMatcher, pathMatcher)).
		WithResponse(&mapping.ResponseSpec{
			Kind:    mapping.ResponseStatic,
			Status:  resp.Status,
			Headers: headers,
			Body:    string(resp.Body),
		}).
		Build()
	g.store.Add(captured)
}
