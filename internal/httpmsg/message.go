// Package httpmsg defines the normalized request/response value objects the
// matching and response-generation engine operates on, independent of
// net/http. The HTTP adapter is the only place that crosses between the two.
package httpmsg

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// excludedHeaders are reserved by the transport and are always stripped from
// an outgoing ResponseMessage before it is written to the wire, regardless
// of what a mapping's response template set.
var excludedHeaders = map[string]bool{
	"transfer-encoding": true,
	"content-length":    true,
	"keep-alive":        true,
	"connection":        true,
	"upgrade":           true,
	"proxy-connection":  true,
}

// IsExcludedHeader reports whether name is a transport-reserved header that
// must never be emitted verbatim from a response template.
func IsExcludedHeader(name string) bool {
	return excludedHeaders[strings.ToLower(name)]
}

// bodyLessMethods have their body coerced to empty before matching, per the
// body-presence rule.
var bodyLessMethods = map[string]bool{
	http.MethodGet:   true,
	http.MethodHead:  true,
	http.MethodTrace: true,
}

// RequestMessage is the normalized, immutable view of one inbound HTTP
// request that matchers and the response generator operate on.
type RequestMessage struct {
	Method      string
	AbsoluteURL string
	Path        string
	Query       *MultiMap
	Headers     *MultiMap
	Cookies     map[string]string // name -> value, last-wins
	ClientIP    string
	ReceivedAt  time.Time

	bodyRaw  []byte
	bodyText string
	bodyJSON any
	hasJSON  bool
}

// BodyRaw returns the raw body bytes, already coerced empty for
// body-less methods (GET/HEAD/TRACE).
func (r *RequestMessage) BodyRaw() []byte { return r.bodyRaw }

// BodyText returns a best-effort string decoding of the body.
func (r *RequestMessage) BodyText() string { return r.bodyText }

// BodyJSON returns the parsed JSON body and whether parsing succeeded.
// Parsing is attempted only when Content-Type indicates JSON.
func (r *RequestMessage) BodyJSON() (any, bool) { return r.bodyJSON, r.hasJSON }

// FromHTTPRequest builds a RequestMessage from a *http.Request. The caller
// must have already read and closed r.Body; body is passed as raw bytes so
// that decompression (gzip/deflate) happens exactly once, here.
func FromHTTPRequest(r *http.Request, rawBody []byte, clientIP string) (*RequestMessage, error) {
	body, err := decompress(rawBody, r.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}

	msg := &RequestMessage{
		Method:      strings.ToUpper(r.Method),
		AbsoluteURL: absoluteURL(r),
		Path:        r.URL.Path,
		Query:       NewMultiMap(),
		Headers:     NewMultiMap(),
		Cookies:     make(map[string]string),
		ClientIP:    clientIP,
		ReceivedAt:  time.Now(),
	}

	for _, kv := range parseRawQuery(r.URL.RawQuery) {
		msg.Query.Add(kv[0], kv[1])
	}
	for _, key := range headerOrder(r.Header) {
		for _, v := range r.Header[key] {
			msg.Headers.Add(key, v)
		}
	}
	for _, c := range r.Cookies() {
		msg.Cookies[c.Name] = c.Value // last-wins, http.Request.Cookies already preserves order
	}

	if bodyLessMethods[msg.Method] {
		body = nil
	}
	msg.setBody(body, r.Header.Get("Content-Type"))

	return msg, nil
}

func (r *RequestMessage) setBody(body []byte, contentType string) {
	r.bodyRaw = body
	r.bodyText = string(body)
	if len(body) > 0 && strings.Contains(strings.ToLower(contentType), "json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			r.bodyJSON = v
			r.hasJSON = true
		}
	}
}

func absoluteURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	u := &url.URL{Scheme: scheme, Host: host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	return u.String()
}

// parseRawQuery splits a raw query string into key/value pairs in textual
// arrival order. url.Values (and r.URL.Query()) discards that order by
// returning a map, which breaks matchers and templates that depend on
// "?a=1&b=2" being seen in the order it was written.
func parseRawQuery(raw string) [][2]string {
	if raw == "" {
		return nil
	}
	var out [][2]string
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value := pair, ""
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key, value = pair[:idx], pair[idx+1:]
		}
		key, err := url.QueryUnescape(key)
		if err != nil {
			continue
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			continue
		}
		out = append(out, [2]string{key, value})
	}
	return out
}

// headerOrder returns the keys of an http.Header in Go map iteration order,
// which is randomized: header names do not keep the order they arrived in.
// Values under one name keep their wire order, since http.Header stores
// them as a slice.
func headerOrder(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

func decompress(body []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return io.ReadAll(fr)
	default:
		return body, nil
	}
}

// ResponseMessage is the value the response generator produces; the HTTP
// adapter is the only consumer that turns it into bytes on the wire.
type ResponseMessage struct {
	Status  int
	Headers *MultiMap
	Body    []byte

	Delay time.Duration
	Fault *Fault
}

// FaultKind enumerates the deliberate-malfunction response modes.
type FaultKind string

const (
	FaultAbortAfterBytes   FaultKind = "abort-after-bytes"
	FaultMalformedResponse FaultKind = "malformed-response"
	FaultEmptyResponse     FaultKind = "empty-response"
)

// Fault directs the adapter to deliver a deliberately broken response
// instead of a normal one. Faults bypass the excluded-headers rule.
type Fault struct {
	Kind         FaultKind
	AbortAtBytes int
}

// NewResponseMessage returns a ResponseMessage defaulting to status 200 with
// an empty header multimap.
func NewResponseMessage() *ResponseMessage {
	return &ResponseMessage{Status: http.StatusOK, Headers: NewMultiMap()}
}

// SanitizedHeaders returns Headers with every transport-reserved header
// stripped, per the excluded-from-headers rule.
func (r *ResponseMessage) SanitizedHeaders() *MultiMap {
	out := NewMultiMap()
	for _, key := range r.Headers.Keys() {
		if IsExcludedHeader(key) {
			continue
		}
		for _, v := range r.Headers.Values(key) {
			out.Add(key, v)
		}
	}
	return out
}
