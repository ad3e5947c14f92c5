package config

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
)

func mustRequest(t *testing.T, method, target string) *httpmsg.RequestMessage {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	msg, err := httpmsg.FromHTTPRequest(r, nil, "127.0.0.1")
	require.NoError(t, err)
	return msg
}

func TestDefaultServerConfiguration(t *testing.T) {
	cfg := DefaultServerConfiguration()
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 1.0, cfg.PerfectThreshold)
	require.Equal(t, 404, cfg.FallbackStatus)
	require.Equal(t, 1000, cfg.RequestLogCapacity)
}

func TestParseMappingDocumentSingleObject(t *testing.T) {
	doc := []byte(`{"request":{"urlPath":"/foo"},"response":{"status":200,"body":"ok"}}`)
	out, err := ParseMappingDocument(doc, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "/foo", out[0].Request.URLPath)
}

func TestParseMappingDocumentCollection(t *testing.T) {
	doc := []byte(`{"mappings":[{"request":{"urlPath":"/a"},"response":{"status":200}},{"request":{"urlPath":"/b"},"response":{"status":201}}]}`)
	out, err := ParseMappingDocument(doc, true)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestToMappingCompilesPathAndMethod(t *testing.T) {
	w := WireMapping{
		Title:   "example",
		Request: WireRequest{Method: "POST", URLPath: "/widgets"},
		Response: WireResponse{
			Status: 201,
			Body:   "created",
		},
	}
	m, err := ToMapping(w)
	require.NoError(t, err)
	require.Equal(t, "example", m.Title)
	require.Equal(t, float64(1), m.Tree.Score(mustRequest(t, "POST", "/widgets")))
	require.Less(t, m.Tree.Score(mustRequest(t, "GET", "/widgets")), 1.0)
	require.Equal(t, 201, m.Response.Status)
}

func TestToMappingHeaderAndBodyMatchers(t *testing.T) {
	w := WireMapping{
		Request: WireRequest{
			URLPath: "/check",
			Headers: map[string]WireValueMatcher{"X-Trace": {Equals: "abc"}},
			Body:    &WireValueMatcher{Contains: "hello"},
		},
		Response: WireResponse{Status: 200},
	}
	m, err := ToMapping(w)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/check", nil)
	req.Header.Set("X-Trace", "abc")
	msg, err := httpmsg.FromHTTPRequest(req, []byte("say hello world"), "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, float64(1), m.Tree.Score(msg))
}

func TestToMappingProxyResponse(t *testing.T) {
	w := WireMapping{
		Request:  WireRequest{URLPath: "/proxied"},
		Response: WireResponse{ProxyURL: "http://upstream.example"},
	}
	m, err := ToMapping(w)
	require.NoError(t, err)
	require.Equal(t, mapping.ResponseProxy, m.Response.Kind)
	require.Equal(t, "http://upstream.example", m.Response.ProxyURL)
}

func TestToMappingFaultResponse(t *testing.T) {
	w := WireMapping{
		Request:  WireRequest{URLPath: "/flaky"},
		Response: WireResponse{Fault: "empty-response"},
	}
	m, err := ToMapping(w)
	require.NoError(t, err)
	require.NotNil(t, m.Response.Fault)
}

func TestToMappingUnknownFaultErrors(t *testing.T) {
	w := WireMapping{
		Request:  WireRequest{URLPath: "/flaky"},
		Response: WireResponse{Fault: "not-a-real-fault"},
	}
	_, err := ToMapping(w)
	require.Error(t, err)
}

func TestDirectoryLoaderLoadsFilesInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	writeMappingFile(t, dir, "1-first.json", `{"request":{"urlPath":"/a"},"response":{"status":200}}`)
	writeMappingFile(t, dir, "2-second.json", `{"request":{"urlPath":"/b"},"response":{"status":201}}`)

	loader := NewDirectoryLoader(dir)
	result, err := loader.Load()
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Mappings, 2)
	require.Equal(t, 200, result.Mappings[0].Response.Status)
	require.Equal(t, 201, result.Mappings[1].Response.Status)
}

func TestDirectoryLoaderRecordsPerFileErrors(t *testing.T) {
	dir := t.TempDir()
	writeMappingFile(t, dir, "bad.json", `not valid json at all`)

	loader := NewDirectoryLoader(dir)
	result, err := loader.Load()
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	require.Empty(t, result.Mappings)
}

func TestDirectoryLoaderHasChangesDetectsModTimeAdvance(t *testing.T) {
	dir := t.TempDir()
	path := writeMappingFile(t, dir, "m.json", `{"request":{"urlPath":"/a"},"response":{"status":200}}`)

	loader := NewDirectoryLoader(dir)
	_, err := loader.Load()
	require.NoError(t, err)
	require.Empty(t, loader.HasChanges())

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Equal(t, []string{path}, loader.HasChanges())
}

func writeMappingFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
