package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/logging"
	"github.com/getmockd/stubsrv/internal/requestlog"
	"github.com/getmockd/stubsrv/internal/scenario"
	"github.com/getmockd/stubsrv/internal/store"
)

func newTestAPI() (*API, *store.Store, *scenario.Engine, *requestlog.Log) {
	st := store.New()
	scenarios := scenario.New()
	log := requestlog.New(0)
	return New(st, scenarios, log, logging.Nop()), st, scenarios, log
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return rec
}

func TestHealth(t *testing.T) {
	api, _, _, _ := newTestAPI()
	rec := doRequest(t, api.Handler(), "GET", "/__admin/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateListDeleteMapping(t *testing.T) {
	api, st, _, _ := newTestAPI()
	handler := api.Handler()

	rec := doRequest(t, handler, "POST", "/__admin/mappings", `{"request":{"urlPath":"/foo"},"response":{"status":200,"body":"bar"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "Mapping added")
	require.Len(t, st.List(), 1)

	rec = doRequest(t, handler, "GET", "/__admin/mappings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []MappingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)

	id := views[0].ID
	rec = doRequest(t, handler, "DELETE", "/__admin/mappings/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, st.List())
}

func TestListMappingsRoundTripsRequestAndResponse(t *testing.T) {
	api, _, _, _ := newTestAPI()
	handler := api.Handler()

	doRequest(t, handler, "POST", "/__admin/mappings", `{
		"title": "widgets",
		"request": {"method": "POST", "urlPath": "/widgets", "headers": {"X-Trace": {"equals": "abc"}}},
		"response": {"status": 201, "bodyAsJson": {"ok": true}}
	}`)

	rec := doRequest(t, handler, "GET", "/__admin/mappings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []MappingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)

	v := views[0]
	require.Equal(t, "widgets", v.Title)
	require.Equal(t, "POST", v.Request.Method)
	require.Equal(t, "/widgets", v.Request.URLPath)
	require.Equal(t, "abc", v.Request.Headers["X-Trace"].Equals)
	require.Equal(t, 201, v.Response.Status)
	require.Equal(t, map[string]any{"ok": true}, v.Response.BodyAsJSON)
}

func TestUpdateMappingInvalidIDReportsClientError(t *testing.T) {
	api, _, _, _ := newTestAPI()
	rec := doRequest(t, api.Handler(), "PUT", "/__admin/mappings/not-a-uuid", `{"request":{"urlPath":"/x"},"response":{"status":200}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_mapping")
}

func TestCreateMappingJSONCharsetTolerance(t *testing.T) {
	api, _, _, _ := newTestAPI()
	r := httptest.NewRequest("POST", "/__admin/mappings", bytes.NewReader([]byte(`{"request":{"urlPath":"/x"},"response":{"status":200}}`)))
	r.Header.Set("Content-Type", "application/json; charset=ascii")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "Mapping added")
}

func TestUpdateUnknownMappingReturns404(t *testing.T) {
	api, _, _, _ := newTestAPI()
	rec := doRequest(t, api.Handler(), "PUT", "/__admin/mappings/"+"00000000-0000-0000-0000-000000000000", `{"request":{"urlPath":"/x"},"response":{"status":200}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetMappingsEmptiesStore(t *testing.T) {
	api, st, _, _ := newTestAPI()
	handler := api.Handler()
	doRequest(t, handler, "POST", "/__admin/mappings", `{"request":{"urlPath":"/x"},"response":{"status":200}}`)
	require.Len(t, st.List(), 1)

	rec := doRequest(t, handler, "DELETE", "/__admin/mappings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, st.List())
}

func TestScenarioStateTransitionAndReset(t *testing.T) {
	api, _, scenarios, _ := newTestAPI()
	handler := api.Handler()

	rec := doRequest(t, handler, "POST", "/__admin/scenarios/checkout/state", `{"state":"CartFilled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "CartFilled", scenarios.StateOf("checkout"))

	rec = doRequest(t, handler, "POST", "/__admin/scenarios/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, scenario.StartedState, scenarios.StateOf("checkout"))
}

func TestGetAndPutSettings(t *testing.T) {
	api, st, _, _ := newTestAPI()
	handler := api.Handler()

	rec := doRequest(t, handler, "GET", "/__admin/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got SettingsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1.0, got.PerfectThreshold)

	rec = doRequest(t, handler, "PUT", "/__admin/settings", `{"perfectThreshold":0.5,"allowPartialMatches":true,"globalDelayMs":10,"requestLogCapacity":5,"fallbackStatus":418}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0.5, st.Snapshot().Settings.PerfectThreshold)
	require.True(t, st.Snapshot().Settings.AllowPartialMatches)
	require.Equal(t, 418, st.Snapshot().Settings.FallbackStatus)
}

func TestPutSettingsUpdatesLiveRequestLogCapacity(t *testing.T) {
	api, _, _, log := newTestAPI()
	handler := api.Handler()

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/foo", nil)
		msg, err := httpmsg.FromHTTPRequest(req, nil, "127.0.0.1")
		require.NoError(t, err)
		log.Append(&requestlog.Entry{Request: msg})
	}
	require.Equal(t, 10, log.Count())

	rec := doRequest(t, handler, "PUT", "/__admin/settings", `{"perfectThreshold":1,"requestLogCapacity":3,"fallbackStatus":404}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, log.Count())

	req := httptest.NewRequest("GET", "/bar", nil)
	msg, err := httpmsg.FromHTTPRequest(req, nil, "127.0.0.1")
	require.NoError(t, err)
	log.Append(&requestlog.Entry{Request: msg})
	require.Equal(t, 3, log.Count())
}

func TestRequestLogListResetAndFind(t *testing.T) {
	api, _, _, log := newTestAPI()
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/foo", nil)
	msg, err := httpmsg.FromHTTPRequest(req, nil, "127.0.0.1")
	require.NoError(t, err)
	log.Append(&requestlog.Entry{Request: msg})

	rec := doRequest(t, handler, "GET", "/__admin/requests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []RequestLogEntryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)

	rec = doRequest(t, handler, "POST", "/__admin/requests/find", `{"request":{"urlPath":"/foo"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)

	rec = doRequest(t, handler, "DELETE", "/__admin/requests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, log.Count())
}
