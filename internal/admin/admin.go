// Package admin implements the control-plane HTTP surface rooted at
// /__admin: CRUD of mappings, request-log access, scenario transitions,
// and settings.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/stubsrv/internal/config"
	"github.com/getmockd/stubsrv/internal/matcher"
	"github.com/getmockd/stubsrv/internal/requestlog"
	"github.com/getmockd/stubsrv/internal/respgen"
	"github.com/getmockd/stubsrv/internal/scenario"
	"github.com/getmockd/stubsrv/internal/store"
)

// API serves the /__admin routes over one mapping store, scenario engine,
// and request log.
type API struct {
	store     *store.Store
	scenarios *scenario.Engine
	log       *requestlog.Log
	logger    *slog.Logger
}

// New returns an admin API bound to the given server state.
func New(st *store.Store, scenarios *scenario.Engine, reqLog *requestlog.Log, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: st, scenarios: scenarios, log: reqLog, logger: logger}
}

// Handler returns the *http.ServeMux with every /__admin route registered.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /__admin/mappings", a.handleListMappings)
	mux.HandleFunc("POST /__admin/mappings", a.handleCreateMapping)
	mux.HandleFunc("PUT /__admin/mappings/{id}", a.handleUpdateMapping)
	mux.HandleFunc("DELETE /__admin/mappings/{id}", a.handleDeleteMapping)
	mux.HandleFunc("DELETE /__admin/mappings", a.handleResetMappings)

	mux.HandleFunc("GET /__admin/requests", a.handleListRequests)
	mux.HandleFunc("DELETE /__admin/requests", a.handleResetRequests)
	mux.HandleFunc("POST /__admin/requests/find", a.handleFindRequests)

	mux.HandleFunc("POST /__admin/scenarios/{name}/state", a.handleSetScenarioState)
	mux.HandleFunc("POST /__admin/scenarios/reset", a.handleResetScenarios)

	mux.HandleFunc("GET /__admin/settings", a.handleGetSettings)
	mux.HandleFunc("PUT /__admin/settings", a.handlePutSettings)

	mux.HandleFunc("GET /__admin/health", a.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: errCode, Message: message})
}

// writeClientError reports a respgen.ClientError as 400 invalid_mapping. The
// admin mapping handlers are the only code that constructs ClientError; the
// response-generation path never returns one.
func writeClientError(w http.ResponseWriter, err error) {
	var clientErr *respgen.ClientError
	if errors.As(err, &clientErr) {
		writeError(w, http.StatusBadRequest, "invalid_mapping", clientErr.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_mapping", err.Error())
}

// acceptsJSON reports whether r's Content-Type is application/json with
// any (or no) charset parameter, per the admin surface's charset
// tolerance requirement.
func acceptsJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	media := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	return strings.EqualFold(media, "application/json")
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (a *API) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings := a.store.List()
	out := make([]MappingView, len(mappings))
	for i, m := range mappings {
		out[i] = toMappingView(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	if !acceptsJSON(r) {
		writeError(w, http.StatusBadRequest, "unsupported_media_type", "expected application/json")
		return
	}
	wire, err := decodeMapping(r)
	if err != nil {
		writeClientError(w, respgen.NewClientError("decoding mapping", err))
		return
	}
	m, err := config.ToMapping(wire)
	if err != nil {
		writeClientError(w, respgen.NewClientError("compiling mapping", err))
		return
	}
	if err := a.store.Add(m); err != nil {
		writeClientError(w, respgen.NewClientError("adding mapping", err))
		return
	}
	a.logger.Info("mapping added", "id", m.ID, "title", m.Title)
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Mapping added"})
}

func (a *API) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeClientError(w, respgen.NewClientError("parsing mapping id", err))
		return
	}
	wire, err := decodeMapping(r)
	if err != nil {
		writeClientError(w, respgen.NewClientError("decoding mapping", err))
		return
	}
	wire.ID = id.String()
	m, err := config.ToMapping(wire)
	if err != nil {
		writeClientError(w, respgen.NewClientError("compiling mapping", err))
		return
	}
	if err := a.store.Update(m); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Mapping updated"})
}

func (a *API) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeClientError(w, respgen.NewClientError("parsing mapping id", err))
		return
	}
	if err := a.store.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Mapping deleted"})
}

func (a *API) handleResetMappings(w http.ResponseWriter, r *http.Request) {
	a.store.Reset()
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Mappings reset"})
}

func (a *API) handleListRequests(w http.ResponseWriter, r *http.Request) {
	entries := a.log.List(nil)
	writeJSON(w, http.StatusOK, toRequestLogViews(entries))
}

func (a *API) handleResetRequests(w http.ResponseWriter, r *http.Request) {
	a.log.Reset()
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Request log reset"})
}

func (a *API) handleFindRequests(w http.ResponseWriter, r *http.Request) {
	var wire struct {
		Request config.WireRequest `json:"request"`
	}
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_matcher", err.Error())
		return
	}
	tree, err := treeFromWireRequest(wire.Request)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_matcher", err.Error())
		return
	}
	entries := a.log.List(tree)
	writeJSON(w, http.StatusOK, toRequestLogViews(entries))
}

func (a *API) handleSetScenarioState(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body ScenarioStateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	current := a.scenarios.StateOf(name)
	a.scenarios.Transition(name, current, body.State)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Scenario state updated"})
}

func (a *API) handleResetScenarios(w http.ResponseWriter, r *http.Request) {
	a.scenarios.ResetAll()
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Scenarios reset"})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings := a.store.Snapshot().Settings
	writeJSON(w, http.StatusOK, toSettingsView(settings))
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body SettingsView
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	a.store.UpdateSettings(func(s *store.Settings) {
		s.PerfectThreshold = body.PerfectThreshold
		s.AllowPartialMatches = body.AllowPartialMatches
		s.GlobalDelay = time.Duration(body.GlobalDelayMS) * time.Millisecond
		s.RequestLogCapacity = body.RequestLogCapacity
		s.FallbackStatus = body.FallbackStatus
	})
	a.log.SetCapacity(body.RequestLogCapacity)
	writeJSON(w, http.StatusOK, toSettingsView(a.store.Snapshot().Settings))
}

func decodeMapping(r *http.Request) (config.WireMapping, error) {
	var wire config.WireMapping
	err := json.NewDecoder(r.Body).Decode(&wire)
	return wire, err
}

func treeFromWireRequest(wr config.WireRequest) (*matcher.Matcher, error) {
	wire := config.WireMapping{Request: wr, Response: config.WireResponse{Status: http.StatusOK}}
	m, err := config.ToMapping(wire)
	if err != nil {
		return nil, err
	}
	return m.Tree, nil
}

func toSettingsView(s store.Settings) SettingsView {
	return SettingsView{
		PerfectThreshold:    s.PerfectThreshold,
		AllowPartialMatches: s.AllowPartialMatches,
		GlobalDelayMS:       s.GlobalDelay.Milliseconds(),
		RequestLogCapacity:  s.RequestLogCapacity,
		FallbackStatus:      s.FallbackStatus,
	}
}

func toRequestLogViews(entries []*requestlog.Entry) []RequestLogEntryView {
	out := make([]RequestLogEntryView, len(entries))
	for i, e := range entries {
		v := RequestLogEntryView{
			ID:       e.ID.String(),
			Method:   e.Request.Method,
			Path:     e.Request.Path,
			LoggedAt: e.LoggedAt.Format(time.RFC3339Nano),
		}
		if e.MappingID != nil {
			v.MappingID = e.MappingID.String()
		}
		if e.Response != nil {
			v.Status = e.Response.Status
		}
		out[i] = v
	}
	return out
}
