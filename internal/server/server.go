// Package server wires the matcher, mapping store, scenario engine,
// matching algorithm, response generator, and request log into one HTTP
// adapter, and owns the listener lifecycle for both the mocked surface and
// the /__admin control plane.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/getmockd/stubsrv/internal/admin"
	"github.com/getmockd/stubsrv/internal/config"
	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/matchengine"
	"github.com/getmockd/stubsrv/internal/requestlog"
	"github.com/getmockd/stubsrv/internal/respgen"
	"github.com/getmockd/stubsrv/internal/scenario"
	"github.com/getmockd/stubsrv/internal/store"
)

// maxScenarioRetries bounds how many times one request re-runs the
// matching algorithm after losing a scenario compare-and-swap race, per
// §5's "contending requests must re-evaluate their eligibility" rule.
const maxScenarioRetries = 5

// Server owns one mapping store, scenario table, request log, and response
// generator, and serves both the mocked HTTP surface and the admin API.
type Server struct {
	cfg       config.ServerConfiguration
	store     *store.Store
	scenarios *scenario.Engine
	log       *requestlog.Log
	gen       *respgen.Generator
	admin     *admin.API
	logger    *slog.Logger

	mockSrv  *http.Server
	adminSrv *http.Server
}

// New constructs a Server from cfg. If cfg.RequestLogCapacity is 0 the log
// is unbounded.
func New(cfg config.ServerConfiguration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	st := store.New()
	st.UpdateSettings(func(s *store.Settings) {
		s.PerfectThreshold = cfg.PerfectThreshold
		s.AllowPartialMatches = cfg.AllowPartialMatches
		s.GlobalDelay = cfg.GlobalDelay
		s.RequestLogCapacity = cfg.RequestLogCapacity
		s.FallbackStatus = cfg.FallbackStatus
	})

	scenarios := scenario.New()
	reqLog := requestlog.New(cfg.RequestLogCapacity)
	gen := respgen.New(scenarios, st, 30*time.Second)
	adminAPI := admin.New(st, scenarios, reqLog, logger)

	s := &Server{
		cfg:       cfg,
		store:     st,
		scenarios: scenarios,
		log:       reqLog,
		gen:       gen,
		admin:     adminAPI,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(s.serveMock))
	if cfg.AdminAddr == "" {
		mux.Handle("/__admin/", adminAPI.Handler())
	}
	s.mockSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.AdminAddr != "" {
		s.adminSrv = &http.Server{
			Addr:    cfg.AdminAddr,
			Handler: adminAPI.Handler(),
		}
	}
	return s
}

// Store exposes the mapping store so the caller (e.g. static-mapping
// loading at startup) can seed mappings before ListenAndServe.
func (s *Server) Store() *store.Store { return s.store }

// Scenarios exposes the scenario engine.
func (s *Server) Scenarios() *scenario.Engine { return s.scenarios }

// RequestLog exposes the request log.
func (s *Server) RequestLog() *requestlog.Log { return s.log }

// ListenAndServe binds the mocked surface (and the admin surface, if
// configured on a separate address) and blocks until ctx is cancelled,
// then drains in-flight requests up to a deadline before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsConfig, err := loadTLSConfig(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("server: loading TLS certificate: %w", err)
	}

	listener, err := net.Listen("tcp", s.mockSrv.Addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", s.mockSrv.Addr, err)
	}
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- s.mockSrv.Serve(listener) }()

	if s.adminSrv != nil {
		adminListener, err := net.Listen("tcp", s.adminSrv.Addr)
		if err != nil {
			_ = s.mockSrv.Close()
			return fmt.Errorf("server: bind admin %s: %w", s.adminSrv.Addr, err)
		}
		if tlsConfig != nil {
			adminListener = tls.NewListener(adminListener, tlsConfig)
		}
		go func() { serveErrs <- s.adminSrv.Serve(adminListener) }()
	}

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-serveErrs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = s.shutdown()
			return fmt.Errorf("server: listener failed: %w", err)
		}
		return nil
	}
}

// loadTLSConfig returns nil, nil when neither path is set, so the caller
// falls back to plain TCP. Certificate rotation and ACME are out of scope;
// the pair is loaded once at startup.
func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func (s *Server) shutdown() error {
	deadline, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := s.mockSrv.Shutdown(deadline)
	if s.adminSrv != nil {
		if adminErr := s.adminSrv.Shutdown(deadline); adminErr != nil && err == nil {
			err = adminErr
		}
	}
	return err
}

func (s *Server) serveMock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, s.cfg.MaxBodyBytes)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	req, err := httpmsg.FromHTTPRequest(r, body, clientIP(r))
	if err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	snap := s.store.Snapshot()
	winner, candidates, err := s.resolveWinner(snap, req)
	if err != nil {
		s.logger.Warn("scenario transition contention exhausted retries", "path", req.Path)
	}
	matched := time.Now()

	if winner == nil {
		s.writeFallback(w, req, snap.Settings.FallbackStatus, candidates, matched)
		return
	}

	globalDelay := snap.Settings.GlobalDelay
	resp, genErr := s.gen.Generate(ctx, winner, req, globalDelay)
	var proxyMeta *requestlog.ProxyMetadata
	if genErr != nil {
		if errors.Is(genErr, context.Canceled) || errors.Is(genErr, context.DeadlineExceeded) {
			return
		}
		s.logger.Warn("response generation failed", "mapping", winner.ID, "error", genErr)
		resp = httpmsg.NewResponseMessage()
		resp.Status = statusForGenerateError(genErr)
		resp.Body = []byte(fmt.Sprintf("%v", genErr))
		if winner.Response != nil && winner.Response.Kind == mapping.ResponseProxy {
			proxyMeta = &requestlog.ProxyMetadata{UpstreamURL: winner.Response.ProxyURL, Error: genErr.Error()}
		}
	} else if winner.Response != nil && winner.Response.Kind == mapping.ResponseProxy {
		proxyMeta = &requestlog.ProxyMetadata{UpstreamURL: winner.Response.ProxyURL, UpstreamStatus: resp.Status}
	}

	s.writeResponse(w, resp)
	completed := time.Now()

	id := winner.ID
	s.appendLogEntry(&requestlog.Entry{
		Request:                req,
		MappingID:              &id,
		PartialMatchCandidates: toMatchCandidates(candidates),
		Response:               resp,
		ProxyMetadata:          proxyMeta,
		Timing:                 requestlog.Timing{Started: req.ReceivedAt, Matched: matched, Completed: completed},
	})
}

// statusForGenerateError picks the HTTP status a response-generation
// failure surfaces as: a ProxyError reached (or failed to reach) the
// upstream, so it is reported as a bad gateway rather than a generic
// server error.
func statusForGenerateError(err error) int {
	var proxyErr *respgen.ProxyError
	if errors.As(err, &proxyErr) {
		return http.StatusBadGateway
	}
	var tmplErr *respgen.TemplateError
	if errors.As(err, &tmplErr) {
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// resolveWinner runs the matching algorithm, and if the winner carries a
// scenario transition, attempts the compare-and-swap. A lost race means
// another request already moved the scenario state, so eligibility is
// re-evaluated against a fresh snapshot before retrying. The partial
// candidates from the last attempt are always returned, win or lose, so the
// caller can log them for "why didn't this match" diagnostics.
func (s *Server) resolveWinner(snap *store.Snapshot, req *httpmsg.RequestMessage) (*mapping.Mapping, []matchengine.Candidate, error) {
	var candidates []matchengine.Candidate
	for attempt := 0; attempt < maxScenarioRetries; attempt++ {
		result := matchengine.Match(snap, s.scenarios, req)
		candidates = result.Candidates
		if !result.Matched() {
			return nil, candidates, nil
		}
		m := result.Winner
		if m.Scenario == nil || m.Scenario.NewState == "" {
			return m, candidates, nil
		}
		from := s.scenarios.StateOf(m.Scenario.Name)
		if s.scenarios.Transition(m.Scenario.Name, from, m.Scenario.NewState) {
			return m, candidates, nil
		}
		snap = s.store.Snapshot()
	}
	return nil, candidates, fmt.Errorf("server: exhausted scenario retry budget")
}

func (s *Server) writeFallback(w http.ResponseWriter, req *httpmsg.RequestMessage, status int, candidates []matchengine.Candidate, matched time.Time) {
	if status == 0 {
		status = http.StatusNotFound
	}
	w.WriteHeader(status)
	s.appendLogEntry(&requestlog.Entry{
		Request:                req,
		PartialMatchCandidates: toMatchCandidates(candidates),
		Response:               &httpmsg.ResponseMessage{Status: status},
		Timing:                 requestlog.Timing{Started: req.ReceivedAt, Matched: matched, Completed: time.Now()},
	})
}

func toMatchCandidates(candidates []matchengine.Candidate) []requestlog.MatchCandidate {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]requestlog.MatchCandidate, len(candidates))
	for i, c := range candidates {
		out[i] = requestlog.MatchCandidate{MappingID: c.Mapping.ID, Score: c.Score}
	}
	return out
}

// appendLogEntry applies cfg.RequestLoggingDelay, if set, as a delay on the
// entry's visibility in the request log rather than on the response itself:
// the response has already been written to w by the time this runs.
func (s *Server) appendLogEntry(entry *requestlog.Entry) {
	if s.cfg.RequestLoggingDelay <= 0 {
		s.log.Append(entry)
		return
	}
	time.AfterFunc(s.cfg.RequestLoggingDelay, func() {
		s.log.Append(entry)
	})
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *httpmsg.ResponseMessage) {
	if resp.Fault != nil {
		s.writeFault(w, resp)
		return
	}

	headers := resp.SanitizedHeaders()
	for _, key := range headers.Keys() {
		for _, v := range headers.Values(key) {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	if limit <= 0 {
		return io.ReadAll(r.Body)
	}
	return io.ReadAll(io.LimitReader(r.Body, limit))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
