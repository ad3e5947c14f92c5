// mockd runs the programmable HTTP stub server: it binds a listener, serves
// mapping-driven responses, and exposes the /__admin control plane.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/stubsrv/internal/config"
	"github.com/getmockd/stubsrv/internal/logging"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/matcher"
	"github.com/getmockd/stubsrv/internal/server"
)

// Version is injected during build.
var Version = "dev"

var flags struct {
	port                   int
	adminAddr              string
	bindAddr               string
	urls                   bool
	readStaticMappingsDir  string
	watchStaticMappings    bool
	proxyAllURL            string
	saveMapping            bool
	allowPartialMapping    bool
	requestLoggingDelayMS  int
	logLevel               string
	logFormat              string
	tlsCertFile            string
	tlsKeyFile             string
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mockd",
		Short:   "mockd runs a programmable HTTP stub server",
		Version: Version,
		RunE:    runServe,
	}

	cmd.Flags().IntVar(&flags.port, "port", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&flags.adminAddr, "admin", "", "admin API bind address (host:port); empty serves /__admin on the main port")
	cmd.Flags().StringVar(&flags.bindAddr, "urls", "0.0.0.0", "bind address for the mocked surface")
	cmd.Flags().StringVar(&flags.readStaticMappingsDir, "read-static-mappings", "", "directory of JSON/YAML mapping files to load at startup")
	cmd.Flags().BoolVar(&flags.watchStaticMappings, "watch-static-mappings", false, "poll --read-static-mappings for changes and hot-reload them")
	cmd.Flags().StringVar(&flags.proxyAllURL, "proxy-all", "", "proxy every unmatched request to this upstream base URL")
	cmd.Flags().BoolVar(&flags.saveMapping, "save-mapping", false, "persist each proxied response as a mapping on first hit")
	cmd.Flags().BoolVar(&flags.allowPartialMapping, "allow-partial-mapping", false, "serve the best-scoring mapping even below the perfect-match threshold")
	cmd.Flags().IntVar(&flags.requestLoggingDelayMS, "request-logging-delay", 0, "milliseconds to wait before a request appears in the request log")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "debug, info, warn, or error")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "text", "text or json")
	cmd.Flags().StringVar(&flags.tlsCertFile, "tls-cert", "", "TLS certificate file; serves HTTPS when set with --tls-key")
	cmd.Flags().StringVar(&flags.tlsKeyFile, "tls-key", "", "TLS private key file; serves HTTPS when set with --tls-cert")

	return cmd
}

// exitCodeFor maps a startup failure to the documented process exit code:
// 2 for a listener bind failure, 3 for a configuration error, 1 otherwise.
func exitCodeFor(err error) int {
	switch {
	case isBindError(err):
		return 2
	case isConfigError(err):
		return 3
	default:
		return 1
	}
}

type bindError struct{ error }
type configError struct{ error }

func isBindError(err error) bool {
	_, ok := err.(bindError)
	return ok
}

func isConfigError(err error) bool {
	_, ok := err.(configError)
	return ok
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(flags.logLevel),
		Format: logging.ParseFormat(flags.logFormat),
	})

	if flags.watchStaticMappings && flags.readStaticMappingsDir == "" {
		return configError{fmt.Errorf("mockd: --watch-static-mappings requires --read-static-mappings")}
	}

	cfg := config.DefaultServerConfiguration()
	cfg.Port = flags.port
	cfg.AdminAddr = flags.adminAddr
	cfg.BindAddr = flags.bindAddr
	cfg.ReadStaticMappingsDir = flags.readStaticMappingsDir
	cfg.WatchStaticMappings = flags.watchStaticMappings
	cfg.ProxyAllURL = flags.proxyAllURL
	cfg.SaveMapping = flags.saveMapping
	cfg.AllowPartialMatches = flags.allowPartialMapping
	cfg.RequestLoggingDelay = time.Duration(flags.requestLoggingDelayMS) * time.Millisecond
	cfg.TLSCertFile = flags.tlsCertFile
	cfg.TLSKeyFile = flags.tlsKeyFile

	srv := server.New(cfg, logger)

	if cfg.ReadStaticMappingsDir != "" {
		loader := config.NewDirectoryLoader(cfg.ReadStaticMappingsDir)
		result, err := loader.Load()
		if err != nil {
			return configError{fmt.Errorf("mockd: loading static mappings: %w", err)}
		}
		for _, le := range result.Errors {
			logger.Warn("static mapping file failed to load", "path", le.Path, "error", le.Err)
		}
		for _, m := range result.Mappings {
			if err := srv.Store().Add(m); err != nil {
				logger.Warn("static mapping rejected", "id", m.ID, "error", err)
			}
		}
		logger.Info("loaded static mappings", "count", len(result.Mappings), "dir", cfg.ReadStaticMappingsDir)

		if cfg.WatchStaticMappings {
			watcher := config.NewWatcher(loader)
			events := watcher.Start()
			go watchStaticMappings(events, srv, logger)
			defer watcher.Stop()
		}
	}

	if cfg.ProxyAllURL != "" {
		if err := addProxyAllMapping(srv, cfg.ProxyAllURL, cfg.SaveMapping); err != nil {
			return configError{err}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("mockd starting", "port", cfg.Port, "admin", cfg.AdminAddr)
	if err := srv.ListenAndServe(ctx); err != nil {
		return bindError{err}
	}
	logger.Info("mockd stopped")
	return nil
}

// watchStaticMappings applies each hot-reloaded file's mappings by
// replacing any mapping the store already has with the same id, or adding
// it if new. A file that fails to reload is logged and otherwise ignored;
// the previously loaded mappings from that file stay in effect.
func watchStaticMappings(events <-chan config.WatchEvent, srv *server.Server, logger interface {
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}) {
	for ev := range events {
		if ev.Error != nil {
			logger.Warn("static mapping reload failed", "path", ev.Path, "error", ev.Error)
			continue
		}
		for _, m := range ev.Mappings {
			if err := srv.Store().Update(m); err != nil {
				if err := srv.Store().Add(m); err != nil {
					logger.Warn("static mapping rejected on reload", "id", m.ID, "error", err)
				}
			}
		}
		logger.Info("static mapping file reloaded", "path", ev.Path, "count", len(ev.Mappings))
	}
}

// addProxyAllMapping installs a lowest-priority catch-all mapping that
// proxies every request the rest of the mapping set doesn't claim.
func addProxyAllMapping(srv *server.Server, upstream string, saveMapping bool) error {
	anyMatcher := matcher.AllOf()
	m := mapping.NewBuilder().
		WithTitle("proxy-all").
		WithPriority(int(^uint(0) >> 1)).
		WithTree(anyMatcher).
		WithResponse(&mapping.ResponseSpec{
			Kind:                  mapping.ResponseProxy,
			ProxyURL:              upstream,
			SaveMappingOnFirstHit: saveMapping,
		}).
		Build()
	return srv.Store().Add(m)
}
