// Package config models server-wide configuration: bind addresses and
// timeouts, the layered defaults/flags precedence, and the YAML/JSON
// static-mappings directory format loaded at startup and optionally
// watched for changes.
package config

import (
	"time"
)

// ServerConfiguration holds every setting the CLI can supply, layered over
// DefaultServerConfiguration.
type ServerConfiguration struct {
	Port      int
	AdminAddr string // empty means admin routes are served on the main listener
	BindAddr  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64

	RequestLogCapacity int
	GlobalDelay         time.Duration
	PerfectThreshold    float64
	AllowPartialMatches bool
	FallbackStatus      int

	ReadStaticMappingsDir  string
	WatchStaticMappings    bool
	ProxyAllURL            string
	SaveMapping            bool
	RequestLoggingDelay    time.Duration

	TLSCertFile string
	TLSKeyFile  string
}

// DefaultServerConfiguration returns the configuration a bare `mockd` with
// no flags runs with.
func DefaultServerConfiguration() ServerConfiguration {
	return ServerConfiguration{
		Port:                8080,
		BindAddr:            "0.0.0.0",
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		MaxBodyBytes:        10 << 20,
		RequestLogCapacity:  1000,
		PerfectThreshold:    1.0,
		FallbackStatus:      404,
	}
}
