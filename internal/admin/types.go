package admin

import "github.com/getmockd/stubsrv/internal/config"

// ErrorResponse is the JSON body written for every ClientError.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MessageResponse is the plain-text-flavored JSON body for endpoints whose
// contract only promises a human-readable confirmation string.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the body for GET /__admin/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// MappingView is the JSON projection of a mapping returned by the listing
// and lookup endpoints. It round-trips the full request matcher and
// response definition, the same shape config.ToMapping accepts; only the
// compiled matcher tree and any embedder callback are never serialized
// back out.
type MappingView struct {
	ID       string              `json:"id"`
	Title    string              `json:"title,omitempty"`
	Priority int                 `json:"priority"`
	Request  config.WireRequest  `json:"request"`
	Response config.WireResponse `json:"response"`

	ScenarioName          string `json:"scenarioName,omitempty"`
	RequiredScenarioState string `json:"requiredScenarioState,omitempty"`
	NewScenarioState      string `json:"newScenarioState,omitempty"`

	WebhookList              []config.WireWebhook `json:"webhookList,omitempty"`
	UseWebhooksFireAndForget bool                 `json:"useWebhooksFireAndForget,omitempty"`
}

// SettingsView is the JSON projection of store.Settings.
type SettingsView struct {
	PerfectThreshold    float64 `json:"perfectThreshold"`
	AllowPartialMatches bool    `json:"allowPartialMatches"`
	GlobalDelayMS       int64   `json:"globalDelayMs"`
	RequestLogCapacity  int     `json:"requestLogCapacity"`
	FallbackStatus      int     `json:"fallbackStatus"`
}

// ScenarioStateRequest is the body of POST /__admin/scenarios/{name}/state.
type ScenarioStateRequest struct {
	State string `json:"state"`
}

// RequestLogEntryView is the JSON projection of one requestlog.Entry.
type RequestLogEntryView struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	MappingID string `json:"mappingId,omitempty"`
	Status    int    `json:"status"`
	LoggedAt  string `json:"loggedAt"`
}
