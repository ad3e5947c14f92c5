package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/matcher"
)

// WireMapping is the JSON/YAML shape of one mapping as accepted by the
// admin surface and the static-mappings directory loader.
type WireMapping struct {
	ID       string       `json:"id,omitempty" yaml:"id,omitempty"`
	Title    string       `json:"title,omitempty" yaml:"title,omitempty"`
	Priority int          `json:"priority,omitempty" yaml:"priority,omitempty"`
	Request  WireRequest  `json:"request" yaml:"request"`
	Response WireResponse `json:"response" yaml:"response"`

	ScenarioName          string `json:"scenarioName,omitempty" yaml:"scenarioName,omitempty"`
	RequiredScenarioState string `json:"requiredScenarioState,omitempty" yaml:"requiredScenarioState,omitempty"`
	NewScenarioState      string `json:"newScenarioState,omitempty" yaml:"newScenarioState,omitempty"`

	WebhookList              []WireWebhook `json:"webhookList,omitempty" yaml:"webhookList,omitempty"`
	UseWebhooksFireAndForget bool          `json:"useWebhooksFireAndForget,omitempty" yaml:"useWebhooksFireAndForget,omitempty"`
}

// WireWebhook describes one outbound call a mapping fires alongside its
// response, issued after the mock response is built.
type WireWebhook struct {
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`
}

// WireRequest describes the matcher side of a wire mapping.
type WireRequest struct {
	Method      string                      `json:"method,omitempty" yaml:"method,omitempty"`
	URL         string                      `json:"url,omitempty" yaml:"url,omitempty"`
	URLPath     string                      `json:"urlPath,omitempty" yaml:"urlPath,omitempty"`
	URLPattern  string                      `json:"urlPattern,omitempty" yaml:"urlPattern,omitempty"`
	Headers     map[string]WireValueMatcher `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies     map[string]WireValueMatcher `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	Query       map[string]WireValueMatcher `json:"query,omitempty" yaml:"query,omitempty"`
	Body        *WireValueMatcher           `json:"body,omitempty" yaml:"body,omitempty"`
	ClientIP    *WireValueMatcher           `json:"clientIp,omitempty" yaml:"clientIp,omitempty"`
	ContentType *WireValueMatcher           `json:"contentType,omitempty" yaml:"contentType,omitempty"`
}

// WireValueMatcher mirrors the matcher operator set over a single field.
// The JSONPath/XPath/script variants only apply where they're routed from
// (currently the body clause); they're harmless, unused zero values
// everywhere else.
type WireValueMatcher struct {
	Equals          string `json:"equals,omitempty" yaml:"equals,omitempty"`
	Contains        string `json:"contains,omitempty" yaml:"contains,omitempty"`
	StartsWith      string `json:"startsWith,omitempty" yaml:"startsWith,omitempty"`
	EndsWith        string `json:"endsWith,omitempty" yaml:"endsWith,omitempty"`
	Matches         string `json:"matches,omitempty" yaml:"matches,omitempty"`
	NotMatches      string `json:"notMatches,omitempty" yaml:"notMatches,omitempty"`
	MatchesWildcard string `json:"matchesWildcard,omitempty" yaml:"matchesWildcard,omitempty"`
	CaseInsensitive bool   `json:"caseInsensitive,omitempty" yaml:"caseInsensitive,omitempty"`

	// Body-only variants.
	MatchesJSONPartial map[string]any `json:"matchesJsonPartial,omitempty" yaml:"matchesJsonPartial,omitempty"`
	MatchesJSONPath    map[string]any `json:"matchesJsonPath,omitempty" yaml:"matchesJsonPath,omitempty"`
	MatchesXPath       string         `json:"matchesXPath,omitempty" yaml:"matchesXPath,omitempty"`
	MatchesCustom      string         `json:"matchesCustom,omitempty" yaml:"matchesCustom,omitempty"`
	LinqExpression     string         `json:"linqExpression,omitempty" yaml:"linqExpression,omitempty"`
}

// WireResponse describes the response-generation side of a wire mapping.
type WireResponse struct {
	Status      int               `json:"status,omitempty" yaml:"status,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	BodyAsJSON  any               `json:"bodyAsJson,omitempty" yaml:"bodyAsJson,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Templated   bool              `json:"templated,omitempty" yaml:"templated,omitempty"`
	DelayMS     int64             `json:"delay,omitempty" yaml:"delay,omitempty"`
	RandomDelay *WireRandomDelay  `json:"randomDelay,omitempty" yaml:"randomDelay,omitempty"`
	Fault       string            `json:"fault,omitempty" yaml:"fault,omitempty"`
	ProxyURL    string            `json:"proxyUrl,omitempty" yaml:"proxyUrl,omitempty"`
}

// WireRandomDelay is the {min, max} delay range, in milliseconds.
type WireRandomDelay struct {
	Min int64 `json:"min" yaml:"min"`
	Max int64 `json:"max" yaml:"max"`
}

// MappingCollection is a document holding zero or more wire mappings, used
// for the static-mappings directory format.
type MappingCollection struct {
	Mappings []WireMapping `json:"mappings" yaml:"mappings"`
}

// ParseMappingDocument accepts either a single WireMapping object or a
// MappingCollection (a {"mappings": [...]} document, or a bare JSON/YAML
// array) and returns the flattened list.
func ParseMappingDocument(data []byte, isJSON bool) ([]WireMapping, error) {
	unmarshal := yaml.Unmarshal
	if isJSON {
		unmarshal = func(b []byte, v any) error { return json.Unmarshal(b, v) }
	}

	var asArray []WireMapping
	if err := unmarshal(data, &asArray); err == nil && len(asArray) > 0 {
		return asArray, nil
	}

	var asCollection MappingCollection
	if err := unmarshal(data, &asCollection); err == nil && len(asCollection.Mappings) > 0 {
		return asCollection.Mappings, nil
	}

	var single WireMapping
	if err := unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("config: parsing mapping document: %w", err)
	}
	return []WireMapping{single}, nil
}

// ToMapping converts a WireMapping into a *mapping.Mapping, compiling its
// request clause into a matcher tree.
func ToMapping(w WireMapping) (*mapping.Mapping, error) {
	tree, err := buildTree(w.Request)
	if err != nil {
		return nil, fmt.Errorf("config: compiling mapping %q: %w", w.Title, err)
	}

	respSpec, err := buildResponseSpec(w.Response)
	if err != nil {
		return nil, fmt.Errorf("config: compiling response for mapping %q: %w", w.Title, err)
	}

	b := mapping.NewBuilder().WithTitle(w.Title).WithPriority(w.Priority).WithTree(tree).WithResponse(respSpec)

	if w.ID != "" {
		id, err := uuid.Parse(w.ID)
		if err != nil {
			return nil, fmt.Errorf("config: invalid mapping id %q: %w", w.ID, err)
		}
		b = b.WithID(id)
	}

	if w.ScenarioName != "" {
		b = b.WithScenario(&mapping.ScenarioClause{
			Name:          w.ScenarioName,
			RequiredState: w.RequiredScenarioState,
			NewState:      w.NewScenarioState,
		})
	}
	if w.Response.DelayMS > 0 {
		b = b.WithFixedDelay(time.Duration(w.Response.DelayMS) * time.Millisecond)
	}
	if w.Response.RandomDelay != nil {
		b = b.WithRandomDelay(
			time.Duration(w.Response.RandomDelay.Min)*time.Millisecond,
			time.Duration(w.Response.RandomDelay.Max)*time.Millisecond,
		)
	}
	if len(w.WebhookList) > 0 {
		hooks := make([]mapping.Webhook, len(w.WebhookList))
		for i, wh := range w.WebhookList {
			hooks[i] = mapping.Webhook{Method: wh.Method, URL: wh.URL, Headers: wh.Headers, Body: wh.Body}
		}
		b = b.WithWebhooks(w.UseWebhooksFireAndForget, hooks...)
	}

	return b.Build(), nil
}

func buildTree(r WireRequest) (*matcher.Matcher, error) {
	var children []*matcher.Matcher

	if r.Method != "" {
		m, err := matcher.New(matcher.KindMethod, matcher.Target{}, matcher.OpEquals, matcher.CaseInsensitive, matcher.AcceptOnMatch, r.Method)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	switch {
	case r.URL != "":
		m, err := matcher.New(matcher.KindExact, matcher.Target{Field: matcher.FieldPath}, matcher.OpEquals, matcher.CaseSensitive, matcher.AcceptOnMatch, r.URL)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	case r.URLPath != "":
		m, err := matcher.New(matcher.KindExact, matcher.Target{Field: matcher.FieldPath}, matcher.OpEquals, matcher.CaseSensitive, matcher.AcceptOnMatch, r.URLPath)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	case r.URLPattern != "":
		m, err := matcher.New(matcher.KindRegex, matcher.Target{Field: matcher.FieldPath}, matcher.OpMatches, matcher.CaseSensitive, matcher.AcceptOnMatch, r.URLPattern)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}

	for name, vm := range r.Headers {
		m, err := valueMatcher(matcher.KindHeader, matcher.Target{Field: matcher.FieldHeader, Name: name}, vm)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	for name, vm := range r.Cookies {
		m, err := valueMatcher(matcher.KindCookie, matcher.Target{Field: matcher.FieldCookie, Name: name}, vm)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	for name, vm := range r.Query {
		m, err := valueMatcher(matcher.KindExact, matcher.Target{Field: matcher.FieldQuery, Name: name}, vm)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	if r.Body != nil {
		m, err := bodyMatcher(*r.Body)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	if r.ClientIP != nil {
		m, err := valueMatcher(matcher.KindClientIP, matcher.Target{}, *r.ClientIP)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}
	if r.ContentType != nil {
		m, err := valueMatcher(matcher.KindContentType, matcher.Target{}, *r.ContentType)
		if err != nil {
			return nil, err
		}
		children = append(children, m)
	}

	if len(children) == 0 {
		// No clause at all matches everything with a perfect score, the same
		// way an empty all-of does.
		return matcher.AllOf(), nil
	}
	return matcher.AllOf(children...), nil
}

func valueMatcher(kind matcher.Kind, target matcher.Target, vm WireValueMatcher) (*matcher.Matcher, error) {
	c := matcher.CaseSensitive
	if vm.CaseInsensitive {
		c = matcher.CaseInsensitive
	}
	switch {
	case vm.Equals != "":
		return matcher.New(kind, target, matcher.OpEquals, c, matcher.AcceptOnMatch, vm.Equals)
	case vm.Contains != "":
		return matcher.New(kind, target, matcher.OpContains, c, matcher.AcceptOnMatch, vm.Contains)
	case vm.StartsWith != "":
		return matcher.New(kind, target, matcher.OpStartsWith, c, matcher.AcceptOnMatch, vm.StartsWith)
	case vm.EndsWith != "":
		return matcher.New(kind, target, matcher.OpEndsWith, c, matcher.AcceptOnMatch, vm.EndsWith)
	case vm.Matches != "":
		return matcher.New(matcher.KindRegex, target, matcher.OpMatches, c, matcher.AcceptOnMatch, vm.Matches)
	case vm.NotMatches != "":
		return matcher.New(matcher.KindRegex, target, matcher.OpNotMatches, c, matcher.AcceptOnMatch, vm.NotMatches)
	case vm.MatchesWildcard != "":
		return matcher.New(matcher.KindWildcard, target, matcher.OpEquals, c, matcher.AcceptOnMatch, vm.MatchesWildcard)
	default:
		return matcher.New(kind, target, matcher.OpEquals, c, matcher.AcceptOnMatch, "")
	}
}

// bodyMatcher routes a body clause to whichever constructor its populated
// field names, falling back to a plain string comparison over the raw
// body text.
func bodyMatcher(vm WireValueMatcher) (*matcher.Matcher, error) {
	switch {
	case len(vm.MatchesJSONPartial) > 0:
		return matcher.NewJSON(matcher.KindJSONPartial, vm.MatchesJSONPartial, matcher.AcceptOnMatch)
	case len(vm.MatchesJSONPath) > 0:
		return matcher.NewJSON(matcher.KindJSONPath, vm.MatchesJSONPath, matcher.AcceptOnMatch)
	case vm.MatchesXPath != "":
		return matcher.NewXPath(vm.MatchesXPath, matcher.AcceptOnMatch)
	case vm.MatchesCustom != "":
		return matcher.NewScript(matcher.KindCustom, vm.MatchesCustom, matcher.AcceptOnMatch)
	case vm.LinqExpression != "":
		return matcher.NewScript(matcher.KindLinqExpression, vm.LinqExpression, matcher.AcceptOnMatch)
	default:
		return valueMatcher(matcher.KindExact, matcher.Target{Field: matcher.FieldBodyString}, vm)
	}
}

func buildResponseSpec(r WireResponse) (*mapping.ResponseSpec, error) {
	spec := &mapping.ResponseSpec{
		Kind:      mapping.ResponseStatic,
		Status:    r.Status,
		Headers:   r.Headers,
		Body:      r.Body,
		Templated: r.Templated,
	}
	if r.BodyAsJSON != nil {
		encoded, err := json.Marshal(r.BodyAsJSON)
		if err != nil {
			return nil, fmt.Errorf("config: encoding bodyAsJson: %w", err)
		}
		spec.Body = string(encoded)
		spec.BodyIsJSON = true
	}
	if spec.Templated {
		spec.Kind = mapping.ResponseTemplate
	}
	if r.ProxyURL != "" {
		spec.Kind = mapping.ResponseProxy
		spec.ProxyURL = r.ProxyURL
	}
	if r.Fault != "" {
		kind, err := parseFault(r.Fault)
		if err != nil {
			return nil, err
		}
		spec.Fault = kind
	}
	return spec, nil
}

func parseFault(name string) (*httpmsg.Fault, error) {
	switch name {
	case "abort-after-bytes":
		return &httpmsg.Fault{Kind: httpmsg.FaultAbortAfterBytes, AbortAtBytes: 0}, nil
	case "malformed-response":
		return &httpmsg.Fault{Kind: httpmsg.FaultMalformedResponse}, nil
	case "empty-response":
		return &httpmsg.Fault{Kind: httpmsg.FaultEmptyResponse}, nil
	default:
		return nil, fmt.Errorf("config: unknown fault %q", name)
	}
}
