package admin

import (
	"encoding/json"

	"github.com/getmockd/stubsrv/internal/config"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/matcher"
)

// toMappingView projects a compiled mapping back into the wire shape
// config.ToMapping accepts, so GET /__admin/mappings round-trips the full
// request matcher and response definition rather than just id/title/priority.
func toMappingView(m *mapping.Mapping) MappingView {
	v := MappingView{
		ID:       m.ID.String(),
		Title:    m.Title,
		Priority: m.Priority,
		Request:  wireRequestFromTree(m.Tree),
		Response: wireResponseFromSpec(m.Response),
	}
	if m.Scenario != nil {
		v.ScenarioName = m.Scenario.Name
		v.RequiredScenarioState = m.Scenario.RequiredState
		v.NewScenarioState = m.Scenario.NewState
	}
	if m.Timing.FixedDelay > 0 {
		v.Response.DelayMS = m.Timing.FixedDelay.Milliseconds()
	}
	if m.Timing.HasRandomDelay {
		v.Response.RandomDelay = &config.WireRandomDelay{
			Min: m.Timing.RandomDelayMin.Milliseconds(),
			Max: m.Timing.RandomDelayMax.Milliseconds(),
		}
	}
	if len(m.WebhookList) > 0 {
		v.WebhookList = make([]config.WireWebhook, len(m.WebhookList))
		for i, h := range m.WebhookList {
			v.WebhookList[i] = config.WireWebhook{Method: h.Method, URL: h.URL, Headers: h.Headers, Body: h.Body}
		}
		v.UseWebhooksFireAndForget = m.UseWebhooksFireAndForget
	}
	return v
}

// wireRequestFromTree walks the top-level AllOf a mapping's tree compiles
// down to and classifies each child back into the WireRequest clause that
// produced it. It only understands the shapes buildTree itself produces.
func wireRequestFromTree(tree *matcher.Matcher) config.WireRequest {
	var wr config.WireRequest
	if tree == nil {
		return wr
	}
	for _, child := range tree.Children {
		applyMatcherToWireRequest(child, &wr)
	}
	return wr
}

func applyMatcherToWireRequest(m *matcher.Matcher, wr *config.WireRequest) {
	switch m.Kind {
	case matcher.KindMethod:
		wr.Method = m.Value
		return
	case matcher.KindClientIP:
		vm := wireValueMatcherFromMatcher(m)
		wr.ClientIP = &vm
		return
	case matcher.KindContentType:
		vm := wireValueMatcherFromMatcher(m)
		wr.ContentType = &vm
		return
	case matcher.KindJSONPartial:
		wr.Body = &config.WireValueMatcher{MatchesJSONPartial: m.JSONConditions}
		return
	case matcher.KindJSONPath:
		wr.Body = &config.WireValueMatcher{MatchesJSONPath: m.JSONConditions}
		return
	case matcher.KindXPath:
		wr.Body = &config.WireValueMatcher{MatchesXPath: m.Value}
		return
	case matcher.KindCustom:
		wr.Body = &config.WireValueMatcher{MatchesCustom: m.Value}
		return
	case matcher.KindLinqExpression:
		wr.Body = &config.WireValueMatcher{LinqExpression: m.Value}
		return
	}

	// Exact, Wildcard, and Regex all carry a Target naming which clause
	// built them.
	switch m.Target.Field {
	case matcher.FieldPath:
		if m.Kind == matcher.KindRegex {
			wr.URLPattern = m.Value
		} else {
			wr.URLPath = m.Value
		}
	case matcher.FieldHeader:
		if wr.Headers == nil {
			wr.Headers = map[string]config.WireValueMatcher{}
		}
		wr.Headers[m.Target.Name] = wireValueMatcherFromMatcher(m)
	case matcher.FieldCookie:
		if wr.Cookies == nil {
			wr.Cookies = map[string]config.WireValueMatcher{}
		}
		wr.Cookies[m.Target.Name] = wireValueMatcherFromMatcher(m)
	case matcher.FieldQuery:
		if wr.Query == nil {
			wr.Query = map[string]config.WireValueMatcher{}
		}
		wr.Query[m.Target.Name] = wireValueMatcherFromMatcher(m)
	case matcher.FieldBodyString:
		vm := wireValueMatcherFromMatcher(m)
		wr.Body = &vm
	}
}

// wireValueMatcherFromMatcher reverses valueMatcher: given a leaf matcher,
// it recovers which WireValueMatcher field would have built it.
func wireValueMatcherFromMatcher(m *matcher.Matcher) config.WireValueMatcher {
	vm := config.WireValueMatcher{CaseInsensitive: m.Case == matcher.CaseInsensitive}
	switch m.Kind {
	case matcher.KindWildcard:
		vm.MatchesWildcard = m.Value
		return vm
	case matcher.KindRegex:
		if m.Operator == matcher.OpNotMatches {
			vm.NotMatches = m.Value
		} else {
			vm.Matches = m.Value
		}
		return vm
	}
	switch m.Operator {
	case matcher.OpContains:
		vm.Contains = m.Value
	case matcher.OpStartsWith:
		vm.StartsWith = m.Value
	case matcher.OpEndsWith:
		vm.EndsWith = m.Value
	default:
		vm.Equals = m.Value
	}
	return vm
}

// wireResponseFromSpec reverses buildResponseSpec.
func wireResponseFromSpec(spec *mapping.ResponseSpec) config.WireResponse {
	if spec == nil {
		return config.WireResponse{}
	}
	wr := config.WireResponse{
		Status:    spec.Status,
		Body:      spec.Body,
		Headers:   spec.Headers,
		Templated: spec.Templated,
	}
	if spec.BodyIsJSON {
		var decoded any
		if err := json.Unmarshal([]byte(spec.Body), &decoded); err == nil {
			wr.BodyAsJSON = decoded
			wr.Body = ""
		}
	}
	if spec.Kind == mapping.ResponseProxy {
		wr.ProxyURL = spec.ProxyURL
	}
	if spec.Fault != nil {
		wr.Fault = string(spec.Fault.Kind)
	}
	return wr
}
