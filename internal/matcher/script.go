package matcher

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/getmockd/stubsrv/internal/httpmsg"
)

func validateScript(expr string) error {
	if _, err := goja.Compile("matcher", expr, false); err != nil {
		return fmt.Errorf("matcher: invalid script expression: %w", err)
	}
	return nil
}

// scoreScript evaluates expr as a JavaScript expression against a `request`
// object and coerces the result to a [0,1] score: true/truthy numbers >= 1
// score 1, false/0 scores 0, and any other number is clamped to [0,1].
func scoreScript(expr string, req *httpmsg.RequestMessage) float64 {
	vm := goja.New()
	if err := vm.Set("request", requestToJS(req)); err != nil {
		return 0
	}
	value, err := vm.RunString(expr)
	if err != nil {
		return 0
	}
	return clampScore(value.Export())
}

func requestToJS(req *httpmsg.RequestMessage) map[string]any {
	headers := map[string]any{}
	for _, k := range req.Headers.Keys() {
		headers[k] = req.Headers.Values(k)
	}
	js := map[string]any{
		"method": req.Method,
		"url":    req.AbsoluteURL,
		"path":   req.Path,
		"headers": headers,
		"body":   req.BodyText(),
	}
	if body, ok := req.BodyJSON(); ok {
		js["bodyAsJson"] = body
	}
	return js
}

func clampScore(v any) float64 {
	switch n := v.(type) {
	case bool:
		return boolScore(n)
	case int64:
		return clampFloat(float64(n))
	case float64:
		return clampFloat(n)
	default:
		return 0
	}
}

func clampFloat(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
