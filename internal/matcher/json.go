package matcher

import (
	"fmt"
	"reflect"

	"github.com/ohler55/ojg/jp"

	"github.com/getmockd/stubsrv/internal/httpmsg"
)

func validateJSONPath(path string) error {
	if _, err := jp.ParseString(path); err != nil {
		return fmt.Errorf("matcher: invalid JSONPath expression %q: %w", path, err)
	}
	return nil
}

// scoreJSONPath returns 1 if any node in the request's JSON body satisfies
// every configured path -> expected-value condition, else 0.
func scoreJSONPath(conditions map[string]any, req *httpmsg.RequestMessage) float64 {
	data, ok := req.BodyJSON()
	if !ok {
		return 0
	}
	for path, expected := range conditions {
		if !jsonPathSatisfied(path, expected, data) {
			return 0
		}
	}
	return 1
}

// scoreJSONPartial returns the fraction of configured leaves found equal in
// the request JSON; a missing leaf counts as a miss and "*" in the expected
// value skips equality for that leaf.
func scoreJSONPartial(conditions map[string]any, req *httpmsg.RequestMessage) float64 {
	if len(conditions) == 0 {
		return 1
	}
	data, ok := req.BodyJSON()
	if !ok {
		return 0
	}
	matched := 0
	for path, expected := range conditions {
		if expected == "*" {
			if jsonPathSatisfied(path, map[string]any{"exists": true}, data) {
				matched++
			}
			continue
		}
		if jsonPathSatisfied(path, expected, data) {
			matched++
		}
	}
	return float64(matched) / float64(len(conditions))
}

func jsonPathSatisfied(path string, expected any, data any) bool {
	expr, err := jp.ParseString(path)
	if err != nil {
		return false
	}
	results := expr.Get(data)

	if exists, isExistence := existenceCheck(expected); isExistence {
		return (len(results) > 0) == exists
	}
	for _, r := range results {
		if jsonValuesEqual(r, expected) {
			return true
		}
	}
	return false
}

func existenceCheck(expected any) (bool, bool) {
	m, ok := expected.(map[string]any)
	if !ok || len(m) != 1 {
		return false, false
	}
	v, ok := m["exists"]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func jsonValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		return af == bf
	}
	return false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
