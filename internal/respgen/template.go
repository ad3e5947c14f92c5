package respgen

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/mapping"
	"github.com/getmockd/stubsrv/internal/scenario"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// render substitutes every {{expr}} placeholder in body. Unknown
// references resolve to the empty string rather than erroring, so one bad
// placeholder in a mapping's template never breaks the response.
func (g *Generator) render(body string, req *httpmsg.RequestMessage, m *mapping.Mapping) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		expr := placeholderPattern.FindStringSubmatch(match)[1]
		return g.evalExpr(strings.TrimSpace(expr), req, m)
	})
}

func (g *Generator) evalExpr(expr string, req *httpmsg.RequestMessage, m *mapping.Mapping) string {
	switch {
	case expr == "request.method":
		return req.Method
	case expr == "request.url", expr == "request.absoluteurl":
		return req.AbsoluteURL
	case expr == "request.path":
		return req.Path
	case expr == "request.body":
		return req.BodyText()
	case strings.HasPrefix(expr, "request.query."):
		v, _ := req.Query.Get(strings.TrimPrefix(expr, "request.query."))
		return v
	case strings.HasPrefix(expr, "request.headers."):
		v, _ := req.Headers.Get(strings.TrimPrefix(expr, "request.headers."))
		return v
	case strings.HasPrefix(expr, "request.cookies."):
		return req.Cookies[strings.TrimPrefix(expr, "request.cookies.")]
	case strings.HasPrefix(expr, "request.bodyAsJson."):
		return bodyJSONPath(req, strings.TrimPrefix(expr, "request.bodyAsJson."))
	case expr == "guid":
		return uuid.New().String()
	case strings.HasPrefix(expr, "now"):
		return evalNow(expr)
	case strings.HasPrefix(expr, "random.int(") && strings.HasSuffix(expr, ")"):
		return evalRandomInt(expr)
	case strings.HasPrefix(expr, "random.alphanumeric(") && strings.HasSuffix(expr, ")"):
		return evalRandomAlphanumeric(expr)
	case expr == "scenario.state":
		return scenarioState(g.scenarios, m)
	default:
		return ""
	}
}

func scenarioState(engine *scenario.Engine, m *mapping.Mapping) string {
	if m == nil || m.Scenario == nil || engine == nil {
		return ""
	}
	return engine.StateOf(m.Scenario.Name)
}

func bodyJSONPath(req *httpmsg.RequestMessage, path string) string {
	data, ok := req.BodyJSON()
	if !ok || path == "" {
		return ""
	}
	var cur any = data
	for _, segment := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = obj[segment]
		if !ok {
			return ""
		}
	}
	return fmt.Sprintf("%v", cur)
}

// evalNow parses "now", "now+1d", "now-2h 2006-01-02" (offset and an
// optional Go time layout, space-separated) and returns a formatted
// timestamp, RFC3339 unless a layout is given. A layout is read only after
// an offset; an offset that does not parse is ignored, leaving the current
// time.
func evalNow(expr string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(expr, "now"))
	layout := time.RFC3339
	t := time.Now()

	if rest == "" {
		return t.Format(layout)
	}

	parts := strings.SplitN(rest, " ", 2)
	offset := parts[0]
	if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
		layout = strings.TrimSpace(parts[1])
	}

	if d, err := parseOffset(offset); err == nil {
		t = t.Add(d)
	}
	return t.Format(layout)
}

// parseOffset parses a leading +/- followed by an integer and a unit of
// s/m/h/d, e.g. "+1d", "-2h".
func parseOffset(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("respgen: empty offset")
	}
	sign := time.Duration(1)
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("respgen: offset must start with + or -: %q", s)
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[1 : len(s)-1])
	if err != nil {
		return 0, err
	}
	var perUnit time.Duration
	switch unit {
	case 's':
		perUnit = time.Second
	case 'm':
		perUnit = time.Minute
	case 'h':
		perUnit = time.Hour
	case 'd':
		perUnit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("respgen: unknown offset unit %q", unit)
	}
	return sign * time.Duration(n) * perUnit, nil
}

func evalRandomInt(expr string) string {
	args := strings.TrimSuffix(strings.TrimPrefix(expr, "random.int("), ")")
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return ""
	}
	min, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	max, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || max < min {
		return ""
	}
	return strconv.Itoa(min + rand.Intn(max-min+1))
}

func evalRandomAlphanumeric(expr string) string {
	arg := strings.TrimSuffix(strings.TrimPrefix(expr, "random.alphanumeric("), ")")
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n <= 0 {
		return ""
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = alphanumeric[rand.Intn(len(alphanumeric))]
	}
	return string(out)
}
