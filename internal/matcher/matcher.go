// Package matcher implements the boolean/scored predicate algebra that
// mappings use to decide whether, and how well, they match a request.
package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/getmockd/stubsrv/internal/httpmsg"
)

// Kind identifies which comparison algorithm a matcher node uses.
type Kind string

const (
	KindExact          Kind = "exact"
	KindWildcard       Kind = "wildcard"
	KindRegex          Kind = "regex"
	KindJSONPath       Kind = "jsonPath"
	KindJSONPartial    Kind = "jsonPartial"
	KindXPath          Kind = "xPath"
	KindLinqExpression Kind = "linqExpression"
	KindContentType    Kind = "contentType"
	KindHeader         Kind = "header"
	KindCookie         Kind = "cookie"
	KindMethod         Kind = "method"
	KindClientIP       Kind = "clientIp"
	KindCustom         Kind = "custom"
	KindAllOf          Kind = "allOf"
	KindAnyOf          Kind = "anyOf"
)

// Operator identifies the string comparison applied between the extracted
// field value and Matcher.Value.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpMatches    Operator = "matches"
	OpNotMatches Operator = "notMatches"
)

// Case selects whether string comparisons fold case.
type Case string

const (
	CaseSensitive   Case = "sensitive"
	CaseInsensitive Case = "insensitive"
)

// Behavior inverts a matcher's score when set to RejectOnMatch.
type Behavior string

const (
	AcceptOnMatch Behavior = "acceptOnMatch"
	RejectOnMatch Behavior = "rejectOnMatch"
)

// Field identifies which part of a RequestMessage a matcher reads.
type Field string

const (
	FieldPath        Field = "path"
	FieldMethod      Field = "method"
	FieldAbsoluteURL Field = "absoluteUrl"
	FieldURL         Field = "url"
	FieldQuery       Field = "query"
	FieldHeader      Field = "header"
	FieldCookie      Field = "cookie"
	FieldBodyString  Field = "bodyString"
	FieldBodyJSON    Field = "bodyJson"
	FieldBodyBytes   Field = "bodyBytes"
	FieldBodyXML     Field = "bodyXml"
	FieldClientIP    Field = "clientIp"
)

// Target selects a single value out of a RequestMessage. Name holds the
// query/header/cookie key for the Field variants that need one.
type Target struct {
	Field Field
	Name  string
}

// Matcher is one node of a match tree: either a leaf predicate over a
// single request field, or an AllOf/AnyOf composite over Children.
type Matcher struct {
	Kind     Kind
	Target   Target
	Operator Operator
	Case     Case
	Behavior Behavior

	// Value holds the literal, glob pattern, regex source, XPath/JS
	// expression depending on Kind.
	Value string

	// JSONConditions holds path -> expected-value pairs for JsonPath and
	// JsonPartial matchers.
	JSONConditions map[string]any

	Children []*Matcher

	re *regexp.Regexp
}

// New constructs and validates a leaf matcher. Regex matchers compile their
// pattern here so construction-time errors never surface mid-request.
func New(kind Kind, target Target, op Operator, c Case, behavior Behavior, value string) (*Matcher, error) {
	m := &Matcher{Kind: kind, Target: target, Operator: op, Case: c, Behavior: behavior, Value: value}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewJSON constructs a JsonPath or JsonPartial matcher.
func NewJSON(kind Kind, conditions map[string]any, behavior Behavior) (*Matcher, error) {
	if kind != KindJSONPath && kind != KindJSONPartial {
		return nil, fmt.Errorf("matcher: NewJSON requires KindJSONPath or KindJSONPartial, got %s", kind)
	}
	for path := range conditions {
		if err := validateJSONPath(path); err != nil {
			return nil, err
		}
	}
	return &Matcher{Kind: kind, JSONConditions: conditions, Behavior: behavior}, nil
}

// NewXPath constructs an XPath matcher against the body-as-XML field.
func NewXPath(expr string, behavior Behavior) (*Matcher, error) {
	if err := validateXPath(expr); err != nil {
		return nil, err
	}
	return &Matcher{Kind: KindXPath, Value: expr, Target: Target{Field: FieldBodyXML}, Behavior: behavior}, nil
}

// NewScript constructs a Custom or LinqExpression matcher whose Value is a
// JavaScript expression evaluated against the request.
func NewScript(kind Kind, expr string, behavior Behavior) (*Matcher, error) {
	if kind != KindCustom && kind != KindLinqExpression {
		return nil, fmt.Errorf("matcher: NewScript requires KindCustom or KindLinqExpression, got %s", kind)
	}
	if err := validateScript(expr); err != nil {
		return nil, err
	}
	return &Matcher{Kind: kind, Value: expr, Behavior: behavior}, nil
}

// AllOf returns a composite matcher whose score is the product of its
// children's scores (a zero short-circuits the rest).
func AllOf(children ...*Matcher) *Matcher {
	return &Matcher{Kind: KindAllOf, Children: children, Behavior: AcceptOnMatch}
}

// AnyOf returns a composite matcher whose score is the max of its
// children's scores.
func AnyOf(children ...*Matcher) *Matcher {
	return &Matcher{Kind: KindAnyOf, Children: children, Behavior: AcceptOnMatch}
}

func (m *Matcher) compile() error {
	switch m.Kind {
	case KindRegex:
		pattern := m.Value
		if m.Case == CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("matcher: invalid regex %q: %w", m.Value, err)
		}
		m.re = re
	}
	return nil
}

// Score evaluates the matcher against req and returns a value in [0,1].
// Score is total and includes the Behavior inversion.
func (m *Matcher) Score(req *httpmsg.RequestMessage) float64 {
	var raw float64
	switch m.Kind {
	case KindAllOf:
		raw = scoreAllOf(m.Children, req)
	case KindAnyOf:
		raw = scoreAnyOf(m.Children, req)
	case KindJSONPath:
		raw = scoreJSONPath(m.JSONConditions, req)
	case KindJSONPartial:
		raw = scoreJSONPartial(m.JSONConditions, req)
	case KindXPath:
		raw = scoreXPath(m.Value, req)
	case KindCustom, KindLinqExpression:
		raw = scoreScript(m.Value, req)
	default:
		raw = m.scoreString(req)
	}
	if m.Behavior == RejectOnMatch {
		return 1 - raw
	}
	return raw
}

func scoreAllOf(children []*Matcher, req *httpmsg.RequestMessage) float64 {
	product := 1.0
	for _, c := range children {
		s := c.Score(req)
		if s == 0 {
			return 0
		}
		product *= s
	}
	return product
}

func scoreAnyOf(children []*Matcher, req *httpmsg.RequestMessage) float64 {
	max := 0.0
	for _, c := range children {
		if s := c.Score(req); s > max {
			max = s
		}
	}
	return max
}

// scoreString handles every Kind whose comparison reduces to "extract a
// string field, apply Operator/Case to Value": Exact, Wildcard, Regex,
// ContentType, Header, Cookie, Method, ClientIp.
func (m *Matcher) scoreString(req *httpmsg.RequestMessage) float64 {
	value, present := m.extract(req)
	if !present {
		return 0
	}

	if m.Kind == KindWildcard {
		return boolScore(globMatch(value, m.Value, m.Case))
	}
	if m.Kind == KindRegex {
		matched := m.re.MatchString(value)
		if m.Operator == OpNotMatches {
			matched = !matched
		}
		return boolScore(matched)
	}
	return boolScore(applyOperator(m.Operator, value, m.Value, m.Case))
}

func (m *Matcher) extract(req *httpmsg.RequestMessage) (string, bool) {
	target := m.Target
	if target.Field == "" {
		target = impliedTarget(m.Kind)
	}
	switch target.Field {
	case FieldMethod:
		return req.Method, true
	case FieldPath:
		return req.Path, true
	case FieldAbsoluteURL, FieldURL:
		return req.AbsoluteURL, true
	case FieldClientIP:
		return req.ClientIP, true
	case FieldQuery:
		return req.Query.Get(target.Name)
	case FieldHeader:
		name := target.Name
		if m.Kind == KindContentType {
			name = "Content-Type"
		}
		v, ok := req.Headers.Get(name)
		if !ok {
			return "", false
		}
		if m.Kind == KindContentType {
			v = strings.TrimSpace(strings.SplitN(v, ";", 2)[0])
		}
		return v, true
	case FieldCookie:
		v, ok := req.Cookies[target.Name]
		return v, ok
	case FieldBodyString:
		return req.BodyText(), true
	case FieldBodyBytes:
		return string(req.BodyRaw()), true
	}
	return "", false
}

func impliedTarget(kind Kind) Target {
	switch kind {
	case KindMethod:
		return Target{Field: FieldMethod}
	case KindClientIP:
		return Target{Field: FieldClientIP}
	case KindContentType:
		return Target{Field: FieldHeader, Name: "Content-Type"}
	default:
		return Target{Field: FieldBodyString}
	}
}

func applyOperator(op Operator, actual, expected string, c Case) bool {
	a, e := actual, expected
	if c == CaseInsensitive {
		a, e = strings.ToLower(a), strings.ToLower(e)
	}
	switch op {
	case OpContains:
		return strings.Contains(a, e)
	case OpStartsWith:
		return strings.HasPrefix(a, e)
	case OpEndsWith:
		return strings.HasSuffix(a, e)
	case OpMatches:
		re, err := regexp.Compile(e)
		return err == nil && re.MatchString(a)
	case OpNotMatches:
		re, err := regexp.Compile(e)
		return err != nil || !re.MatchString(a)
	default: // OpEquals
		return a == e
	}
}

// globMatch implements unrestricted glob matching: "*" matches any run of
// characters, including "/", so a pattern like "/foo/*/end" matches
// "/foo/a/b/end". There is no path-separator exception. "?" has no special
// meaning and matches only a literal "?".
func globMatch(value, pattern string, c Case) bool {
	if c == CaseInsensitive {
		value = strings.ToLower(value)
		pattern = strings.ToLower(pattern)
	}
	if pattern == value {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		switch {
		case i == 0:
			if !strings.HasPrefix(value, part) {
				return false
			}
			pos = len(part)
		case i == len(parts)-1:
			if !strings.HasSuffix(value[pos:], part) {
				return false
			}
		default:
			idx := strings.Index(value[pos:], part)
			if idx == -1 {
				return false
			}
			pos += idx + len(part)
		}
	}
	return true
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
