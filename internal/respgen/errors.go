package respgen

import "fmt"

// ClientError, ProxyError, and TemplateError are the sealed set of typed
// failures: the admin mapping handlers produce ClientError, and a mapping's
// response path produces ProxyError and TemplateError. Each wraps its cause with
// fmt.Errorf's %w so errors.As/errors.Is see through to the original error;
// the HTTP adapter switches on the concrete type to pick a status code
// rather than collapsing every failure to 500.

// ClientError marks a failure in the caller-supplied mapping or matcher
// definition itself (malformed admin JSON, an unparsable mapping id, an
// invalid matcher clause). The admin surface maps it to 400.
type ClientError struct{ err error }

// NewClientError wraps cause as a ClientError.
func NewClientError(op string, cause error) *ClientError {
	return &ClientError{err: fmt.Errorf("respgen: %s: %w", op, cause)}
}

func (e *ClientError) Error() string { return e.err.Error() }
func (e *ClientError) Unwrap() error { return e.err }

// ProxyError marks a failure reaching, or reading the response from, a
// proxy mapping's upstream target. The HTTP adapter maps it to 502.
type ProxyError struct{ err error }

// NewProxyError wraps cause as a ProxyError.
func NewProxyError(op string, cause error) *ProxyError {
	return &ProxyError{err: fmt.Errorf("respgen: %s: %w", op, cause)}
}

func (e *ProxyError) Error() string { return e.err.Error() }
func (e *ProxyError) Unwrap() error { return e.err }

// TemplateError marks a failure evaluating a mapping's templated response
// body. The HTTP adapter maps it to 500.
type TemplateError struct{ err error }

// NewTemplateError wraps cause as a TemplateError.
func NewTemplateError(op string, cause error) *TemplateError {
	return &TemplateError{err: fmt.Errorf("respgen: %s: %w", op, cause)}
}

func (e *TemplateError) Error() string { return e.err.Error() }
func (e *TemplateError) Unwrap() error { return e.err }
