package mapping

import "github.com/getmockd/stubsrv/internal/httpmsg"

// ResponseKind selects which response-generation path produces the
// ResponseMessage for a mapping.
type ResponseKind string

const (
	ResponseStatic   ResponseKind = "static"
	ResponseTemplate ResponseKind = "template"
	ResponseProxy    ResponseKind = "proxy"
	ResponseCallback ResponseKind = "callback"
)

// Callback is the embedder-supplied hook for the Callback response path.
// It is never itself serialized; a Mapping with a Callback is constructed
// programmatically, not via the admin JSON surface.
type Callback func(req *httpmsg.RequestMessage) (*httpmsg.ResponseMessage, error)

// ResponseSpec is the template a mapping's response is generated from.
type ResponseSpec struct {
	Kind ResponseKind

	// Static/Templated path.
	Status     int
	Headers    map[string]string
	Body       string
	BodyIsJSON bool
	Templated  bool

	// Proxy path.
	ProxyURL               string
	ProxyClientCertFile    string
	ProxyClientKeyFile     string
	SaveMappingOnFirstHit  bool

	// Callback path.
	CallbackFunc Callback

	// Fault path. A non-empty fault directive overrides the body
	// entirely, regardless of Kind.
	Fault *httpmsg.Fault
}
