package matcher

import (
	"bytes"
	"fmt"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/getmockd/stubsrv/internal/httpmsg"
)

func validateXPath(expr string) error {
	if _, err := xpath.Compile(expr); err != nil {
		return fmt.Errorf("matcher: invalid XPath expression %q: %w", expr, err)
	}
	return nil
}

// scoreXPath returns 1 if expr selects at least one node in the request
// body parsed as XML, else 0. An unparsable or absent body scores 0.
func scoreXPath(expr string, req *httpmsg.RequestMessage) float64 {
	body := req.BodyRaw()
	if len(body) == 0 {
		return 0
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	node := xmlquery.FindOne(doc, expr)
	return boolScore(node != nil)
}
