package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/getmockd/stubsrv/internal/httpmsg"
	"github.com/getmockd/stubsrv/internal/respgen"
)

// writeFault delivers a deliberately broken response. All three fault
// kinds bypass the excluded-headers rule entirely: there is no "normal"
// response underneath a fault to sanitize.
func (s *Server) writeFault(w http.ResponseWriter, resp *httpmsg.ResponseMessage) {
	switch resp.Fault.Kind {
	case httpmsg.FaultEmptyResponse:
		w.WriteHeader(resp.Status)
		return
	case httpmsg.FaultMalformedResponse:
		s.writeMalformed(w)
		return
	case httpmsg.FaultAbortAfterBytes:
		s.writeAbortAfterBytes(w, resp)
		return
	default:
		w.WriteHeader(resp.Status)
	}
}

func (s *Server) writeMalformed(w http.ResponseWriter) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		// No raw connection access (e.g. an httptest.ResponseRecorder in
		// tests): fall back to the closest approximation over the normal
		// response-writer contract.
		w.WriteHeader(599)
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		s.logger.Warn("malformed-response fault: hijack failed", "error", err)
		return
	}
	defer conn.Close()
	if err := respgen.WriteMalformedResponse(conn); err != nil {
		s.logger.Warn("malformed-response fault: write failed", "error", err)
	}
}

func (s *Server) writeAbortAfterBytes(w http.ResponseWriter, resp *httpmsg.ResponseMessage) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		limit := resp.Fault.AbortAtBytes
		if limit > len(resp.Body) {
			limit = len(resp.Body)
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body[:limit])
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		s.logger.Warn("abort-after-bytes fault: hijack failed", "error", err)
		return
	}
	defer conn.Close()

	statusLine := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\n\r\n", resp.Status, http.StatusText(resp.Status), len(resp.Body))
	if _, err := io.WriteString(conn, statusLine); err != nil {
		return
	}

	truncating := respgen.NewTruncatingWriter(conn, resp.Fault.AbortAtBytes)
	_, _ = truncating.Write(resp.Body)
	// conn.Close() above severs the connection before the declared
	// Content-Length is satisfied, so the client observes a truncated
	// stream rather than a clean body.
}
