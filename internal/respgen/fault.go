package respgen

import "io"

// TruncatingWriter wraps an io.Writer and silently stops forwarding bytes
// once limit have been written, for AbortAfterBytes fault delivery: the
// client sees a connection that dies mid-stream rather than a clean body.
type TruncatingWriter struct {
	w       io.Writer
	limit   int
	written int
}

// NewTruncatingWriter returns a writer that passes through at most limit
// bytes to w and discards (reporting success for) everything after.
func NewTruncatingWriter(w io.Writer, limit int) *TruncatingWriter {
	return &TruncatingWriter{w: w, limit: limit}
}

func (t *TruncatingWriter) Write(p []byte) (int, error) {
	if t.written >= t.limit {
		return len(p), nil
	}
	remaining := t.limit - t.written
	chunk := p
	if len(chunk) > remaining {
		chunk = chunk[:remaining]
	}
	n, err := t.w.Write(chunk)
	t.written += n
	if err != nil {
		return n, err
	}
	// Pretend the whole slice was consumed so callers stop retrying the
	// tail instead of looping on a writer that has gone deliberately dark.
	return len(p), nil
}

// MalformedStatusLine is written directly to a hijacked connection for the
// MalformedResponse fault: a status line and header that no HTTP client
// can parse as a complete response.
const MalformedStatusLine = "HTTP/1.1 2000 Not-A-Status\r\nX-Mockd-Fault: malformed-response\r\n\r\n"

// WriteMalformedResponse writes MalformedStatusLine to conn and returns
// whatever error the write produced.
func WriteMalformedResponse(conn io.Writer) error {
	_, err := io.WriteString(conn, MalformedStatusLine)
	return err
}
