package link

import (
	"bytes"
	"io"
	"strings"
	"time"
)

// maxLineLen bounds a line that never sees a newline (wrong baud rate,
// binary noise). The overlong run is returned as one line.
const maxLineLen = 4096

// lineReader splits a timeout-based byte stream into lines. Bytes after the
// last newline are kept for the next call.
type lineReader struct {
	r       io.Reader
	timeout time.Duration
	buf     []byte
	partial []byte
}

func newLineReader(r io.Reader, timeout time.Duration) *lineReader {
	return &lineReader{
		r:       r,
		timeout: timeout,
		buf:     make([]byte, 512),
	}
}

// ReadLine returns the next complete line, decoded and trimmed. ok is false
// when no line completed before a read timed out or the read deadline
// (one timeout period) passed.
func (lr *lineReader) ReadLine() (line string, ok bool, err error) {
	deadline := time.Now().Add(lr.timeout)
	for {
		if idx := bytes.IndexByte(lr.partial, '\n'); idx >= 0 {
			raw := lr.partial[:idx]
			lr.partial = lr.partial[idx+1:]
			return cleanLine(raw), true, nil
		}
		if len(lr.partial) >= maxLineLen {
			raw := lr.partial
			lr.partial = nil
			return cleanLine(raw), true, nil
		}

		n, err := lr.r.Read(lr.buf)
		if n > 0 {
			lr.partial = append(lr.partial, lr.buf[:n]...)
		}
		if err != nil {
			return "", false, err
		}
		if n == 0 || time.Now().After(deadline) {
			if idx := bytes.IndexByte(lr.partial, '\n'); idx >= 0 {
				continue
			}
			return "", false, nil
		}
	}
}

func cleanLine(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
}
