package jsonrpc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
)

var headerSeparator = []byte("\r\n\r\n")

// Encode frames payload with a Content-Length header.
func Encode(payload []byte) []byte {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...)
}

// Decoder reassembles Content-Length framed messages from a byte stream that
// may arrive split at arbitrary boundaries. It is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends data to the buffer and returns every message that is now
// complete, in arrival order. A header block without a usable Content-Length
// is dropped and decoding resumes after it.
func (d *Decoder) Feed(data []byte) [][]byte {
	d.buf = append(d.buf, data...)

	var messages [][]byte
	for {
		sep := bytes.Index(d.buf, headerSeparator)
		if sep < 0 {
			break
		}
		length, ok := parseContentLength(d.buf[:sep])
		if !ok {
			logging.Debug("Skipping malformed LSP header", "header", string(d.buf[:sep]))
			d.buf = d.buf[sep+len(headerSeparator):]
			continue
		}
		start := sep + len(headerSeparator)
		if len(d.buf)-start < length {
			break
		}
		msg := make([]byte, length)
		copy(msg, d.buf[start:start+length])
		messages = append(messages, msg)
		d.buf = d.buf[start+length:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return messages
}

// Buffered reports how many bytes are waiting for the rest of a message.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any partially received message.
func (d *Decoder) Reset() {
	d.buf = nil
}

func parseContentLength(header []byte) (int, bool) {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
