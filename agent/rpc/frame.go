package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/teranos/ghostline/errors"
)

const (
	headerToken = "Content-Length:"

	// maxHeaderBytes bounds how long we wait for a header terminator before
	// treating the buffered bytes as garbage.
	maxHeaderBytes = 1024

	// maxFrameBytes rejects absurd lengths from a corrupted header.
	maxFrameBytes = 64 << 20
)

var headerTerminator = []byte("\r\n\r\n")

// WriteFrame writes body with a Content-Length header in a single Write call.
func WriteFrame(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Decoder splits an inbound byte stream into JSON frame bodies.
//
// Bytes are appended with Feed and frames taken out with Next. Several frames
// may sit in the buffer at once, and a frame may span many Feed calls. A
// malformed header or a body that is not JSON is dropped and the decoder
// skips forward to the next "Content-Length:" token, so one bad frame never
// desynchronizes the stream.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes read from the stream.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame body.
//
// It returns (nil, nil) when more bytes are needed, and (nil, err) with a
// decode error when a frame was dropped. In the error case the caller should
// call Next again: the buffer has already been resynchronized.
func (d *Decoder) Next() (json.RawMessage, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}

	end := bytes.Index(d.buf, headerTerminator)
	if end < 0 {
		if len(d.buf) > maxHeaderBytes {
			return nil, d.resync(1, errors.Newf("no header terminator within %d bytes", maxHeaderBytes))
		}
		return nil, nil
	}

	n, err := parseHeader(d.buf[:end])
	if err != nil {
		return nil, d.resync(1, err)
	}

	start := end + len(headerTerminator)
	if len(d.buf)-start < n {
		return nil, nil
	}

	body := d.buf[start : start+n]
	if !json.Valid(body) {
		// A truncated frame swallowed the start of the next one; rewind to it.
		if k := bytes.Index(body, []byte(headerToken)); k >= 0 {
			d.consume(start + k)
		} else {
			d.consume(start + n)
		}
		return nil, errors.Decode(errors.Newf("frame body of %d bytes is not valid JSON", n))
	}

	out := make(json.RawMessage, n)
	copy(out, body)
	d.consume(start + n)
	return out, nil
}

// resync drops everything before the next header token found at or after
// offset from. Without one, only a tail that could be the start of a token
// split across reads is kept.
func (d *Decoder) resync(from int, cause error) error {
	if from < len(d.buf) {
		if k := bytes.Index(d.buf[from:], []byte(headerToken)); k >= 0 {
			d.consume(from + k)
			return errors.Decode(cause)
		}
	}

	d.consume(len(d.buf) - partialTokenSuffix(d.buf))
	return errors.Decode(cause)
}

// partialTokenSuffix returns the length of the longest suffix of b that is a
// proper prefix of the header token.
func partialTokenSuffix(b []byte) int {
	for n := min(len(b), len(headerToken)-1); n > 0; n-- {
		if bytes.HasPrefix([]byte(headerToken), b[len(b)-n:]) {
			return n
		}
	}
	return 0
}

func (d *Decoder) consume(n int) {
	remaining := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]
}

// parseHeader extracts Content-Length from a header block. Other headers
// (Content-Type) are accepted and ignored.
func parseHeader(block []byte) (int, error) {
	length := -1
	for _, line := range strings.Split(string(block), "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, errors.Newf("malformed header line %q", truncate(line, 40))
		}
		if !strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, errors.Wrapf(err, "invalid Content-Length %q", truncate(value, 20))
		}
		if n < 0 || n > maxFrameBytes {
			return 0, errors.Newf("Content-Length %d out of range", n)
		}
		length = n
	}
	if length < 0 {
		return 0, errors.New("missing Content-Length header")
	}
	return length, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
