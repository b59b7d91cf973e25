package sse

import (
	"bytes"
	"strings"
)

// DefaultEvent is the event type of a frame without an "event:" line.
const DefaultEvent = "message"

var delimiter = []byte("\n\n")

// Frame is one blank-line terminated unit of the stream.
type Frame struct {
	Event string
	Data  string
}

// Parser buffers raw chunks and hands out complete frames.
// A frame is only produced once its delimiter has been seen; partial
// frames stay buffered until the next Feed or until Flush.
type Parser struct {
	buf []byte
}

// Feed appends a raw chunk. Carriage returns are dropped so CRLF streams
// split on the same boundaries as LF streams, wherever the chunk ends.
func (p *Parser) Feed(chunk []byte) {
	for _, b := range chunk {
		if b != '\r' {
			p.buf = append(p.buf, b)
		}
	}
}

// Next returns the next complete frame, if any. Empty blocks between
// delimiters are skipped.
func (p *Parser) Next() (Frame, bool) {
	for {
		i := bytes.Index(p.buf, delimiter)
		if i < 0 {
			return Frame{}, false
		}
		block := string(p.buf[:i])
		p.buf = p.buf[i+len(delimiter):]
		if strings.TrimSpace(block) == "" {
			continue
		}
		return ParseFrame(block), true
	}
}

// Flush parses whatever is left in the buffer as a final frame. It is meant
// for the end of the stream when the server omitted the trailing blank line.
func (p *Parser) Flush() (Frame, bool) {
	if f, ok := p.Next(); ok {
		return f, true
	}
	rest := string(p.buf)
	p.buf = nil
	if strings.TrimSpace(rest) == "" {
		return Frame{}, false
	}
	return ParseFrame(rest), true
}

// Buffered reports how many bytes are waiting for a delimiter.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// ParseFrame decodes the lines of a single block. "data:" lines are
// concatenated in order; the last "event:" line wins; comment lines and
// unknown fields are ignored.
func ParseFrame(block string) Frame {
	f := Frame{Event: DefaultEvent}
	var data strings.Builder
	for _, line := range strings.Split(block, "\n") {
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			if ev := strings.TrimSpace(strings.TrimPrefix(line, "event:")); ev != "" {
				f.Event = ev
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	f.Data = data.String()
	return f
}
