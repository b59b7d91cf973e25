package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const readChunkSize = 4096

// Reader pulls frames lazily from an io.Reader.
type Reader struct {
	r      io.Reader
	parser Parser
	chunk  []byte
	eof    bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, chunk: make([]byte, readChunkSize)}
}

// Next blocks until a complete frame is available. It returns io.EOF once
// the underlying reader is exhausted and the remainder has been flushed.
// Any other read error is returned as is and the buffered remainder is
// discarded.
func (r *Reader) Next() (Frame, error) {
	for {
		if f, ok := r.parser.Next(); ok {
			return f, nil
		}
		if r.eof {
			if f, ok := r.parser.Flush(); ok {
				return f, nil
			}
			return Frame{}, io.EOF
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.parser.Feed(r.chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			r.eof = true
			continue
		}
		if err != nil {
			return Frame{}, err
		}
	}
}

// WriteFrame encodes v as JSON and writes a complete frame. A nil v writes
// a frame with no data line.
func WriteFrame(w io.Writer, event string, v any) error {
	if v == nil {
		_, err := fmt.Fprintf(w, "event: %s\n\n", event)
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
