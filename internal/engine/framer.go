package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const readChunkSize = 4096

// Framer turns a byte stream into newline-delimited JSON messages. It keeps
// the bytes read past the last complete line for the next call, so a Framer
// must stay bound to one stream for its whole life. It is not safe for
// concurrent use; callers serialize exchanges.
type Framer struct {
	r io.Reader
	w io.Writer

	pending []byte
	chunk   []byte
	readErr error
}

func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{r: r, w: w, chunk: make([]byte, readChunkSize)}
}

// Send writes msg as one JSON line in a single Write call.
func (f *Framer) Send(msg any) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode engine message: %w", err)
	}
	_, err = f.w.Write(append(encoded, '\n'))
	return err
}

// Receive reads the next line and decodes it into v. A line that fails to
// decode is still consumed.
func (f *Framer) Receive(v any) error {
	line, err := f.ReadLine()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// ReadLine returns the next non-blank line without its terminator. If the
// stream ends before a terminator is seen it fails with
// ErrUnexpectedTermination.
func (f *Framer) ReadLine() ([]byte, error) {
	for {
		if line, ok := f.nextLine(); ok {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return line, nil
		}
		if f.readErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedTermination, f.readErr)
		}
		n, err := f.r.Read(f.chunk)
		f.pending = append(f.pending, f.chunk[:n]...)
		if err != nil {
			f.readErr = err
		}
	}
}

// Buffered returns the number of bytes read but not yet returned.
func (f *Framer) Buffered() int {
	return len(f.pending)
}

func (f *Framer) nextLine() ([]byte, bool) {
	idx := bytes.IndexByte(f.pending, '\n')
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, f.pending[:idx])
	rest := f.pending[idx+1:]
	if len(rest) == 0 {
		f.pending = f.pending[:0]
	} else {
		f.pending = append(f.pending[:0], rest...)
	}
	return bytes.TrimSuffix(line, []byte{'\r'}), true
}
