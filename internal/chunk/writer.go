package chunk

import "errors"

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("chunk: writer closed")

// EmitFunc receives each completed chunk in order. Returning an error stops the
// Writer; the error is returned from the Write or Close call that triggered it.
type EmitFunc func(Chunk) error

// Writer adapts a Buffer to io.WriteCloser for push-style producers such as a
// COPY TO export: every Write appends into the buffer and emits all completed
// chunks; Close emits the remaining partial chunk.
//
// The buffer never holds more than Threshold bytes because Write only appends
// up to the remaining room before draining.
type Writer struct {
	buf    *Buffer
	emit   EmitFunc
	err    error
	closed bool
}

// NewWriter returns a Writer emitting chunks of threshold bytes to emit.
func NewWriter(threshold int, emit EmitFunc) (*Writer, error) {
	if emit == nil {
		return nil, errors.New("chunk: emit must not be nil")
	}
	b, err := NewBuffer(threshold)
	if err != nil {
		return nil, err
	}
	return &Writer{buf: b, emit: emit}, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	n := 0
	for len(p) > 0 {
		room := w.buf.threshold - w.buf.Len()
		if room > len(p) {
			room = len(p)
		}
		w.buf.Append(p[:room])
		p = p[room:]
		n += room
		if c, ok := w.buf.Drain(); ok {
			if err := w.emit(c); err != nil {
				w.err = err
				return n, err
			}
		}
	}
	return n, nil
}

// Close emits the final partial chunk, if any. Close is idempotent; it returns
// the first emit error seen by the Writer.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if c, ok := w.buf.Flush(); ok {
		if err := w.emit(c); err != nil {
			w.err = err
		}
	}
	return w.err
}
