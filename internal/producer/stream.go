package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/chunk"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource"
)

// maxReadSize caps a single Read from the source; the chunk threshold is
// usually far larger.
const maxReadSize = 1 << 20

// Stream is the file-backed Producer. It opens the datasource once for the
// header and once more for the chunk stream.
type Stream struct {
	src       datasource.Source
	threshold int
	delimiter rune
	readSize  int
	consumed  atomic.Bool
}

var _ Producer = (*Stream)(nil)

// StreamOption customizes a Stream.
type StreamOption func(*Stream)

// WithDelimiter sets the field delimiter used to parse the header row.
// Zero keeps the default comma.
func WithDelimiter(r rune) StreamOption {
	return func(s *Stream) {
		if r != 0 {
			s.delimiter = r
		}
	}
}

// WithReadSize overrides the size of each source Read.
func WithReadSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// NewStream returns a Stream over src emitting chunks of threshold bytes.
func NewStream(src datasource.Source, threshold int, opts ...StreamOption) (*Stream, error) {
	if threshold <= 0 {
		return nil, chunk.ErrInvalidThreshold
	}
	s := &Stream{
		src:       src,
		threshold: threshold,
		delimiter: ',',
		readSize:  min(threshold, maxReadSize),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name returns the underlying source name.
func (s *Stream) Name() string { return s.src.Name() }

// Headers opens the source, decodes the first record and closes it again.
func (s *Stream) Headers(ctx context.Context) ([]string, error) {
	rc, err := s.src.Open(ctx)
	if err != nil {
		return nil, openError(s.src.Name(), err)
	}
	defer rc.Close()

	h, err := ReadHeader(rc, s.delimiter)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, s.src.Name(), err)
	}
	return h, nil
}

// Chunks streams the raw source bytes, header included, in threshold-sized
// chunks. The final chunk holds whatever remains at EOF.
func (s *Stream) Chunks(ctx context.Context) iter.Seq2[chunk.Chunk, error] {
	return func(yield func(chunk.Chunk, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrSourceConsumed)
			return
		}

		rc, err := s.src.Open(ctx)
		if err != nil {
			yield(nil, openError(s.src.Name(), err))
			return
		}
		defer rc.Close()

		buf, err := chunk.NewBuffer(s.threshold)
		if err != nil {
			yield(nil, err)
			return
		}
		p := make([]byte, s.readSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			n, rerr := rc.Read(p)
			if n > 0 {
				buf.Append(p[:n])
				for c, ok := buf.Drain(); ok; c, ok = buf.Drain() {
					if !yield(c, nil) {
						return
					}
				}
			}
			if errors.Is(rerr, io.EOF) {
				break
			}
			if rerr != nil {
				yield(nil, fmt.Errorf("%w: read %s: %w", ErrSourceUnreadable, s.src.Name(), rerr))
				return
			}
		}
		if c, ok := buf.Flush(); ok {
			yield(c, nil)
		}
	}
}
