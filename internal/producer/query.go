package producer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/chunk"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// errStop aborts an export once the consumer of the sequence has stopped.
var errStop = errors.New("producer: sequence stopped")

// Query is the query-backed Producer. The export runs on the exporter's
// dedicated connection and its CSV output is cut into chunks as it arrives.
type Query struct {
	exp       storage.Exporter
	spec      storage.ExportSpec
	threshold int
	consumed  atomic.Bool
}

var _ Producer = (*Query)(nil)

// NewQuery returns a Query exporting spec through exp.
func NewQuery(exp storage.Exporter, spec storage.ExportSpec, threshold int) (*Query, error) {
	if threshold <= 0 {
		return nil, chunk.ErrInvalidThreshold
	}
	if strings.TrimSpace(spec.Query) == "" {
		return nil, errors.New("producer: query must not be empty")
	}
	return &Query{exp: exp, spec: spec, threshold: threshold}, nil
}

// Headers asks the exporter for the result column names. No row is read and
// the Chunks stream is left untouched.
func (q *Query) Headers(ctx context.Context) ([]string, error) {
	cols, err := q.exp.Columns(ctx, q.spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceQuery, q.label(), err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceQuery, q.label(), ErrNoHeader)
	}
	return cols, nil
}

// Chunks streams the export output. Each chunk is yielded from inside the
// export's write path, so the origin connection stays busy while the caller
// handles a chunk.
func (q *Query) Chunks(ctx context.Context) iter.Seq2[chunk.Chunk, error] {
	return func(yield func(chunk.Chunk, error) bool) {
		if !q.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrSourceConsumed)
			return
		}

		stopped := false
		w, err := chunk.NewWriter(q.threshold, func(c chunk.Chunk) error {
			if !yield(c, nil) {
				stopped = true
				return errStop
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
			return
		}

		_, err = q.exp.CopyTo(ctx, w, q.spec)
		if err == nil {
			err = w.Close()
		}
		if stopped || err == nil {
			return
		}
		yield(nil, fmt.Errorf("%w: %s: %w", ErrSourceQuery, q.label(), err))
	}
}

func (q *Query) label() string {
	if q.spec.Label != "" {
		return q.spec.Label
	}
	return "query"
}
