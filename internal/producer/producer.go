// Package producer turns a data source into an ordered, lazy sequence of byte
// chunks for the bulk-load pipeline. Two variants exist: Stream reads a raw
// CSV byte source (local file, HTTP, S3) and Query streams the CSV rendering of
// a query from a relational store.
//
// Sequences are single-pass. Chunks already yielded are never retracted; a
// failure mid-stream is reported as the final element and the caller is
// expected to roll back whatever it wrote.
package producer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/chunk"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

var (
	// ErrSourceNotFound means the file, URL or object does not exist.
	ErrSourceNotFound = errors.New("producer: source not found")
	// ErrSourceUnreadable means the source failed while it was being read.
	ErrSourceUnreadable = errors.New("producer: source unreadable")
	// ErrSourceQuery means the origin store rejected or aborted the export.
	ErrSourceQuery = errors.New("producer: source query failed")
	// ErrSourceConsumed is yielded when Chunks is called a second time.
	ErrSourceConsumed = errors.New("producer: chunk sequence already consumed")
)

// Producer yields the header list and the chunk stream of one dataset.
type Producer interface {
	// Headers returns the column names of the dataset in stream order.
	Headers(ctx context.Context) ([]string, error)

	// Chunks returns the one-shot chunk sequence. An error, if any, is the
	// last element.
	Chunks(ctx context.Context) iter.Seq2[chunk.Chunk, error]
}

// Kind selects the Producer variant built by New.
type Kind string

const (
	KindFile  Kind = "file"
	KindQuery Kind = "query"
)

// Source is the tagged description of a producer. Only the fields of the
// selected Kind are read.
type Source struct {
	Kind      Kind
	Threshold int
	Delimiter rune

	// KindFile
	Data datasource.Source

	// KindQuery
	Exporter storage.Exporter
	Query    string
	Label    string
	// Header asks the export to emit a header row at the start of the stream.
	Header bool
}

// New builds the Producer for src.Kind.
func New(src Source) (Producer, error) {
	switch src.Kind {
	case KindFile:
		if src.Data == nil {
			return nil, errors.New("producer: file source requires a data source")
		}
		return NewStream(src.Data, src.Threshold, WithDelimiter(src.Delimiter))
	case KindQuery:
		if src.Exporter == nil {
			return nil, errors.New("producer: query source requires an exporter")
		}
		return NewQuery(src.Exporter, storage.ExportSpec{
			Query:     src.Query,
			Label:     src.Label,
			Delimiter: src.Delimiter,
			Header:    src.Header,
		}, src.Threshold)
	default:
		return nil, fmt.Errorf("producer: unsupported source kind %q", src.Kind)
	}
}

// QuoteHeaders renders names as a double-quoted, comma-separated list such as
// "a","b". Embedded double quotes are doubled.
func QuoteHeaders(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = `"` + strings.ReplaceAll(n, `"`, `""`) + `"`
	}
	return strings.Join(out, ",")
}

// openError classifies a datasource Open failure.
func openError(name string, err error) error {
	if errors.Is(err, datasource.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrSourceNotFound, name, err)
	}
	return fmt.Errorf("%w: open %s: %w", ErrSourceUnreadable, name, err)
}
