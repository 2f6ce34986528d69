// Package datasource defines where raw source bytes come from. A Source only
// knows how to open a fresh byte stream; splitting it into chunks and deriving
// headers is the producer's job.
package datasource

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is wrapped by Open when the underlying object does not exist
// (missing path, HTTP 404, missing S3 key).
var ErrNotFound = errors.New("datasource: not found")

// Source opens a new, independent byte stream on every call. Callers close the
// returned reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)

	// Name identifies the source in logs and errors (a path, URL, or s3:// URI).
	Name() string
}
