// Package storage defines the destination contracts shared by every backend:
// a Repository that opens transactions and export streams, the bulk-ingest
// Tx, and the Consumer state machine that drives one transactional load.
//
// Backends register themselves with Register from their init functions and
// are constructed by kind through New.
package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/config"
)

// Config is the backend-agnostic connection description handed to a Factory.
type Config struct {
	Kind    string
	DSN     string
	Options config.Options
}

// CopySpec describes one bulk-ingest session into a destination table.
type CopySpec struct {
	// Table may be schema-qualified ("public.events").
	Table   string
	Columns []string
	// HasHeader tells the backend to skip the first line of the stream.
	HasHeader bool
	// Delimiter defaults to ',' when zero.
	Delimiter rune
	// KeyColumns switches the session to upsert mode: rows whose key already
	// exists replace the stored row instead of failing on conflict.
	KeyColumns []string
}

// Comma returns the effective field delimiter.
func (s CopySpec) Comma() rune {
	if s.Delimiter == 0 {
		return ','
	}
	return s.Delimiter
}

// Upsert reports whether the session merges on KeyColumns.
func (s CopySpec) Upsert() bool { return len(s.KeyColumns) > 0 }

// Validate checks the copy description before any connection is touched.
func (s CopySpec) Validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return fmt.Errorf("copy spec: table must not be empty")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("copy spec: at least one column is required for table %s", s.Table)
	}
	switch s.Comma() {
	case '"', '\r', '\n':
		return fmt.Errorf("copy spec: invalid delimiter %q", s.Comma())
	}
	cols := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("copy spec: empty column name for table %s", s.Table)
		}
		cols[c] = struct{}{}
	}
	for _, k := range s.KeyColumns {
		if _, ok := cols[k]; !ok {
			return fmt.Errorf("copy spec: key column %q is not in columns %v", k, s.Columns)
		}
	}
	return nil
}

// ExportSpec describes one export stream out of an origin store.
type ExportSpec struct {
	Query string
	// Label tags the origin session where the backend supports it.
	Label     string
	Delimiter rune
	// Header emits a header line with the result column names.
	Header bool
}

// Comma returns the effective field delimiter.
func (s ExportSpec) Comma() rune {
	if s.Delimiter == 0 {
		return ','
	}
	return s.Delimiter
}

// Statement returns Query without surrounding space or trailing semicolons,
// ready to be wrapped by a backend.
func (s ExportSpec) Statement() string {
	return strings.TrimRight(strings.TrimSpace(s.Query), "; \t\r\n")
}

// Tx is a destination transaction with a bulk-ingest channel.
type Tx interface {
	// Probe checks that the table and columns named by spec exist, so a bad
	// destination fails before any byte is streamed.
	Probe(ctx context.Context, spec CopySpec) error
	// CopyFrom streams delimited text from r into the table until r returns
	// io.EOF or an error. It returns the number of rows the store accepted.
	CopyFrom(ctx context.Context, r io.Reader, spec CopySpec) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner opens destination transactions.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Exporter reads query results out of an origin store.
type Exporter interface {
	// CopyTo streams the result of spec.Query as delimited text into w and
	// returns the number of rows written.
	CopyTo(ctx context.Context, w io.Writer, spec ExportSpec) (int64, error)
	// Columns returns the result column names of spec.Query without
	// reading any row.
	Columns(ctx context.Context, spec ExportSpec) ([]string, error)
}

// Repository is the interface every backend implements.
type Repository interface {
	Beginner
	Exporter
	// Exec runs a statement outside any load transaction (DDL bootstrap).
	Exec(ctx context.Context, sql string) error
	Close()
}

// Factory constructs a Repository for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under kind. Registering the same kind
// twice replaces the earlier factory.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// New constructs the Repository registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered kinds.
func ListKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
