package storage

import (
	"context"
	"fmt"
	"sync"
)

// DDLBootstrapper creates spec.Table with spec.Columns when it does not exist
// yet, using the backend's dialect. Columns are created as text and
// spec.KeyColumns become the primary key, which upsert sessions rely on.
//
// Backends register their implementation for a storage kind at init time.
type DDLBootstrapper func(ctx context.Context, repo Repository, spec CopySpec) error

var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBootstrapper{}
)

// RegisterDDL registers (or replaces) a DDLBootstrapper for the given storage
// kind. It is typically called from backend packages' init() functions.
func RegisterDDL(kind string, fn DDLBootstrapper) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// EnsureTable locates the DDLBootstrapper for kind and invokes it against an
// already-open Repository.
func EnsureTable(ctx context.Context, kind string, repo Repository, spec CopySpec) error {
	ddlMu.RLock()
	fn, ok := ddlFns[kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("no DDL bootstrapper registered for storage.kind=%q", kind)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("ensure table: %w", err)
	}
	return fn(ctx, repo, spec)
}
