// Package ddl provides convenience helpers for applying MSSQL DDL using a
// storage.Repository.
package ddl

import (
	"context"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// EnsureTable creates the target SQL Server table if it does not already exist.
//
// The script is guarded by an IF OBJECT_ID(...) check, so the operation is
// idempotent and safe to call multiple times for the same table.
func EnsureTable(ctx context.Context, repo storage.Repository, spec storage.CopySpec) error {
	sql, err := BuildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}
