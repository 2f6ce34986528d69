package ddl

import (
	"context"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// EnsureTable creates the target Postgres table if it does not exist.
// It is idempotent and simply issues the CREATE TABLE IF NOT EXISTS via the
// repository's Exec method.
func EnsureTable(ctx context.Context, repo storage.Repository, spec storage.CopySpec) error {
	sql, err := BuildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}
