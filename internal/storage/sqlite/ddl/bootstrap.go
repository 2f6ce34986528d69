package ddl

import (
	"context"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// EnsureTable creates the destination table if it does not exist.
func EnsureTable(ctx context.Context, repo storage.Repository, spec storage.CopySpec) error {
	sql, err := BuildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}
