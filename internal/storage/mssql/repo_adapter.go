// This adapter wires the MSSQL backend into the storage-agnostic factory.
package mssql

import (
	"context"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
	mssqlddl "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/mssql/ddl"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

var _ storage.Repository = (*wrappedRepo)(nil)

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:       cfg.DSN,
			Tablock:   cfg.Options.Bool("tablock", false),
			BatchRows: cfg.Options.Int("batch_rows", 0),
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})

	storage.RegisterDDL("mssql", mssqlddl.EnsureTable)
}

// wrappedRepo adapts *mssql.Repository to storage.Repository and provides Close.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() { w.closeFn() }
