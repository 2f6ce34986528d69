// Package ddl renders MySQL DDL for auto-created destination tables.
// Identifiers are backtick-quoted; key columns use VARCHAR(255) because
// TEXT cannot be part of a primary key without a prefix length.
package ddl

import (
	"context"
	"strings"

	gddl "github.com/justin-pfeifer/ftl-lightspeed/internal/ddl"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

var Dialect = gddl.Dialect{
	Name:       "mysql",
	QuoteIdent: QuoteIdent,
	TextType:   "TEXT",
	KeyType:    "VARCHAR(255)",
}

func QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

func QuoteFQN(fqn string) string { return Dialect.QuoteFQN(fqn) }

func BuildCreateTableSQL(spec storage.CopySpec) (string, error) {
	return Dialect.BuildCreateTableSQL(Dialect.TextTable(spec.Table, spec.Columns, spec.KeyColumns))
}

// EnsureTable creates the destination table if it does not exist.
func EnsureTable(ctx context.Context, repo storage.Repository, spec storage.CopySpec) error {
	sql, err := BuildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	return repo.Exec(ctx, sql)
}
