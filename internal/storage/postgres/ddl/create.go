// Package ddl renders Postgres DDL for auto-created destination tables and
// exposes the identifier quoting shared with the Postgres repository.
package ddl

import (
	"strings"

	gddl "github.com/justin-pfeifer/ftl-lightspeed/internal/ddl"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// Dialect is the Postgres rendering of the generic ddl model.
var Dialect = gddl.Dialect{
	Name:       "postgres",
	QuoteIdent: QuoteIdent,
	TextType:   "TEXT",
}

// QuoteIdent double-quotes one identifier segment, doubling embedded quotes.
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes "schema.table" as "schema"."table".
func QuoteFQN(fqn string) string { return Dialect.QuoteFQN(fqn) }

// QuoteList quotes and joins columns: "a", "b".
func QuoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = QuoteIdent(c)
	}
	return strings.Join(out, ", ")
}

// BuildCreateTableSQL returns a CREATE TABLE IF NOT EXISTS statement with a
// TEXT column per spec column and spec.KeyColumns as the primary key.
func BuildCreateTableSQL(spec storage.CopySpec) (string, error) {
	return Dialect.BuildCreateTableSQL(Dialect.TextTable(spec.Table, spec.Columns, spec.KeyColumns))
}
