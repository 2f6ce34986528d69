// Package ddl provides SQLite-specific helpers for creating destination
// tables and quoting identifiers.
//
// The builder here:
//   - Uses simple double-quoted identifiers: "table", "col".
//   - Emits CREATE TABLE IF NOT EXISTS.
//   - Renders PRIMARY KEY as a separate table constraint.
package ddl

import (
	"strings"

	gddl "github.com/justin-pfeifer/ftl-lightspeed/internal/ddl"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// Dialect is the SQLite rendering of the generic ddl model.
var Dialect = gddl.Dialect{
	Name:       "sqlite",
	QuoteIdent: QuoteIdent,
	TextType:   "TEXT",
}

func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes each dotted segment, so "main.events" stays schema-qualified.
func QuoteFQN(fqn string) string { return Dialect.QuoteFQN(fqn) }

// BuildCreateTableSQL returns a SQLite CREATE TABLE IF NOT EXISTS statement
// for spec with TEXT columns and spec.KeyColumns as primary key.
func BuildCreateTableSQL(spec storage.CopySpec) (string, error) {
	return Dialect.BuildCreateTableSQL(Dialect.TextTable(spec.Table, spec.Columns, spec.KeyColumns))
}
