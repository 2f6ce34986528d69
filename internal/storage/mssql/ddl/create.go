// Package ddl provides MSSQL-specific helpers for creating destination
// tables and quoting identifiers.
//
// The builder here:
//   - Uses SQL Server-style identifier quoting: [schema].[table], [col].
//   - Wraps CREATE TABLE in an IF OBJECT_ID(...) IS NULL guard since T-SQL
//     does not support CREATE TABLE IF NOT EXISTS.
//   - Renders PRIMARY KEY constraints as a separate clause. Key columns use
//     NVARCHAR(450) because NVARCHAR(MAX) cannot be indexed.
package ddl

import (
	"fmt"
	"strings"

	gddl "github.com/justin-pfeifer/ftl-lightspeed/internal/ddl"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// Dialect is the SQL Server rendering of the generic ddl model.
var Dialect = gddl.Dialect{
	Name:       "mssql",
	QuoteIdent: QuoteIdent,
	TextType:   "NVARCHAR(MAX)",
	KeyType:    "NVARCHAR(450)",
	Create: func(fqn, body string) string {
		return fmt.Sprintf(
			"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND;",
			strings.ReplaceAll(fqn, "'", "''"),
			fqn,
			body,
		)
	},
}

// QuoteIdent quotes a single identifier segment for SQL Server using
// bracket syntax, escaping any closing brackets.
//
//	name      -> [name]
//	weird]id  -> [weird]]id]
func QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// QuoteFQN quotes a possibly schema-qualified table name, e.g.:
//
//	"dbo.Users"   -> [dbo].[Users]
//	"Users"       -> [Users]
func QuoteFQN(fqn string) string { return Dialect.QuoteFQN(fqn) }

// BuildCreateTableSQL returns a T-SQL script that creates spec.Table if it
// does not already exist.
func BuildCreateTableSQL(spec storage.CopySpec) (string, error) {
	return Dialect.BuildCreateTableSQL(Dialect.TextTable(spec.Table, spec.Columns, spec.KeyColumns))
}
