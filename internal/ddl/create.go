// Package ddl defines a small, backend-agnostic model for SQL DDL and renders
// CREATE TABLE statements from it through a per-backend Dialect.
//
// Backend-specific packages (e.g., internal/storage/postgres/ddl) supply the
// Dialect: identifier quoting, the column types used for loaded text, and the
// guard that makes creation idempotent.
package ddl

import (
	"fmt"
	"strings"
)

// Dialect captures what differs between backends when creating a table.
type Dialect struct {
	// Name prefixes error messages ("mssql ddl: ...").
	Name string
	// QuoteIdent quotes one identifier segment. Nil emits names as-is.
	QuoteIdent func(string) string
	// TextType is used for ordinary columns; KeyType for primary key columns,
	// which some backends cannot index as unbounded text.
	TextType string
	KeyType  string
	// Create wraps the rendered column list into the final statement. Nil
	// renders CREATE TABLE IF NOT EXISTS.
	Create func(fqn, body string) string
}

// TextTable builds the definition used by auto-created destination tables:
// every column is nullable text, and keys form the primary key.
func (d Dialect) TextTable(fqn string, columns, keys []string) TableDef {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	keyType := d.KeyType
	if keyType == "" {
		keyType = d.TextType
	}

	td := TableDef{FQN: fqn, Columns: make([]ColumnDef, 0, len(columns))}
	for _, c := range columns {
		col := ColumnDef{Name: c, SQLType: d.TextType, Nullable: true}
		if isKey[c] {
			col.SQLType, col.Nullable, col.PrimaryKey = keyType, false, true
		}
		td.Columns = append(td.Columns, col)
	}
	return td
}

// QuoteFQN quotes a possibly schema-qualified name segment by segment:
//
//	"dbo.Users" -> [dbo].[Users]   (with bracket quoting)
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.quote(p))
	}
	return strings.Join(out, ".")
}

func (d Dialect) quote(id string) string {
	if d.QuoteIdent == nil {
		return id
	}
	return d.QuoteIdent(id)
}

// BuildCreateTableSQL renders a CREATE TABLE statement from a TableDef.
//
// Rules:
//
//   - t.FQN must be non-empty.
//
//   - Each column must have a non-empty Name and SQLType.
//
//   - A column is rendered as:
//
//     <Name> <SQLType> [NOT NULL]
//
//   - Columns with PrimaryKey == true are collected and rendered as a separate
//     PRIMARY KEY (<col1>, <col2>, ...) clause at the end of the column list.
func (d Dialect) BuildCreateTableSQL(t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s: table FQN must not be empty", d.errPrefix())
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s: at least one column is required", d.errPrefix())
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("%s: column with empty name in table %s", d.errPrefix(), fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("%s: column %s missing SQLType", d.errPrefix(), name)
		}

		var sb strings.Builder
		sb.WriteString(d.quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.quote(name))
		}
	}

	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := d.QuoteFQN(fqn)
	if d.Create != nil {
		return d.Create(quoted, strings.Join(cols, ",\n    ")), nil
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		quoted,
		strings.Join(cols, ",\n  "),
	), nil
}

func (d Dialect) errPrefix() string {
	if d.Name == "" {
		return "ddl"
	}
	return d.Name + " ddl"
}
