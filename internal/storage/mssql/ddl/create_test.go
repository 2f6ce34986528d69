package ddl

import (
	"context"
	"strings"
	"testing"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// TestQuoteIdent verifies SQL Server identifier quoting and escaping behavior
// for single identifier segments.
func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "simple", id: "name", want: "[name]"},
		{name: "empty", id: "", want: "[]"},
		{name: "with space", id: "order id", want: "[order id]"},
		// Note: QuoteIdent does not attempt to detect existing brackets; it just
		// wraps and escapes closing brackets.
		{name: "already bracketed", id: "[name]", want: "[[name]]]"},
		{name: "escape closing bracket", id: "weird]id", want: "[weird]]id]"},
		{name: "multiple closing brackets", id: "a]]b]", want: "[a]]]]b]]]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := QuoteIdent(tt.id)
			if got != tt.want {
				t.Fatalf("QuoteIdent(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

// TestQuoteFQN verifies quoting and splitting behavior for schema-qualified
// table names.
func TestQuoteFQN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fqn  string
		want string
	}{
		{name: "simple table", fqn: "Users", want: "[Users]"},
		{name: "schema and table", fqn: "dbo.Users", want: "[dbo].[Users]"},
		{name: "three segments", fqn: "a.b.c", want: "[a].[b].[c]"},
		{name: "with spaces", fqn: " dbo . Users ", want: "[dbo].[Users]"},
		{name: "extra dots", fqn: ".dbo..Users.", want: "[dbo].[Users]"},
		{name: "empty", fqn: "", want: ""},
		{name: "with closing bracket", fqn: "dbo.weird]name", want: "[dbo].[weird]]name]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := QuoteFQN(tt.fqn)
			if got != tt.want {
				t.Fatalf("QuoteFQN(%q) = %q, want %q", tt.fqn, got, tt.want)
			}
		})
	}
}

type execRepo struct {
	storage.Repository
	sql string
}

func (r *execRepo) Exec(ctx context.Context, sql string) error {
	r.sql = sql
	return nil
}

// TestEnsureTableGuardedScript checks the OBJECT_ID guard and the key column
// type used for the primary key.
func TestEnsureTableGuardedScript(t *testing.T) {
	t.Parallel()

	repo := &execRepo{}
	spec := storage.CopySpec{Table: "dbo.Orders", Columns: []string{"order_id", "note"}, KeyColumns: []string{"order_id"}}
	if err := EnsureTable(context.Background(), repo, spec); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	want := "IF OBJECT_ID(N'[dbo].[Orders]', N'U') IS NULL\nBEGIN\n  CREATE TABLE [dbo].[Orders] (\n" +
		"    [order_id] NVARCHAR(450) NOT NULL,\n    [note] NVARCHAR(MAX),\n    PRIMARY KEY ([order_id])\n  );\nEND;"
	if repo.sql != want {
		t.Fatalf("script =\n%s\nwant:\n%s", repo.sql, want)
	}
}

func TestBuildCreateTableSQLErrors(t *testing.T) {
	t.Parallel()

	_, err := BuildCreateTableSQL(storage.CopySpec{Columns: []string{"a"}})
	if err == nil || !strings.Contains(err.Error(), "mssql ddl: table FQN must not be empty") {
		t.Fatalf("error = %v", err)
	}
}
