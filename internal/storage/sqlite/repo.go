// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql. SQLite has no bulk-load API like Postgres COPY, so the CSV
// stream is decoded and applied as batched multi-row INSERTs inside the load
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage/csvrows"
	sqliteddl "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/sqlite/ddl"
)

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens a SQLite connection using the provided DSN and returns
// a Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// Apply a basic ping with context to fail fast on invalid DSNs.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	closeFn := func() { db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

// Begin opens the load transaction.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	return &loadTx{tx: tx, cfg: r.cfg}, nil
}

// CopyTo renders the query result as CSV on a dedicated connection.
func (r *Repository) CopyTo(ctx context.Context, w io.Writer, spec storage.ExportSpec) (int64, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlite: conn: %w", err)
	}
	defer conn.Close()

	n, err := csvrows.Export(ctx, conn, w, spec)
	if err != nil {
		return n, fmt.Errorf("sqlite: export: %w", err)
	}
	return n, nil
}

// Columns wraps spec.Query in a LIMIT 0 derived table and reads the column
// names of the empty result.
func (r *Repository) Columns(ctx context.Context, spec storage.ExportSpec) ([]string, error) {
	probe := "SELECT * FROM (" + spec.Statement() + ") AS lightspeed_cols LIMIT 0"
	cols, err := csvrows.Columns(ctx, r.db, probe)
	if err != nil {
		return nil, fmt.Errorf("sqlite: describe query: %w", err)
	}
	return cols, nil
}

// Exec executes an arbitrary SQL statement (typically DDL) using the underlying
// database/sql connection.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

type loadTx struct {
	tx  *sql.Tx
	cfg Config
}

func (t *loadTx) Probe(ctx context.Context, spec storage.CopySpec) error {
	q := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", quoteList(spec.Columns), sqliteddl.QuoteFQN(spec.Table))
	rows, err := t.tx.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("sqlite: probe %s: %w", spec.Table, err)
	}
	return rows.Close()
}

// CopyFrom decodes the CSV stream and inserts it in batches. Upsert specs use
// INSERT ... ON CONFLICT (keys) DO UPDATE, which needs a unique index on the
// key columns.
func (t *loadTx) CopyFrom(ctx context.Context, r io.Reader, spec storage.CopySpec) (int64, error) {
	batch := t.cfg.batchRows(len(spec.Columns))
	ins := &inserter{tx: t.tx, spec: spec, full: batch}
	defer ins.close()

	n, err := storage.LoadBatches(ctx, storage.LoggerFrom(ctx), spec.Columns, csvrows.NewReader(r, spec).Next, batch, ins.copy)
	if err != nil {
		return n, fmt.Errorf("sqlite: load %s: %w", spec.Table, err)
	}
	return n, nil
}

func (t *loadTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *loadTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// inserter keeps the full-batch statement prepared for the whole load; the
// final short batch is executed unprepared.
type inserter struct {
	tx   *sql.Tx
	spec storage.CopySpec
	full int
	stmt *sql.Stmt
	args []any
}

func (in *inserter) copy(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	in.args = in.args[:0]
	for _, row := range rows {
		in.args = append(in.args, row...)
	}

	var (
		res sql.Result
		err error
	)
	if len(rows) == in.full {
		if in.stmt == nil {
			in.stmt, err = in.tx.PrepareContext(ctx, insertSQL(in.spec, len(rows)))
			if err != nil {
				return 0, err
			}
		}
		res, err = in.stmt.ExecContext(ctx, in.args...)
	} else {
		res, err = in.tx.ExecContext(ctx, insertSQL(in.spec, len(rows)), in.args...)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (in *inserter) close() {
	if in.stmt != nil {
		in.stmt.Close()
	}
}

// insertSQL builds INSERT INTO "t" ("a", "b") VALUES (?, ?), (?, ?) ... with
// an ON CONFLICT clause for upsert specs.
func insertSQL(spec storage.CopySpec, rows int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", sqliteddl.QuoteFQN(spec.Table), quoteList(spec.Columns))

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(spec.Columns)), ", ") + ")"
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(tuple)
	}

	if !spec.Upsert() {
		return sb.String()
	}
	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO ", quoteList(spec.KeyColumns))
	sets := updateSet(spec)
	if len(sets) == 0 {
		sb.WriteString("NOTHING")
		return sb.String()
	}
	sb.WriteString("UPDATE SET ")
	sb.WriteString(strings.Join(sets, ", "))
	return sb.String()
}

func updateSet(spec storage.CopySpec) []string {
	keys := make(map[string]bool, len(spec.KeyColumns))
	for _, k := range spec.KeyColumns {
		keys[k] = true
	}
	var sets []string
	for _, c := range spec.Columns {
		if keys[c] {
			continue
		}
		q := sqliteddl.QuoteIdent(c)
		sets = append(sets, q+" = excluded."+q)
	}
	return sets
}

func quoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = sqliteddl.QuoteIdent(c)
	}
	return strings.Join(out, ", ")
}
