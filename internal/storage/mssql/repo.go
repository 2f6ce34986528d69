// Package mssql implements a SQL Server-backed storage.Repository. Loads use
// the TDS bulk-copy protocol through go-mssqldb's CopyIn statement; upserts
// stage into a session temp table and apply a DELETE+INSERT inside the load
// transaction.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage/csvrows"
	mssqlddl "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/mssql/ddl"
)

// defaultBatchRows groups decoded rows before they are handed to the bulk
// statement. Bulk copy has no parameter ceiling, so this only bounds how
// often progress is logged.
const defaultBatchRows = 5000

// Config controls the SQL Server repository.
type Config struct {
	DSN string
	// Tablock requests a bulk-update table lock for the load.
	Tablock   bool
	BatchRows int
}

func (c Config) batchRows() int {
	if c.BatchRows > 0 {
		return c.BatchRows
	}
	return defaultBatchRows
}

// Repository is a SQL Server implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository parses the DSN, opens a pool and pings it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql: parse dsn: %w", err)
	}

	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mssql: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mssql: ping: %w", err)
	}

	close := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, close, nil
}

// Begin opens the load transaction.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin tx: %w", err)
	}
	return &loadTx{tx: tx, cfg: r.cfg}, nil
}

// CopyTo renders the query result as CSV on a dedicated connection.
func (r *Repository) CopyTo(ctx context.Context, w io.Writer, spec storage.ExportSpec) (int64, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("mssql: conn: %w", err)
	}
	defer conn.Close()

	n, err := csvrows.Export(ctx, conn, w, spec)
	if err != nil {
		return n, fmt.Errorf("mssql: export: %w", err)
	}
	return n, nil
}

// describeSQL asks the server for the first result set's shape without
// running the query. Derived tables with ORDER BY are invalid in T-SQL, so a
// LIMIT-style wrapper is not an option here.
const describeSQL = `SELECT name FROM sys.dm_exec_describe_first_result_set(@p1, NULL, 0)
WHERE is_hidden = 0 ORDER BY column_ordinal`

// Columns returns the result column names of spec.Query.
func (r *Repository) Columns(ctx context.Context, spec storage.ExportSpec) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, describeSQL, spec.Statement())
	if err != nil {
		return nil, fmt.Errorf("mssql: describe query: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("mssql: describe query: %w", err)
		}
		cols = append(cols, name.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mssql: describe query: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("mssql: describe query: statement returns no result set")
	}
	return cols, nil
}

// Exec runs a single statement outside any load transaction.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("mssql: exec: %w", err)
	}
	return nil
}

type loadTx struct {
	tx  *sql.Tx
	cfg Config
}

func (t *loadTx) Probe(ctx context.Context, spec storage.CopySpec) error {
	q := fmt.Sprintf("SELECT TOP 0 %s FROM %s", quoteList(spec.Columns), mssqlddl.QuoteFQN(spec.Table))
	rows, err := t.tx.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("mssql: probe %s: %w", spec.Table, err)
	}
	return rows.Close()
}

// CopyFrom bulk-copies the CSV stream into the target. For upsert specs the
// rows land in a temp table first and replace matching target rows.
func (t *loadTx) CopyFrom(ctx context.Context, r io.Reader, spec storage.CopySpec) (int64, error) {
	target := mssqlddl.QuoteFQN(spec.Table)
	if !spec.Upsert() {
		n, err := t.bulkCopy(ctx, r, target, spec)
		if err != nil {
			return n, fmt.Errorf("mssql: load %s: %w", spec.Table, err)
		}
		return n, nil
	}

	stage := mssqlddl.QuoteIdent(stageName(spec.Table))
	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf("SELECT TOP 0 %s INTO %s FROM %s",
		quoteList(spec.Columns), stage, target)); err != nil {
		return 0, fmt.Errorf("mssql: stage %s: %w", spec.Table, err)
	}

	n, err := t.bulkCopy(ctx, r, stage, spec)
	if err != nil {
		return n, fmt.Errorf("mssql: load %s: %w", spec.Table, err)
	}

	for _, stmt := range mergeSQL(spec, stage) {
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			return n, fmt.Errorf("mssql: merge %s: %w", spec.Table, err)
		}
	}
	return n, nil
}

func (t *loadTx) bulkCopy(ctx context.Context, r io.Reader, table string, spec storage.CopySpec) (int64, error) {
	stmt, err := t.tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{Tablock: t.cfg.Tablock}, spec.Columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	defer stmt.Close()

	copyRows := func(ctx context.Context, _ []string, rows [][]any) (int64, error) {
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return 0, fmt.Errorf("bulk row: %w", err)
			}
		}
		return int64(len(rows)), nil
	}
	if _, err := storage.LoadBatches(ctx, storage.LoggerFrom(ctx), spec.Columns, csvrows.NewReader(r, spec).Next, t.cfg.batchRows(), copyRows); err != nil {
		return 0, err
	}

	// An argument-less Exec flushes the bulk batch and reports the total.
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulk flush: %w", err)
	}
	return res.RowsAffected()
}

func (t *loadTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *loadTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// mergeSQL replaces target rows that share a key with a staged row, then
// inserts the staged rows and drops the stage.
func mergeSQL(spec storage.CopySpec, stage string) []string {
	target := mssqlddl.QuoteFQN(spec.Table)
	cols := quoteList(spec.Columns)
	return []string{
		fmt.Sprintf("DELETE T FROM %s AS T INNER JOIN %s AS S ON %s", target, stage, buildDeleteCondition(spec.KeyColumns)),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", target, cols, cols, stage),
		fmt.Sprintf("DROP TABLE %s", stage),
	}
}

func buildDeleteCondition(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		q := mssqlddl.QuoteIdent(k)
		parts[i] = "T." + q + " = S." + q
	}
	return strings.Join(parts, " AND ")
}

// stageName is the session temp table for an upsert into table.
func stageName(table string) string {
	return "#lightspeed_stage_" + strings.NewReplacer(".", "_", "[", "", "]", "").Replace(table)
}

func quoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mssqlddl.QuoteIdent(c)
	}
	return strings.Join(out, ", ")
}
