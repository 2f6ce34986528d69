// Package mysql implements a MySQL-backed storage.Repository. Loads stream the
// CSV through LOAD DATA LOCAL INFILE using the driver's io.Reader handler, so
// the server needs local_infile enabled.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage/csvrows"
	mysqlddl "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/mysql/ddl"
)

const defaultBatchRows = 5000

// Config controls the MySQL repository.
type Config struct {
	DSN       string
	BatchRows int
}

func (c Config) batchRows() int {
	if c.BatchRows > 0 {
		return c.BatchRows
	}
	return defaultBatchRows
}

// Repository is a MySQL implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository parses the DSN, opens a pool through the driver connector and
// pings it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mysql: ping: %w", err)
	}

	return &Repository{db: db, cfg: cfg}, func() { _ = db.Close() }, nil
}

// Begin opens the load transaction.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mysql: begin tx: %w", err)
	}
	return &loadTx{tx: tx, cfg: r.cfg}, nil
}

// CopyTo renders the query result as CSV on a dedicated connection.
func (r *Repository) CopyTo(ctx context.Context, w io.Writer, spec storage.ExportSpec) (int64, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("mysql: conn: %w", err)
	}
	defer conn.Close()

	n, err := csvrows.Export(ctx, conn, w, spec)
	if err != nil {
		return n, fmt.Errorf("mysql: export: %w", err)
	}
	return n, nil
}

// Columns wraps spec.Query in a LIMIT 0 derived table and reads the column
// names of the empty result.
func (r *Repository) Columns(ctx context.Context, spec storage.ExportSpec) ([]string, error) {
	probe := "SELECT * FROM (" + spec.Statement() + ") AS lightspeed_cols LIMIT 0"
	cols, err := csvrows.Columns(ctx, r.db, probe)
	if err != nil {
		return nil, fmt.Errorf("mysql: describe query: %w", err)
	}
	return cols, nil
}

// Exec runs a single statement outside any load transaction.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("mysql: exec: %w", err)
	}
	return nil
}

type loadTx struct {
	tx  *sql.Tx
	cfg Config
}

func (t *loadTx) Probe(ctx context.Context, spec storage.CopySpec) error {
	q := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", quoteList(spec.Columns), mysqlddl.QuoteFQN(spec.Table))
	rows, err := t.tx.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("mysql: probe %s: %w", spec.Table, err)
	}
	return rows.Close()
}

var readerSeq atomic.Uint64

// errLoadDone unblocks the encoder when the server stops reading early.
var errLoadDone = errors.New("load statement returned")

// CopyFrom decodes the CSV stream, re-encodes it in the canonical form the
// LOAD DATA statement expects, and feeds it to the server through a registered
// reader. LOCAL loads downgrade row errors to warnings, so any warning fails
// the load.
func (t *loadTx) CopyFrom(ctx context.Context, r io.Reader, spec storage.CopySpec) (int64, error) {
	name := "lightspeed_" + strconv.FormatUint(readerSeq.Add(1), 10)
	pr, pw := io.Pipe()
	mysql.RegisterReaderHandler(name, func() io.Reader { return pr })
	defer mysql.DeregisterReaderHandler(name)

	var (
		g    errgroup.Group
		rows int64
	)
	g.Go(func() error {
		enc := &encoder{w: pw}
		n, err := storage.LoadBatches(ctx, storage.LoggerFrom(ctx), spec.Columns, csvrows.NewReader(r, spec).Next, t.cfg.batchRows(), enc.copy)
		rows = n
		pw.CloseWithError(err)
		return err
	})

	_, execErr := t.tx.ExecContext(ctx, loadSQL(spec, name))
	pr.CloseWithError(errLoadDone)
	if err := g.Wait(); err != nil && !errors.Is(err, errLoadDone) {
		return rows, fmt.Errorf("mysql: load %s: %w", spec.Table, err)
	}
	if execErr != nil {
		return rows, fmt.Errorf("mysql: load %s: %w", spec.Table, execErr)
	}

	var warnings int64
	if err := t.tx.QueryRowContext(ctx, "SELECT @@warning_count").Scan(&warnings); err != nil {
		return rows, fmt.Errorf("mysql: load %s: warning count: %w", spec.Table, err)
	}
	if warnings > 0 {
		return rows, fmt.Errorf("mysql: load %s: server reported %d warnings", spec.Table, warnings)
	}
	return rows, nil
}

func (t *loadTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *loadTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// encoder writes rows with every value enclosed in double quotes and NULL as
// the bare word NULL, one row per '\n'.
type encoder struct {
	w   io.Writer
	buf []byte
}

func (e *encoder) copy(ctx context.Context, _ []string, rows [][]any) (int64, error) {
	e.buf = e.buf[:0]
	for _, row := range rows {
		e.buf = appendRow(e.buf, row)
	}
	if _, err := e.w.Write(e.buf); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func appendRow(dst []byte, row []any) []byte {
	for i, v := range row {
		if i > 0 {
			dst = append(dst, ',')
		}
		if v == nil {
			dst = append(dst, "NULL"...)
			continue
		}
		dst = append(dst, '"')
		dst = append(dst, strings.ReplaceAll(csvrows.Format(v), `"`, `""`)...)
		dst = append(dst, '"')
	}
	return append(dst, '\n')
}

// loadSQL builds the LOAD DATA statement for a registered reader. REPLACE
// gives upsert specs delete-then-insert semantics on the unique key.
func loadSQL(spec storage.CopySpec, reader string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "LOAD DATA LOCAL INFILE 'Reader::%s'", reader)
	if spec.Upsert() {
		sb.WriteString(" REPLACE")
	}
	fmt.Fprintf(&sb, " INTO TABLE %s CHARACTER SET utf8mb4", mysqlddl.QuoteFQN(spec.Table))
	sb.WriteString(` FIELDS TERMINATED BY ',' OPTIONALLY ENCLOSED BY '"' ESCAPED BY ''`)
	sb.WriteString(` LINES TERMINATED BY '\n'`)
	fmt.Fprintf(&sb, " (%s)", quoteList(spec.Columns))
	return sb.String()
}

func quoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mysqlddl.QuoteIdent(c)
	}
	return strings.Join(out, ", ")
}
