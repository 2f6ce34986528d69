// Package postgres implements a Postgres repository using pgx v5. Loads stream
// the CSV bytes straight into COPY ... FROM STDIN on the transaction's
// connection; upserts COPY into an ON COMMIT DROP staging table and merge with
// INSERT ... ON CONFLICT. Exports run COPY (query) TO STDOUT on a dedicated
// connection tagged with the job label.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
	pgddl "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/postgres/ddl"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/version"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN string // connection string for pgxpool
	// MaxConns overrides the pool size when > 0.
	MaxConns int32
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
	// connect opens the dedicated export connection.
	connect func(ctx context.Context, cfg *pgx.ConnConfig) (*pgx.Conn, error)
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	close := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg, connect: pgx.ConnectConfig}, close, nil
}

// Begin starts the load transaction on a pooled connection.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, pgError("begin", err)
	}
	return &loadTx{tx: tx}, nil
}

// CopyTo streams the result of spec.Query as CSV into w. The export uses its
// own connection so application_name can carry the job label without leaking
// into the pool.
func (r *Repository) CopyTo(ctx context.Context, w io.Writer, spec storage.ExportSpec) (int64, error) {
	ccfg := r.pool.Config().ConnConfig.Copy()
	if ccfg.RuntimeParams == nil {
		ccfg.RuntimeParams = map[string]string{}
	}
	ccfg.RuntimeParams["application_name"] = version.AppName(spec.Label)

	conn, err := r.connect(ctx, ccfg)
	if err != nil {
		return 0, pgError("connect export", err)
	}
	// Closing the connection also ends a server-side COPY that was cut short
	// by a failing writer.
	defer conn.Close(context.WithoutCancel(ctx))

	tag, err := conn.PgConn().CopyTo(ctx, w, copyOutSQL(spec))
	if err != nil {
		return tag.RowsAffected(), pgError("copy out", err)
	}
	return tag.RowsAffected(), nil
}

// Columns describes spec.Query through an unnamed prepared statement, so the
// server plans the query but never runs it.
func (r *Repository) Columns(ctx context.Context, spec storage.ExportSpec) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, pgError("acquire", err)
	}
	defer conn.Release()

	sd, err := conn.Conn().PgConn().Prepare(ctx, "", spec.Statement(), nil)
	if err != nil {
		return nil, pgError("describe query", err)
	}
	cols := make([]string, len(sd.Fields))
	for i, f := range sd.Fields {
		cols[i] = f.Name
	}
	return cols, nil
}

// Exec implements storage.Repository.Exec for Postgres.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return pgError("exec", err)
	}
	return nil
}

type loadTx struct {
	tx pgx.Tx
}

func (t *loadTx) Probe(ctx context.Context, spec storage.CopySpec) error {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE false", pgddl.QuoteList(spec.Columns), pgddl.QuoteFQN(spec.Table))
	if _, err := t.tx.Exec(ctx, q); err != nil {
		return pgError("probe "+spec.Table, err)
	}
	return nil
}

func (t *loadTx) CopyFrom(ctx context.Context, r io.Reader, spec storage.CopySpec) (int64, error) {
	target := pgddl.QuoteFQN(spec.Table)
	if spec.Upsert() {
		stage := pgddl.QuoteIdent(stageName(spec.Table))
		create := fmt.Sprintf("CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WHERE false",
			stage, pgddl.QuoteList(spec.Columns), target)
		if _, err := t.tx.Exec(ctx, create); err != nil {
			return 0, pgError("create staging table", err)
		}
		target = stage
	}

	tag, err := t.tx.Conn().PgConn().CopyFrom(ctx, r, copyInSQL(target, spec))
	if err != nil {
		return tag.RowsAffected(), pgError("copy "+spec.Table, err)
	}
	if !spec.Upsert() {
		return tag.RowsAffected(), nil
	}

	if _, err := t.tx.Exec(ctx, mergeSQL(spec)); err != nil {
		return 0, pgError("merge "+spec.Table, err)
	}
	return tag.RowsAffected(), nil
}

func (t *loadTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return pgError("commit", err)
	}
	return nil
}

func (t *loadTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return pgError("rollback", err)
	}
	return nil
}

// copyInSQL renders
//
//	COPY "s"."t" ("a", "b") FROM STDIN WITH (FORMAT csv, HEADER true, DELIMITER ',')
func copyInSQL(target string, spec storage.CopySpec) string {
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv, HEADER %t, DELIMITER %s)",
		target, pgddl.QuoteList(spec.Columns), spec.HasHeader, quoteLiteral(string(spec.Comma())))
}

// copyOutSQL renders COPY (<query>) TO STDOUT WITH (FORMAT csv, ...). A
// trailing semicolon in the query is dropped since COPY wraps it.
func copyOutSQL(spec storage.ExportSpec) string {
	return fmt.Sprintf("COPY (%s) TO STDOUT WITH (FORMAT csv, HEADER %t, DELIMITER %s)",
		spec.Statement(), spec.Header, quoteLiteral(string(spec.Comma())))
}

// mergeSQL moves staged rows into the target, replacing rows whose key exists.
func mergeSQL(spec storage.CopySpec) string {
	cols := pgddl.QuoteList(spec.Columns)
	sql := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO ",
		pgddl.QuoteFQN(spec.Table), cols, cols, pgddl.QuoteIdent(stageName(spec.Table)),
		pgddl.QuoteList(spec.KeyColumns))
	sets := updateColumns(nonKeyColumns(spec))
	if len(sets) == 0 {
		return sql + "NOTHING"
	}
	return sql + "UPDATE SET " + strings.Join(sets, ", ")
}

// updateColumns generates a list of column updates in the format: "col" = EXCLUDED."col"
func updateColumns(cols []string) []string {
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		q := pgddl.QuoteIdent(col)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	return updates
}

func nonKeyColumns(spec storage.CopySpec) []string {
	keys := make(map[string]struct{}, len(spec.KeyColumns))
	for _, k := range spec.KeyColumns {
		keys[k] = struct{}{}
	}
	var out []string
	for _, c := range spec.Columns {
		if _, ok := keys[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// stageName derives the staging table name: "public.events" → "lightspeed_stage_public_events".
func stageName(table string) string {
	return "lightspeed_stage_" + strings.ReplaceAll(table, ".", "_")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// pgError folds *pgconn.PgError detail and SQLSTATE into the message while
// keeping the original error matchable.
func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("postgres: %s: %s (%s): %w", op, pgErr.Detail, pgErr.SQLState(), err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}
