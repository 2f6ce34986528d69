// Package csvrows converts between the delimited text stream carried by a
// load and the rows handled by row-oriented drivers (MSSQL bulk copy, SQLite,
// database/sql exports).
//
// NULL mapping follows Postgres CSV COPY: an unquoted empty field decodes to
// nil while a quoted empty field ("") decodes to the empty string. On export
// nil renders as an empty field.
package csvrows

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// Reader decodes a CSV stream into rows of exactly len(spec.Columns) values.
type Reader struct {
	cr         *csv.Reader
	raw        *rawTail
	width      int
	skipHeader bool
	record     int
}

// NewReader wraps r. A leading UTF-8 byte order mark is dropped.
func NewReader(r io.Reader, spec storage.CopySpec) *Reader {
	raw := &rawTail{r: transform.NewReader(r, unicode.BOMOverride(transform.Nop)), line: 1}
	cr := csv.NewReader(raw)
	cr.Comma = spec.Comma()
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &Reader{cr: cr, raw: raw, width: len(spec.Columns), skipHeader: spec.HasHeader}
}

// Next returns the next row, or io.EOF at the end of the stream. Errors from
// the underlying reader are returned unchanged so callers can match them.
func (r *Reader) Next() ([]any, error) {
	if r.skipHeader {
		r.skipHeader = false
		if _, _, err := r.read(); err != nil {
			return nil, err
		}
	}
	rec, raw, err := r.read()
	if err != nil {
		return nil, err
	}
	if len(rec) != r.width {
		return nil, fmt.Errorf("csv record %d: got %d fields, want %d", r.record, len(rec), r.width)
	}
	row := make([]any, r.width)
	for i, f := range rec {
		if f != "" || r.quotedAt(raw, i) {
			row[i] = f
		}
	}
	return row, nil
}

// read returns the next record and the raw bytes it was parsed from.
func (r *Reader) read() ([]string, []byte, error) {
	start := r.cr.InputOffset()
	r.raw.discard(start)
	rec, err := r.cr.Read()
	if err != nil {
		return nil, nil, err
	}
	r.record++
	end := r.cr.InputOffset()
	return rec, r.raw.span(start, end), nil
}

// quotedAt reports whether field i of the current record opens with a quote.
// raw starts at r.raw.line.
func (r *Reader) quotedAt(raw []byte, i int) bool {
	line, col := r.cr.FieldPos(i)
	off := 0
	for l := r.raw.line; l < line; l++ {
		j := bytes.IndexByte(raw[off:], '\n')
		if j < 0 {
			return false
		}
		off += j + 1
	}
	off += col - 1
	return off < len(raw) && raw[off] == '"'
}

// rawTail keeps the bytes the csv reader pulled from the stream that were not
// discarded yet. base is the stream offset of buf[0] and line its line number.
type rawTail struct {
	r    io.Reader
	buf  []byte
	base int64
	line int
}

func (t *rawTail) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.buf = append(t.buf, p[:n]...)
	return n, err
}

// span returns the stream bytes in [start, end).
func (t *rawTail) span(start, end int64) []byte {
	return t.buf[start-t.base : end-t.base]
}

// discard drops everything before stream offset off.
func (t *rawTail) discard(off int64) {
	n := int(off - t.base)
	t.line += bytes.Count(t.buf[:n], []byte{'\n'})
	t.buf = append(t.buf[:0], t.buf[n:]...)
	t.base = off
}

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Export runs spec.Query on q and writes each result row to w as CSV. It
// returns the number of data rows written.
func Export(ctx context.Context, q Queryer, w io.Writer, spec storage.ExportSpec) (int64, error) {
	rows, err := q.QueryContext(ctx, spec.Query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	cw.Comma = spec.Comma()
	if spec.Header {
		if err := cw.Write(cols); err != nil {
			return 0, err
		}
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	rec := make([]string, len(cols))

	var n int64
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		for i, v := range vals {
			rec[i] = Format(v)
		}
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

// Columns runs probe, which must return no rows, and reports its result
// column names.
func Columns(ctx context.Context, q Queryer, probe string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, probe, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

// Format renders a scanned driver value as CSV field text.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
