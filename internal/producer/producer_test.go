package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/chunk"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// memSource serves data from memory. failAfter > 0 makes reads fail once that
// many bytes were returned.
type memSource struct {
	name      string
	data      string
	openErr   error
	failAfter int
	opens     int
}

func (m *memSource) Name() string { return m.name }

func (m *memSource) Open(ctx context.Context) (io.ReadCloser, error) {
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	var r io.Reader = strings.NewReader(m.data)
	if m.failAfter > 0 {
		r = io.MultiReader(io.LimitReader(strings.NewReader(m.data), int64(m.failAfter)), errReader{})
	}
	return io.NopCloser(r), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

// fakeExporter writes out in pieces of step bytes. Columns reports cols.
type fakeExporter struct {
	out   string
	step  int
	err   error
	calls int
	specs []storage.ExportSpec

	cols     []string
	colsErr  error
	describe int
}

func (f *fakeExporter) Columns(ctx context.Context, spec storage.ExportSpec) ([]string, error) {
	f.describe++
	return f.cols, f.colsErr
}

func (f *fakeExporter) CopyTo(ctx context.Context, w io.Writer, spec storage.ExportSpec) (int64, error) {
	f.calls++
	f.specs = append(f.specs, spec)
	out := f.out
	if !spec.Header {
		if i := strings.IndexByte(out, '\n'); i >= 0 {
			out = out[i+1:]
		}
	}
	step := f.step
	if step <= 0 {
		step = len(out)
	}
	for len(out) > 0 {
		n := min(step, len(out))
		if _, err := w.Write([]byte(out[:n])); err != nil {
			return 0, err
		}
		out = out[n:]
	}
	return 0, f.err
}

func collect(t *testing.T, p Producer) ([]chunk.Chunk, error) {
	t.Helper()
	var (
		out []chunk.Chunk
		err error
	)
	for c, e := range p.Chunks(context.Background()) {
		if e != nil {
			err = e
			break
		}
		out = append(out, c)
	}
	return out, err
}

func TestStream_ChunksReassemble(t *testing.T) {
	t.Parallel()

	data := "\"a\",\"b\"\n1,2\n3,4\n5,6\n"
	tests := []struct {
		threshold, readSize int
	}{
		{threshold: 1 << 20, readSize: 0},
		{threshold: 5, readSize: 3},
		{threshold: 4, readSize: 4},
		{threshold: 7, readSize: 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("t%d_r%d", tt.threshold, tt.readSize), func(t *testing.T) {
			t.Parallel()
			s, err := NewStream(&memSource{name: "mem", data: data}, tt.threshold, WithReadSize(tt.readSize))
			if err != nil {
				t.Fatalf("NewStream: %v", err)
			}
			chunks, err := collect(t, s)
			if err != nil {
				t.Fatalf("Chunks error: %v", err)
			}
			var got bytes.Buffer
			for i, c := range chunks {
				if len(c) > tt.threshold {
					t.Fatalf("chunk %d len %d > threshold %d", i, len(c), tt.threshold)
				}
				if i < len(chunks)-1 && len(c) != tt.threshold {
					t.Fatalf("chunk %d len %d, only the last chunk may be short", i, len(c))
				}
				got.Write(c)
			}
			if got.String() != data {
				t.Fatalf("reassembled = %q, want %q", got.String(), data)
			}
		})
	}
}

func TestStream_SingleChunkWhenThresholdLarge(t *testing.T) {
	t.Parallel()

	s, _ := NewStream(&memSource{data: "a,b\n1,2\n"}, chunk.BytesFromMB(64))
	chunks, err := collect(t, s)
	if err != nil || len(chunks) != 1 {
		t.Fatalf("chunks = %d, err = %v; want 1 chunk", len(chunks), err)
	}
}

func TestStream_EmptySourceYieldsNothing(t *testing.T) {
	t.Parallel()

	s, _ := NewStream(&memSource{}, 8)
	chunks, err := collect(t, s)
	if err != nil || len(chunks) != 0 {
		t.Fatalf("chunks = %d, err = %v; want none", len(chunks), err)
	}
}

func TestStream_Headers(t *testing.T) {
	t.Parallel()

	src := &memSource{data: "\ufeff\"id\", \"name\"\n1,alice\n"}
	s, _ := NewStream(src, 4)
	h, err := s.Headers(context.Background())
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if strings.Join(h, "|") != "id|name" {
		t.Fatalf("Headers = %q", h)
	}

	// Headers does not consume the chunk stream.
	chunks, err := collect(t, s)
	if err != nil || len(chunks) == 0 {
		t.Fatalf("chunks after Headers = %d, err = %v", len(chunks), err)
	}
	if src.opens != 2 {
		t.Fatalf("opens = %d, want 2", src.opens)
	}
}

func TestStream_HeadersDelimiter(t *testing.T) {
	t.Parallel()

	s, _ := NewStream(&memSource{data: "a;b;c\n"}, 4, WithDelimiter(';'))
	h, err := s.Headers(context.Background())
	if err != nil || len(h) != 3 {
		t.Fatalf("Headers = %q, err = %v", h, err)
	}
}

func TestStream_Errors(t *testing.T) {
	t.Parallel()

	missing := &memSource{name: "nope.csv", openErr: fmt.Errorf("%w: nope.csv", datasource.ErrNotFound)}
	s, _ := NewStream(missing, 4)
	if _, err := s.Headers(context.Background()); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("Headers err = %v, want ErrSourceNotFound", err)
	}
	s, _ = NewStream(missing, 4)
	if _, err := collect(t, s); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("Chunks err = %v, want ErrSourceNotFound", err)
	}

	denied := &memSource{name: "locked.csv", openErr: errors.New("permission denied")}
	s, _ = NewStream(denied, 4)
	if _, err := collect(t, s); !errors.Is(err, ErrSourceUnreadable) {
		t.Fatalf("Chunks err = %v, want ErrSourceUnreadable", err)
	}

	empty := &memSource{}
	s, _ = NewStream(empty, 4)
	if _, err := s.Headers(context.Background()); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("Headers err = %v, want ErrNoHeader", err)
	}
}

func TestStream_MidStreamFailureKeepsYieldedChunks(t *testing.T) {
	t.Parallel()

	src := &memSource{name: "flaky.csv", data: "0123456789abcdef", failAfter: 10}
	s, _ := NewStream(src, 4, WithReadSize(2))
	chunks, err := collect(t, s)
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Fatalf("err = %v, want ErrSourceUnreadable", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks before failure = %d, want 2", len(chunks))
	}
}

func TestStream_SecondChunksCallIsConsumed(t *testing.T) {
	t.Parallel()

	s, _ := NewStream(&memSource{data: "a\n"}, 4)
	if _, err := collect(t, s); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if _, err := collect(t, s); !errors.Is(err, ErrSourceConsumed) {
		t.Fatalf("second pass err = %v, want ErrSourceConsumed", err)
	}
}

func TestStream_EarlyBreak(t *testing.T) {
	t.Parallel()

	s, _ := NewStream(&memSource{data: strings.Repeat("x", 40)}, 4)
	n := 0
	for _, err := range s.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("iterations = %d, want 2", n)
	}
}

func TestStream_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := NewStream(&memSource{data: "a,b\n"}, 4)
	var err error
	for _, e := range s.Chunks(ctx) {
		err = e
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewStream_InvalidThreshold(t *testing.T) {
	t.Parallel()

	if _, err := NewStream(&memSource{}, 0); !errors.Is(err, chunk.ErrInvalidThreshold) {
		t.Fatalf("err = %v, want ErrInvalidThreshold", err)
	}
}

func TestQuery_ChunksAndHeaders(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{out: "id,name\n1,alice\n2,bob\n", step: 3, cols: []string{"id", "name"}}
	q, err := NewQuery(exp, storage.ExportSpec{Query: "SELECT id, name FROM people", Label: "nightly"}, 5)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}

	h, err := q.Headers(context.Background())
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if strings.Join(h, ",") != "id,name" {
		t.Fatalf("Headers = %q", h)
	}
	if exp.calls != 0 || exp.describe != 1 {
		t.Fatalf("Headers ran %d exports and %d describes, want 0 and 1", exp.calls, exp.describe)
	}

	chunks, err := collect(t, q)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	var got bytes.Buffer
	for _, c := range chunks {
		if len(c) > 5 {
			t.Fatalf("chunk len %d > 5", len(c))
		}
		got.Write(c)
	}
	if got.String() != "1,alice\n2,bob\n" {
		t.Fatalf("stream = %q", got.String())
	}
	if exp.calls != 1 || exp.specs[0].Label != "nightly" {
		t.Fatalf("exports = %d label = %q, want one export labeled nightly", exp.calls, exp.specs[0].Label)
	}
}

func TestQuery_HeadersKeepNamesVerbatim(t *testing.T) {
	t.Parallel()

	// A quoted column alias may contain a newline; the name must survive whole.
	exp := &fakeExporter{cols: []string{"order\nid", "total, gross"}}
	q, _ := NewQuery(exp, storage.ExportSpec{Query: `SELECT 1 AS "order\nid", 2 AS "total, gross"`}, 8)

	h, err := q.Headers(context.Background())
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if len(h) != 2 || h[0] != "order\nid" || h[1] != "total, gross" {
		t.Fatalf("Headers = %q", h)
	}
}

func TestQuery_HeadersErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		exp  *fakeExporter
	}{
		{"describe fails", &fakeExporter{colsErr: errors.New("syntax error at or near FORM")}},
		{"no columns", &fakeExporter{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, _ := NewQuery(tt.exp, storage.ExportSpec{Query: "SELECT"}, 8)
			if _, err := q.Headers(context.Background()); !errors.Is(err, ErrSourceQuery) {
				t.Fatalf("err = %v, want ErrSourceQuery", err)
			}
		})
	}
}

func TestQuery_ExportFailure(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{out: "h\n0123456789", step: 4, err: errors.New("relation does not exist")}
	q, _ := NewQuery(exp, storage.ExportSpec{Query: "SELECT 1"}, 4)
	chunks, err := collect(t, q)
	if !errors.Is(err, ErrSourceQuery) {
		t.Fatalf("err = %v, want ErrSourceQuery", err)
	}
	// Complete chunks before the failure stand; the partial tail is dropped.
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
}

func TestQuery_EarlyBreakStopsExport(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{out: "h\n" + strings.Repeat("y", 100), step: 1}
	q, _ := NewQuery(exp, storage.ExportSpec{Query: "SELECT 1"}, 4)
	n := 0
	for _, err := range q.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error after break: %v", err)
		}
		n++
		if n == 1 {
			break
		}
	}
	if n != 1 {
		t.Fatalf("iterations = %d, want 1", n)
	}
}

func TestQuery_SecondChunksCallIsConsumed(t *testing.T) {
	t.Parallel()

	q, _ := NewQuery(&fakeExporter{out: "h\nx\n"}, storage.ExportSpec{Query: "SELECT 1"}, 4)
	collect(t, q)
	if _, err := collect(t, q); !errors.Is(err, ErrSourceConsumed) {
		t.Fatalf("err = %v, want ErrSourceConsumed", err)
	}
}

func TestNewQuery_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewQuery(&fakeExporter{}, storage.ExportSpec{Query: " "}, 4); err == nil {
		t.Fatalf("empty query accepted")
	}
	if _, err := NewQuery(&fakeExporter{}, storage.ExportSpec{Query: "SELECT 1"}, -1); !errors.Is(err, chunk.ErrInvalidThreshold) {
		t.Fatalf("err = %v, want ErrInvalidThreshold", err)
	}
}

func TestNew_Dispatch(t *testing.T) {
	t.Parallel()

	p, err := New(Source{Kind: KindFile, Threshold: 8, Data: &memSource{}})
	if err != nil {
		t.Fatalf("New(file): %v", err)
	}
	if _, ok := p.(*Stream); !ok {
		t.Fatalf("New(file) = %T, want *Stream", p)
	}

	p, err = New(Source{Kind: KindQuery, Threshold: 8, Exporter: &fakeExporter{}, Query: "SELECT 1"})
	if err != nil {
		t.Fatalf("New(query): %v", err)
	}
	if _, ok := p.(*Query); !ok {
		t.Fatalf("New(query) = %T, want *Query", p)
	}

	for _, src := range []Source{
		{Kind: "ftp", Threshold: 8},
		{Kind: KindFile, Threshold: 8},
		{Kind: KindQuery, Threshold: 8, Query: "SELECT 1"},
	} {
		if _, err := New(src); err == nil {
			t.Errorf("New(%+v) error = nil", src)
		}
	}
}

func TestQuoteHeaders(t *testing.T) {
	t.Parallel()

	if got := QuoteHeaders([]string{"a", "b"}); got != `"a","b"` {
		t.Fatalf("QuoteHeaders = %s", got)
	}
	if got := QuoteHeaders([]string{`say "x"`}); got != `"say ""x"""` {
		t.Fatalf("QuoteHeaders = %s", got)
	}
	if got := QuoteHeaders(nil); got != "" {
		t.Fatalf("QuoteHeaders(nil) = %q", got)
	}
}
