package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/chunk"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource/file"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/producer"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
	_ "github.com/justin-pfeifer/ftl-lightspeed/internal/storage/sqlite"
)

// These tests run the whole path against a real SQLite file: producer,
// pipeline, consumer and the sqlite backend.

func openSQLite(t *testing.T, spec storage.CopySpec) storage.Repository {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "pipeline.db"),
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := storage.EnsureTable(ctx, "sqlite", repo, spec); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	return repo
}

// exportRows reads table back through a query producer and returns the
// sorted records.
func exportRows(t *testing.T, repo storage.Repository, query string) []string {
	t.Helper()
	ctx := context.Background()
	q, err := producer.NewQuery(repo, storage.ExportSpec{Query: query}, 16)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	var buf bytes.Buffer
	for c, err := range q.Chunks(ctx) {
		if err != nil {
			t.Fatalf("export: %v", err)
		}
		buf.Write(c)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = strings.Join(r, "|")
	}
	slices.Sort(out)
	return out
}

func sqliteConsumer(t *testing.T, repo storage.Repository, spec storage.CopySpec) *storage.Consumer {
	t.Helper()
	c, err := storage.NewConsumer(repo, spec, storage.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	return c
}

var peopleSpec = storage.CopySpec{
	Table:     "people",
	Columns:   []string{"id", "name", "city"},
	HasHeader: true,
}

const peopleCSV = "id,name,city\n" +
	"1,Ada,London\n" +
	"2,\"Hopper, Grace\",Arlington\n" +
	"3,Linus,Helsinki\n" +
	"4,Barbara,\n"

func TestSQLite_ChunkBoundariesAreInvisible(t *testing.T) {
	t.Parallel()

	spec := storage.CopySpec{Table: "pairs", Columns: []string{"a", "b"}, HasHeader: true}
	data := "\"a\",\"b\"\n1,2\n3,4\n5,6\n"
	path := writeFile(t, data)

	tests := []struct {
		name       string
		threshold  int
		wantWrites int
	}{
		{"one chunk", chunk.BytesFromMB(1), 1},
		{"three chunks", (len(data) + 2) / 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := openSQLite(t, spec)
			p, err := producer.NewStream(file.NewLocal(path), tt.threshold)
			if err != nil {
				t.Fatalf("NewStream: %v", err)
			}
			c := sqliteConsumer(t, repo, spec)
			res, err := Run(context.Background(), p, c)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Chunks != tt.wantWrites || c.State() != storage.StateCommitted {
				t.Fatalf("writes=%d state=%s", res.Chunks, c.State())
			}
			got := exportRows(t, repo, "SELECT a, b FROM pairs")
			if want := []string{"1|2", "3|4", "5|6"}; !slices.Equal(got, want) {
				t.Fatalf("rows = %q, want %q", got, want)
			}
		})
	}
}

func TestSQLite_RoundTripThroughProducers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openSQLite(t, peopleSpec)
	path := writeFile(t, peopleCSV)

	src := file.NewLocal(path)
	p, err := producer.NewStream(src, 10)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	res, err := Run(ctx, p, sqliteConsumer(t, repo, peopleSpec))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 4 {
		t.Fatalf("rows = %d, want 4", res.Rows)
	}
	if res.Chunks < 2 {
		t.Fatalf("expected several chunks at threshold 10, got %d", res.Chunks)
	}

	got := exportRows(t, repo, "SELECT id, name, city FROM people")
	want := []string{
		"1|Ada|London",
		"2|Hopper, Grace|Arlington",
		"3|Linus|Helsinki",
		"4|Barbara|",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("exported rows = %q, want %q", got, want)
	}
}

func TestSQLite_FailureOnLaterChunkLeavesTableUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openSQLite(t, peopleSpec)

	seed := sqliteConsumer(t, repo, peopleSpec)
	if _, err := Run(ctx, &sliceProducer{chunks: []string{"id,name,city\n9,Seed,Oslo\n"}}, seed); err != nil {
		t.Fatalf("seed load: %v", err)
	}
	before := exportRows(t, repo, "SELECT id, name, city FROM people")

	boom := errors.New("upstream reset")
	p := &sliceProducer{
		chunks: []string{"id,name,city\n1,Ada,London\n", "2,Grace,Arlington\n", "3,Linus,Helsinki\n"},
		err:    boom,
	}
	c := sqliteConsumer(t, repo, peopleSpec)
	res, err := Run(ctx, p, c)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if res.Chunks != 3 || c.State() != storage.StateRolledBack {
		t.Fatalf("chunks=%d state=%s", res.Chunks, c.State())
	}
	if after := exportRows(t, repo, "SELECT id, name, city FROM people"); !slices.Equal(after, before) {
		t.Fatalf("table changed after rollback: before %q after %q", before, after)
	}
}

func TestSQLite_RunFileLoadsInPieces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openSQLite(t, peopleSpec)
	events := &eventLog{}

	res, err := RunFile(ctx, writeFile(t, peopleCSV), sqliteConsumer(t, repo, peopleSpec), 16,
		WithObserver(events))
	if err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	if res.Rows != 4 || res.Bytes != int64(len(peopleCSV)) {
		t.Fatalf("result = %+v", res)
	}
	if got := len(exportRows(t, repo, "SELECT id FROM people")); got != 4 {
		t.Fatalf("table has %d rows, want 4", got)
	}
	if ev := events.last(); ev.Kind != EventCommit || ev.Rows != 4 {
		t.Fatalf("last event = %+v", ev)
	}
}

func TestSQLite_QueryToTableCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	origin := openSQLite(t, peopleSpec)
	if _, err := Run(ctx, &sliceProducer{chunks: []string{peopleCSV}}, sqliteConsumer(t, origin, peopleSpec)); err != nil {
		t.Fatalf("seed load: %v", err)
	}

	archive := storage.CopySpec{Table: "people_archive", Columns: []string{"id", "name"}, HasHeader: true}
	dest := openSQLite(t, archive)
	q, err := producer.New(producer.Source{
		Kind:      producer.KindQuery,
		Threshold: chunk.BytesFromMB(1),
		Exporter:  origin,
		Query:     "SELECT id, name FROM people WHERE city <> '' ORDER BY id",
		Header:    true,
	})
	if err != nil {
		t.Fatalf("producer.New: %v", err)
	}

	job := CopyJob("archive", q, func(ctx context.Context) (*storage.Consumer, error) {
		return sqliteConsumer(t, dest, archive), nil
	})
	res, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if res.Rows != 3 {
		t.Fatalf("rows = %d, want 3", res.Rows)
	}
	got := exportRows(t, dest, "SELECT id, name FROM people_archive")
	want := []string{"1|Ada", "2|Hopper, Grace", "3|Linus"}
	if !slices.Equal(got, want) {
		t.Fatalf("archive = %q, want %q", got, want)
	}
}
