package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
)

// rowsOf returns a RowFunc that yields n single-column rows and then io.EOF.
func rowsOf(n int) RowFunc {
	i := 0
	return func() ([]any, error) {
		if i >= n {
			return nil, io.EOF
		}
		i++
		return []any{i}, nil
	}
}

// TestLoadBatches_Basic verifies rows are grouped into batches and copyFn is
// called with the expected counts. It also checks the total equals the sum of
// all successful copyFn returns.
func TestLoadBatches_Basic(t *testing.T) {
	t.Parallel()

	var sizes []int
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		sizes = append(sizes, len(rows))
		return int64(len(rows)), nil
	}

	total, err := LoadBatches(context.Background(), quietLogger(), []string{"c1"}, rowsOf(7), 3, copyFn)
	if err != nil {
		t.Fatalf("LoadBatches error: %v", err)
	}
	if total != 7 {
		t.Fatalf("total rows %d, want 7", total)
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Fatalf("batch sizes %v, want [3 3 1]", sizes)
	}
}

// TestLoadBatches_ErrorPropagation ensures the first copy error is propagated
// and processing stops after that batch.
func TestLoadBatches_ErrorPropagation(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("copy failed")
	var batches int
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		batches++
		if batches == 2 {
			return 0, wantErr
		}
		return int64(len(rows)), nil
	}

	total, err := LoadBatches(context.Background(), quietLogger(), []string{"c"}, rowsOf(10), 2, copyFn)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want error %v, got %v", wantErr, err)
	}
	if batches != 2 {
		t.Fatalf("copyFn calls %d, want 2", batches)
	}
	if total != 2 {
		t.Fatalf("total rows %d, want 2", total)
	}
}

// TestLoadBatches_DecodeError stops on the first row error without flushing
// the partial batch.
func TestLoadBatches_DecodeError(t *testing.T) {
	t.Parallel()

	bad := errors.New("wrong number of fields")
	i := 0
	next := func() ([]any, error) {
		i++
		if i == 3 {
			return nil, bad
		}
		return []any{i}, nil
	}
	var calls int
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		calls++
		return int64(len(rows)), nil
	}

	_, err := LoadBatches(context.Background(), quietLogger(), []string{"c"}, next, 5, copyFn)
	if !errors.Is(err, bad) {
		t.Fatalf("want %v, got %v", bad, err)
	}
	if calls != 0 {
		t.Fatalf("copyFn calls %d, want 0", calls)
	}
}

// TestLoadBatches_ContextCancel checks the loader exits on context cancellation.
func TestLoadBatches_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	i := 0
	next := func() ([]any, error) {
		i++
		if i == 2 {
			cancel()
		}
		return []any{i}, nil
	}
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		return int64(len(rows)), nil
	}

	_, err := LoadBatches(ctx, quietLogger(), []string{"c"}, next, 100, copyFn)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestLoadBatches_InvalidArgs(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, []string, [][]any) (int64, error) { return 0, nil }
	if _, err := LoadBatches(context.Background(), quietLogger(), nil, rowsOf(1), 0, noop); err == nil {
		t.Fatal("expected error for batchSize 0")
	}
	if _, err := LoadBatches(context.Background(), quietLogger(), nil, nil, 1, noop); err == nil {
		t.Fatal("expected error for nil next")
	}
}

func TestLoadBatches_LogsToGivenLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	boom := errors.New("constraint violated")
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		return 0, boom
	}
	_, err := LoadBatches(context.Background(), log.New(&buf, "", 0), []string{"c"}, rowsOf(3), 2, copyFn)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if !strings.Contains(buf.String(), "loader: batch failed") || !strings.Contains(buf.String(), "constraint violated") {
		t.Fatalf("log = %q", buf.String())
	}
}
