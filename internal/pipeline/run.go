// Package pipeline drives a producer's chunk sequence into a bulk-load
// consumer and guarantees the consumer is closed exactly once on every path:
// committed when the stream ends cleanly, rolled back on any failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/chunk"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/producer"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// Result summarizes one finished load.
type Result struct {
	Chunks  int
	Bytes   int64
	Rows    int64
	Elapsed time.Duration
}

// Option configures Run and RunFile.
type Option func(*runConfig)

type runConfig struct {
	job       string
	observers []Observer
}

// WithObserver adds o to the observers notified of chunk and close events.
// Observers are called in the order they were added.
func WithObserver(o Observer) Option {
	return func(c *runConfig) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithJobName tags every event with name.
func WithJobName(name string) Option {
	return func(c *runConfig) { c.job = name }
}

func newRunConfig(opts []Option) *runConfig {
	c := &runConfig{}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *runConfig) emit(ev Event) {
	ev.Job = c.job
	for _, o := range c.observers {
		o.Observe(ev)
	}
}

// Run opens c, writes every chunk of p in order and closes c. The first
// producer or write error aborts the load; it is returned after rollback and
// a failed rollback never replaces it.
func Run(ctx context.Context, p producer.Producer, c *storage.Consumer, opts ...Option) (Result, error) {
	if p == nil {
		return Result{}, errors.New("pipeline: nil producer")
	}
	return drive(ctx, p.Chunks(ctx), c, newRunConfig(opts))
}

// RunFile loads the file at path into c without a producer. The file is read
// in chunkBytes pieces; a file no larger than chunkBytes goes out in a single
// write.
func RunFile(ctx context.Context, path string, c *storage.Consumer, chunkBytes int, opts ...Option) (Result, error) {
	if chunkBytes <= 0 {
		return Result{}, chunk.ErrInvalidThreshold
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s: %w", producer.ErrSourceNotFound, path, err)
		}
		return Result{}, fmt.Errorf("%w: open %s: %w", producer.ErrSourceUnreadable, path, err)
	}
	defer f.Close()

	size := chunkBytes
	if st, err := f.Stat(); err == nil && st.Size() < int64(size) {
		size = int(max(st.Size(), 1))
	}
	return drive(ctx, readChunks(ctx, f, path, size), c, newRunConfig(opts))
}

// readChunks yields fixed-size pieces of r. The buffer is reused between
// yields, which is safe because Consumer.Write returns only after the bytes
// were taken.
func readChunks(ctx context.Context, r io.Reader, name string, size int) iter.Seq2[chunk.Chunk, error] {
	return func(yield func(chunk.Chunk, error) bool) {
		buf := make([]byte, size)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			n, err := io.ReadFull(r, buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			switch {
			case err == nil:
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return
			default:
				yield(nil, fmt.Errorf("%w: read %s: %w", producer.ErrSourceUnreadable, name, err))
				return
			}
		}
	}
}

func drive(ctx context.Context, seq iter.Seq2[chunk.Chunk, error], c *storage.Consumer, cfg *runConfig) (res Result, err error) {
	if c == nil {
		return res, errors.New("pipeline: nil consumer")
	}
	start := time.Now()
	if err := c.Open(ctx); err != nil {
		res.Elapsed = time.Since(start)
		cfg.emit(Event{Kind: EventOpenFailed, Table: c.Spec().Table, Elapsed: res.Elapsed, Err: err})
		return res, err
	}

	defer func() {
		if r := recover(); r != nil {
			finish(ctx, c, cfg, &res, fmt.Errorf("pipeline: panic: %v", r), start)
			panic(r)
		}
		err = finish(ctx, c, cfg, &res, err, start)
	}()

	table := c.Spec().Table
	for ch, perr := range seq {
		if perr != nil {
			return res, perr
		}
		t0 := time.Now()
		if werr := c.Write(ctx, ch); werr != nil {
			return res, werr
		}
		res.Chunks++
		res.Bytes += int64(len(ch))
		cfg.emit(Event{
			Kind:    EventChunk,
			Table:   table,
			Batch:   res.Chunks,
			Bytes:   len(ch),
			Total:   res.Bytes,
			Digest:  chunk.Sum(ch),
			Elapsed: time.Since(t0),
		})
	}
	return res, nil
}

// finish closes c with cause and reports the outcome. The returned error is
// cause when set, otherwise the close error.
func finish(ctx context.Context, c *storage.Consumer, cfg *runConfig, res *Result, cause error, start time.Time) error {
	closeErr := c.Close(ctx, cause)
	res.Elapsed = time.Since(start)
	ev := Event{
		Table:   c.Spec().Table,
		Batch:   res.Chunks,
		Total:   res.Bytes,
		Elapsed: res.Elapsed,
	}
	switch {
	case cause != nil:
		ev.Kind, ev.Err, ev.CleanupErr = EventRollback, cause, closeErr
		cfg.emit(ev)
		return cause
	case closeErr != nil:
		ev.Kind, ev.Err = EventRollback, closeErr
		cfg.emit(ev)
		return closeErr
	}
	res.Rows = c.Rows()
	ev.Kind, ev.Rows = EventCommit, res.Rows
	cfg.emit(ev)
	return nil
}
