package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"
)

// CopyFn abstracts a backend's bulk insert capability. Implementations should
// insert the provided rows (aligned to 'columns' order) and return the number
// of rows reported as inserted. The rows slice is reused after the call
// returns, so implementations must not retain it.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// RowFunc returns the next decoded row, or io.EOF once the input is exhausted.
type RowFunc func() ([]any, error)

// progressEvery controls how often LoadBatches logs a progress line.
const progressEvery = 100

type loggerKey struct{}

// ContextWithLogger returns a copy of ctx carrying l. The consumer hands it to
// Tx.CopyFrom so backend log lines follow WithLogger.
func ContextWithLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFrom returns the logger carried by ctx, or log.Default().
func LoggerFrom(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*log.Logger); ok && l != nil {
		return l
	}
	return log.Default()
}

// LoadBatches pulls rows from next, groups them into batches of batchSize,
// and calls copyFn for each non-empty batch. It is the row-oriented half of
// the backends that cannot take a raw CSV stream (MSSQL bulk copy, SQLite).
//
// Progress and failures are logged to logger, or log.Default() when nil.
// It returns the total number of rows reported by copyFn and the first error
// encountered, from next, copyFn or ctx.
func LoadBatches(
	ctx context.Context,
	logger *log.Logger,
	columns []string,
	next RowFunc,
	batchSize int,
	copyFn CopyFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if next == nil || copyFn == nil {
		return 0, fmt.Errorf("next and copyFn must not be nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	var (
		total       int64
		batches     int64
		batch       = make([][]any, 0, batchSize)
		start       = time.Now()
		lastFlushTS = start
		lastTotal   int64
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, columns, batch)
		total += n

		// Reuse allocated slice; keep capacity to avoid churn.
		batch = batch[:0]

		if err != nil {
			logger.Printf("loader: batch failed after=%d total=%d err=%v", n, total, err)
			return err
		}

		batches++
		if batches%progressEvery != 0 {
			return nil
		}
		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(total-lastTotal) / sinceLast.Seconds()
		}
		logger.Printf(
			"loader: batch #%d rps=%.0f total_inserted=%d elapsed=%s",
			batches,
			rps,
			total,
			now.Sub(start).Truncate(time.Millisecond),
		)
		lastFlushTS = now
		lastTotal = total
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		row, err := next()
		if err == io.EOF {
			if err := flush(); err != nil {
				return total, err
			}
			return total, nil
		}
		if err != nil {
			return total, err
		}
		batch = append(batch, row)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
}
