package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle position of a Consumer.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Closed reports whether the consumer reached a terminal state.
func (s State) Closed() bool { return s == StateCommitted || s == StateRolledBack }

// rollbackTimeout bounds cleanup when the caller's context is already done.
const rollbackTimeout = 30 * time.Second

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithLogger routes consumer log lines to l. The default is log.Default().
func WithLogger(l *log.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// Consumer owns one transactional bulk load into a destination table.
//
// It moves Idle → Open → Committed|RolledBack exactly once. The bulk-ingest
// channel runs in a single goroutine reading an unbuffered io.Pipe, so Write
// returns only after the channel has taken every byte of the chunk.
// A Consumer is not safe for concurrent use.
type Consumer struct {
	db     Beginner
	spec   CopySpec
	logger *log.Logger

	state   State
	tx      Tx
	pw      *io.PipeWriter
	g       *errgroup.Group
	rows    int64
	written int64
	opened  time.Time
}

// NewConsumer returns an Idle consumer for spec. No connection is made until
// Open.
func NewConsumer(db Beginner, spec CopySpec, opts ...ConsumerOption) (*Consumer, error) {
	if db == nil {
		return nil, fmt.Errorf("consumer: nil destination")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	c := &Consumer{db: db, spec: spec, logger: log.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Consumer) State() State { return c.state }
func (c *Consumer) Spec() CopySpec { return c.spec }

// Rows returns the row count reported by the channel. It is meaningful only
// after a successful Close.
func (c *Consumer) Rows() int64 { return c.rows }

// Open begins the destination transaction and starts the bulk-ingest channel.
func (c *Consumer) Open(ctx context.Context) error {
	if c.state != StateIdle {
		return fmt.Errorf("%w: open called in state %s", ErrConsumerState, c.state)
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		c.state = StateRolledBack
		return fmt.Errorf("%w: begin %s: %w", ErrDestinationUnavailable, c.spec.Table, err)
	}
	if err := tx.Probe(ctx, c.spec); err != nil {
		c.state = StateRolledBack
		rctx, cancel := cleanupContext(ctx)
		defer cancel()
		if rbErr := tx.Rollback(rctx); rbErr != nil {
			c.logger.Printf("copy: rollback after failed probe table=%s err=%v", c.spec.Table, rbErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrDestinationUnavailable, c.spec.Table, err)
	}

	pr, pw := io.Pipe()
	c.tx, c.pw, c.g = tx, pw, new(errgroup.Group)
	c.g.Go(func() error {
		n, err := tx.CopyFrom(ContextWithLogger(ctx, c.logger), pr, c.spec)
		c.rows = n
		// Unblock a writer still parked in pw.Write once the channel stops
		// reading. A nil err surfaces to writers as io.ErrClosedPipe.
		_ = pr.CloseWithError(err)
		return err
	})

	c.state = StateOpen
	c.opened = time.Now()
	c.logger.Printf("copy: start table=%s columns=%d header=%t upsert=%t",
		c.spec.Table, len(c.spec.Columns), c.spec.HasHeader, c.spec.Upsert())
	return nil
}

// Write forwards p verbatim to the bulk-ingest channel.
func (c *Consumer) Write(ctx context.Context, p []byte) error {
	if c.state != StateOpen {
		return fmt.Errorf("%w: write called in state %s", ErrConsumerState, c.state)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := c.pw.Write(p)
	c.written += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %s after %d bytes: %w", ErrWrite, c.spec.Table, c.written, err)
	}
	return nil
}

// Close ends the session exactly once. With a nil cause it drains the channel
// and commits; any error found on the way rolls back instead and is returned.
// With a non-nil cause it aborts the channel and rolls back; the returned error
// is only the rollback failure, if any, and never replaces cause.
func (c *Consumer) Close(ctx context.Context, cause error) error {
	switch {
	case c.state == StateIdle:
		return fmt.Errorf("%w: close called before open", ErrConsumerState)
	case c.state.Closed():
		return ErrConsumerClosed
	}

	if cause != nil {
		_ = c.pw.CloseWithError(cause)
		if err := c.g.Wait(); err != nil {
			c.logger.Printf("copy: channel aborted table=%s err=%v", c.spec.Table, err)
		}
		return c.rollback(ctx, cause)
	}

	_ = c.pw.Close()
	if err := c.g.Wait(); err != nil {
		werr := fmt.Errorf("%w: %s: %w", ErrWrite, c.spec.Table, err)
		if rbErr := c.rollback(ctx, werr); rbErr != nil {
			c.logger.Printf("copy: %v", rbErr)
		}
		return werr
	}
	if err := c.tx.Commit(ctx); err != nil {
		c.state = StateRolledBack
		c.logger.Printf("copy: commit failed table=%s err=%v", c.spec.Table, err)
		return fmt.Errorf("%w: %s: %w", ErrCommit, c.spec.Table, err)
	}
	c.state = StateCommitted
	c.logger.Printf("copy: commit table=%s rows=%d bytes=%d elapsed=%s",
		c.spec.Table, c.rows, c.written, time.Since(c.opened).Truncate(time.Millisecond))
	return nil
}

func (c *Consumer) rollback(ctx context.Context, cause error) error {
	c.state = StateRolledBack
	c.logger.Printf("copy: rollback table=%s bytes=%d cause=%v", c.spec.Table, c.written, cause)
	rctx, cancel := cleanupContext(ctx)
	defer cancel()
	if err := c.tx.Rollback(rctx); err != nil {
		c.logger.Printf("copy: rollback failed table=%s err=%v", c.spec.Table, err)
		return fmt.Errorf("%w: %s: %w", ErrRollback, c.spec.Table, err)
	}
	return nil
}

// cleanupContext keeps rollback working after the caller's context was
// canceled, which is the usual reason for rolling back.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
}
