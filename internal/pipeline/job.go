package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/metrics"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/producer"
	"github.com/justin-pfeifer/ftl-lightspeed/internal/storage"
)

// ErrColumnMismatch means the source header does not name the destination
// columns in the same order.
var ErrColumnMismatch = errors.New("pipeline: source headers do not match destination columns")

// Binding is what Acquire hands to the later phases: the producer, the idle
// consumer and the headers read from the source.
type Binding struct {
	Producer producer.Producer
	Consumer *storage.Consumer
	Headers  []string
}

// Job is one load split into three phases. Acquire binds the source and
// destination, Shape optionally prepares the destination and Execute moves
// the data. Each phase is recorded with metrics.RecordStep.
type Job struct {
	Name    string
	Acquire func(ctx context.Context) (Binding, error)
	Shape   func(ctx context.Context, b *Binding) error
	Execute func(ctx context.Context, b Binding) (Result, error)
}

// Run executes the phases in order and stops at the first failure.
func (j Job) Run(ctx context.Context) (Result, error) {
	if j.Acquire == nil || j.Execute == nil {
		return Result{}, fmt.Errorf("pipeline: job %q needs Acquire and Execute", j.Name)
	}

	var b Binding
	err := j.step("acquire", func() error {
		var err error
		b, err = j.Acquire(ctx)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("job %s: acquire: %w", j.Name, err)
	}

	if j.Shape != nil {
		if err := j.step("shape", func() error { return j.Shape(ctx, &b) }); err != nil {
			return Result{}, fmt.Errorf("job %s: shape: %w", j.Name, err)
		}
	}

	var res Result
	err = j.step("execute", func() error {
		var err error
		res, err = j.Execute(ctx, b)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("job %s: execute: %w", j.Name, err)
	}
	return res, nil
}

func (j Job) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(j.Name, name, err, time.Since(start))
	return err
}

// CopyJob builds the standard load job. Acquire creates the consumer and,
// when its spec expects a header line, checks the source headers against the
// destination columns. Execute runs the pipeline with opts plus the job name.
func CopyJob(name string, p producer.Producer, newConsumer func(ctx context.Context) (*storage.Consumer, error), opts ...Option) Job {
	return Job{
		Name: name,
		Acquire: func(ctx context.Context) (Binding, error) {
			c, err := newConsumer(ctx)
			if err != nil {
				return Binding{}, err
			}
			b := Binding{Producer: p, Consumer: c}
			if !c.Spec().HasHeader {
				return b, nil
			}
			headers, err := p.Headers(ctx)
			if err != nil {
				return Binding{}, err
			}
			if err := MatchColumns(headers, c.Spec().Columns); err != nil {
				return Binding{}, err
			}
			b.Headers = headers
			return b, nil
		},
		Execute: func(ctx context.Context, b Binding) (Result, error) {
			return Run(ctx, b.Producer, b.Consumer, append([]Option{WithJobName(name)}, opts...)...)
		},
	}
}

// MatchColumns reports ErrColumnMismatch unless headers and columns name the
// same columns in the same order. Names compare case-insensitively after
// trimming.
func MatchColumns(headers, columns []string) error {
	if len(headers) != len(columns) {
		return fmt.Errorf("%w: %d headers %s, %d columns %s", ErrColumnMismatch,
			len(headers), producer.QuoteHeaders(headers), len(columns), producer.QuoteHeaders(columns))
	}
	for i := range headers {
		h, c := strings.TrimSpace(headers[i]), strings.TrimSpace(columns[i])
		if !strings.EqualFold(h, c) {
			return fmt.Errorf("%w: position %d is %q, want %q", ErrColumnMismatch, i+1, h, c)
		}
	}
	return nil
}
