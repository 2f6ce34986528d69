package pipeline

import (
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/metrics"
)

// EventKind tells an observer what happened.
type EventKind int

const (
	EventChunk EventKind = iota
	EventCommit
	EventRollback
	// EventOpenFailed means the destination never began a load, so there
	// was nothing to commit or roll back.
	EventOpenFailed
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventCommit:
		return "commit"
	case EventRollback:
		return "rollback"
	case EventOpenFailed:
		return "open_failed"
	default:
		return "unknown"
	}
}

// Event is one progress or outcome notification.
//
// For EventChunk, Batch is the 1-based chunk number, Bytes its size, Digest
// its xxh3 sum and Elapsed the time the write took. For EventCommit and
// EventRollback, Batch and Total are the chunks and bytes written and Elapsed
// covers the whole load.
type Event struct {
	Kind    EventKind
	Job     string
	Table   string
	Batch   int
	Bytes   int
	Total   int64
	Digest  uint64
	Elapsed time.Duration
	Rows    int64
	// Err is the failure that caused a rollback.
	Err error
	// CleanupErr is set when the rollback itself failed.
	CleanupErr error
}

// Observer receives pipeline events. Observe is called synchronously from the
// loading goroutine and should not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// LogObserver writes one line per event to l, or to log.Default when l is nil.
func LogObserver(l *log.Logger) Observer {
	if l == nil {
		l = log.Default()
	}
	return ObserverFunc(func(ev Event) {
		switch ev.Kind {
		case EventChunk:
			l.Printf("pipeline: batch job=%s table=%s n=%d size=%s total=%s elapsed=%s digest=%016x",
				ev.Job, ev.Table, ev.Batch, humanize.Bytes(uint64(ev.Bytes)),
				humanize.Bytes(uint64(ev.Total)), ev.Elapsed.Truncate(time.Millisecond), ev.Digest)
		case EventCommit:
			l.Printf("pipeline: committed job=%s table=%s chunks=%d size=%s rows=%s elapsed=%s",
				ev.Job, ev.Table, ev.Batch, humanize.Bytes(uint64(ev.Total)),
				humanize.Comma(ev.Rows), ev.Elapsed.Truncate(time.Millisecond))
		case EventRollback:
			if ev.CleanupErr != nil {
				l.Printf("pipeline: rolled back job=%s table=%s chunks=%d err=%v cleanup_err=%v",
					ev.Job, ev.Table, ev.Batch, ev.Err, ev.CleanupErr)
				return
			}
			l.Printf("pipeline: rolled back job=%s table=%s chunks=%d err=%v",
				ev.Job, ev.Table, ev.Batch, ev.Err)
		case EventOpenFailed:
			l.Printf("pipeline: open failed job=%s table=%s err=%v", ev.Job, ev.Table, ev.Err)
		}
	})
}

// MetricsObserver records chunk, row and load counters for job through the
// process-wide metrics backend.
func MetricsObserver(job string) Observer {
	return ObserverFunc(func(ev Event) {
		switch ev.Kind {
		case EventChunk:
			metrics.RecordChunk(job, ev.Bytes)
		case EventCommit:
			metrics.RecordRows(job, ev.Table, ev.Rows)
			metrics.RecordLoad(job, "committed")
		case EventRollback:
			metrics.RecordLoad(job, "rolled_back")
		case EventOpenFailed:
			metrics.RecordLoad(job, "open_failed")
		}
	})
}
