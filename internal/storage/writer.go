package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// AuditWriter decouples request handling from audit persistence. Records
// are buffered and written by a background goroutine; a full buffer drops
// the record rather than blocking the caller.
type AuditWriter struct {
	db   *DB
	ch   chan pending
	wg   sync.WaitGroup
	done chan struct{}
}

// pending is one buffered insert with a label for failure logs.
type pending struct {
	kind string
	key  string
	op   func(ctx context.Context) error
}

func NewAuditWriter(db *DB, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:   db,
		ch:   make(chan pending, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// LogRun queues a script run record.
func (w *AuditWriter) LogRun(run *ScriptRun) {
	w.enqueue(pending{
		kind: "script_run",
		key:  run.Filename,
		op:   func(ctx context.Context) error { return w.db.LogScriptRun(ctx, run) },
	})
}

// LogSession queues a session event record.
func (w *AuditWriter) LogSession(event *SessionEvent) {
	w.enqueue(pending{
		kind: "session_event",
		key:  event.Event,
		op:   func(ctx context.Context) error { return w.db.LogSessionEvent(ctx, event) },
	})
}

func (w *AuditWriter) enqueue(p pending) {
	select {
	case w.ch <- p:
	default:
		log.Warn().Str("kind", p.kind).Str("key", p.key).Msg("audit buffer full, dropping record")
	}
}

// Flush stops the writer and drains buffered records, giving up after
// timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case p := <-w.ch:
			w.writeWithRetry(p)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case p := <-w.ch:
					w.writeWithRetry(p)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(p pending) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		opCtx, opCancel := context.WithTimeout(ctx, 5*time.Second)
		defer opCancel()
		if err := p.op(opCtx); err != nil {
			log.Warn().Err(err).Str("kind", p.kind).Str("key", p.key).Msg("audit write failed, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("kind", p.kind).Str("key", p.key).Msg("audit write failed permanently after retries")
	}
}
