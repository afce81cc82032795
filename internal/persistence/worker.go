package persistence

import (
	"StakePool/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// CoreOutput is the persistence-ready projection of one applied event.
// The orchestrator (cmd/stakepool) bridges from core.CoreOutput so this
// package stays independent of the core.
type CoreOutput struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// This goroutine runs independently from the deterministic core. The persist
// channel uses BLOCKING sends from the core, so if this worker falls behind,
// the core stalls, guaranteeing no event is lost.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db, batchSize, flushTimeout),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*4) // ~4 journals per event avg

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: keep draining until the orchestrator
			// closes the input, so rows already bridged are never
			// dropped, then flush whatever is left.
			for output := range pw.inputChan {
				eventBatch = append(eventBatch, output.EventRow)
				journalBatch = append(journalBatch, output.JournalRows...)
				if len(eventBatch) >= pw.batchSize {
					if err := pw.flushWithRetry(ctx, eventBatch, journalBatch); err != nil {
						log.Printf("ERROR: shutdown flush failed: %v", err)
					}
					eventBatch = eventBatch[:0]
					journalBatch = journalBatch[:0]
				}
			}
			if len(eventBatch) > 0 {
				if err := pw.flush(context.Background(), eventBatch, journalBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				// Channel closed, flush and exit
				if len(eventBatch) > 0 {
					if err := pw.flush(context.Background(), eventBatch, journalBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			eventBatch = append(eventBatch, output.EventRow)
			journalBatch = append(journalBatch, output.JournalRows...)

			// Flush if batch is full
			if len(eventBatch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, eventBatch, journalBatch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				eventBatch = eventBatch[:0]
				journalBatch = journalBatch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			// Flush timeout, write whatever we have
			if len(eventBatch) > 0 {
				if err := pw.flushWithRetry(ctx, eventBatch, journalBatch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				eventBatch = eventBatch[:0]
				journalBatch = journalBatch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops events: it retries until the write succeeds or the context
// is cancelled, and even then makes one final attempt with a background
// context so a graceful shutdown does not lose the batch.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, len(events))
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				finalErr := pw.flush(context.Background(), events, journals)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, events, journals)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	// Write events and journals in a single transaction
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_journals").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	// Record metrics on success
	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}

	return nil
}
