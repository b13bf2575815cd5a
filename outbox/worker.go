/*
worker.go - The outbox drain loop

PURPOSE:
  Periodically leases a bounded batch of due outbox entries and drives a
  full recompute for each. Items are acknowledged individually: one
  item's failure never blocks the rest of the batch.

OUTCOMES:
  recomputed  a new current snapshot was written
  retired     the source was revoked; current row flipped with no successor
  conflict    the current snapshot is invoice-locked; recorded loudly,
              rescheduled with backoff (a credit note must release it)
  failed      transient error; rescheduled with backoff

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Drains once immediately on start
  - Stop() waits for the in-flight cycle to finish

SEE ALSO:
  - outbox.go:            Queue contract and backoff
  - financials/writer.go: The recompute this loop drives
*/
package outbox

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
)

// =============================================================================
// DRAIN RESULT
// =============================================================================

type ItemOutcome string

const (
	OutcomeRecomputed ItemOutcome = "recomputed"
	OutcomeRetired    ItemOutcome = "retired"
	OutcomeConflict   ItemOutcome = "conflict"
	OutcomeFailed     ItemOutcome = "failed"
)

// DrainItem reports what happened to one leased entry.
type DrainItem struct {
	TimesheetID engine.TimesheetID
	Reason      Reason
	Outcome     ItemOutcome
	Status      engine.ProcessingStatus // set when Outcome == recomputed
	Error       string                  // set when Outcome is conflict/failed
}

// DrainResult is the structured outcome of one drain cycle.
type DrainResult struct {
	Leased    int
	Succeeded int
	Failed    int
	Items     []DrainItem
}

// =============================================================================
// WORKER
// =============================================================================

// Worker drains the outbox against a Writer.
type Worker struct {
	Queue     Queue
	Writer    *financials.Writer
	BatchSize int
	LeaseFor  time.Duration
	Interval  time.Duration

	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewWorker(queue Queue, writer *financials.Writer) *Worker {
	return &Worker{
		Queue:     queue,
		Writer:    writer,
		BatchSize: 25,
		LeaseFor:  2 * time.Minute,
		Interval:  30 * time.Second,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Drain runs one cycle: lease a batch and process each entry
// sequentially, acknowledging individually.
func (w *Worker) Drain(ctx context.Context) (*DrainResult, error) {
	now := w.now().UTC()
	entries, err := w.Queue.Lease(ctx, w.BatchSize, w.LeaseFor, now)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{Leased: len(entries)}
	for _, entry := range entries {
		item := w.processEntry(ctx, entry)
		result.Items = append(result.Items, item)
		if item.Outcome == OutcomeRecomputed || item.Outcome == OutcomeRetired {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func (w *Worker) processEntry(ctx context.Context, entry Entry) DrainItem {
	item := DrainItem{TimesheetID: entry.TimesheetID, Reason: entry.Reason}

	res, err := w.Writer.Recompute(ctx, entry.TimesheetID)
	if err != nil {
		attempt := entry.AttemptCount + 1
		next := w.now().UTC().Add(Backoff(attempt))
		if errors.Is(err, engine.ErrSnapshotLocked) {
			// Fail loudly: the lock can only be released by a credit
			// note, so retrying blindly would spin. The error stays on
			// the entry for operators; backoff keeps the noise down.
			item.Outcome = OutcomeConflict
			log.Printf("[Worker] conflict on %s (%s): %v", entry.TimesheetID, entry.Reason, err)
		} else {
			item.Outcome = OutcomeFailed
		}
		item.Error = err.Error()
		if ackErr := w.Queue.AckFailure(ctx, entry.ID, attempt, next, err.Error()); ackErr != nil {
			log.Printf("[Worker] failure-ack failed for %s: %v", entry.ID, ackErr)
		}
		return item
	}

	if res.Retired {
		item.Outcome = OutcomeRetired
	} else {
		item.Outcome = OutcomeRecomputed
		item.Status = res.Snapshot.Status
	}
	if err := w.Queue.AckSuccess(ctx, entry.ID); err != nil {
		// The lease will expire and the entry re-run; recompute is
		// idempotent so this only costs a duplicate pass.
		log.Printf("[Worker] success-ack failed for %s: %v", entry.ID, err)
	}
	return item
}

// =============================================================================
// BACKGROUND LOOP
// =============================================================================

// Start begins the periodic drain loop.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ticker = time.NewTicker(w.Interval)
	w.wg.Add(1)
	go w.run()
	log.Printf("[Worker] Started with interval %v, batch size %d", w.Interval, w.BatchSize)
}

// Stop halts the loop and waits for the in-flight cycle.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.stop)
		w.wg.Wait()
		log.Println("[Worker] Stopped")
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	// Drain immediately on start.
	w.drainAndLog()

	for {
		select {
		case <-w.ticker.C:
			w.drainAndLog()
		case <-w.stop:
			return
		}
	}
}

func (w *Worker) drainAndLog() {
	ctx := context.Background()
	res, err := w.Drain(ctx)
	if err != nil {
		log.Printf("[Worker] drain failed: %v", err)
		return
	}
	if res.Leased > 0 {
		log.Printf("[Worker] drained %d entries: %d succeeded, %d failed", res.Leased, res.Succeeded, res.Failed)
	}
}
