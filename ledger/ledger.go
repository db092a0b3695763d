// Package ledger tracks the lifecycle of one ingestion run in the
// scraping_logs table.
//
// A Run is created explicitly at run start and handed to every component that
// reports progress; nothing looks up "the current run" by status.
package ledger

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/store"
)

const (
	// DefaultCheckpointEvery is the number of items between counter writes.
	DefaultCheckpointEvery = 10
	maxRecordedErrors      = 100
)

// ErrFinished is returned when a finished run is changed again.
var ErrFinished = eris.New("ledger: run already finished")

// Option configures a Run.
type Option func(*Run)

// WithCheckpointEvery sets how many items pass between counter writes.
func WithCheckpointEvery(n int) Option {
	return func(r *Run) {
		if n > 0 {
			r.every = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Run) { r.now = now }
}

// Run is the ledger entry of one ingestion run.
type Run struct {
	q     store.Querier
	every int
	now   func() time.Time

	mu         sync.Mutex
	entry      models.ScrapingLog
	checkpoint int
	errs       []string
}

// Start creates a running ledger entry of type typ.
func Start(ctx context.Context, q store.Querier, typ models.RunType, opts ...Option) (*Run, error) {
	r := &Run{q: q, every: DefaultCheckpointEvery, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.entry = models.ScrapingLog{
		ID:        uuid.NewString(),
		Type:      typ,
		Status:    models.StatusRunning,
		StartedAt: r.now().UTC(),
	}
	if err := store.CreateRun(ctx, q, r.entry); err != nil {
		return nil, eris.Wrap(err, "ledger: start run")
	}
	zap.L().Info("ledger: run started", zap.String("run_id", r.entry.ID), zap.String("type", string(typ)))
	return r, nil
}

// ID returns the ledger entry id.
func (r *Run) ID() string {
	return r.entry.ID
}

// Entry returns a copy of the ledger entry as last written.
func (r *Run) Entry() models.ScrapingLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry
}

// Items returns the number of items counted so far.
func (r *Run) Items() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry.ItemsScraped
}

// Advance counts one persisted item and writes the counter once every
// checkpoint interval.
func (r *Run) Advance(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entry.Status.Terminal() {
		return ErrFinished
	}
	r.entry.ItemsScraped++
	if r.entry.ItemsScraped-r.checkpoint < r.every {
		return nil
	}
	if err := store.SetRunItems(ctx, r.q, r.entry.ID, r.entry.ItemsScraped); err != nil {
		return eris.Wrap(err, "ledger: checkpoint")
	}
	r.checkpoint = r.entry.ItemsScraped
	return nil
}

// RecordError keeps msg for the error list written if the run fails.
func (r *Run) RecordError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) < maxRecordedErrors {
		r.errs = append(r.errs, msg)
	}
}

// Complete finalises the run with stats as metadata.
func (r *Run) Complete(ctx context.Context, stats models.RunStats) error {
	return r.finish(ctx, models.StatusCompleted, &stats, nil)
}

// Cancel finalises an interrupted run.
func (r *Run) Cancel(ctx context.Context, stats models.RunStats) error {
	return r.finish(ctx, models.StatusCancelled, &stats, nil)
}

// Fail finalises the run with cause appended to the recorded errors.
func (r *Run) Fail(ctx context.Context, cause error) error {
	return r.finish(ctx, models.StatusFailed, nil, cause)
}

func (r *Run) finish(ctx context.Context, status models.RunStatus, stats *models.RunStats, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entry.Status.Terminal() {
		return ErrFinished
	}

	entry := r.entry
	entry.Status = status
	entry.CompletedAt = models.Ptr(r.now().UTC())
	if stats != nil {
		meta, err := json.Marshal(stats)
		if err != nil {
			return eris.Wrap(err, "ledger: encode metadata")
		}
		entry.Metadata = models.Ptr(string(meta))
	}
	errs := slices.Clone(r.errs)
	if cause != nil {
		errs = append(errs, cause.Error())
	}
	if status == models.StatusFailed && len(errs) > 0 {
		encoded, err := json.Marshal(errs)
		if err != nil {
			return eris.Wrap(err, "ledger: encode errors")
		}
		entry.Errors = models.Ptr(string(encoded))
	}

	if err := store.FinishRun(ctx, r.q, entry); err != nil {
		return eris.Wrapf(err, "ledger: finish run as %s", status)
	}
	r.entry = entry
	r.checkpoint = entry.ItemsScraped
	zap.L().Info("ledger: run finished",
		zap.String("run_id", entry.ID),
		zap.String("status", string(status)),
		zap.Int("items", entry.ItemsScraped),
	)
	return nil
}

// Latest returns the most recently started ledger entry.
func Latest(ctx context.Context, q store.Querier) (models.ScrapingLog, error) {
	l, err := store.LatestRun(ctx, q)
	return l, eris.Wrap(err, "ledger: latest run")
}

// Reap marks entries running for longer than olderThan as failed. Nothing
// calls it implicitly; abandoned runs stay running until reaped.
func Reap(ctx context.Context, q store.Querier, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	reason, err := json.Marshal([]string{"abandoned: still running after " + olderThan.String()})
	if err != nil {
		return 0, eris.Wrap(err, "ledger: encode reap reason")
	}
	n, err := store.ReapStaleRuns(ctx, q, now.Add(-olderThan), now, string(reason))
	if err != nil {
		return 0, eris.Wrap(err, "ledger: reap")
	}
	if n > 0 {
		zap.L().Warn("ledger: reaped stale runs", zap.Int64("count", n), zap.Duration("older_than", olderThan))
	}
	return n, nil
}
