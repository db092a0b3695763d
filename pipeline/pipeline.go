// Package pipeline runs candidate records through normalisation, validation,
// deduplication and persistence, one record at a time.
package pipeline

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/parser"
	"github.com/mehran282/off-board-v1/reconcile"
)

const defaultBufferSize = 512

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = eris.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when Close gives up waiting for the
	// worker to drain.
	ErrPipelineCloseTimeout = eris.New("pipeline: close timed out")

	drainTimeout = 2 * time.Minute
)

// Sink persists one record and reports what happened to it.
type Sink interface {
	Persist(ctx context.Context, rec models.Record) (models.Outcome, error)
	Close() error
}

// Progress receives per-record progress. *ledger.Run implements it.
type Progress interface {
	Advance(ctx context.Context) error
	RecordError(msg string)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBufferSize sets the capacity of the submission queue.
func WithBufferSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// WithProgress reports every persisted record to pr.
func WithProgress(pr Progress) Option {
	return func(p *Pipeline) { p.progress = pr }
}

// WithDeduplicator drops records whose keys d has already admitted.
func WithDeduplicator(d *Deduplicator) Option {
	return func(p *Pipeline) { p.dedup = d }
}

// WithRegisterer registers the pipeline counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pipeline) { p.registerer = reg }
}

// Pipeline feeds records to a Sink from a single worker, so the sink never
// sees concurrent calls.
type Pipeline struct {
	ctx        context.Context
	sink       Sink
	progress   Progress
	dedup      *Deduplicator
	registerer prometheus.Registerer
	bufferSize int

	recordCh chan models.Record
	done     chan struct{}
	started  bool

	stats   stats
	metrics *metrics

	mu     sync.Mutex // guards closed/err/started
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New builds a pipeline writing to sink. ctx is used for every sink call and
// should outlive the crawl so that queued records can drain on interrupt.
func New(ctx context.Context, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		ctx:        ctx,
		sink:       sink,
		bufferSize: defaultBufferSize,
		done:       make(chan struct{}),
		stats:      newStats(),
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.recordCh = make(chan models.Record, p.bufferSize)
	p.metrics = newMetrics(p.registerer)
	return p
}

// Start launches the worker goroutine.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.started {
		return
	}
	p.started = true
	go p.worker()
}

// Process enqueues records for downstream processing.
func (p *Pipeline) Process(recs ...models.Record) error {
	if len(recs) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, rec := range recs {
		if rec == nil {
			continue
		}
		if err := p.enqueue(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting records, waits for the queue to drain and closes the
// sink.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	started := p.started
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	if started {
		select {
		case <-p.done:
		case <-time.After(drainTimeout):
			return eris.Wrapf(ErrPipelineCloseTimeout, "after %s with %d queued", drainTimeout, len(p.recordCh))
		}
	}

	if err := p.sink.Close(); err != nil {
		p.setErr(eris.Wrap(err, "pipeline: close sink"))
	}
	return p.Err()
}

// Err returns the first run-level error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the per-record outcomes.
func (p *Pipeline) Stats() models.RunStats {
	return p.stats.snapshot()
}

// StartMetricsReporting logs progress every interval until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				zap.L().Info("pipeline: progress",
					zap.Int("created", s.Created),
					zap.Int("updated", s.Updated),
					zap.Int("failed", s.Failed),
					zap.Int("queued", len(p.recordCh)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer close(p.done)
	for rec := range p.recordCh {
		p.handle(rec)
	}
}

func (p *Pipeline) handle(rec models.Record) {
	rec, ok := p.prepare(rec)
	if !ok {
		return
	}

	kind := rec.Kind()
	out, err := p.sink.Persist(p.ctx, rec)
	if err != nil {
		p.stats.fail()
		p.metrics.observe(kind, "failed")
		if p.progress != nil {
			p.progress.RecordError(err.Error())
		}
		if errors.Is(err, reconcile.ErrIntegrity) {
			zap.L().Warn("pipeline: integrity violation", zap.String("kind", string(kind)), zap.Error(err))
		} else {
			zap.L().Error("pipeline: persist failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		return
	}

	p.stats.record(out)
	switch {
	case out.Created:
		p.metrics.observe(kind, "created")
	case out.Updated:
		p.metrics.observe(kind, "updated")
	default:
		p.metrics.observe(kind, "unchanged")
	}

	if p.progress == nil {
		return
	}
	// A missed checkpoint is caught up by the next one or by finalisation.
	if err := p.progress.Advance(p.ctx); err != nil {
		zap.L().Warn("pipeline: checkpoint failed", zap.Error(err))
		p.progress.RecordError(eris.Wrap(err, "checkpoint").Error())
	}
}

// prepare normalises, validates and deduplicates rec. Dropped records are
// counted under a reason label.
func (p *Pipeline) prepare(rec models.Record) (models.Record, bool) {
	rec = parser.Normalize(rec)

	if err := parser.Validate(rec); err != nil {
		label := "invalid_record"
		var verr *parser.ValidationError
		if errors.As(err, &verr) {
			label = verr.Label()
		}
		p.drop(rec.Kind(), label)
		zap.L().Warn("pipeline: validation failed", zap.String("kind", string(rec.Kind())), zap.Error(err))
		return nil, false
	}

	if p.dedup != nil {
		if reason, ok := p.dedup.Admit(rec); !ok {
			p.drop(rec.Kind(), reason)
			return nil, false
		}
	}
	return rec, true
}

func (p *Pipeline) drop(kind models.Kind, label string) {
	p.stats.drop(label)
	p.metrics.observe(kind, "dropped")
}

func (p *Pipeline) enqueue(rec models.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- rec:
		return nil
	}
}

// setErr records the first run-level error and stops accepting records. The
// worker keeps draining what is already queued.
func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	zap.L().Error("pipeline: stopped", zap.Error(err))
	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type stats struct {
	mu      sync.Mutex
	created int
	updated int
	failed  int
	byKind  map[models.Kind]int
	dropped map[string]int
}

func newStats() stats {
	return stats{
		byKind:  make(map[models.Kind]int),
		dropped: make(map[string]int),
	}
}

func (s *stats) record(out models.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out.Created {
		s.created++
	} else if out.Updated {
		s.updated++
	}
	s.byKind[out.Kind]++
}

func (s *stats) fail() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *stats) drop(label string) {
	s.mu.Lock()
	s.dropped[label]++
	s.mu.Unlock()
}

func (s *stats) snapshot() models.RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.RunStats{
		Created: s.created,
		Updated: s.updated,
		Failed:  s.failed,
		ByKind:  maps.Clone(s.byKind),
		Dropped: maps.Clone(s.dropped),
	}
}

type metrics struct {
	records *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_records_total",
			Help: "Records handled by the pipeline by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	if reg != nil {
		reg.MustRegister(records)
	}
	return &metrics{records: records}
}

func (m *metrics) observe(kind models.Kind, outcome string) {
	m.records.WithLabelValues(string(kind), outcome).Inc()
}
