// Package scraper fetches kaufDA listing, retailer and brochure pages with
// colly and feeds the extracted records to a Processor.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mehran282/off-board-v1/config"
	"github.com/mehran282/off-board-v1/extract"
	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/pipeline"
)

// Request context keys.
const (
	ctxStart        = "start"
	ctxKind         = "kind"
	ctxRetailer     = "retailer"
	ctxAlternatives = "alternatives"
	ctxFlyer        = "flyer"
)

// Processor receives extracted records. *pipeline.Pipeline implements it.
type Processor interface {
	Process(recs ...models.Record) error
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithTransport replaces the HTTP transport used by the collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) { s.collector.WithTransport(rt) }
}

// WithMetrics reports to m instead of a fresh metrics set.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) { s.Metrics = m }
}

// Scraper wraps the colly collector, retry logic and follow-up fetches for
// one run.
type Scraper struct {
	cfg       config.ScrapeConfig
	kinds     models.KindSet
	extractor *extract.Extractor
	collector *colly.Collector
	limiter   *rate.Limiter
	retry     *retryManager
	Metrics   *Metrics

	requestCount int64
	pageCount    int64
	followUps    int64
	errorCount   int64
	recordCount  int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
	pending      map[string]models.FlyerRecord

	handlersOnce sync.Once
}

// New builds a scraper for the record kinds of one run.
func New(cfg config.ScrapeConfig, kinds models.KindSet, opts ...Option) (*Scraper, error) {
	hosts := make([]string, 0, 2)
	for _, raw := range []string{cfg.BaseURL, cfg.BrochureAPIURL} {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "scraper: parse %q", raw)
		}
		if parsed.Host == "" {
			return nil, eris.Errorf("scraper: url %q must include a host", raw)
		}
		hosts = append(hosts, parsed.Hostname())
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(hosts...),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	// Rules are matched in order; the catch-all bounds everything else.
	rules := make([]*colly.LimitRule, 0, len(hosts)+1)
	for _, host := range hosts {
		rules = append(rules, &colly.LimitRule{
			DomainGlob:  host,
			Parallelism: cfg.DomainParallelism,
			Delay:       cfg.Delay,
			RandomDelay: cfg.RandomDelay,
		})
	}
	rules = append(rules, &colly.LimitRule{DomainGlob: "*", Parallelism: cfg.Parallelism})
	if err := collector.Limits(rules); err != nil {
		return nil, eris.Wrap(err, "scraper: configure rate limits")
	}

	s := &Scraper{
		cfg:          cfg,
		kinds:        kinds,
		extractor:    extract.New(cfg.BaseURL),
		collector:    collector,
		errorsByType: make(map[string]int),
		pending:      make(map[string]models.FlyerRecord),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Metrics == nil {
		s.Metrics = NewMetrics()
	}
	s.retry = newRetryManager(cfg, s.Metrics)
	return s, nil
}

// Run crawls from the base URL and streams records to p. Cancelling ctx
// stops new requests; in-flight ones finish and their records are still
// delivered.
func (s *Scraper) Run(ctx context.Context, p Processor) (*models.ScrapeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.configureHandlers(ctx, p)

	start := time.Now()
	if err := s.visit(ctx, s.cfg.BaseURL, extract.ListingPage, nil); err != nil {
		return nil, eris.Wrap(err, "scraper: initial visit")
	}
	s.collector.Wait()

	// Brochure fetches that never ran still owe their flyer.
	s.mu.Lock()
	orphans := make([]models.FlyerRecord, 0, len(s.pending))
	for id, f := range s.pending {
		orphans = append(orphans, f)
		delete(s.pending, id)
	}
	s.mu.Unlock()
	for _, f := range orphans {
		s.emitFlyer(p, f)
	}

	return &models.ScrapeResult{
		StartTime:    start,
		EndTime:      time.Now(),
		RecordCount:  int(atomic.LoadInt64(&s.recordCount)),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
		RetryCount:   s.retry.TotalRetries(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		PageCount:    int(atomic.LoadInt64(&s.pageCount)),
	}, nil
}

func (s *Scraper) visit(ctx context.Context, target string, kind extract.PageKind, put func(*colly.Context)) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	cctx := colly.NewContext()
	cctx.Put(ctxKind, kind)
	if put != nil {
		put(cctx)
	}
	return s.collector.Request(http.MethodGet, target, nil, cctx, nil)
}

// follow reserves one follow-up fetch from the max_pages budget.
func (s *Scraper) follow() bool {
	return atomic.AddInt64(&s.followUps, 1) <= int64(s.cfg.MaxPages)
}

func (s *Scraper) configureHandlers(ctx context.Context, p Processor) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			if ctx.Err() != nil {
				r.Abort()
				return
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					r.Abort()
					return
				}
			}
			r.Ctx.Put(ctxStart, time.Now())
			current := atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest(pageKind(r.Ctx).String())
			if current%50 == 0 {
				zap.L().Debug("scraper: request progress",
					zap.Int64("requests", current),
					zap.Int64("pages", atomic.LoadInt64(&s.pageCount)),
					zap.String("url", r.URL.String()),
				)
			}
		})

		s.collector.OnResponse(func(r *colly.Response) {
			atomic.AddInt64(&s.pageCount, 1)
			if start, ok := r.Request.Ctx.GetAny(ctxStart).(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
			s.handlePage(ctx, p, r)
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			s.handleError(ctx, p, r, err)
		})
	})
}

func (s *Scraper) handlePage(ctx context.Context, p Processor, r *colly.Response) {
	page := extract.Page{
		URL:  r.Request.URL.String(),
		Kind: pageKind(r.Request.Ctx),
		Body: r.Body,
	}

	switch page.Kind {
	case extract.ListingPage:
		kinds := s.kinds
		if s.cfg.FetchFlyerPages && kinds.Has(models.KindOffer) && !kinds.Has(models.KindFlyer) {
			// Brochure pages carry offers too; extract flyers to drive them.
			kinds = extend(kinds, models.KindFlyer)
		}
		if kinds.Has(models.KindStore) && !kinds.Has(models.KindRetailer) {
			// Store pages are found through retailers.
			kinds = extend(kinds, models.KindRetailer)
		}
		for rec := range s.extractor.Extract(page, kinds) {
			s.route(ctx, p, rec)
		}

	case extract.RetailerPage:
		page.Retailer = r.Request.Ctx.Get(ctxRetailer)
		n := 0
		for rec := range s.extractor.Extract(page, s.kinds) {
			s.emit(p, rec)
			n++
		}
		if n == 0 {
			s.nextAlternative(ctx, r.Request.Ctx)
		}

	case extract.BrochurePages:
		f, ok := r.Request.Ctx.GetAny(ctxFlyer).(models.FlyerRecord)
		if !ok {
			return
		}
		s.settle(f)
		page.Flyer = &f
		for rec := range s.extractor.Extract(page, s.kinds) {
			s.emit(p, rec)
		}
	}
}

// route emits rec or schedules the follow-up fetch it calls for.
func (s *Scraper) route(ctx context.Context, p Processor, rec models.Record) {
	switch r := rec.(type) {
	case models.RetailerRecord:
		if s.kinds.Has(models.KindRetailer) {
			s.emit(p, r)
		}
		if s.kinds.Has(models.KindStore) && len(r.StorePages) > 0 && s.follow() {
			s.visitRetailer(ctx, r.Name, r.StorePages)
		}
	case models.FlyerRecord:
		if !s.cfg.FetchFlyerPages || r.ContentID == nil || !s.follow() {
			s.emitFlyer(p, r)
			return
		}
		s.fetchBrochure(ctx, p, r)
	default:
		s.emit(p, rec)
	}
}

func (s *Scraper) visitRetailer(ctx context.Context, name string, pages []string) {
	err := s.visit(ctx, pages[0], extract.RetailerPage, func(c *colly.Context) {
		c.Put(ctxRetailer, name)
		c.Put(ctxAlternatives, pages[1:])
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Debug("scraper: retailer page not visited", zap.String("retailer", name), zap.Error(err))
		if len(pages) > 1 {
			s.visitRetailer(ctx, name, pages[1:])
		}
	}
}

// nextAlternative tries the next candidate store page of the retailer the
// request was for.
func (s *Scraper) nextAlternative(ctx context.Context, c *colly.Context) {
	alternatives, _ := c.GetAny(ctxAlternatives).([]string)
	if len(alternatives) == 0 {
		return
	}
	name := c.Get(ctxRetailer)
	zap.L().Info("scraper: trying alternative store page", zap.String("retailer", name), zap.String("url", alternatives[0]))
	s.visitRetailer(ctx, name, alternatives)
}

func (s *Scraper) fetchBrochure(ctx context.Context, p Processor, f models.FlyerRecord) {
	id := *f.ContentID
	s.mu.Lock()
	if _, dup := s.pending[id]; dup {
		s.mu.Unlock()
		return
	}
	s.pending[id] = f
	s.mu.Unlock()

	target := extract.BrochurePagesURL(s.cfg.BrochureAPIURL, id)
	err := s.visit(ctx, target, extract.BrochurePages, func(c *colly.Context) { c.Put(ctxFlyer, f) })
	if err != nil {
		zap.L().Debug("scraper: brochure not fetched", zap.String("content_id", id), zap.Error(err))
		if s.settle(f) {
			s.emitFlyer(p, f)
		}
	}
}

// settle clears the pending brochure of f and reports whether it was still
// pending.
func (s *Scraper) settle(f models.FlyerRecord) bool {
	if f.ContentID == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[*f.ContentID]
	delete(s.pending, *f.ContentID)
	return ok
}

func (s *Scraper) emitFlyer(p Processor, f models.FlyerRecord) {
	if s.kinds.Has(models.KindFlyer) {
		s.emit(p, f)
	}
}

func (s *Scraper) emit(p Processor, rec models.Record) {
	atomic.AddInt64(&s.recordCount, 1)
	s.Metrics.IncRecords(rec.Kind())
	if err := p.Process(rec); err != nil {
		if errors.Is(err, pipeline.ErrPipelineClosed) {
			zap.L().Debug("scraper: record not accepted", zap.Error(err))
			return
		}
		zap.L().Error("scraper: pipeline process error", zap.Error(err))
	}
}

func (s *Scraper) handleError(ctx context.Context, p Processor, r *colly.Response, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	statusCode := 0
	if r != nil {
		statusCode = r.StatusCode
	}
	classified := classifyError(err, statusCode)
	category := errorTypeLabel(classified)

	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()
	s.Metrics.IncError(category)

	if r == nil || r.Request == nil {
		zap.L().Error("scraper: request error", zap.String("category", category), zap.Error(err))
		return
	}
	target := r.Request.URL.String()
	kind := pageKind(r.Request.Ctx)
	zap.L().Warn("scraper: request error",
		zap.String("url", target),
		zap.Stringer("page", kind),
		zap.Int("status", statusCode),
		zap.String("category", category),
		zap.Error(err),
	)

	if retryable(classified) && s.retry.Retry(ctx, r.Request) {
		return
	}

	s.mu.Lock()
	s.failedURLs = append(s.failedURLs, target)
	s.mu.Unlock()

	switch kind {
	case extract.RetailerPage:
		s.nextAlternative(ctx, r.Request.Ctx)
	case extract.BrochurePages:
		if f, ok := r.Request.Ctx.GetAny(ctxFlyer).(models.FlyerRecord); ok && s.settle(f) {
			s.emitFlyer(p, f)
		}
	}
}

func pageKind(c *colly.Context) extract.PageKind {
	if c == nil {
		return extract.ListingPage
	}
	if k, ok := c.GetAny(ctxKind).(extract.PageKind); ok {
		return k
	}
	return extract.ListingPage
}

func extend(set models.KindSet, kinds ...models.Kind) models.KindSet {
	out := make(models.KindSet, len(set)+len(kinds))
	for k, v := range set {
		out[k] = v
	}
	for _, k := range kinds {
		out[k] = true
	}
	return out
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	return err
}
