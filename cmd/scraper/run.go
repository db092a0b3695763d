package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mehran282/off-board-v1/config"
	"github.com/mehran282/off-board-v1/ledger"
	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/pipeline"
	"github.com/mehran282/off-board-v1/reconcile"
	"github.com/mehran282/off-board-v1/scraper"
	"github.com/mehran282/off-board-v1/store"
)

const reportInterval = 10 * time.Second

// runOptions carries the run command flags.
type runOptions struct {
	dryRun    bool
	output    string
	format    string
	noPreload bool
	verbose   bool

	scraperOpts []scraper.Option
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:       "run [flyers|offers|retailers|products|all]",
	Short:     "Run one ingestion",
	Long:      "Crawls kaufDA for the given run type (default all) and reconciles the records into the database under a new ledger entry.",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"flyers", "offers", "retailers", "products", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := models.RunAll
		if len(args) == 1 {
			t, err := models.ParseRunType(args[0])
			if err != nil {
				return err
			}
			typ = t
		}

		if runFlags.verbose {
			if err := config.InitLogger(config.LogConfig{Level: "debug", Format: cfg.Log.Format}); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			zap.L().Info("shutdown signal received, waiting for in-flight work to finish")
		}()

		metrics := scraper.NewMetrics()
		opts := runFlags
		opts.scraperOpts = append(opts.scraperOpts, scraper.WithMetrics(metrics))

		g, gctx := errgroup.WithContext(ctx)
		var srv *http.Server
		if cfg.Metrics.Addr != "" {
			srv = &http.Server{
				Addr:              cfg.Metrics.Addr,
				Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				zap.L().Info("metrics server enabled", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return eris.Wrap(err, "metrics server")
				}
				return nil
			})
		}
		g.Go(func() error {
			defer shutdownServer(srv)
			return runIngest(gctx, cfg, typ, opts, metrics.Registry, os.Stdout)
		})
		return g.Wait()
	},
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "export records to files instead of the database (no ledger entry)")
	f.StringVar(&runFlags.output, "output", "offboard.jsonl", "export path for --dry-run")
	f.StringVar(&runFlags.format, "format", "json", "export format for --dry-run: json, csv or both")
	f.BoolVar(&runFlags.noPreload, "no-preload", false, "skip loading known flyer and offer keys before crawling")
	f.BoolVarP(&runFlags.verbose, "verbose", "v", false, "debug logging and periodic progress reports")

	rootCmd.AddCommand(runCmd)
}

func shutdownServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.L().Error("metrics server shutdown failed", zap.Error(err))
	}
}

// runIngest performs one run. ctx bounds the crawl only; the pipeline drains
// and the ledger is finalised after ctx is cancelled.
func runIngest(ctx context.Context, cfg *config.Config, typ models.RunType, opts runOptions, reg prometheus.Registerer, out io.Writer) error {
	persistCtx := context.WithoutCancel(ctx)

	s, err := scraper.New(cfg.Scrape, typ.Kinds(), opts.scraperOpts...)
	if err != nil {
		return eris.Wrap(err, "init scraper")
	}

	zap.L().Info("starting run",
		zap.String("type", string(typ)),
		zap.String("base_url", cfg.Scrape.BaseURL),
		zap.Int("max_pages", cfg.Scrape.MaxPages),
		zap.Bool("dry_run", opts.dryRun),
	)

	if opts.dryRun {
		return dryRun(ctx, persistCtx, cfg, s, opts, reg, out)
	}

	db, err := store.Open(persistCtx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		return eris.Wrap(err, "open store")
	}
	defer db.Close() //nolint:errcheck

	if err := db.Migrate(persistCtx); err != nil {
		return eris.Wrap(err, "migrate store")
	}

	run, err := ledger.Start(persistCtx, db, typ, ledger.WithCheckpointEvery(cfg.Pipeline.CheckpointEvery))
	if err != nil {
		return err
	}
	log := zap.L().With(zap.String("run_id", run.ID()))

	dedup := pipeline.NewDeduplicator()
	if cfg.Pipeline.Preload && !opts.noPreload {
		if err := dedup.Preload(persistCtx, db); err != nil {
			log.Warn("preloading known keys failed, continuing without them", zap.Error(err))
		}
	}

	rec, err := reconcile.New(db,
		reconcile.WithCacheSize(cfg.Pipeline.CacheSize),
		reconcile.WithDefaultCategory(cfg.Pipeline.DefaultCategory),
	)
	if err != nil {
		return failRun(persistCtx, run, eris.Wrap(err, "init reconciler"))
	}

	p := pipeline.New(persistCtx, rec,
		pipeline.WithBufferSize(cfg.Pipeline.BufferSize),
		pipeline.WithProgress(run),
		pipeline.WithDeduplicator(dedup),
		pipeline.WithRegisterer(reg),
	)
	p.Start()
	if opts.verbose {
		p.StartMetricsReporting(reportInterval)
	}

	result, crawlErr := s.Run(ctx, p)
	closeErr := p.Close()
	stats := p.Stats()

	interrupted := ctx.Err() != nil
	if crawlErr != nil && interrupted {
		crawlErr = nil
	}
	if err := errors.Join(crawlErr, closeErr); err != nil {
		return failRun(persistCtx, run, err)
	}

	if interrupted {
		if err := run.Cancel(persistCtx, stats); err != nil {
			return err
		}
		log.Warn("run cancelled", zap.Int("items", run.Items()))
	} else if err := run.Complete(persistCtx, stats); err != nil {
		return err
	}

	totals, err := store.Counts(persistCtx, db)
	if err != nil {
		log.Warn("reading table counts failed", zap.Error(err))
		printSummary(out, result, stats, nil, run.Entry().Status, "")
		return nil
	}
	printSummary(out, result, stats, &totals, run.Entry().Status, "")
	return nil
}

// failRun marks run as failed and returns cause.
func failRun(ctx context.Context, run *ledger.Run, cause error) error {
	if err := run.Fail(ctx, cause); err != nil {
		zap.L().Error("marking run as failed", zap.String("run_id", run.ID()), zap.Error(err))
	}
	return cause
}

func dryRun(ctx, persistCtx context.Context, cfg *config.Config, s *scraper.Scraper, opts runOptions, reg prometheus.Registerer, out io.Writer) error {
	sink, err := pipeline.NewExportSink(opts.format, opts.output)
	if err != nil {
		return err
	}

	p := pipeline.New(persistCtx, sink,
		pipeline.WithBufferSize(cfg.Pipeline.BufferSize),
		pipeline.WithDeduplicator(pipeline.NewDeduplicator()),
		pipeline.WithRegisterer(reg),
	)
	p.Start()
	if opts.verbose {
		p.StartMetricsReporting(reportInterval)
	}

	result, crawlErr := s.Run(ctx, p)
	closeErr := p.Close()
	if ctx.Err() != nil {
		crawlErr = nil
	}
	if err := errors.Join(crawlErr, closeErr); err != nil {
		return err
	}

	status := models.StatusCompleted
	if ctx.Err() != nil {
		status = models.StatusCancelled
	}
	printSummary(out, result, p.Stats(), nil, status, opts.output)
	return nil
}

func printSummary(w io.Writer, result *models.ScrapeResult, stats models.RunStats, totals *models.Totals, status models.RunStatus, output string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintf(w, "Run %s\n", status)

	if result != nil {
		duration := result.EndTime.Sub(result.StartTime).Round(time.Millisecond)
		successRate := 0.0
		if result.RequestCount > 0 {
			successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
		}
		fmt.Fprintf(w, "  Requests:      %d (%.2f%% ok)\n", result.RequestCount, successRate)
		fmt.Fprintf(w, "  Pages:         %d\n", result.PageCount)
		fmt.Fprintf(w, "  Extracted:     %d\n", result.RecordCount)
		fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
		fmt.Fprintf(w, "  Failed URLs:   %d\n", len(result.FailedURLs))
		if len(result.ErrorsByType) > 0 {
			fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
		}
		fmt.Fprintf(w, "  Duration:      %v\n", duration)
	}

	fmt.Fprintf(w, "  Created:       %d\n", stats.Created)
	fmt.Fprintf(w, "  Updated:       %d\n", stats.Updated)
	fmt.Fprintf(w, "  Failed:        %d\n", stats.Failed)
	if len(stats.ByKind) > 0 {
		fmt.Fprintf(w, "  By kind:       %v\n", stats.ByKind)
	}
	if len(stats.Dropped) > 0 {
		fmt.Fprintf(w, "  Dropped:       %v\n", stats.Dropped)
	}

	if totals != nil {
		fmt.Fprintf(w, "  Database:      %d retailers, %d flyers, %d offers, %d products, %d stores\n",
			totals.Retailers, totals.Flyers, totals.Offers, totals.Products, totals.Stores)
	}
	if output != "" {
		fmt.Fprintf(w, "  Output:        %s\n", output)
	}
	fmt.Fprintln(w, separator)
}
