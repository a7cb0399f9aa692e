// Package app builds the service components from configuration and exposes the job entry points.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/tsunagu/internal/config"
	"github.com/hyperjump/tsunagu/internal/dedupe"
	"github.com/hyperjump/tsunagu/internal/feedback"
	"github.com/hyperjump/tsunagu/internal/github"
	"github.com/hyperjump/tsunagu/internal/intercom"
	"github.com/hyperjump/tsunagu/internal/jobs"
	"github.com/hyperjump/tsunagu/internal/kare"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/knowledge"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/rest"
	"github.com/hyperjump/tsunagu/internal/storage"
	"github.com/hyperjump/tsunagu/internal/webhook"
	"go.uber.org/zap"
)

// App holds initialized services.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Storage   storage.Storage
	Index     *keyword.BleveIndex
	Intercom  *intercom.Client
	Kare      *kare.Client
	GitHub    *github.Client
	Runner    *jobs.Runner
	Scheduler *jobs.Scheduler
	Webhooks  *webhook.Service
	Feedback  *feedback.Processor

	reconciler *dedupe.Reconciler
	knowledge  *knowledge.Service

	// background runs outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc
}

type options struct {
	memoryIndex bool
	now         func() time.Time
}

// Option configures New.
type Option func(*options)

// WithMemoryIndex keeps the help index in memory instead of opening the on-disk index,
// which a running server holds locked.
func WithMemoryIndex() Option {
	return func(o *options) { o.memoryIndex = true }
}

// WithClock overrides time.Now for the reconciler and webhook handlers.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates every component described by cfg.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var index *keyword.BleveIndex
	if o.memoryIndex || cfg.Storage.HelpIndexPath == "" {
		index, err = keyword.NewMemoryIndex()
	} else {
		index, err = keyword.NewBleveIndex(cfg.Storage.HelpIndexPath)
	}
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize help index: %w", err)
	}

	ic := intercom.NewClient(cfg.Intercom.BaseURL, cfg.Intercom.Token,
		rest.WithRateLimit(cfg.Intercom.RateLimit, 1))
	kc := kare.NewClient(cfg.Kare.BaseURL,
		kare.Credentials{ClientID: cfg.Kare.ClientID, ClientSecret: cfg.Kare.ClientSecret},
		kare.WithLocale(cfg.Kare.Locale),
		kare.WithPageSize(cfg.Kare.PageSize),
		kare.WithRESTOptions(rest.WithRateLimit(cfg.Kare.RateLimit, 1)),
	)
	gh := github.NewClient(cfg.GitHub.BaseURL, cfg.GitHub.Token)

	site := rest.NewClient(cfg.Site.Origin, rest.WithHeader("Accept", "text/html,application/xml"))
	crawler := knowledge.NewCrawler(site, knowledge.CrawlerConfig{
		Origin:           cfg.Site.Origin,
		SitemapPath:      cfg.Site.SitemapPath,
		Segment:          cfg.Site.Segment,
		ExcludedSuffixes: cfg.Site.ExcludedSuffixes,
		ContentClass:     cfg.Site.ContentClass,
		TitleSuffix:      cfg.Site.TitleSuffix,
		Concurrency:      cfg.Site.Concurrency,
	}, logger.Named("crawler"))

	reconciler := dedupe.NewReconciler(ic,
		dedupe.WithLogger(logger.Named("dedupe")),
		dedupe.WithClock(o.now),
		dedupe.WithActivityWindow(cfg.Dedupe.ActivityWindow),
		dedupe.WithPageSize(cfg.Dedupe.PageSize),
	)
	syncer := knowledge.NewService(crawler, kc, cfg.Site.Origin, index, logger.Named("knowledge"))

	runner := jobs.NewRunner(store, logger.Named("jobs"))
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Storage:    store,
		Index:      index,
		Intercom:   ic,
		Kare:       kc,
		GitHub:     gh,
		Runner:     runner,
		Scheduler:  jobs.NewScheduler(runner, logger.Named("scheduler")),
		Feedback:   feedback.NewProcessor(gh.Repo(cfg.GitHub.FeedbackRepo), logger.Named("feedback")),
		reconciler: reconciler,
		knowledge:  syncer,
		ctx:        ctx,
		cancel:     cancel,
	}
	a.Webhooks = webhook.NewService(ic,
		webhook.WithLogger(logger.Named("webhook")),
		webhook.WithIssues(gh.Repo(cfg.GitHub.SiteRepo)),
		webhook.WithEvents(store),
		webhook.WithSyncTrigger(func(context.Context) (*models.Run, error) {
			return a.StartKnowledgeSync(false)
		}),
		webhook.WithBotID(cfg.Intercom.BotID),
		webhook.WithClock(o.now),
	)
	return a, nil
}

// RunDuplicateReconciliation runs the reconciliation and waits for it.
func (a *App) RunDuplicateReconciliation(ctx context.Context, dryRun bool) (*models.Run, *models.DedupeReport, error) {
	var report *models.DedupeReport
	run, err := a.Runner.Run(ctx, models.RunDedupe, func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		report, err = a.reconciler.Run(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		return summaryOf(report)
	})
	return run, report, err
}

// RunKnowledgeSync crawls the help site, syncs the knowledge store and waits for it.
func (a *App) RunKnowledgeSync(ctx context.Context, dryRun bool) (*models.Run, *models.SyncReport, error) {
	var report *models.SyncReport
	run, err := a.Runner.Run(ctx, models.RunSync, func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		report, err = a.knowledge.Run(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		return summaryOf(report)
	})
	return run, report, err
}

// StartDuplicateReconciliation runs the reconciliation in the background.
func (a *App) StartDuplicateReconciliation(dryRun bool) (*models.Run, error) {
	return a.Runner.Start(a.ctx, models.RunDedupe, a.dedupeJob(dryRun))
}

// StartKnowledgeSync runs the knowledge sync in the background.
func (a *App) StartKnowledgeSync(dryRun bool) (*models.Run, error) {
	return a.Runner.Start(a.ctx, models.RunSync, a.syncJob(dryRun))
}

func (a *App) dedupeJob(dryRun bool) jobs.Job {
	return func(ctx context.Context) (map[string]interface{}, error) {
		report, err := a.reconciler.Run(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		return summaryOf(report)
	}
}

func (a *App) syncJob(dryRun bool) jobs.Job {
	return func(ctx context.Context) (map[string]interface{}, error) {
		report, err := a.knowledge.Run(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		return summaryOf(report)
	}
}

// StartScheduler marks runs left over from a previous process as failed and starts the
// periodic jobs. The schedule stops on Close.
func (a *App) StartScheduler(ctx context.Context) {
	if n, err := a.Storage.AbandonRunning(ctx); err != nil {
		a.Logger.Warn("failed to abandon stale runs", zap.Error(err))
	} else if n > 0 {
		a.Logger.Info("abandoned stale runs", zap.Int64("count", n))
	}
	a.Scheduler.Add(models.RunDedupe, a.Config.Dedupe.Interval, a.dedupeJob(false))
	a.Scheduler.Add(models.RunSync, a.Config.Sync.Interval, a.syncJob(false))
	a.Scheduler.Start(a.ctx)
}

// ApplyIntervals updates the schedule from a reloaded config.
func (a *App) ApplyIntervals(cfg *config.Config) {
	a.Scheduler.SetInterval(models.RunDedupe, cfg.Dedupe.Interval)
	a.Scheduler.SetInterval(models.RunSync, cfg.Sync.Interval)
}

// Status is the service state reported by the status endpoint.
type Status struct {
	*storage.Stats
	HelpPages      uint64                    `json:"help_pages"`
	DiskUsageBytes *int64                    `json:"disk_usage_bytes,omitempty"`
	Running        []models.RunKind          `json:"running"`
	Intervals      map[models.RunKind]string `json:"intervals"`
}

// Status collects stored history, index size and job state.
func (a *App) Status(ctx context.Context) (*Status, error) {
	stats, err := a.Storage.Stats(ctx)
	if err != nil {
		return nil, err
	}
	pages, err := a.Index.DocCount()
	if err != nil {
		return nil, err
	}
	st := &Status{
		Stats:     stats,
		HelpPages: pages,
		Running:   []models.RunKind{},
		Intervals: make(map[models.RunKind]string),
	}
	for _, kind := range []models.RunKind{models.RunDedupe, models.RunSync} {
		if a.Runner.Running(kind) {
			st.Running = append(st.Running, kind)
		}
		if d := a.Scheduler.Interval(kind); d > 0 {
			st.Intervals[kind] = d.String()
		}
	}
	if n, err := storage.DiskUsageBytes(a.Config.Storage.DatabasePath, a.Config.Storage.HelpIndexPath); err == nil {
		st.DiskUsageBytes = &n
	}
	return st, nil
}

// SearchHelp queries the help index, retrying with typo tolerance when nothing matches.
func (a *App) SearchHelp(ctx context.Context, query string, limit int) ([]*keyword.Hit, error) {
	hits, err := a.Index.Search(ctx, query, limit, &keyword.SearchOptions{Fuzziness: 1})
	if err != nil {
		return nil, fmt.Errorf("search help: %w", err)
	}
	return hits, nil
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	a.cancel()
	a.Scheduler.Wait()
	a.Runner.Wait()
	var firstErr error
	if err := a.Index.Close(); err != nil {
		firstErr = err
	}
	if err := a.Storage.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func summaryOf(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
