package knowledge

import (
	"context"
	"fmt"

	"github.com/hyperjump/tsunagu/internal/models"
	"go.uber.org/zap"
)

// Source produces the current set of source documents keyed by URL.
type Source interface {
	Crawl(ctx context.Context) (map[string]models.SourceDocument, error)
}

// EntryStore lists entries and accepts sync writes.
type EntryStore interface {
	Store
	ListEntries(ctx context.Context) ([]models.KnowledgeEntry, error)
}

// PageIndexer receives the crawled documents after each run.
type PageIndexer interface {
	IndexPages(ctx context.Context, docs []models.SourceDocument) error
}

// Service runs a full crawl and sync.
type Service struct {
	source Source
	store  EntryStore
	engine *Engine
	index  PageIndexer
	logger *zap.Logger
}

// NewService creates a service. index may be nil.
func NewService(source Source, store EntryStore, origin string, index PageIndexer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source: source,
		store:  store,
		engine: NewEngine(store, origin, logger),
		index:  index,
		logger: logger,
	}
}

// Run crawls the site, syncs the store and refreshes the page index.
// With dryRun the store is read but not written.
func (s *Service) Run(ctx context.Context, dryRun bool) (*models.SyncReport, error) {
	docs, err := s.source.Crawl(ctx)
	if err != nil {
		return nil, fmt.Errorf("crawl site: %w", err)
	}
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	s.logger.Info("knowledge sync starting", zap.Int("documents", len(docs)), zap.Int("entries", len(entries)))

	var report *models.SyncReport
	if dryRun {
		report, err = s.engine.Plan(ctx, docs, entries)
	} else {
		report, err = s.engine.Sync(ctx, docs, entries)
	}
	if err != nil {
		return report, err
	}
	s.logger.Info("knowledge sync finished",
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("updated", len(report.Updated)),
		zap.Int("created", len(report.Created)),
		zap.Int("orphaned", len(report.Orphaned)),
		zap.Bool("dry_run", dryRun),
	)

	if s.index != nil {
		pages := make([]models.SourceDocument, 0, len(docs))
		for _, d := range docs {
			pages = append(pages, d)
		}
		if err := s.index.IndexPages(ctx, pages); err != nil {
			s.logger.Warn("help index refresh failed", zap.Error(err))
		}
	}
	return report, nil
}
