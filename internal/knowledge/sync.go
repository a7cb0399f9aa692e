package knowledge

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/tsunagu/internal/models"
	"go.uber.org/zap"
)

// Store is the knowledge store written by the sync engine.
type Store interface {
	GetContent(ctx context.Context, id string) (string, error)
	UpdateContent(ctx context.Context, id, content string) error
	CreateEntry(ctx context.Context, doc models.SourceDocument) (string, error)
}

// Engine diffs source documents against store entries and upserts the differences.
type Engine struct {
	store  Store
	origin string
	logger *zap.Logger
}

// NewEngine creates an engine. origin absolutizes relative links in source content; stored
// content is compared byte for byte against that normalized source.
func NewEngine(store Store, origin string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, origin: origin, logger: logger}
}

// Sync updates entries whose source content changed and creates entries for new source URLs.
// Entries without a source URL, and entries whose page is gone, are never modified.
func (e *Engine) Sync(ctx context.Context, docs map[string]models.SourceDocument, entries []models.KnowledgeEntry) (*models.SyncReport, error) {
	return e.run(ctx, docs, entries, true)
}

// Plan reports what Sync would do, reading current content but writing nothing.
func (e *Engine) Plan(ctx context.Context, docs map[string]models.SourceDocument, entries []models.KnowledgeEntry) (*models.SyncReport, error) {
	return e.run(ctx, docs, entries, false)
}

func (e *Engine) run(ctx context.Context, docs map[string]models.SourceDocument, entries []models.KnowledgeEntry, apply bool) (*models.SyncReport, error) {
	remaining := make(map[string]models.SourceDocument, len(docs))
	for u, d := range docs {
		remaining[u] = d
	}

	indexed := make(map[string]bool, len(entries))
	report := &models.SyncReport{}
	for _, entry := range entries {
		if entry.SourceURL == "" {
			continue
		}
		if indexed[entry.SourceURL] {
			e.logger.Warn("several entries share a source url; only the first is synced",
				zap.String("url", entry.SourceURL), zap.String("entry", entry.ID))
			continue
		}
		indexed[entry.SourceURL] = true

		doc, ok := remaining[entry.SourceURL]
		if !ok {
			report.Orphaned = append(report.Orphaned, entry.ID)
			continue
		}
		delete(remaining, entry.SourceURL)

		current, err := e.store.GetContent(ctx, entry.ID)
		if err != nil {
			return report, fmt.Errorf("read entry %s: %w", entry.ID, err)
		}
		want := Normalize(doc.Content, e.origin)
		if current == want {
			report.Skipped = append(report.Skipped, entry.SourceURL)
			continue
		}
		if apply {
			if err := e.store.UpdateContent(ctx, entry.ID, want); err != nil {
				return report, fmt.Errorf("update entry %s: %w", entry.ID, err)
			}
			e.logger.Info("updated knowledge entry", zap.String("entry", entry.ID), zap.String("url", entry.SourceURL))
		}
		report.Updated = append(report.Updated, entry.SourceURL)
	}

	urls := make([]string, 0, len(remaining))
	for u := range remaining {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		doc := remaining[u]
		doc.Content = Normalize(doc.Content, e.origin)
		if apply {
			id, err := e.store.CreateEntry(ctx, doc)
			if err != nil {
				return report, fmt.Errorf("create entry for %s: %w", u, err)
			}
			e.logger.Info("created knowledge entry", zap.String("entry", id), zap.String("url", u))
		}
		report.Created = append(report.Created, u)
	}
	return report, nil
}
