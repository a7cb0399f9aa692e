// Package keyword provides full-text search over the crawled help pages.
package keyword

import (
	"context"

	"github.com/hyperjump/tsunagu/internal/models"
)

// SearchOptions tunes a search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score of title matches. Values <= 0 use DefaultTitleBoost.
	TitleBoost float64
	// Fuzziness is the edit distance allowed per term when an exact search finds nothing (0 disables).
	Fuzziness int
}

// PageIndex is the help page search index.
type PageIndex interface {
	IndexPages(ctx context.Context, docs []models.SourceDocument) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error)
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single search result.
type Hit struct {
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}
