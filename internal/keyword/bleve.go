package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/tsunagu/internal/knowledge"
	"github.com/hyperjump/tsunagu/internal/models"
)

// DefaultTitleBoost is applied to title matches when SearchOptions leave it unset.
const DefaultTitleBoost = 3.0

// BleveIndex implements PageIndex using Bleve. Documents are keyed by page URL.
type BleveIndex struct {
	mu    sync.Mutex
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, pageMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex creates an in-memory index, used when no index path is configured.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(pageMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func pageMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase and tokenize without stemming, so product terms match exactly.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", text)

	body := bleve.NewTextFieldMapping()
	body.Analyzer = standard.Name
	body.Store = false
	docMapping.AddFieldMappingsAt("content", body)

	docMapping.AddFieldMappingsAt("url", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("page", docMapping)
	im.DefaultType = "page"
	im.DefaultMapping = docMapping
	return im
}

// IndexPages replaces the indexed pages with docs. Pages no longer present are removed.
func (b *BleveIndex) IndexPages(ctx context.Context, docs []models.SourceDocument) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stale, err := b.allIDs()
	if err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		delete(stale, d.URL)
		err := batch.Index(d.URL, map[string]interface{}{
			"url":     d.URL,
			"title":   d.Title,
			"content": knowledge.PlainText(d.Content),
		})
		if err != nil {
			return fmt.Errorf("index page %s: %w", d.URL, err)
		}
	}
	for id := range stale {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

func (b *BleveIndex) allIDs() (map[string]struct{}, error) {
	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to get doc count: %w", err)
	}
	ids := make(map[string]struct{}, count)
	if count == 0 {
		return ids, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	for _, hit := range results.Hits {
		ids[hit.ID] = struct{}{}
	}
	return ids, nil
}

// Search matches query against page titles and text and returns up to limit hits, best first.
// When nothing matches exactly and opts.Fuzziness > 0, each term is retried as a fuzzy query.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	titleBoost := DefaultTitleBoost
	fuzziness := 0
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzziness = opts.Fuzziness
	}

	hits, err := b.run(matchQuery(query, titleBoost), limit)
	if err != nil || len(hits) > 0 || fuzziness <= 0 {
		return hits, err
	}
	return b.run(fuzzyQuery(terms, fuzziness, titleBoost), limit)
}

func (b *BleveIndex) run(q blevequery.Query, limit int) ([]*Hit, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"title", "url"}
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Hit, len(results.Hits))
	for i, hit := range results.Hits {
		title, _ := hit.Fields["title"].(string)
		out[i] = &Hit{URL: hit.ID, Title: title, Score: hit.Score}
	}
	return out, nil
}

func matchQuery(query string, titleBoost float64) blevequery.Query {
	tq := bleve.NewMatchQuery(query)
	tq.SetField("title")
	tq.SetBoost(titleBoost)
	cq := bleve.NewMatchQuery(query)
	cq.SetField("content")
	return bleve.NewDisjunctionQuery(tq, cq)
}

func fuzzyQuery(terms []string, fuzziness int, titleBoost float64) blevequery.Query {
	queries := make([]blevequery.Query, 0, len(terms)*2)
	for _, term := range terms {
		tq := bleve.NewFuzzyQuery(term)
		tq.SetFuzziness(fuzziness)
		tq.SetField("title")
		tq.SetBoost(titleBoost)
		cq := bleve.NewFuzzyQuery(term)
		cq.SetFuzziness(fuzziness)
		cq.SetField("content")
		queries = append(queries, tq, cq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the number of indexed pages.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
