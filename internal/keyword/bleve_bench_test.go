package keyword

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/tsunagu/internal/models"
)

func BenchmarkBleveIndexSearch(b *testing.B) {
	idx, err := NewMemoryIndex()
	if err != nil {
		b.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	docs := make([]models.SourceDocument, 500)
	for i := range docs {
		docs[i] = models.SourceDocument{
			URL:     fmt.Sprintf("https://tutorcruncher.com/crm/help/page-%d/", i),
			Title:   fmt.Sprintf("Help page %d", i),
			Content: fmt.Sprintf("<p>Invoices, lessons and reports for branch %d.</p>", i),
		}
	}
	if err := idx.IndexPages(ctx, docs); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, "invoice reports", 10, &SearchOptions{Fuzziness: 1})
	}
}
