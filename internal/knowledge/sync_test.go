package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fooContent = `<h2>How do I foo?</h2><p>This is how you foo</p>`
	barContent = `<h2>How do I bar?</h2><p>This is where you bar</p>`
	newContent = `<h2>How do I new?</h2><a src="/content_link/">This is where you new</a>`
)

type fakeStore struct {
	entries []models.KnowledgeEntry
	content map[string]string
	reads   []string
	updates map[string]string
	creates []models.SourceDocument
	readErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: []models.KnowledgeEntry{
			{ID: "node_foo", SourceURL: origin + "/crm/help/general/foo/"},
			{ID: "node_bar", SourceURL: origin + "/crm/help/general/bar/"},
			{ID: "node_manual"},
			{ID: "node_gone", SourceURL: origin + "/crm/help/general/gone/"},
		},
		content: map[string]string{
			"node_foo":    fooContent,
			"node_bar":    `<h2>How do I bar?</h2><p>This is not where you bar</p>`,
			"node_manual": "<p>manual</p>",
			"node_gone":   "<p>gone</p>",
		},
		updates: map[string]string{},
	}
}

func (s *fakeStore) ListEntries(context.Context) ([]models.KnowledgeEntry, error) {
	return s.entries, nil
}

func (s *fakeStore) GetContent(_ context.Context, id string) (string, error) {
	if s.readErr != nil {
		return "", s.readErr
	}
	s.reads = append(s.reads, id)
	return s.content[id], nil
}

func (s *fakeStore) UpdateContent(_ context.Context, id, content string) error {
	s.updates[id] = content
	s.content[id] = content
	return nil
}

func (s *fakeStore) CreateEntry(_ context.Context, doc models.SourceDocument) (string, error) {
	id := "node_new"
	s.creates = append(s.creates, doc)
	s.entries = append(s.entries, models.KnowledgeEntry{ID: id, SourceURL: doc.URL, Title: doc.Title})
	s.content[id] = doc.Content
	return id, nil
}

func sourceDocs() map[string]models.SourceDocument {
	docs := map[string]models.SourceDocument{}
	for _, d := range []models.SourceDocument{
		{URL: origin + "/crm/help/general/foo/", Title: "Foo Questions", Content: fooContent},
		{URL: origin + "/crm/help/general/bar/", Title: "Bar Questions", Content: barContent},
		{URL: origin + "/crm/help/general/new/", Title: "New Questions", Content: newContent},
	} {
		docs[d.URL] = d
	}
	return docs
}

func TestSync_ThreeWaySplit(t *testing.T) {
	store := newFakeStore()
	docs := sourceDocs()
	report, err := NewEngine(store, origin, nil).Sync(context.Background(), docs, store.entries)
	require.NoError(t, err)

	assert.Equal(t, []string{origin + "/crm/help/general/foo/"}, report.Skipped)
	assert.Equal(t, []string{origin + "/crm/help/general/bar/"}, report.Updated)
	assert.Equal(t, []string{origin + "/crm/help/general/new/"}, report.Created)
	assert.Equal(t, []string{"node_gone"}, report.Orphaned)

	assert.Equal(t, map[string]string{"node_bar": barContent}, store.updates)
	require.Len(t, store.creates, 1)
	assert.Equal(t, "New Questions", store.creates[0].Title)
	assert.Contains(t, store.creates[0].Content, `src="https://tutorcruncher.com/content_link/"`)
	assert.NotContains(t, store.reads, "node_manual", "entries without a url are never touched")
	assert.NotContains(t, store.reads, "node_gone")
	assert.Equal(t, "<p>gone</p>", store.content["node_gone"])

	assert.Len(t, docs, 3, "caller's document map is not consumed")
}

func TestSync_SecondRunIsNoop(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store, origin, nil)
	_, err := e.Sync(context.Background(), sourceDocs(), store.entries)
	require.NoError(t, err)

	store.updates = map[string]string{}
	store.creates = nil
	report, err := e.Sync(context.Background(), sourceDocs(), store.entries)
	require.NoError(t, err)
	assert.Empty(t, report.Updated)
	assert.Empty(t, report.Created)
	assert.Len(t, report.Skipped, 3)
	assert.Empty(t, store.updates)
	assert.Empty(t, store.creates)
}

func TestSync_RewritesStoredRelativeLinks(t *testing.T) {
	store := newFakeStore()
	store.content["node_foo"] = `<a href="/x/">x</a>`
	docs := map[string]models.SourceDocument{
		origin + "/crm/help/general/foo/": {URL: origin + "/crm/help/general/foo/", Content: `<a href="/x/">x</a>`},
	}
	report, err := NewEngine(store, origin, nil).Sync(context.Background(), docs, store.entries[:1])
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, []string{origin + "/crm/help/general/foo/"}, report.Updated)
	assert.Equal(t, `<a href="https://tutorcruncher.com/x/">x</a>`, store.updates["node_foo"])
}

func TestSync_SkipsStoredContentMatchingNormalizedSource(t *testing.T) {
	store := newFakeStore()
	store.content["node_foo"] = `<a href="https://tutorcruncher.com/x/">x</a>`
	docs := map[string]models.SourceDocument{
		origin + "/crm/help/general/foo/": {URL: origin + "/crm/help/general/foo/", Content: `<a href="/x/">x</a>`},
	}
	report, err := NewEngine(store, origin, nil).Sync(context.Background(), docs, store.entries[:1])
	require.NoError(t, err)
	assert.Len(t, report.Skipped, 1)
	assert.Empty(t, store.updates)
}

func TestSync_DuplicateSourceURLSyncsFirstOnly(t *testing.T) {
	store := newFakeStore()
	entries := []models.KnowledgeEntry{
		{ID: "node_bar", SourceURL: origin + "/crm/help/general/bar/"},
		{ID: "node_bar_copy", SourceURL: origin + "/crm/help/general/bar/"},
	}
	docs := map[string]models.SourceDocument{
		origin + "/crm/help/general/bar/": {URL: origin + "/crm/help/general/bar/", Content: barContent},
	}
	report, err := NewEngine(store, origin, nil).Sync(context.Background(), docs, entries)
	require.NoError(t, err)
	assert.Len(t, report.Updated, 1)
	assert.Empty(t, report.Orphaned)
	assert.Equal(t, []string{"node_bar"}, store.reads)
}

func TestPlan_WritesNothing(t *testing.T) {
	store := newFakeStore()
	report, err := NewEngine(store, origin, nil).Plan(context.Background(), sourceDocs(), store.entries)
	require.NoError(t, err)
	assert.Len(t, report.Updated, 1)
	assert.Len(t, report.Created, 1)
	assert.Empty(t, store.updates)
	assert.Empty(t, store.creates)
}

func TestSync_ReadErrorAborts(t *testing.T) {
	store := newFakeStore()
	store.readErr = errors.New("timeout")
	_, err := NewEngine(store, origin, nil).Sync(context.Background(), sourceDocs(), store.entries)
	require.Error(t, err)
	assert.Empty(t, store.creates)
}
