package models

// SourceDocument is one help page crawled from the site.
type SourceDocument struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// KnowledgeEntry is one content node in the knowledge store.
// SourceURL is empty for entries that were not created from the site.
type KnowledgeEntry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	Content   string `json:"content,omitempty"`
}

// SyncReport lists the outcome for every source URL of a sync run.
// Skipped, Updated and Created are disjoint.
type SyncReport struct {
	Skipped []string `json:"skipped"`
	Updated []string `json:"updated"`
	Created []string `json:"created"`
	// Orphaned are entry ids whose source page no longer exists. They are left untouched.
	Orphaned []string `json:"orphaned,omitempty"`
}
