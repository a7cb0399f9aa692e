// Package dedupe finds contacts sharing an email and reconciles their duplicate flag.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
)

const (
	// DefaultPageSize is the number of contacts requested per page.
	DefaultPageSize = 150
	// DefaultActivityWindow is how far back contacts are considered recently active.
	DefaultActivityWindow = 91 * 24 * time.Hour
)

// ContactLister returns pages of contacts in directory order.
type ContactLister interface {
	ListContacts(ctx context.Context, perPage int, startingAfter string) (*models.ContactPage, error)
}

// Fetcher accumulates contact pages until activity falls behind a cutoff.
type Fetcher struct {
	lister   ContactLister
	pageSize int
}

// NewFetcher creates a fetcher. pageSize <= 0 uses DefaultPageSize.
func NewFetcher(lister ContactLister, pageSize int) *Fetcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Fetcher{lister: lister, pageSize: pageSize}
}

// FetchRecentContacts returns every contact on the pages up to and including the first page
// whose leading contact was last seen before cutoff. Only the first record of each page is
// inspected; later records on that page are returned whatever their activity.
// Paging also ends when the directory has no further page.
func (f *Fetcher) FetchRecentContacts(ctx context.Context, cutoff time.Time) ([]models.Contact, error) {
	var contacts []models.Contact
	cursor := ""
	for pageNum := 1; ; pageNum++ {
		page, err := f.lister.ListContacts(ctx, f.pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", pageNum, err)
		}
		contacts = append(contacts, page.Contacts...)
		if len(page.Contacts) == 0 || pastCutoff(page.Contacts[0], cutoff) || page.Next == "" {
			return contacts, nil
		}
		cursor = page.Next
	}
}

func pastCutoff(c models.Contact, cutoff time.Time) bool {
	return c.Seen() && c.LastSeenAt.Before(cutoff)
}
