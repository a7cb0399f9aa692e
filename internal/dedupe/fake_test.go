package dedupe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
)

var base = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return base.AddDate(0, 0, n-1) }

func seenAt(t time.Time) *time.Time { return &t }

func intPtr(n int) *int { return &n }

// fakeDirectory serves contacts in fixed pages and applies flag writes to its own copy.
type fakeDirectory struct {
	pages   [][]models.Contact
	calls   int
	writes  []write
	failOn  string
	listErr error
}

type write struct {
	ID        string
	Duplicate bool
}

func (d *fakeDirectory) ListContacts(_ context.Context, _ int, startingAfter string) (*models.ContactPage, error) {
	d.calls++
	if d.listErr != nil {
		return nil, d.listErr
	}
	idx := 0
	if startingAfter != "" {
		n, err := strconv.Atoi(startingAfter)
		if err != nil {
			return nil, err
		}
		idx = n
	}
	if idx >= len(d.pages) {
		return &models.ContactPage{}, nil
	}
	page := &models.ContactPage{Contacts: append([]models.Contact(nil), d.pages[idx]...)}
	if idx+1 < len(d.pages) {
		page.Next = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (d *fakeDirectory) MarkDuplicate(_ context.Context, c models.Contact, duplicate bool) error {
	if c.ID == d.failOn {
		return fmt.Errorf("update contact %s: boom", c.ID)
	}
	d.writes = append(d.writes, write{ID: c.ID, Duplicate: duplicate})
	for p := range d.pages {
		for i := range d.pages[p] {
			if d.pages[p][i].ID == c.ID {
				d.pages[p][i].Duplicate = models.FlagOf(duplicate)
			}
		}
	}
	return nil
}
