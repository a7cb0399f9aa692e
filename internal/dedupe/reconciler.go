package dedupe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
	"go.uber.org/zap"
)

// Directory is the contact directory the reconciler reads and writes.
type Directory interface {
	ContactLister
	FlagMarker
}

// Reconciler runs fetch, resolve and apply against a directory.
type Reconciler struct {
	fetcher *Fetcher
	marker  FlagMarker
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger sets the reconciler logger.
func WithLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithActivityWindow sets how far back contacts count as recently active.
func WithActivityWindow(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithPageSize sets the listing page size.
func WithPageSize(n int) ReconcilerOption {
	return func(r *Reconciler) { r.fetcher = NewFetcher(r.fetcher.lister, n) }
}

// NewReconciler creates a reconciler for dir.
func NewReconciler(dir Directory, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		fetcher: NewFetcher(dir, DefaultPageSize),
		marker:  dir,
		window:  DefaultActivityWindow,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run fetches recently active contacts, resolves duplicates and writes changed flags.
// With dryRun no writes are issued and Writes reports how many would be.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*models.DedupeReport, error) {
	cutoff := r.now().Add(-r.window)
	contacts, err := r.fetcher.FetchRecentContacts(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	r.logger.Info("fetched contacts", zap.Int("contacts", len(contacts)), zap.Time("cutoff", cutoff))

	grouped := withEmail(contacts)
	res := Resolve(grouped)
	report := &models.DedupeReport{
		Fetched:    len(contacts),
		NoEmail:    len(contacts) - len(grouped),
		Duplicates: len(res.Duplicates),
		Canonical:  len(res.Canonical),
		DryRun:     dryRun,
	}
	r.logger.Info("resolved duplicates",
		zap.Int("no_email", report.NoEmail),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("canonical", report.Canonical),
	)

	if dryRun {
		report.Writes = PendingWrites(res)
		return report, nil
	}
	writes, err := Apply(ctx, res, r.marker)
	report.Writes = writes
	if err != nil {
		return report, fmt.Errorf("apply flags after %d writes: %w", writes, err)
	}
	r.logger.Info("duplicate flags updated", zap.Int("writes", writes))
	return report, nil
}

// withEmail drops contacts without an email; they have nothing to be grouped by.
func withEmail(contacts []models.Contact) []models.Contact {
	out := make([]models.Contact, 0, len(contacts))
	for _, c := range contacts {
		if strings.TrimSpace(c.Email) != "" {
			out = append(out, c)
		}
	}
	return out
}
