package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDirectory() *fakeDirectory {
	return &fakeDirectory{pages: [][]models.Contact{
		{
			{ID: "main", Email: "m@x.com", Role: "user", CreatedAt: day(1), LastSeenAt: seenAt(day(15)), Duplicate: models.FlagFalse},
			{ID: "dup", Email: "m@x.com", Role: "user", CreatedAt: day(2), LastSeenAt: seenAt(day(3)), Duplicate: models.FlagFalse},
			{ID: "lonely", Email: "l@x.com", Role: "lead", CreatedAt: day(2), Duplicate: models.FlagTrue},
		},
		{
			{ID: "later", Email: "m@x.com", Role: "user", CreatedAt: day(4)},
		},
	}}
}

func TestReconciler_RunIsIdempotent(t *testing.T) {
	dir := newTestDirectory()
	now := func() time.Time { return day(20) }
	r := NewReconciler(dir, WithClock(now), WithActivityWindow(91*24*time.Hour), WithLogger(zap.NewNop()))

	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Fetched)
	assert.Equal(t, 2, report.Canonical)
	assert.Equal(t, 2, report.Duplicates)
	assert.Equal(t, 3, report.Writes)
	assert.ElementsMatch(t, []write{
		{ID: "dup", Duplicate: true},
		{ID: "later", Duplicate: true},
		{ID: "lonely", Duplicate: false},
	}, dir.writes)

	dir.writes = nil
	report, err = r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, report.Writes)
	assert.Empty(t, dir.writes)
}

func TestReconciler_DryRunWritesNothing(t *testing.T) {
	dir := newTestDirectory()
	r := NewReconciler(dir, WithClock(func() time.Time { return day(20) }))
	report, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Writes)
	assert.Empty(t, dir.writes)
}

func TestReconciler_WriteFailureSurfaces(t *testing.T) {
	dir := newTestDirectory()
	dir.failOn = "dup"
	r := NewReconciler(dir, WithClock(func() time.Time { return day(20) }), WithPageSize(50))
	report, err := r.Run(context.Background(), false)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Zero(t, report.Writes)
}

func TestReconciler_SkipsContactsWithoutEmail(t *testing.T) {
	dir := &fakeDirectory{pages: [][]models.Contact{{
		{ID: "lead1", Role: "lead", CreatedAt: day(1)},
		{ID: "lead2", Role: "lead", CreatedAt: day(2)},
		{ID: "lead3", Email: "  ", Role: "lead", CreatedAt: day(3)},
		{ID: "user", Email: "u@x.com", Role: "user", CreatedAt: day(1)},
	}}}
	r := NewReconciler(dir, WithClock(func() time.Time { return day(20) }))

	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Fetched)
	assert.Equal(t, 3, report.NoEmail)
	assert.Equal(t, 1, report.Canonical)
	assert.Zero(t, report.Duplicates)
	assert.Equal(t, []write{{ID: "user", Duplicate: false}}, dir.writes)
}
