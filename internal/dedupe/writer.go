package dedupe

import (
	"context"

	"github.com/hyperjump/tsunagu/internal/models"
)

// FlagMarker writes the duplicate flag of a contact in the directory.
type FlagMarker interface {
	MarkDuplicate(ctx context.Context, contact models.Contact, duplicate bool) error
}

// Apply brings the remote flags in line with res. Only contacts whose current flag differs
// are written, so applying the same resolution to refreshed contacts writes nothing.
// It stops at the first failed write and returns the number of writes that succeeded.
func Apply(ctx context.Context, res models.Resolution, marker FlagMarker) (int, error) {
	writes := 0
	for _, c := range res.Duplicates {
		if c.Duplicate.Is(true) {
			continue
		}
		if err := marker.MarkDuplicate(ctx, c, true); err != nil {
			return writes, err
		}
		writes++
	}
	for _, c := range res.Canonical {
		if c.Duplicate.Is(false) {
			continue
		}
		if err := marker.MarkDuplicate(ctx, c, false); err != nil {
			return writes, err
		}
		writes++
	}
	return writes, nil
}

// PendingWrites counts the writes Apply would issue for res.
func PendingWrites(res models.Resolution) int {
	n := 0
	for _, c := range res.Duplicates {
		if !c.Duplicate.Is(true) {
			n++
		}
	}
	for _, c := range res.Canonical {
		if !c.Duplicate.Is(false) {
			n++
		}
	}
	return n
}
