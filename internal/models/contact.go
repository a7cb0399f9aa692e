// Package models defines the records exchanged between the directory, knowledge store and site.
package models

import "time"

// DuplicateFlag is the tri-state is_duplicate custom attribute of a contact.
// An absent attribute is distinct from an explicit false.
type DuplicateFlag int

const (
	// FlagUnset means the attribute is missing from the contact.
	FlagUnset DuplicateFlag = iota
	// FlagFalse means the contact is explicitly marked as not a duplicate.
	FlagFalse
	// FlagTrue means the contact is marked as a duplicate.
	FlagTrue
)

// FlagOf returns the flag matching b.
func FlagOf(b bool) DuplicateFlag {
	if b {
		return FlagTrue
	}
	return FlagFalse
}

// Is reports whether the flag is explicitly set to b.
func (f DuplicateFlag) Is(b bool) bool {
	return f == FlagOf(b)
}

func (f DuplicateFlag) String() string {
	switch f {
	case FlagTrue:
		return "true"
	case FlagFalse:
		return "false"
	default:
		return "unset"
	}
}

// Contact is an immutable snapshot of one directory record.
type Contact struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	Role         string        `json:"role"`
	CreatedAt    time.Time     `json:"created_at"`
	LastSeenAt   *time.Time    `json:"last_seen_at,omitempty"`
	SessionCount *int          `json:"session_count,omitempty"`
	Duplicate    DuplicateFlag `json:"-"`
}

// Seen reports whether the contact has ever been active.
func (c Contact) Seen() bool {
	return c.LastSeenAt != nil && !c.LastSeenAt.IsZero()
}

// ContactPage is one page of the directory listing.
type ContactPage struct {
	Contacts []Contact
	// Next is the cursor for the following page; empty on the last page.
	Next string
}

// Resolution partitions a contact set into canonical records and duplicates.
// Duplicates holds one entry per losing comparison.
type Resolution struct {
	Duplicates []Contact `json:"duplicates"`
	Canonical  []Contact `json:"canonical"`
}
