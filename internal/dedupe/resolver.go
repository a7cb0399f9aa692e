package dedupe

import "github.com/hyperjump/tsunagu/internal/models"

// Resolve partitions contacts into one canonical record per email and the duplicates.
//
// Contacts are scanned in order. The first contact for an email is kept; each later contact
// with that email is compared to the kept one and replaces it when the first of these holds:
//
//  1. the kept contact is flagged duplicate and the new one is explicitly not a duplicate
//  2. the new contact has a non-zero session count greater than the kept one's
//  3. both have been seen and the new contact was seen more recently
//  4. the kept contact was never seen and was created after the new one
//
// A replaced contact is appended to Duplicates; a contact that does not replace the kept
// one is appended instead. Canonical is ordered by the first appearance of each email.
func Resolve(contacts []models.Contact) models.Resolution {
	keep := make(map[string]models.Contact)
	var order []string
	var res models.Resolution

	for _, c := range contacts {
		k, ok := keep[c.Email]
		if !ok {
			keep[c.Email] = c
			order = append(order, c.Email)
			continue
		}
		if replaces(k, c) {
			res.Duplicates = append(res.Duplicates, k)
			keep[c.Email] = c
		} else {
			res.Duplicates = append(res.Duplicates, c)
		}
	}

	res.Canonical = make([]models.Contact, 0, len(order))
	for _, email := range order {
		res.Canonical = append(res.Canonical, keep[email])
	}
	return res
}

// replaces reports whether candidate c should displace the kept contact k.
func replaces(k, c models.Contact) bool {
	switch {
	case k.Duplicate == models.FlagTrue && c.Duplicate == models.FlagFalse:
		return true
	case sessions(c) != 0 && sessions(k) < sessions(c):
		return true
	case k.Seen() && c.Seen() && k.LastSeenAt.Before(*c.LastSeenAt):
		return true
	case !k.Seen() && k.CreatedAt.After(c.CreatedAt):
		return true
	}
	return false
}

// sessions treats a missing session count as zero.
func sessions(c models.Contact) int {
	if c.SessionCount == nil {
		return 0
	}
	return *c.SessionCount
}
