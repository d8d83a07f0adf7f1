// Package constraint holds the cross-entity rules checked before any
// booking state changes. Every function is pure: no I/O, no mutation.
package constraint

import "github.com/Freeeeeet/lesson_booking/internal/model"

// IsEligibleLocation checks that the instructor declared the location as available
func IsEligibleLocation(instructor *model.Instructor, locationID string) bool {
	if instructor == nil {
		return false
	}
	return instructor.AvailableAt(locationID)
}

// HasValidGuardian checks the guardian-for-minor rule. Adults always pass.
// A minor passes only when guardian is the client's declared guardian,
// is a different person and is an adult.
func HasValidGuardian(client, guardian *model.Client) bool {
	if client == nil {
		return false
	}
	if !client.IsMinor() {
		return true
	}
	if client.GuardianID == nil || guardian == nil {
		return false
	}
	if guardian.ID != *client.GuardianID || guardian.ID == client.ID {
		return false
	}
	return !guardian.IsMinor()
}

// OfferingsConflict reports whether two public offerings occupy the same
// location at overlapping times.
func OfferingsConflict(a, b *model.PublicOffering) bool {
	if a == nil || b == nil {
		return false
	}
	return a.LocationID == b.LocationID && a.Window.Overlaps(b.Window)
}

// FirstOfferingConflict returns the first of others conflicting with candidate.
// An offering never conflicts with itself.
func FirstOfferingConflict(candidate *model.PublicOffering, others []*model.PublicOffering) *model.PublicOffering {
	for _, other := range others {
		if other.ID == candidate.ID {
			continue
		}
		if OfferingsConflict(candidate, other) {
			return other
		}
	}
	return nil
}

// BookingsOverlap reports whether any new window overlaps any existing one
func BookingsOverlap(existing, requested []model.Window) bool {
	for _, e := range existing {
		for _, r := range requested {
			if e.Overlaps(r) {
				return true
			}
		}
	}
	return false
}
