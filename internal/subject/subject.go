// Package subject defines the normalized attributes of an authenticated
// caller: clearance, nationality, community-of-interest membership, and
// authentication strength. Both enforcement points consume this shape.
package subject

import (
	"slices"
	"time"
)

// Subject is the verified caller. Every field except COI is mandatory at
// verification time; a Subject never exists partially populated.
type Subject struct {
	UniqueID             string
	Clearance            Clearance
	CountryOfAffiliation string // ISO 3166-1 alpha-3
	COI                  []string
	ACR                  string
	AMR                  []string
	AuthTime             time.Time
}

// amr values that count as a second authentication factor. "pwd" alone is
// password-only; everything here implies possession or biometrics on top.
var secondFactorMethods = []string{"otp", "hwk", "swk", "mfa", "fido", "sms"}

// HasSecondFactor reports whether the subject authenticated with more than a
// password. Derived from the amr claim the IdP enriched at login.
func (s *Subject) HasSecondFactor() bool {
	for _, method := range s.AMR {
		if slices.Contains(secondFactorMethods, method) {
			return true
		}
	}
	return false
}

// MemberOfAny reports whether the subject holds at least one of the given
// community-of-interest tags.
func (s *Subject) MemberOfAny(tags []string) bool {
	for _, tag := range tags {
		if slices.Contains(s.COI, tag) {
			return true
		}
	}
	return false
}

// AuthenticatedSince reports whether the subject's last authentication is no
// older than the given window, measured from now.
func (s *Subject) AuthenticatedSince(now time.Time, window time.Duration) bool {
	if s.AuthTime.IsZero() {
		return false
	}
	return now.Sub(s.AuthTime) <= window
}
