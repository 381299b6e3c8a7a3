// Package resource models the protection metadata attached to controlled
// resources and the registry stores that resolve it.
package resource

import (
	"slices"

	"accord/internal/subject"
)

// Policy describes the protection requirements of one resource.
// Classification and ReleasableTo are always present; RequiredCOI may be
// empty, meaning no community restriction.
type Policy struct {
	ResourceID     string            `json:"resource_id"`
	Classification subject.Clearance `json:"classification"`
	ReleasableTo   []string          `json:"releasable_to"`
	RequiredCOI    []string          `json:"required_coi,omitempty"`
}

// ReleasableToCountry reports whether the policy releases to the given
// ISO alpha-3 country code.
func (p *Policy) ReleasableToCountry(country string) bool {
	return slices.Contains(p.ReleasableTo, country)
}

// COIReleaseException reports whether any of the subject's COI tags appears
// directly in the releasability list. Coalition policies release to a
// community (e.g. FVEY) by listing the tag alongside country codes; only then
// does COI membership override nationality.
func (p *Policy) COIReleaseException(coi []string) bool {
	for _, tag := range coi {
		if slices.Contains(p.ReleasableTo, tag) {
			return true
		}
	}
	return false
}
