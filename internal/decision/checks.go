package decision

import (
	"time"

	"accord/internal/resource"
	"accord/internal/subject"
)

// Checker runs the four local attribute checks. Both enforcement points hold
// their own Checker and run it independently; the checks are defense in
// depth alongside the external policy decision service, never a replacement
// for it.
type Checker struct {
	// ReauthWindow bounds auth_time recency for TOP_SECRET resources.
	// Zero disables the recency requirement.
	ReauthWindow time.Duration
}

// Evaluate runs the checks in fixed order (clearance, releasability, COI,
// authentication strength), short-circuiting on the first failure. Checks
// that never ran are reported SKIPPED so auditors can tell "failed" from
// "not reached".
func (c *Checker) Evaluate(subj *subject.Subject, policy *resource.Policy, now time.Time) *Decision {
	eval := Evaluation{
		Clearance:     CheckSkipped,
		Releasability: CheckSkipped,
		COI:           CheckSkipped,
		AuthStrength:  CheckSkipped,
	}

	if !subj.Clearance.Dominates(policy.Classification) {
		eval.Clearance = CheckFail
		return Deny(ReasonInsufficientLevel, eval)
	}
	eval.Clearance = CheckPass

	if !policy.ReleasableToCountry(subj.CountryOfAffiliation) && !policy.COIReleaseException(subj.COI) {
		eval.Releasability = CheckFail
		return Deny(ReasonNotReleasable, eval)
	}
	eval.Releasability = CheckPass

	if len(policy.RequiredCOI) > 0 && !subj.MemberOfAny(policy.RequiredCOI) {
		eval.COI = CheckFail
		return Deny(ReasonCOIRestriction, eval)
	}
	eval.COI = CheckPass

	if policy.Classification > subject.Unclassified {
		if !subj.HasSecondFactor() {
			eval.AuthStrength = CheckFail
			return Deny(ReasonAuthStrength, eval)
		}
		if policy.Classification == subject.TopSecret && c.ReauthWindow > 0 &&
			!subj.AuthenticatedSince(now, c.ReauthWindow) {
			eval.AuthStrength = CheckFail
			return Deny(ReasonReauthRequired, eval)
		}
	}
	eval.AuthStrength = CheckPass

	return Allowed(eval)
}
