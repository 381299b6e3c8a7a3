// Package decision defines the access decision model and the local
// attribute checks both enforcement points run. Decisions are created per
// request and immutable once returned; the only persistence is the audit
// record.
package decision

// CheckResult is the outcome of one local check.
type CheckResult string

const (
	CheckPass    CheckResult = "PASS"
	CheckFail    CheckResult = "FAIL"
	CheckSkipped CheckResult = "SKIPPED"
)

// Evaluation exposes per-check results so callers and auditors can see why a
// decision came out the way it did.
type Evaluation struct {
	Clearance     CheckResult `json:"clearanceCheck"`
	Releasability CheckResult `json:"releasabilityCheck"`
	COI           CheckResult `json:"coiCheck"`
	AuthStrength  CheckResult `json:"authStrengthCheck"`
}

// Decision is the result of an evaluation. Reason is always populated, on
// allow and deny alike.
type Decision struct {
	Allow      bool       `json:"allow"`
	Reason     string     `json:"reason"`
	Evaluation Evaluation `json:"evaluationDetails"`
}

// Stable reason strings. These surface to callers and audit records, so they
// must not leak internals and must not change casually.
const (
	ReasonAllowed             = "all checks passed"
	ReasonUnauthenticated     = "unauthenticated"
	ReasonResourceUnknown     = "resource unknown"
	ReasonInsufficientLevel   = "insufficient clearance"
	ReasonNotReleasable       = "not releasable to country"
	ReasonCOIRestriction      = "community of interest restriction"
	ReasonAuthStrength        = "authentication strength insufficient"
	ReasonReauthRequired      = "re-authentication required"
	ReasonPolicyUnavailable   = "policy evaluation unavailable"
	ReasonRegistryUnavailable = "resource registry unavailable"
	ReasonDeniedByPolicy      = "denied by policy"
	ReasonAuditUnavailable    = "audit trail unavailable"
	ReasonMalformedRequest    = "malformed request"
	ReasonKeyMaterialRejected = "key material rejected"
)

// Deny builds a denial with the given reason and evaluation details.
func Deny(reason string, eval Evaluation) *Decision {
	return &Decision{Allow: false, Reason: reason, Evaluation: eval}
}

// Allowed builds an allow decision with full evaluation details.
func Allowed(eval Evaluation) *Decision {
	return &Decision{Allow: true, Reason: ReasonAllowed, Evaluation: eval}
}
