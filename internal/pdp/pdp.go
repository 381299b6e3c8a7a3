// Package pdp is the client side of the external policy decision service.
// The service evaluates declarative rules against a fixed-shape input
// document; this package never interprets the rules, it only carries the
// question over and the verdict back, failing closed on every fault.
package pdp

import (
	"context"

	"accord/internal/resource"
	"accord/internal/subject"
)

// Input is the fixed-shape document sent to the decision service. Subject
// and resource attributes are flattened here so the rule language sees a
// stable contract regardless of how internal models evolve.
type Input struct {
	Subject  SubjectAttrs  `json:"subject"`
	Resource ResourceAttrs `json:"resource"`
	Action   string        `json:"action"`
}

// SubjectAttrs is the subject's attribute projection for rule evaluation.
type SubjectAttrs struct {
	UniqueID             string   `json:"uniqueId"`
	Clearance            string   `json:"clearance"`
	CountryOfAffiliation string   `json:"countryOfAffiliation"`
	COI                  []string `json:"coi"`
	ACR                  string   `json:"acr"`
	AMR                  []string `json:"amr"`
}

// ResourceAttrs is the resource's attribute projection for rule evaluation.
type ResourceAttrs struct {
	ResourceID     string   `json:"resourceId"`
	Classification string   `json:"classification"`
	ReleasableTo   []string `json:"releasabilityTo"`
	RequiredCOI    []string `json:"requiredCoi"`
}

// Result is the decision service's verdict. Reason is present on deny;
// empty on allow unless the service volunteers one.
type Result struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Evaluator asks the decision service whether the subject may perform the
// action on the resource. Implementations must fail closed: any error return
// is treated by callers as a deny, never an allow.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (*Result, error)
}

// NewInput projects domain models into the wire contract.
func NewInput(subj *subject.Subject, policy *resource.Policy, action string) Input {
	return Input{
		Subject: SubjectAttrs{
			UniqueID:             subj.UniqueID,
			Clearance:            subj.Clearance.String(),
			CountryOfAffiliation: subj.CountryOfAffiliation,
			COI:                  subj.COI,
			ACR:                  subj.ACR,
			AMR:                  subj.AMR,
		},
		Resource: ResourceAttrs{
			ResourceID:     policy.ResourceID,
			Classification: policy.Classification.String(),
			ReleasableTo:   policy.ReleasableTo,
			RequiredCOI:    policy.RequiredCOI,
		},
		Action: action,
	}
}

// StaticEvaluator returns canned results for tests. The zero value denies
// everything, which is the safe default.
type StaticEvaluator struct {
	Allow  bool
	Reason string
	Err    error

	// Calls records every input for assertions on what the PEP sent.
	Calls []Input
}

func (s *StaticEvaluator) Evaluate(_ context.Context, in Input) (*Result, error) {
	s.Calls = append(s.Calls, in)
	if s.Err != nil {
		return nil, s.Err
	}
	return &Result{Allow: s.Allow, Reason: s.Reason}, nil
}
