// Package enforce is the resource access enforcement point. It mediates
// every metadata and content access: token verification, the four local
// attribute checks, the external policy decision, and the audit record. The
// key release broker runs the same sequence independently; an allow here
// grants no standing there.
package enforce

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"accord/internal/audit"
	"accord/internal/decision"
	"accord/internal/enforce/metrics"
	"accord/internal/pdp"
	"accord/internal/resource"
	"accord/internal/subject"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	"accord/pkg/requestcontext"
)

var tracer = otel.Tracer("accord/enforce")

// TokenVerifier validates a bearer token into a normalized Subject.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*subject.Subject, error)
}

// PolicyResolver looks up the protection policy for a resource.
type PolicyResolver interface {
	Get(ctx context.Context, resourceID string) (*resource.Policy, error)
}

// Auditor records decision events. A failed record fails the request closed.
type Auditor interface {
	Record(ctx context.Context, event audit.Event) (uuid.UUID, error)
}

// Service implements the enforcement algorithm.
type Service struct {
	verifier TokenVerifier
	registry PolicyResolver
	pdp      pdp.Evaluator
	auditor  Auditor
	checker  *decision.Checker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func New(
	verifier TokenVerifier,
	registry PolicyResolver,
	evaluator pdp.Evaluator,
	auditor Auditor,
	checker *decision.Checker,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		verifier: verifier,
		registry: registry,
		pdp:      evaluator,
		auditor:  auditor,
		checker:  checker,
		logger:   logger,
		metrics:  m,
	}
}

// Result pairs the decision with its audit record identity and timing.
type Result struct {
	Decision     *decision.Decision
	AuditEventID uuid.UUID
	Duration     time.Duration
}

// Authorize runs the full enforcement sequence for one access request.
//
// Non-technical outcomes come back as a deny Decision with nil error.
// Coded errors are reserved for the transport layer's status mapping:
// CodeUnauthorized for token failures, CodeUnavailable for registry or
// decision-service outages. Every path, error or not, writes exactly one
// audit event; if that write fails, the request fails closed.
func (s *Service) Authorize(ctx context.Context, token, resourceID, action string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "enforce.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("enforce.resource_id", resourceID),
		attribute.String("enforce.action", action),
	)

	start := time.Now()
	defer func() {
		s.metrics.ObserveAuthorizeLatency(time.Since(start))
	}()

	subj, err := s.verifier.Verify(ctx, token)
	if err != nil {
		eval := decision.Evaluation{
			Clearance:     decision.CheckSkipped,
			Releasability: decision.CheckSkipped,
			COI:           decision.CheckSkipped,
			AuthStrength:  decision.CheckSkipped,
		}
		d := decision.Deny(decision.ReasonUnauthenticated, eval)
		result := s.finish(ctx, start, nil, resourceID, nil, action, d, audit.EventAccessDenied)
		return result, dErrors.Wrap(err, dErrors.CodeUnauthorized, decision.ReasonUnauthenticated)
	}

	policy, err := s.registry.Get(ctx, resourceID)
	if err != nil {
		eval := decision.Evaluation{
			Clearance:     decision.CheckSkipped,
			Releasability: decision.CheckSkipped,
			COI:           decision.CheckSkipped,
			AuthStrength:  decision.CheckSkipped,
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			d := decision.Deny(decision.ReasonResourceUnknown, eval)
			return s.finish(ctx, start, subj, resourceID, nil, action, d, audit.EventAccessDenied), nil
		}
		s.logger.ErrorContext(ctx, "resource registry unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"resource_id", resourceID,
			"error", err.Error(),
		)
		d := decision.Deny(decision.ReasonRegistryUnavailable, eval)
		result := s.finish(ctx, start, subj, resourceID, nil, action, d, audit.EventAccessDenied)
		return result, dErrors.Wrap(err, dErrors.CodeUnavailable, decision.ReasonRegistryUnavailable)
	}

	// Local checks are defense in depth; the external decision still runs on
	// local pass and both must allow.
	local := s.checker.Evaluate(subj, policy, requestcontext.Now(ctx))
	if !local.Allow {
		return s.finish(ctx, start, subj, resourceID, policy, action, local, audit.EventAccessDenied), nil
	}

	verdict, err := s.pdp.Evaluate(ctx, pdp.NewInput(subj, policy, action))
	if err != nil {
		// Availability failure, not a policy violation. Still a deny.
		s.logger.ErrorContext(ctx, "policy decision unavailable, failing closed",
			"request_id", requestcontext.RequestID(ctx),
			"resource_id", resourceID,
			"error", err.Error(),
		)
		d := decision.Deny(decision.ReasonPolicyUnavailable, local.Evaluation)
		result := s.finish(ctx, start, subj, resourceID, policy, action, d, audit.EventAccessDenied)
		return result, dErrors.Wrap(err, dErrors.CodeUnavailable, decision.ReasonPolicyUnavailable)
	}
	if !verdict.Allow {
		reason := verdict.Reason
		if reason == "" {
			reason = decision.ReasonDeniedByPolicy
		}
		d := decision.Deny(reason, local.Evaluation)
		return s.finish(ctx, start, subj, resourceID, policy, action, d, audit.EventAccessDenied), nil
	}

	allowed := decision.Allowed(local.Evaluation)
	return s.finish(ctx, start, subj, resourceID, policy, action, allowed, eventTypeForAction(action)), nil
}

// finish writes the audit record and assembles the result. An audit failure
// converts any outcome into a deny: the system prefers "deny and raise the
// incident" over "allow without a trail".
func (s *Service) finish(
	ctx context.Context,
	start time.Time,
	subj *subject.Subject,
	resourceID string,
	policy *resource.Policy,
	action string,
	d *decision.Decision,
	eventType audit.EventType,
) *Result {
	duration := time.Since(start)

	event := audit.Event{
		EventType: eventType,
		Resource:  audit.ResourceSnapshot{ResourceID: resourceID},
		Action:    action,
		Decision:  "deny",
		Reason:    d.Reason,
		LatencyMs: duration.Milliseconds(),
	}
	if d.Allow {
		event.Decision = "allow"
	}
	if subj != nil {
		event.Subject = audit.SubjectSnapshot{
			UniqueID:  subj.UniqueID,
			Clearance: subj.Clearance.String(),
			Country:   subj.CountryOfAffiliation,
			COI:       subj.COI,
		}
	}
	if policy != nil {
		event.Resource.Classification = policy.Classification.String()
		event.Resource.ReleasableTo = policy.ReleasableTo
	}

	eventID, auditErr := s.auditor.Record(ctx, event)
	if auditErr != nil && d.Allow {
		d = decision.Deny(decision.ReasonAuditUnavailable, d.Evaluation)
	}

	result := "deny"
	if d.Allow {
		result = "allow"
	}
	s.metrics.IncrementDecision(result, d.Reason)

	return &Result{Decision: d, AuditEventID: eventID, Duration: duration}
}

// eventTypeForAction maps allowed actions to their audit classification.
// Reads share data; anything mutating modifies access state.
func eventTypeForAction(action string) audit.EventType {
	switch action {
	case "create", "update", "delete", "modify", "write":
		return audit.EventAccessModified
	default:
		return audit.EventDataShared
	}
}
