// Package kas is the key release broker, the second enforcement point. It
// re-verifies the caller and re-evaluates policy from scratch on every
// request; an allow from the resource access point carries no weight here.
// Key material passes through unwrap in memory only and is never persisted.
package kas

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
	"accord/internal/kas/metrics"
	"accord/internal/pdp"
	"accord/internal/resource"
	"accord/internal/subject"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	"accord/pkg/requestcontext"
)

var tracer = otel.Tracer("accord/kas")

// ActionKeyRelease is the action sent to the decision service for key
// release. More sensitive than plain read; rules may gate it separately.
const ActionKeyRelease = "key-release"

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

// Request is one key release request.
type Request struct {
	Token      string
	ResourceID string
	KAOID      string
	WrappedKey []byte
}

// Response carries the verdict and, only on allow, the unwrapped key.
type Response struct {
	Success         bool               `json:"success"`
	UnwrappedKey    []byte             `json:"unwrappedKey,omitempty"`
	DenialReason    string             `json:"denialReason,omitempty"`
	Decision        *decision.Decision `json:"decision"`
	AuditEventID    uuid.UUID          `json:"auditEventId"`
	ExecutionTimeMs int64              `json:"executionTimeMs"`
}

// Service implements the key release algorithm.
type Service struct {
	verifier  TokenVerifier
	registry  PolicyResolver
	pdp       pdp.Evaluator
	auditor   Auditor
	checker   *decision.Checker
	unwrapper Unwrapper
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(
	verifier TokenVerifier,
	registry PolicyResolver,
	evaluator pdp.Evaluator,
	auditor Auditor,
	checker *decision.Checker,
	unwrapper Unwrapper,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		verifier:  verifier,
		registry:  registry,
		pdp:       evaluator,
		auditor:   auditor,
		checker:   checker,
		unwrapper: unwrapper,
		logger:    logger,
		metrics:   m,
	}
}

// RequestKey runs the full release sequence: fresh token verification, fresh
// policy resolve, the four local checks, the external decision with the
// key-release action, and only then the unwrap.
//
// Denials return Success=false with nil error. Coded errors carry transport
// semantics: CodeUnauthorized for token failures, CodeUnavailable for
// dependency outages, CodeBadRequest for rejected key material. Every call
// writes exactly one audit event; an unrecordable allow becomes a deny.
func (s *Service) RequestKey(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "kas.RequestKey")
	defer span.End()
	span.SetAttributes(
		attribute.String("kas.resource_id", req.ResourceID),
		attribute.String("kas.kao_id", req.KAOID),
	)

	start := time.Now()
	defer func() {
		s.metrics.ObserveRewrapLatency(time.Since(start))
	}()

	skipped := decision.Evaluation{
		Clearance:     decision.CheckSkipped,
		Releasability: decision.CheckSkipped,
		COI:           decision.CheckSkipped,
		AuthStrength:  decision.CheckSkipped,
	}

	subj, err := s.verifier.Verify(ctx, req.Token)
	if err != nil {
		d := decision.Deny(decision.ReasonUnauthenticated, skipped)
		resp := s.finish(ctx, start, nil, req, nil, d)
		return resp, dErrors.Wrap(err, dErrors.CodeUnauthorized, decision.ReasonUnauthenticated)
	}

	policy, err := s.registry.Get(ctx, req.ResourceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			d := decision.Deny(decision.ReasonResourceUnknown, skipped)
			return s.finish(ctx, start, subj, req, nil, d), nil
		}
		s.logger.ErrorContext(ctx, "resource registry unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"resource_id", req.ResourceID,
			"error", err.Error(),
		)
		d := decision.Deny(decision.ReasonRegistryUnavailable, skipped)
		resp := s.finish(ctx, start, subj, req, nil, d)
		return resp, dErrors.Wrap(err, dErrors.CodeUnavailable, decision.ReasonRegistryUnavailable)
	}

	local := s.checker.Evaluate(subj, policy, requestcontext.Now(ctx))
	if !local.Allow {
		return s.finish(ctx, start, subj, req, policy, local), nil
	}

	verdict, err := s.pdp.Evaluate(ctx, pdp.NewInput(subj, policy, ActionKeyRelease))
	if err != nil {
		s.logger.ErrorContext(ctx, "policy decision unavailable, failing closed",
			"request_id", requestcontext.RequestID(ctx),
			"resource_id", req.ResourceID,
			"error", err.Error(),
		)
		d := decision.Deny(decision.ReasonPolicyUnavailable, local.Evaluation)
		resp := s.finish(ctx, start, subj, req, policy, d)
		return resp, dErrors.Wrap(err, dErrors.CodeUnavailable, decision.ReasonPolicyUnavailable)
	}
	if !verdict.Allow {
		reason := verdict.Reason
		if reason == "" {
			reason = decision.ReasonDeniedByPolicy
		}
		return s.finish(ctx, start, subj, req, policy, decision.Deny(reason, local.Evaluation)), nil
	}

	key, err := s.unwrapper.Unwrap(req.KAOID, req.WrappedKey)
	if err != nil {
		// The caller was authorized but the material itself is bad. Audited as
		// a denial so the trail shows no key left the broker.
		s.metrics.IncrementUnwrapFailure()
		s.logger.WarnContext(ctx, "wrapped key rejected",
			"request_id", requestcontext.RequestID(ctx),
			"resource_id", req.ResourceID,
			"kao_id", req.KAOID,
			"error", err.Error(),
		)
		d := decision.Deny(decision.ReasonKeyMaterialRejected, local.Evaluation)
		resp := s.finish(ctx, start, subj, req, policy, d)
		return resp, dErrors.Wrap(err, dErrors.CodeBadRequest, decision.ReasonKeyMaterialRejected)
	}

	resp := s.finish(ctx, start, subj, req, policy, decision.Allowed(local.Evaluation))
	if resp.Success {
		resp.UnwrappedKey = key
	}
	return resp, nil
}

// finish writes the audit record and assembles the response. An audit
// failure converts an allow into a deny; the unwrapped key is attached by
// the caller only when Success survived that conversion.
func (s *Service) finish(
	ctx context.Context,
	start time.Time,
	subj *subject.Subject,
	req Request,
	policy *resource.Policy,
	d *decision.Decision,
) *Response {
	duration := time.Since(start)

	eventType := audit.EventAccessDenied
	if d.Allow {
		eventType = audit.EventDecrypt
	}

	event := audit.Event{
		EventType: eventType,
		Resource:  audit.ResourceSnapshot{ResourceID: req.ResourceID},
		Action:    ActionKeyRelease,
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
	s.metrics.IncrementRelease(result, d.Reason)

	resp := &Response{
		Success:         d.Allow,
		Decision:        d,
		AuditEventID:    eventID,
		ExecutionTimeMs: duration.Milliseconds(),
	}
	if !d.Allow {
		resp.DenialReason = d.Reason
	}
	return resp
}
