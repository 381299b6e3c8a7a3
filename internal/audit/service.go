package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/requestcontext"
)

// Service is the single write path for audit events. The store append is
// synchronous: enforcement will not return an allow the trail cannot prove.
// The mirror, when configured, streams a copy to Kafka for external
// violation monitoring and is strictly best-effort.
type Service struct {
	store  Store
	mirror *Publisher
	logger *slog.Logger
}

func NewService(store Store, mirror *Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, mirror: mirror, logger: logger}
}

// Record assigns identity and request metadata to the event and appends it.
// The write runs on a context detached from the caller's cancellation: once
// a decision has been made, its record must be attempted even if the client
// has gone away.
func (s *Service) Record(ctx context.Context, event Event) (uuid.UUID, error) {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = requestcontext.UserAgent(ctx)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.Append(writeCtx, event); err != nil {
		// The caller converts this into a deny; log at error so the
		// unrecorded decision is visible as an incident.
		s.logger.ErrorContext(ctx, "audit append failed",
			"event_id", event.EventID,
			"event_type", string(event.EventType),
			"subject", event.Subject.UniqueID,
			"resource", event.Resource.ResourceID,
			"error", err.Error(),
		)
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit trail unavailable")
	}

	if s.mirror != nil {
		s.mirror.Emit(writeCtx, event)
	}

	return event.EventID, nil
}

// Query exposes the store's query interface to the audit read surface.
func (s *Service) Query(ctx context.Context, filter Filter) ([]Event, error) {
	events, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit query failed")
	}
	return events, nil
}
