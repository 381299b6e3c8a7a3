package audit

import "context"

// Store persists audit events. Append must be durable before returning:
// enforcement treats an append failure as a reason to deny, so a store that
// buffers silently would break the fail-closed contract.
type Store interface {
	Append(ctx context.Context, event Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
}
