package resource

import "context"

// Store resolves resource policies. Implementations must return
// sentinel.ErrNotFound for unknown resources and sentinel.ErrUnavailable
// (wrapped) for infrastructure failures so enforcement can distinguish
// "deny: unknown resource" from "deny: registry down".
type Store interface {
	Get(ctx context.Context, resourceID string) (*Policy, error)
	Put(ctx context.Context, policy *Policy) error
}
