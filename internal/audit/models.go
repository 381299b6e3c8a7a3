// Package audit records every enforcement decision durably. Events are
// append-only and immutable within the retention window; both enforcement
// points write through the same service.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies what the decision was about.
type EventType string

const (
	// EventEncrypt records a successful key wrap for resource creation paths.
	EventEncrypt EventType = "ENCRYPT"
	// EventDecrypt records a successful key release by the broker.
	EventDecrypt EventType = "DECRYPT"
	// EventAccessDenied records any denial, from either enforcement point.
	EventAccessDenied EventType = "ACCESS_DENIED"
	// EventAccessModified records allowed state-changing resource operations.
	EventAccessModified EventType = "ACCESS_MODIFIED"
	// EventDataShared records allowed read/share access to resource content.
	EventDataShared EventType = "DATA_SHARED"
)

// RetentionWindow is how long events must remain immutable and queryable.
const RetentionWindow = 90 * 24 * time.Hour

// SubjectSnapshot captures the subject attributes as evaluated, so the
// record stays meaningful after the subject's attributes change.
type SubjectSnapshot struct {
	UniqueID  string   `json:"uniqueId"`
	Clearance string   `json:"clearance"`
	Country   string   `json:"country"`
	COI       []string `json:"coi,omitempty"`
}

// ResourceSnapshot captures the resource policy as evaluated.
type ResourceSnapshot struct {
	ResourceID     string   `json:"resourceId"`
	Classification string   `json:"classification"`
	ReleasableTo   []string `json:"releasabilityTo,omitempty"`
}

// Event is one immutable decision record.
type Event struct {
	EventID   uuid.UUID        `json:"eventId"`
	Timestamp time.Time        `json:"timestamp"`
	EventType EventType        `json:"eventType"`
	Subject   SubjectSnapshot  `json:"subject"`
	Resource  ResourceSnapshot `json:"resource"`
	Action    string           `json:"action"`
	Decision  string           `json:"decision"` // "allow" | "deny"
	Reason    string           `json:"reason"`
	LatencyMs int64            `json:"latencyMs"`
	RequestID string           `json:"requestId,omitempty"`
	ClientIP  string           `json:"clientIp,omitempty"`
	UserAgent string           `json:"userAgent,omitempty"`
}

// Filter selects events for the query interface. Zero fields match all.
type Filter struct {
	SubjectID  string
	ResourceID string
	Decision   string
	EventType  EventType
	From       time.Time
	To         time.Time
	Limit      int
}

// Matches reports whether the event satisfies every set filter field.
func (f *Filter) Matches(e *Event) bool {
	if f.SubjectID != "" && e.Subject.UniqueID != f.SubjectID {
		return false
	}
	if f.ResourceID != "" && e.Resource.ResourceID != f.ResourceID {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
