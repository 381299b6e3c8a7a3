package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists events to the audit_events table.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    event_id        UUID PRIMARY KEY,
//	    timestamp       TIMESTAMPTZ NOT NULL,
//	    event_type      TEXT NOT NULL,
//	    subject_id      TEXT NOT NULL,
//	    clearance       TEXT NOT NULL,
//	    country         TEXT NOT NULL,
//	    coi             TEXT[] NOT NULL DEFAULT '{}',
//	    resource_id     TEXT NOT NULL,
//	    classification  TEXT NOT NULL,
//	    releasable_to   TEXT[] NOT NULL DEFAULT '{}',
//	    action          TEXT NOT NULL,
//	    decision        TEXT NOT NULL,
//	    reason          TEXT NOT NULL,
//	    latency_ms      BIGINT NOT NULL,
//	    request_id      TEXT,
//	    client_ip       TEXT,
//	    user_agent      TEXT
//	);
//	CREATE INDEX audit_events_subject_idx ON audit_events (subject_id, timestamp);
//	CREATE INDEX audit_events_resource_idx ON audit_events (resource_id, timestamp);
//
// Rows are never updated or deleted inside the retention window; the only
// mutation is PurgeBefore, run by a retention job against timestamps older
// than RetentionWindow.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (
			event_id, timestamp, event_type,
			subject_id, clearance, country, coi,
			resource_id, classification, releasable_to,
			action, decision, reason, latency_ms,
			request_id, client_ip, user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Timestamp,
		string(event.EventType),
		event.Subject.UniqueID,
		event.Subject.Clearance,
		event.Subject.Country,
		pq.Array(event.Subject.COI),
		event.Resource.ResourceID,
		event.Resource.Classification,
		pq.Array(event.Resource.ReleasableTo),
		event.Action,
		event.Decision,
		event.Reason,
		event.LatencyMs,
		event.RequestID,
		event.ClientIP,
		event.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.SubjectID != "" {
		add("subject_id = $%d", filter.SubjectID)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Decision != "" {
		add("decision = $%d", filter.Decision)
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}
	if !filter.From.IsZero() {
		add("timestamp >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("timestamp <= $%d", filter.To)
	}

	query := `
		SELECT event_id, timestamp, event_type,
		       subject_id, clearance, country, coi,
		       resource_id, classification, releasable_to,
		       action, decision, reason, latency_ms,
		       request_id, client_ip, user_agent
		FROM audit_events
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			eventType string
		)
		err := rows.Scan(
			&e.EventID,
			&e.Timestamp,
			&eventType,
			&e.Subject.UniqueID,
			&e.Subject.Clearance,
			&e.Subject.Country,
			pq.Array(&e.Subject.COI),
			&e.Resource.ResourceID,
			&e.Resource.Classification,
			pq.Array(&e.Resource.ReleasableTo),
			&e.Action,
			&e.Decision,
			&e.Reason,
			&e.LatencyMs,
			&e.RequestID,
			&e.ClientIP,
			&e.UserAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.EventType = EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeBefore deletes events older than the cutoff. The retention job is the
// only caller; cutoffs inside the retention window are rejected.
func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if time.Since(cutoff) < RetentionWindow {
		return 0, fmt.Errorf("cutoff %s is inside the retention window", cutoff.Format(time.RFC3339))
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return result.RowsAffected()
}
