package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"accord/internal/subject"
	"accord/pkg/platform/sentinel"
)

// PostgresStore resolves policies from the resource_policies table.
//
// Schema:
//
//	CREATE TABLE resource_policies (
//	    resource_id    TEXT PRIMARY KEY,
//	    classification TEXT NOT NULL,
//	    releasable_to  TEXT[] NOT NULL,
//	    required_coi   TEXT[] NOT NULL DEFAULT '{}',
//	    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, resourceID string) (*Policy, error) {
	query := `
		SELECT resource_id, classification, releasable_to, required_coi
		FROM resource_policies
		WHERE resource_id = $1
	`

	var (
		policy         Policy
		classification string
	)
	err := s.pool.QueryRow(ctx, query, resourceID).Scan(
		&policy.ResourceID,
		&classification,
		&policy.ReleasableTo,
		&policy.RequiredCOI,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query resource policy: %w", sentinel.ErrUnavailable, err)
	}

	policy.Classification, err = subject.ParseClearance(classification)
	if err != nil {
		return nil, fmt.Errorf("resource %s has invalid classification: %w", resourceID, err)
	}

	return &policy, nil
}

func (s *PostgresStore) Put(ctx context.Context, policy *Policy) error {
	query := `
		INSERT INTO resource_policies (resource_id, classification, releasable_to, required_coi, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (resource_id) DO UPDATE SET
			classification = EXCLUDED.classification,
			releasable_to = EXCLUDED.releasable_to,
			required_coi = EXCLUDED.required_coi,
			updated_at = now()
	`

	required := policy.RequiredCOI
	if required == nil {
		required = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		policy.ResourceID,
		policy.Classification.String(),
		policy.ReleasableTo,
		required,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert resource policy: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}
