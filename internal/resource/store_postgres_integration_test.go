//go:build integration

package resource_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"accord/internal/resource"
	"accord/internal/subject"
	"accord/pkg/platform/sentinel"
	"accord/pkg/testutil/containers"
)

const policiesSchema = `
CREATE TABLE IF NOT EXISTS resource_policies (
    resource_id    TEXT PRIMARY KEY,
    classification TEXT NOT NULL,
    releasable_to  TEXT[] NOT NULL,
    required_coi   TEXT[] NOT NULL DEFAULT '{}',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresStoreSuite struct {
	suite.Suite
	pool  *pgxpool.Pool
	store *resource.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(s.T())

	pool, err := pgxpool.New(ctx, pg.DSN)
	s.Require().NoError(err)
	s.pool = pool

	_, err = pool.Exec(ctx, policiesSchema)
	s.Require().NoError(err)

	s.store = resource.NewPostgres(pool)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), "TRUNCATE resource_policies")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestPutGetRoundTrip() {
	ctx := context.Background()

	want := &resource.Policy{
		ResourceID:     "doc-1",
		Classification: subject.Secret,
		ReleasableTo:   []string{"USA", "GBR", "FVEY"},
		RequiredCOI:    []string{"FVEY"},
	}
	s.Require().NoError(s.store.Put(ctx, want))

	got, err := s.store.Get(ctx, "doc-1")
	s.Require().NoError(err)
	s.Equal(want, got)
}

func (s *PostgresStoreSuite) TestUpsertReplacesPolicy() {
	ctx := context.Background()

	first := &resource.Policy{
		ResourceID:     "doc-1",
		Classification: subject.Confidential,
		ReleasableTo:   []string{"USA"},
	}
	s.Require().NoError(s.store.Put(ctx, first))

	second := &resource.Policy{
		ResourceID:     "doc-1",
		Classification: subject.TopSecret,
		ReleasableTo:   []string{"USA", "GBR"},
		RequiredCOI:    []string{"FVEY"},
	}
	s.Require().NoError(s.store.Put(ctx, second))

	got, err := s.store.Get(ctx, "doc-1")
	s.Require().NoError(err)
	s.Equal(subject.TopSecret, got.Classification)
	s.Equal([]string{"USA", "GBR"}, got.ReleasableTo)
}

func (s *PostgresStoreSuite) TestGetUnknownResource() {
	_, err := s.store.Get(context.Background(), "doc-missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestEmptyRequiredCOIStaysEmpty() {
	ctx := context.Background()

	s.Require().NoError(s.store.Put(ctx, &resource.Policy{
		ResourceID:     "doc-open",
		Classification: subject.Unclassified,
		ReleasableTo:   []string{"USA"},
	}))

	got, err := s.store.Get(ctx, "doc-open")
	s.Require().NoError(err)
	s.Empty(got.RequiredCOI)
}
