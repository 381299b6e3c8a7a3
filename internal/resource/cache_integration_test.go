//go:build integration

package resource_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"accord/internal/resource"
	"accord/internal/subject"
	"accord/pkg/platform/sentinel"
	"accord/pkg/testutil/containers"
)

type CachedStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	inner *resource.InMemoryStore
	store *resource.CachedStore
}

func TestCachedStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CachedStoreSuite))
}

func (s *CachedStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *CachedStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.inner = resource.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s.store = resource.NewCachedStore(s.inner, s.redis.Client, time.Minute, logger)
}

func (s *CachedStoreSuite) secretPolicy() *resource.Policy {
	return &resource.Policy{
		ResourceID:     "doc-1",
		Classification: subject.Secret,
		ReleasableTo:   []string{"USA", "GBR"},
	}
}

func (s *CachedStoreSuite) TestReadThroughPopulatesCache() {
	ctx := context.Background()
	s.Require().NoError(s.inner.Put(ctx, s.secretPolicy()))

	got, err := s.store.Get(ctx, "doc-1")
	s.Require().NoError(err)
	s.Equal(subject.Secret, got.Classification)

	// A direct change to the backing store is invisible until the entry
	// expires or is invalidated: the second read is served from cache.
	changed := s.secretPolicy()
	changed.Classification = subject.TopSecret
	s.Require().NoError(s.inner.Put(ctx, changed))

	got, err = s.store.Get(ctx, "doc-1")
	s.Require().NoError(err)
	s.Equal(subject.Secret, got.Classification)
}

func (s *CachedStoreSuite) TestPutInvalidatesCache() {
	ctx := context.Background()
	s.Require().NoError(s.inner.Put(ctx, s.secretPolicy()))

	_, err := s.store.Get(ctx, "doc-1")
	s.Require().NoError(err)

	changed := s.secretPolicy()
	changed.Classification = subject.TopSecret
	s.Require().NoError(s.store.Put(ctx, changed))

	got, err := s.store.Get(ctx, "doc-1")
	s.Require().NoError(err)
	s.Equal(subject.TopSecret, got.Classification)
}

func (s *CachedStoreSuite) TestMissFallsThrough() {
	_, err := s.store.Get(context.Background(), "doc-missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *CachedStoreSuite) TestCorruptEntryIsDropped() {
	ctx := context.Background()
	s.Require().NoError(s.inner.Put(ctx, s.secretPolicy()))

	s.Require().NoError(s.redis.Client.Set(ctx, "accord:policy:doc-1", "not json", time.Minute).Err())

	got, err := s.store.Get(ctx, "doc-1")
	s.Require().NoError(err)
	s.Equal("doc-1", got.ResourceID)
}
