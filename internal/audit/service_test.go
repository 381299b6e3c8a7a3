package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/requestcontext"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func sampleEvent(mods ...func(*Event)) Event {
	e := Event{
		EventType: EventDataShared,
		Subject: SubjectSnapshot{
			UniqueID:  "jane.analyst",
			Clearance: "SECRET",
			Country:   "USA",
			COI:       []string{"FVEY"},
		},
		Resource: ResourceSnapshot{
			ResourceID:     "doc-1",
			Classification: "SECRET",
			ReleasableTo:   []string{"USA", "GBR"},
		},
		Action:    "read",
		Decision:  "allow",
		Reason:    "all checks passed",
		LatencyMs: 12,
	}
	for _, mod := range mods {
		mod(&e)
	}
	return e
}

func TestService_RecordAssignsIdentityAndMetadata(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, nil, testLogger())

	ctx := requestcontext.WithRequestID(context.Background(), "req-42")
	ctx = requestcontext.WithClientMetadata(ctx, "198.51.100.7", "Firefox/142")

	eventID, err := svc.Record(ctx, sampleEvent())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, eventID)

	stored := store.All()
	require.Len(t, stored, 1)
	assert.Equal(t, eventID, stored[0].EventID)
	assert.Equal(t, "req-42", stored[0].RequestID)
	assert.Equal(t, "198.51.100.7", stored[0].ClientIP)
	assert.Equal(t, "Firefox/142", stored[0].UserAgent)
	assert.False(t, stored[0].Timestamp.IsZero())
}

func TestService_RecordSurvivesCallerCancellation(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // client already disconnected

	_, err := svc.Record(ctx, sampleEvent())
	require.NoError(t, err, "a started audit write must complete even when the caller is gone")
	assert.Len(t, store.All(), 1)
}

func TestService_RecordPropagatesStoreFailure(t *testing.T) {
	store := NewInMemoryStore()
	store.FailAppends = errors.New("disk full")
	svc := NewService(store, nil, testLogger())

	eventID, err := svc.Record(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	assert.Equal(t, uuid.Nil, eventID)
}

func TestInMemoryStore_QueryFilters(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, nil, testLogger())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []Event{
		sampleEvent(func(e *Event) { e.Timestamp = base }),
		sampleEvent(func(e *Event) {
			e.Timestamp = base.Add(time.Hour)
			e.Decision = "deny"
			e.EventType = EventAccessDenied
			e.Reason = "insufficient clearance"
		}),
		sampleEvent(func(e *Event) {
			e.Timestamp = base.Add(2 * time.Hour)
			e.Subject.UniqueID = "pierre.liaison"
			e.Resource.ResourceID = "doc-2"
		}),
	}
	for _, e := range events {
		_, err := svc.Record(ctx, e)
		require.NoError(t, err)
	}

	t.Run("by subject", func(t *testing.T) {
		got, err := svc.Query(ctx, Filter{SubjectID: "pierre.liaison"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "doc-2", got[0].Resource.ResourceID)
	})

	t.Run("by outcome", func(t *testing.T) {
		got, err := svc.Query(ctx, Filter{Decision: "deny"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, EventAccessDenied, got[0].EventType)
	})

	t.Run("by time range", func(t *testing.T) {
		got, err := svc.Query(ctx, Filter{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "deny", got[0].Decision)
	})

	t.Run("most recent first with limit", func(t *testing.T) {
		got, err := svc.Query(ctx, Filter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Timestamp.After(got[1].Timestamp))
	})
}
