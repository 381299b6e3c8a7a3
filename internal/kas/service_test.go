package kas

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/audit"
	"accord/internal/decision"
	"accord/internal/pdp"
	"accord/internal/resource"
	"accord/internal/subject"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type stubVerifier struct {
	subject *subject.Subject
	err     error
}

func (v *stubVerifier) Verify(_ context.Context, _ string) (*subject.Subject, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.subject, nil
}

func clearedSubject() *subject.Subject {
	return &subject.Subject{
		UniqueID:             "jane.analyst",
		Clearance:            subject.Secret,
		CountryOfAffiliation: "USA",
		COI:                  []string{"FVEY"},
		ACR:                  "urn:mace:incommon:iap:silver",
		AMR:                  []string{"pwd", "otp"},
		AuthTime:             time.Now().Add(-10 * time.Minute),
	}
}

type fixture struct {
	service    *Service
	verifier   *stubVerifier
	registry   *resource.InMemoryStore
	pdp        *pdp.StaticEvaluator
	auditStore *audit.InMemoryStore
	unwrapper  *AESGCMUnwrapper

	contentKey []byte
	wrapped    []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	kek := testKEK(t)
	unwrapper, err := NewAESGCMUnwrapper(kek)
	require.NoError(t, err)

	f := &fixture{
		verifier:   &stubVerifier{subject: clearedSubject()},
		registry:   resource.NewInMemoryStore(),
		pdp:        &pdp.StaticEvaluator{Allow: true},
		auditStore: audit.NewInMemoryStore(),
		unwrapper:  unwrapper,
		contentKey: bytes.Repeat([]byte{0x42}, 32),
	}

	f.wrapped, err = unwrapper.Wrap("kao-1", f.contentKey)
	require.NoError(t, err)

	require.NoError(t, f.registry.Put(context.Background(), &resource.Policy{
		ResourceID:     "doc-1",
		Classification: subject.Secret,
		ReleasableTo:   []string{"USA", "GBR"},
	}))

	auditSvc := audit.NewService(f.auditStore, nil, testLogger())
	f.service = New(
		f.verifier,
		f.registry,
		f.pdp,
		auditSvc,
		&decision.Checker{ReauthWindow: 4 * time.Hour},
		unwrapper,
		testLogger(),
		nil,
	)
	return f
}

func (f *fixture) request() Request {
	return Request{Token: "token", ResourceID: "doc-1", KAOID: "kao-1", WrappedKey: f.wrapped}
}

func requireSingleAudit(t *testing.T, store *audit.InMemoryStore) audit.Event {
	t.Helper()
	events := store.All()
	require.Len(t, events, 1, "every release call must write exactly one audit event")
	return events[0]
}

func TestRequestKey_ReleasesKeyOnAllow(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.RequestKey(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, f.contentKey, resp.UnwrappedKey)
	assert.Equal(t, decision.ReasonAllowed, resp.Decision.Reason)
	assert.GreaterOrEqual(t, resp.ExecutionTimeMs, int64(0))

	event := requireSingleAudit(t, f.auditStore)
	assert.Equal(t, audit.EventDecrypt, event.EventType)
	assert.Equal(t, "allow", event.Decision)
	assert.Equal(t, resp.AuditEventID, event.EventID)
	assert.Equal(t, ActionKeyRelease, event.Action)
}

func TestRequestKey_SendsKeyReleaseAction(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RequestKey(context.Background(), f.request())
	require.NoError(t, err)

	require.Len(t, f.pdp.Calls, 1)
	assert.Equal(t, ActionKeyRelease, f.pdp.Calls[0].Action)
}

func TestRequestKey_IndependentOfPriorAllow(t *testing.T) {
	// A caller that fails releasability gets no key even when talking to the
	// broker directly, without any prior resource access check.
	f := newFixture(t)
	f.verifier.subject.CountryOfAffiliation = "FRA"
	f.verifier.subject.COI = nil

	resp, err := f.service.RequestKey(context.Background(), f.request())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.UnwrappedKey)
	assert.Equal(t, decision.ReasonNotReleasable, resp.DenialReason)
	assert.Equal(t, decision.CheckFail, resp.Decision.Evaluation.Releasability)

	assert.Empty(t, f.pdp.Calls, "a local deny must not consult the decision service")
	event := requireSingleAudit(t, f.auditStore)
	assert.Equal(t, audit.EventAccessDenied, event.EventType)
}

func TestRequestKey_DeniesUnverifiableToken(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = dErrors.New(dErrors.CodeUnauthorized, "token has expired")

	resp, err := f.service.RequestKey(context.Background(), f.request())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.False(t, resp.Success)
	assert.Nil(t, resp.UnwrappedKey)

	event := requireSingleAudit(t, f.auditStore)
	assert.Equal(t, audit.EventAccessDenied, event.EventType)
	assert.Empty(t, event.Subject.UniqueID)
}

func TestRequestKey_DeniesUnknownResource(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.ResourceID = "doc-missing"

	resp, err := f.service.RequestKey(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, decision.ReasonResourceUnknown, resp.DenialReason)
	requireSingleAudit(t, f.auditStore)
}

func TestRequestKey_FailsClosedOnDecisionServiceOutage(t *testing.T) {
	f := newFixture(t)
	f.pdp.Err = dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "decision request failed")

	resp, err := f.service.RequestKey(context.Background(), f.request())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.False(t, resp.Success)
	assert.Nil(t, resp.UnwrappedKey)
	assert.Equal(t, decision.ReasonPolicyUnavailable, resp.DenialReason)
	requireSingleAudit(t, f.auditStore)
}

func TestRequestKey_HonorsExternalDeny(t *testing.T) {
	f := newFixture(t)
	f.pdp.Allow = false
	f.pdp.Reason = "key release suspended for this resource"

	resp, err := f.service.RequestKey(context.Background(), f.request())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.UnwrappedKey)
	assert.Equal(t, "key release suspended for this resource", resp.DenialReason)
}

func TestRequestKey_RejectsTamperedKeyMaterial(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.WrappedKey = append([]byte(nil), req.WrappedKey...)
	req.WrappedKey[len(req.WrappedKey)-1] ^= 0x01

	resp, err := f.service.RequestKey(context.Background(), req)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	assert.False(t, resp.Success)
	assert.Nil(t, resp.UnwrappedKey, "never return partial key material")
	assert.Equal(t, decision.ReasonKeyMaterialRejected, resp.DenialReason)

	event := requireSingleAudit(t, f.auditStore)
	assert.Equal(t, audit.EventAccessDenied, event.EventType)
}

func TestRequestKey_WrongKAODeniesRelease(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.KAOID = "kao-other"

	resp, err := f.service.RequestKey(context.Background(), req)
	require.Error(t, err)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.UnwrappedKey)
}

func TestRequestKey_AuditFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.auditStore.FailAppends = errors.New("disk full")

	resp, err := f.service.RequestKey(context.Background(), f.request())
	require.NoError(t, err)
	assert.False(t, resp.Success, "an allow that cannot be recorded must become a deny")
	assert.Nil(t, resp.UnwrappedKey, "no key material without an audit record")
	assert.Equal(t, decision.ReasonAuditUnavailable, resp.DenialReason)
}
