package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/vault/interfaces"
)

func newTestSessions(t *testing.T, env *testEnv) *SessionLifecycleService {
	t.Helper()
	return NewSessionLifecycleService(env.repo, zap.NewNop())
}

func TestCreateAndGetSession(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestSessions(t, env)
	userID := uuid.New()

	created, err := svc.CreateSession(context.Background(), interfaces.CreateSessionRequest{
		UserID:      userID,
		SessionType: interfaces.SessionAssisted,
		IPAddress:   "203.0.113.7",
		UserAgent:   "go-test",
		Metadata:    map[string]string{"withdrawal_id": "w-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SessionActive, created.Status)
	assert.True(t, created.ExpiresAt.After(time.Now()))

	got, err := svc.GetSession(context.Background(), created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, interfaces.SessionAssisted, got.SessionType)
	assert.Equal(t, "w-1", got.Metadata["withdrawal_id"])
}

func TestSessionLazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestSessions(t, env)

	created, err := svc.CreateSession(context.Background(), interfaces.CreateSessionRequest{
		UserID: uuid.New(),
		TTL:    time.Minute,
	})
	require.NoError(t, err)

	// Stored status still says active; the read must report expired.
	svc.WithClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	got, err := svc.GetSession(context.Background(), created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SessionExpired, got.Status)

	// And the flip is persisted opportunistically.
	stored, err := env.repo.GetSession(context.Background(), created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SessionExpired, stored.Status)
}

func TestCancelSession(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestSessions(t, env)
	userID := uuid.New()

	created, err := svc.CreateSession(context.Background(), interfaces.CreateSessionRequest{UserID: userID})
	require.NoError(t, err)

	cancelled, err := svc.CancelSession(context.Background(), created.SessionID, userID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SessionCancelled, cancelled.Status)

	// Cancelling a terminal session is a no-op success, not an error.
	again, err := svc.CancelSession(context.Background(), created.SessionID, userID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SessionCancelled, again.Status)
}

func TestCancelSessionWrongUser(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestSessions(t, env)

	created, err := svc.CreateSession(context.Background(), interfaces.CreateSessionRequest{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = svc.CancelSession(context.Background(), created.SessionID, uuid.New())
	assert.ErrorIs(t, err, interfaces.ErrNotSessionOwner)
}

func TestCancelExpiredSessionIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestSessions(t, env)
	userID := uuid.New()

	created, err := svc.CreateSession(context.Background(), interfaces.CreateSessionRequest{
		UserID: userID,
		TTL:    time.Minute,
	})
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return time.Now().Add(time.Hour) })
	got, err := svc.CancelSession(context.Background(), created.SessionID, userID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.SessionExpired, got.Status)
}

func TestLinkToVerification(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestSessions(t, env)

	created, err := svc.CreateSession(context.Background(), interfaces.CreateSessionRequest{UserID: uuid.New()})
	require.NoError(t, err)

	verificationID := uuid.New()
	require.NoError(t, svc.LinkToVerification(context.Background(), created.SessionID, verificationID))

	got, err := svc.GetSession(context.Background(), created.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got.VerificationID)
	assert.Equal(t, verificationID, *got.VerificationID)
}

func TestGetUserHistoryPaginated(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestSessions(t, env)
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := svc.CreateSession(context.Background(), interfaces.CreateSessionRequest{UserID: userID})
		require.NoError(t, err)
	}
	// Another user's sessions never leak into the page.
	_, err := svc.CreateSession(context.Background(), interfaces.CreateSessionRequest{UserID: uuid.New()})
	require.NoError(t, err)

	page, total, err := svc.GetUserHistory(context.Background(), userID, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 3)

	rest, _, err := svc.GetUserHistory(context.Background(), userID, 3, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestGetUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestSessions(t, env)

	_, err := svc.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}
