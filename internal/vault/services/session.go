package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/vault/interfaces"
	"github.com/altexo/walletvault/internal/vault/repository"
)

const defaultSessionTTL = 30 * time.Minute

// SessionLifecycleService tracks verification sessions. Expiry is lazy: a
// session past its deadline reads as expired regardless of stored status.
type SessionLifecycleService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionLifecycleService creates the session service.
func NewSessionLifecycleService(repo *repository.Repository, logger *zap.Logger) *SessionLifecycleService {
	return &SessionLifecycleService{repo: repo, logger: logger, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *SessionLifecycleService) WithClock(now func() time.Time) *SessionLifecycleService {
	s.now = now
	return s
}

// CreateSession opens a new active session.
func (s *SessionLifecycleService) CreateSession(ctx context.Context, req interfaces.CreateSessionRequest) (*interfaces.VerificationSession, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	sessionType := req.SessionType
	if sessionType == "" {
		sessionType = interfaces.SessionStandard
	}
	session := &interfaces.VerificationSession{
		SessionID:      uuid.New(),
		UserID:         req.UserID,
		VerificationID: req.VerificationID,
		SessionType:    sessionType,
		Status:         interfaces.SessionActive,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		Metadata:       req.Metadata,
		ExpiresAt:      s.now().Add(ttl),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	s.logger.Debug("session created",
		zap.String("session_id", session.SessionID.String()),
		zap.String("type", string(sessionType)))
	return session, nil
}

// GetSession loads a session, lazily expiring it when its deadline has
// passed. The persisted flip is best effort; the returned status is
// authoritative either way.
func (s *SessionLifecycleService) GetSession(ctx context.Context, sessionID uuid.UUID) (*interfaces.VerificationSession, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == interfaces.SessionActive && s.now().After(session.ExpiresAt) {
		session.Status = interfaces.SessionExpired
		if err := s.repo.SaveSession(ctx, session); err != nil {
			s.logger.Warn("lazy expiry persist failed",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		}
	}
	return session, nil
}

// CancelSession cancels an active session owned by userID. Cancelling an
// already terminal session is a no-op success.
func (s *SessionLifecycleService) CancelSession(ctx context.Context, sessionID, userID uuid.UUID) (*interfaces.VerificationSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, interfaces.ErrNotSessionOwner
	}
	if session.Status.Terminal() {
		return session, nil
	}
	session.Status = interfaces.SessionCancelled
	if err := s.repo.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// LinkToVerification attaches a verification id to an existing session.
func (s *SessionLifecycleService) LinkToVerification(ctx context.Context, sessionID, verificationID uuid.UUID) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.VerificationID = &verificationID
	return s.repo.SaveSession(ctx, session)
}

// GetUserHistory returns a page of the user's sessions, newest first.
func (s *SessionLifecycleService) GetUserHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*interfaces.VerificationSession, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	sessions, total, err := s.repo.ListUserSessions(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	// Reads report lazy expiry without waiting for a direct GetSession.
	now := s.now()
	for _, session := range sessions {
		if session.Status == interfaces.SessionActive && now.After(session.ExpiresAt) {
			session.Status = interfaces.SessionExpired
		}
	}
	return sessions, total, nil
}
