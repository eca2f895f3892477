package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KeyVault persists private-key ownership proofs under versioned encryption.
type KeyVault interface {
	// StorePrivateKey derives the wallet address, encrypts the key and
	// persists the record in one transaction. Derivation failure aborts the
	// whole store; no partial row is ever written.
	StorePrivateKey(ctx context.Context, req StoreKeyRequest) (*VaultRecord, error)
	// RetrievePrivateKey decrypts a stored proof for an authorized operator
	// holding a valid, non-expired access key. Every decrypt is audit-logged.
	RetrievePrivateKey(ctx context.Context, storageID, accessKey string, meta RequestMeta) (string, error)
	// GrantAccess attaches a time-boxed access key to a record and returns
	// the key plaintext exactly once.
	GrantAccess(ctx context.Context, storageID string, ttl time.Duration, meta RequestMeta) (string, error)
	// DeleteForCompliance removes a record ahead of its purge date on an
	// explicit compliance request.
	DeleteForCompliance(ctx context.Context, storageID, reason string, meta RequestMeta) error
	// InTx returns a vault bound to an open transaction so the store
	// sequence can join a larger atomic operation.
	InTx(tx *gorm.DB) KeyVault
}

// StoreKeyRequest carries one private-key proof into the vault.
type StoreKeyRequest struct {
	UserID         uuid.UUID
	PrivateKey     string
	Network        Network
	Purpose        string
	VerificationID *uuid.UUID
	WithdrawalID   *uuid.UUID
	Meta           RequestMeta
}

// SessionService tracks verification session lifecycles.
type SessionService interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*VerificationSession, error)
	// GetSession lazily expires sessions whose deadline has passed.
	GetSession(ctx context.Context, sessionID uuid.UUID) (*VerificationSession, error)
	// CancelSession succeeds only for the owning user. Cancelling an already
	// terminal session is a no-op success.
	CancelSession(ctx context.Context, sessionID, userID uuid.UUID) (*VerificationSession, error)
	LinkToVerification(ctx context.Context, sessionID, verificationID uuid.UUID) error
	GetUserHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*VerificationSession, int64, error)
}

// CreateSessionRequest carries session creation parameters.
type CreateSessionRequest struct {
	UserID         uuid.UUID
	SessionType    SessionType
	VerificationID *uuid.UUID
	IPAddress      string
	UserAgent      string
	Metadata       map[string]string
	TTL            time.Duration
}

// Processor orchestrates one assisted verification submission end to end.
type Processor interface {
	Process(ctx context.Context, userID uuid.UUID, sub AssistedSubmission, meta RequestMeta) (*VaultStoreResult, error)
}

// WebhookService queues and delivers signed verification-outcome events.
type WebhookService interface {
	// Queue inserts a pending record, or does nothing when no webhook URL is
	// configured for the feature (nor globally).
	Queue(ctx context.Context, feature string, verificationID, userID uuid.UUID, eventType string, payload map[string]any) error
	// ProcessPending delivers up to limit pending/retrying records and
	// returns the number delivered successfully. Sends stop early once the
	// delivery rate budget is spent; leftover records stay queued.
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// RetentionService sweeps expired rows per category-specific windows.
type RetentionService interface {
	RunCleanup(ctx context.Context, dryRun bool) (*CleanupReport, error)
}

// CleanupReport summarizes one retention sweep.
type CleanupReport struct {
	DryRun          bool             `json:"dry_run"`
	StartedAt       time.Time        `json:"started_at"`
	Deleted         map[string]int64 `json:"deleted"`
	ArchivedTickets int64            `json:"archived_tickets"`
}

// AuditLogger appends immutable audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditLogEntry) error
}
