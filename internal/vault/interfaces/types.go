// Package interfaces defines the domain model and service contracts for the
// wallet ownership verification and compliance vault subsystem.
package interfaces

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Network identifies a supported blockchain network for ownership proofs.
type Network string

const (
	NetworkERC20    Network = "erc20"
	NetworkBEP20    Network = "bep20"
	NetworkPolygon  Network = "polygon"
	NetworkArbitrum Network = "arbitrum"
	NetworkTRC20    Network = "trc20"
)

// SupportedNetworks is the closed set accepted on submissions.
var SupportedNetworks = []Network{
	NetworkERC20, NetworkBEP20, NetworkPolygon, NetworkArbitrum, NetworkTRC20,
}

// Valid reports whether n is in the closed network set.
func (n Network) Valid() bool {
	for _, s := range SupportedNetworks {
		if n == s {
			return true
		}
	}
	return false
}

// IsEVM reports whether the network uses Ethereum-style 0x addresses.
func (n Network) IsEVM() bool {
	return n.Valid() && n != NetworkTRC20
}

// ComplianceLevel classifies how stringently a stored proof is handled.
type ComplianceLevel string

const (
	ComplianceBasic    ComplianceLevel = "basic"
	ComplianceAdvanced ComplianceLevel = "advanced"
	ComplianceEnhanced ComplianceLevel = "enhanced"
)

// VaultStatus is the lifecycle state of a vault record.
type VaultStatus string

const (
	VaultActive VaultStatus = "active"
	VaultPurged VaultStatus = "purged"
)

// SessionType distinguishes normal signature flows from assisted ones.
type SessionType string

const (
	SessionStandard SessionType = "standard"
	SessionAssisted SessionType = "assisted"
)

// SessionStatus is the lifecycle state of a verification session.
// Transitions are active -> cancelled or active -> expired only.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCancelled SessionStatus = "cancelled"
	SessionExpired   SessionStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCancelled || s == SessionExpired
}

// WebhookStatus is the delivery state of an outbound webhook.
type WebhookStatus string

const (
	WebhookPending  WebhookStatus = "pending"
	WebhookSent     WebhookStatus = "sent"
	WebhookRetrying WebhookStatus = "retrying"
	WebhookFailed   WebhookStatus = "failed"
)

// AttemptStatus is the review state of a verification attempt.
type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptApproved AttemptStatus = "approved"
	AttemptRejected AttemptStatus = "rejected"
)

// VaultRecord is an encrypted private-key proof at rest. The raw key exists
// only inside EncryptedBlob; KeyHash is its SHA-256 and is safe to index.
type VaultRecord struct {
	StorageID       string          `json:"storage_id" gorm:"primaryKey;size:32"`
	UserID          uuid.UUID       `json:"user_id" gorm:"type:uuid;index"`
	VerificationID  *uuid.UUID      `json:"verification_id,omitempty" gorm:"type:uuid;index"`
	WithdrawalID    *uuid.UUID      `json:"withdrawal_id,omitempty" gorm:"type:uuid"`
	EncryptedBlob   string          `json:"-" gorm:"type:text;not null"`
	Network         Network         `json:"network" gorm:"size:20;index"`
	Purpose         string          `json:"purpose" gorm:"size:50"`
	KeyHash         string          `json:"key_hash" gorm:"size:64;index"`
	WalletAddress   string          `json:"wallet_address" gorm:"size:100;index"`
	ComplianceLevel ComplianceLevel `json:"compliance_level" gorm:"size:20"`
	RetentionDays   int             `json:"retention_days"`
	AutoPurgeDate   time.Time       `json:"auto_purge_date" gorm:"index"`
	Status          VaultStatus     `json:"status" gorm:"size:20;index;default:active"`
	IsDuplicate     bool            `json:"is_duplicate"`
	RiskScore       decimal.Decimal `json:"risk_score" gorm:"type:decimal(5,2)"`
	AccessKeyHash   *string         `json:"-" gorm:"size:64"`
	AccessExpiry    *time.Time      `json:"access_expiry,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RateBucket is a durable counter for one (subject, endpoint) pair in one
// fixed time window. PeriodStart is floor(now/period)*period.
type RateBucket struct {
	Subject     string    `gorm:"primaryKey;size:100"`
	Endpoint    string    `gorm:"primaryKey;size:100"`
	PeriodStart time.Time `gorm:"primaryKey"`
	Count       int       `gorm:"not null"`
	UpdatedAt   time.Time
}

// VerificationSession tracks one verification attempt's lifecycle.
type VerificationSession struct {
	SessionID      uuid.UUID         `json:"session_id" gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID         `json:"user_id" gorm:"type:uuid;index"`
	VerificationID *uuid.UUID        `json:"verification_id,omitempty" gorm:"type:uuid;index"`
	SessionType    SessionType       `json:"session_type" gorm:"size:20"`
	Status         SessionStatus     `json:"status" gorm:"size:20;index"`
	IPAddress      string            `json:"ip_address" gorm:"size:45"`
	UserAgent      string            `json:"user_agent" gorm:"size:255"`
	Metadata       map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	ExpiresAt      time.Time         `json:"expires_at" gorm:"index"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ScheduledBalanceCheck is a unit of work for the external balance worker.
type ScheduledBalanceCheck struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	WalletAddress string    `json:"wallet_address" gorm:"size:100;index"`
	Network       Network   `json:"network" gorm:"size:20"`
	CheckType     string    `json:"check_type" gorm:"size:50"`
	Priority      int       `json:"priority"`
	ScheduledFor  time.Time `json:"scheduled_for" gorm:"index"`
	Status        string    `json:"status" gorm:"size:20;index;default:scheduled"`
	CreatedAt     time.Time `json:"created_at"`
}

// WebhookRecord is one queued verification-outcome notification.
type WebhookRecord struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	VerificationID uuid.UUID      `json:"verification_id" gorm:"type:uuid;index"`
	UserID         uuid.UUID      `json:"user_id" gorm:"type:uuid;index"`
	WebhookURL     string         `json:"webhook_url" gorm:"size:500"`
	EventType      string         `json:"event_type" gorm:"size:100"`
	Payload        map[string]any `json:"payload" gorm:"serializer:json"`
	Status         WebhookStatus  `json:"status" gorm:"size:20;index"`
	Attempts       int            `json:"attempts"`
	ResponseStatus *int           `json:"response_status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty" gorm:"size:1024"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AuditLogEntry is an immutable record of a vault action. Rows are never
// updated; deletion happens only through the retention sweep.
type AuditLogEntry struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Action    string         `json:"action" gorm:"size:100;index"`
	ActorID   string         `json:"actor_id" gorm:"size:100"`
	UserID    uuid.UUID      `json:"user_id" gorm:"type:uuid;index"`
	StorageID string         `json:"storage_id,omitempty" gorm:"size:32;index"`
	IPAddress string         `json:"ip_address" gorm:"size:45"`
	Detail    map[string]any `json:"detail,omitempty" gorm:"serializer:json"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}

// VerificationAttempt records the outcome of one assisted submission for
// review and retention purposes. It never holds proof material.
type VerificationAttempt struct {
	ID         uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID     `json:"user_id" gorm:"type:uuid;index"`
	Reference  string        `json:"reference" gorm:"size:20;uniqueIndex"`
	ProofType  string        `json:"proof_type" gorm:"size:30"`
	Network    Network       `json:"network" gorm:"size:20"`
	StorageID  string        `json:"storage_id,omitempty" gorm:"size:32"`
	Status     AttemptStatus `json:"status" gorm:"size:20;index"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at" gorm:"index"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// SupportTicket is a compliance support case. Retention archives tickets by
// status flip instead of deleting them.
type SupportTicket struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID  `json:"user_id" gorm:"type:uuid;index"`
	Subject   string     `json:"subject" gorm:"size:255"`
	Status    string     `json:"status" gorm:"size:20;index"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AssistedSubmission is the inbound payload from the UI layer.
type AssistedSubmission struct {
	WalletOwnershipProof string            `json:"wallet_ownership_proof" validate:"required"`
	Network              Network           `json:"network" validate:"required"`
	UserConsent          bool              `json:"user_consent"`
	Purpose              string            `json:"purpose,omitempty"`
	VerificationID       *uuid.UUID        `json:"verification_id,omitempty"`
	WithdrawalID         *uuid.UUID        `json:"withdrawal_id,omitempty"`
	Context              map[string]string `json:"context,omitempty"`
}

// VaultStoreResult is returned to the caller after a successful store.
type VaultStoreResult struct {
	StorageID            string    `json:"storage_id"`
	WalletAddress        string    `json:"wallet_address"`
	Network              Network   `json:"network"`
	KeyHash              string    `json:"key_hash"`
	VerificationRecordID string    `json:"verification_record_id"`
	NextAction           string    `json:"next_action"`
	ScheduledFor         time.Time `json:"scheduled_for"`
}

// RequestMeta carries per-request caller attribution for audit records.
type RequestMeta struct {
	ActorID   string
	IPAddress string
	UserAgent string
}

// AllModels lists every persisted type for migration wiring.
func AllModels() []any {
	return []any{
		&VaultRecord{},
		&RateBucket{},
		&VerificationSession{},
		&ScheduledBalanceCheck{},
		&WebhookRecord{},
		&AuditLogEntry{},
		&VerificationAttempt{},
		&SupportTicket{},
	}
}
