package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	vaultcrypto "github.com/altexo/walletvault/internal/vault/crypto"
	"github.com/altexo/walletvault/internal/vault/interfaces"
	"github.com/altexo/walletvault/internal/vault/repository"
)

// Purposes that force enhanced compliance handling.
var enhancedPurposes = map[string]bool{
	"kyc_verification": true,
	"aml_review":       true,
	"tax_reporting":    true,
}

var (
	baseRiskScore     = decimal.NewFromInt(10)
	duplicateRiskBump = decimal.NewFromInt(40)
)

// KeyVaultService stores private-key ownership proofs under versioned
// authenticated encryption and controls their retrieval.
type KeyVaultService struct {
	db            *gorm.DB
	repo          *repository.Repository
	cipher        *vaultcrypto.ComplianceCipher
	audit         *AuditService
	retentionDays int
	logger        *zap.Logger
	now           func() time.Time
}

// NewKeyVaultService wires the vault over its collaborators.
func NewKeyVaultService(
	db *gorm.DB,
	repo *repository.Repository,
	cipher *vaultcrypto.ComplianceCipher,
	audit *AuditService,
	retentionDays int,
	logger *zap.Logger,
) *KeyVaultService {
	if retentionDays <= 0 {
		retentionDays = 365
	}
	return &KeyVaultService{
		db:            db,
		repo:          repo,
		cipher:        cipher,
		audit:         audit,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *KeyVaultService) WithClock(now func() time.Time) *KeyVaultService {
	s.now = now
	return s
}

// InTx returns a copy of the service scoped to tx. The store sequence then
// joins the caller's transaction; the nested Transaction call below becomes
// a savepoint.
func (s *KeyVaultService) InTx(tx *gorm.DB) interfaces.KeyVault {
	scoped := *s
	scoped.db = tx
	scoped.repo = s.repo.InTx(tx)
	return &scoped
}

// StorePrivateKey runs the full store sequence inside one transaction:
// derive address, encrypt, hash, classify, flag duplicates, persist, audit.
// Derivation failure aborts the store; no fallback address is ever
// substituted since a wrong address would misattribute custody.
func (s *KeyVaultService) StorePrivateKey(ctx context.Context, req interfaces.StoreKeyRequest) (*interfaces.VaultRecord, error) {
	normalized, err := vaultcrypto.NormalizeKey(req.PrivateKey)
	if err != nil {
		return nil, err
	}
	address, err := vaultcrypto.DeriveAddress(normalized, req.Network)
	if err != nil {
		return nil, err
	}
	keyHash := vaultcrypto.KeyHash(normalized)

	blob, err := s.cipher.Encrypt([]byte(normalized), req.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("encrypt proof: %w", err)
	}

	storageID, err := newStorageID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &interfaces.VaultRecord{
		StorageID:       storageID,
		UserID:          req.UserID,
		VerificationID:  req.VerificationID,
		WithdrawalID:    req.WithdrawalID,
		EncryptedBlob:   blob,
		Network:         req.Network,
		Purpose:         req.Purpose,
		KeyHash:         keyHash,
		WalletAddress:   address,
		ComplianceLevel: complianceLevelFor(req.Purpose, req.Network),
		RetentionDays:   s.retentionDays,
		AutoPurgeDate:   now.AddDate(0, 0, s.retentionDays),
		Status:          interfaces.VaultActive,
		RiskScore:       baseRiskScore,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.InTx(tx)

		// Duplicate key material, possibly under another user, raises the
		// risk score but never blocks the store.
		existing, err := txRepo.FindByKeyHash(ctx, keyHash)
		if err != nil {
			return fmt.Errorf("duplicate lookup: %w", err)
		}
		if len(existing) > 0 {
			rec.IsDuplicate = true
			rec.RiskScore = rec.RiskScore.Add(duplicateRiskBump)
		}

		if err := txRepo.CreateVaultRecord(ctx, rec); err != nil {
			return fmt.Errorf("persist vault record: %w", err)
		}

		return s.audit.InTx(txRepo).Record(ctx, interfaces.AuditLogEntry{
			Action:    ActionVaultStore,
			ActorID:   req.Meta.ActorID,
			UserID:    req.UserID,
			StorageID: storageID,
			IPAddress: req.Meta.IPAddress,
			Detail: map[string]any{
				"network":          string(req.Network),
				"purpose":          req.Purpose,
				"compliance_level": string(rec.ComplianceLevel),
				"is_duplicate":     rec.IsDuplicate,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("vault record stored",
		zap.String("storage_id", storageID),
		zap.String("network", string(req.Network)),
		zap.String("compliance_level", string(rec.ComplianceLevel)),
		zap.Bool("is_duplicate", rec.IsDuplicate))
	return rec, nil
}

// RetrievePrivateKey decrypts a stored proof for a holder of a valid,
// non-expired access key. Every successful decrypt is audit-logged.
func (s *KeyVaultService) RetrievePrivateKey(ctx context.Context, storageID, accessKey string, meta interfaces.RequestMeta) (string, error) {
	rec, err := s.repo.GetVaultRecord(ctx, storageID)
	if err != nil {
		return "", err
	}
	if rec.AccessKeyHash == nil {
		return "", interfaces.ErrInvalidAccessKey
	}
	if rec.AccessExpiry == nil || s.now().After(*rec.AccessExpiry) {
		return "", interfaces.ErrAccessExpired
	}
	supplied := sha256.Sum256([]byte(accessKey))
	if !hmac.Equal([]byte(hex.EncodeToString(supplied[:])), []byte(*rec.AccessKeyHash)) {
		return "", interfaces.ErrInvalidAccessKey
	}

	plaintext, err := s.cipher.Decrypt(rec.EncryptedBlob, rec.UserID.String())
	if err != nil {
		// Tamper or corruption. Logged without any key material.
		s.logger.Error("vault decrypt failed",
			zap.String("storage_id", storageID),
			zap.Error(err))
		return "", err
	}
	key := string(plaintext)
	vaultcrypto.SecureWipe(plaintext)

	if err := s.audit.Record(ctx, interfaces.AuditLogEntry{
		Action:    ActionVaultDecrypt,
		ActorID:   meta.ActorID,
		UserID:    rec.UserID,
		StorageID: storageID,
		IPAddress: meta.IPAddress,
		Detail:    map[string]any{"purpose": rec.Purpose},
	}); err != nil {
		return "", err
	}
	return key, nil
}

// GrantAccess attaches a time-boxed access key to a record, returning the
// key plaintext exactly once. Only its hash is persisted.
func (s *KeyVaultService) GrantAccess(ctx context.Context, storageID string, ttl time.Duration, meta interfaces.RequestMeta) (string, error) {
	rec, err := s.repo.GetVaultRecord(ctx, storageID)
	if err != nil {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("access key generation: %w", err)
	}
	accessKey := hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(accessKey))
	hash := hex.EncodeToString(sum[:])
	expiry := s.now().Add(ttl)

	rec.AccessKeyHash = &hash
	rec.AccessExpiry = &expiry

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.InTx(tx)
		if err := txRepo.SaveVaultRecord(ctx, rec); err != nil {
			return err
		}
		return s.audit.InTx(txRepo).Record(ctx, interfaces.AuditLogEntry{
			Action:    ActionVaultGrant,
			ActorID:   meta.ActorID,
			UserID:    rec.UserID,
			StorageID: storageID,
			IPAddress: meta.IPAddress,
			Detail:    map[string]any{"expires_at": expiry.UTC().Format(time.RFC3339)},
		})
	})
	if err != nil {
		return "", err
	}
	return accessKey, nil
}

// DeleteForCompliance removes a record ahead of its purge date on an
// explicit compliance request.
func (s *KeyVaultService) DeleteForCompliance(ctx context.Context, storageID, reason string, meta interfaces.RequestMeta) error {
	rec, err := s.repo.GetVaultRecord(ctx, storageID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.InTx(tx)
		if err := txRepo.DeleteVaultRecord(ctx, storageID); err != nil {
			return err
		}
		return s.audit.InTx(txRepo).Record(ctx, interfaces.AuditLogEntry{
			Action:    ActionVaultDelete,
			ActorID:   meta.ActorID,
			UserID:    rec.UserID,
			StorageID: storageID,
			IPAddress: meta.IPAddress,
			Detail:    map[string]any{"reason": reason},
		})
	})
}

// complianceLevelFor classifies the handling stringency of a stored proof.
func complianceLevelFor(purpose string, network interfaces.Network) interfaces.ComplianceLevel {
	switch {
	case enhancedPurposes[purpose]:
		return interfaces.ComplianceEnhanced
	case network.IsEVM():
		return interfaces.ComplianceAdvanced
	default:
		return interfaces.ComplianceBasic
	}
}

// newStorageID returns an opaque 16-byte random identifier, hex encoded.
func newStorageID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("storage id generation: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
