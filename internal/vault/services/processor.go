package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/altexo/walletvault/internal/vault/interfaces"
	"github.com/altexo/walletvault/internal/vault/repository"
)

const (
	// balanceCheckDelay leaves room for chain confirmation before the
	// external worker inspects the derived address.
	balanceCheckDelay = 5 * time.Minute

	webhookFeature = "assisted_verification"
)

// ProcessorService validates, classifies and executes assisted verification
// submissions. Only the private-key path is implemented end to end; the
// signed-message and wallet-connection paths fail loudly until built.
type ProcessorService struct {
	db       *gorm.DB
	repo     *repository.Repository
	vault    interfaces.KeyVault
	webhooks interfaces.WebhookService
	audit    *AuditService
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewProcessorService wires the submission orchestrator.
func NewProcessorService(
	db *gorm.DB,
	repo *repository.Repository,
	vault interfaces.KeyVault,
	webhooks interfaces.WebhookService,
	audit *AuditService,
	logger *zap.Logger,
) *ProcessorService {
	return &ProcessorService{
		db:       db,
		repo:     repo,
		vault:    vault,
		webhooks: webhooks,
		audit:    audit,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (p *ProcessorService) WithClock(now func() time.Time) *ProcessorService {
	p.now = now
	return p
}

// Process runs one submission through validate -> classify -> store ->
// schedule -> audit. Validation happens before any side effect.
func (p *ProcessorService) Process(ctx context.Context, userID uuid.UUID, sub interfaces.AssistedSubmission, meta interfaces.RequestMeta) (*interfaces.VaultStoreResult, error) {
	if err := p.validateSubmission(userID, sub); err != nil {
		return nil, err
	}

	proof, err := ParseProof(sub.WalletOwnershipProof)
	if err != nil {
		return nil, err
	}

	switch v := proof.(type) {
	case PrivateKeyProof:
		return p.processPrivateKey(ctx, userID, v, sub, meta)
	case SignedMessageProof:
		return nil, fmt.Errorf("%w: signed message verification", interfaces.ErrProofPathReserved)
	case WalletConnectionProof:
		return nil, fmt.Errorf("%w: wallet connection verification", interfaces.ErrProofPathReserved)
	default:
		// Unreachable while the Proof set stays closed.
		return nil, interfaces.ErrUnsupportedProofType
	}
}

func (p *ProcessorService) validateSubmission(userID uuid.UUID, sub interfaces.AssistedSubmission) error {
	if userID == uuid.Nil {
		return interfaces.NewValidationError("user_id", "missing")
	}
	if err := p.validate.Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return interfaces.NewValidationError(strings.ToLower(verrs[0].Field()), "missing or malformed")
		}
		return interfaces.NewValidationError("submission", "malformed")
	}
	if !sub.Network.Valid() {
		return interfaces.NewValidationError("network", "unsupported network")
	}
	if !sub.UserConsent {
		return interfaces.NewValidationError("user_consent", "explicit consent required")
	}
	return nil
}

func (p *ProcessorService) processPrivateKey(ctx context.Context, userID uuid.UUID, proof PrivateKeyProof, sub interfaces.AssistedSubmission, meta interfaces.RequestMeta) (*interfaces.VaultStoreResult, error) {
	purpose := sub.Purpose
	if purpose == "" {
		purpose = "withdrawal_verification"
	}

	reference, err := newReference()
	if err != nil {
		return nil, err
	}
	scheduledFor := p.now().Add(balanceCheckDelay)

	// The store, the scheduled check, the attempt row and the audit entry
	// commit or roll back together. A partial failure leaves no orphan
	// vault record behind.
	var (
		rec     *interfaces.VaultRecord
		attempt *interfaces.VerificationAttempt
	)
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := p.repo.InTx(tx)

		stored, err := p.vault.InTx(tx).StorePrivateKey(ctx, interfaces.StoreKeyRequest{
			UserID:         userID,
			PrivateKey:     proof.Hex,
			Network:        sub.Network,
			Purpose:        purpose,
			VerificationID: sub.VerificationID,
			WithdrawalID:   sub.WithdrawalID,
			Meta:           meta,
		})
		if err != nil {
			return err
		}
		rec = stored

		check := &interfaces.ScheduledBalanceCheck{
			ID:            uuid.New(),
			WalletAddress: rec.WalletAddress,
			Network:       rec.Network,
			CheckType:     "ownership_confirmation",
			Priority:      priorityFor(rec.ComplianceLevel),
			ScheduledFor:  scheduledFor,
			Status:        "scheduled",
		}
		if err := txRepo.CreateBalanceCheck(ctx, check); err != nil {
			return fmt.Errorf("schedule balance check: %w", err)
		}

		attempt = &interfaces.VerificationAttempt{
			ID:        uuid.New(),
			UserID:    userID,
			Reference: reference,
			ProofType: proof.Label(),
			Network:   rec.Network,
			StorageID: rec.StorageID,
			Status:    interfaces.AttemptPending,
		}
		if err := txRepo.CreateAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}

		return p.audit.InTx(txRepo).Record(ctx, interfaces.AuditLogEntry{
			Action:    ActionVerificationRun,
			ActorID:   meta.ActorID,
			UserID:    userID,
			StorageID: rec.StorageID,
			IPAddress: meta.IPAddress,
			Detail: map[string]any{
				"reference":  reference,
				"proof_type": proof.Label(),
				"network":    string(rec.Network),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	verificationID := attempt.ID
	if sub.VerificationID != nil {
		verificationID = *sub.VerificationID
	}
	if err := p.webhooks.Queue(ctx, webhookFeature, verificationID, userID, "verification.submitted", map[string]any{
		"reference":      reference,
		"wallet_address": rec.WalletAddress,
		"network":        string(rec.Network),
		"next_action":    "balance_check",
	}); err != nil {
		// Delivery is at-least-once from the queue onward; a queue failure
		// here must not unwind the completed store.
		p.logger.Warn("webhook queue failed", zap.String("reference", reference), zap.Error(err))
	}

	p.logger.Info("assisted verification processed",
		zap.String("reference", reference),
		zap.String("network", string(rec.Network)),
		zap.String("compliance_level", string(rec.ComplianceLevel)))

	return &interfaces.VaultStoreResult{
		StorageID:            rec.StorageID,
		WalletAddress:        rec.WalletAddress,
		Network:              rec.Network,
		KeyHash:              rec.KeyHash,
		VerificationRecordID: reference,
		NextAction:           "balance_check",
		ScheduledFor:         scheduledFor,
	}, nil
}

func priorityFor(level interfaces.ComplianceLevel) int {
	switch level {
	case interfaces.ComplianceEnhanced:
		return 1
	case interfaces.ComplianceAdvanced:
		return 2
	default:
		return 3
	}
}

// newReference returns a short user-facing reference number. It is the only
// identifier surfaced outside the subsystem on failure paths.
func newReference() (string, error) {
	raw := make([]byte, 5)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("reference generation: %w", err)
	}
	return "VR-" + strings.ToUpper(hex.EncodeToString(raw)), nil
}
