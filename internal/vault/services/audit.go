// Package services implements the vault subsystem's business logic on top
// of the repository, crypto and rate-limit layers.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/vault/interfaces"
	"github.com/altexo/walletvault/internal/vault/repository"
)

// Audit action names.
const (
	ActionVaultStore       = "vault.store"
	ActionVaultDecrypt     = "vault.decrypt"
	ActionVaultGrant       = "vault.access_grant"
	ActionVaultDelete      = "vault.compliance_delete"
	ActionVerificationRun  = "verification.assisted"
	ActionRetentionCleanup = "retention.cleanup"
)

// AuditService appends immutable audit entries. Entries are never updated;
// only the retention sweep removes them, years later.
type AuditService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService creates the audit writer.
func NewAuditService(repo *repository.Repository, logger *zap.Logger) *AuditService {
	return &AuditService{repo: repo, logger: logger, now: time.Now}
}

// Record appends one audit entry.
func (a *AuditService) Record(ctx context.Context, entry interfaces.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}
	if err := a.repo.CreateAuditEntry(ctx, &entry); err != nil {
		a.logger.Error("audit append failed",
			zap.String("action", entry.Action),
			zap.Error(err))
		return err
	}
	return nil
}

// InTx returns an audit writer bound to an open transaction so the entry
// commits or rolls back with the operation it describes.
func (a *AuditService) InTx(repo *repository.Repository) *AuditService {
	return &AuditService{repo: repo, logger: a.logger, now: a.now}
}
