package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/altexo/walletvault/internal/vault/interfaces"
)

// Retention queries. Each helper either counts (dry run) or deletes rows
// strictly inside its category window, so sweeps stay idempotent: a second
// run over unchanged data matches zero rows.

// SweepVaultRecordsDue purges vault records past their auto-purge date.
func (r *Repository) SweepVaultRecordsDue(ctx context.Context, now time.Time, dryRun bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&interfaces.VaultRecord{}).Where("auto_purge_date < ?", now)
	return r.countOrDelete(q, &interfaces.VaultRecord{}, dryRun)
}

// SweepSessionsBefore removes sessions that expired before cutoff.
func (r *Repository) SweepSessionsBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&interfaces.VerificationSession{}).Where("expires_at < ?", cutoff)
	return r.countOrDelete(q, &interfaces.VerificationSession{}, dryRun)
}

// SweepAttemptsBefore removes attempts in the given status created before
// cutoff.
func (r *Repository) SweepAttemptsBefore(ctx context.Context, status interfaces.AttemptStatus, cutoff time.Time, dryRun bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&interfaces.VerificationAttempt{}).
		Where("status = ? AND created_at < ?", status, cutoff)
	return r.countOrDelete(q, &interfaces.VerificationAttempt{}, dryRun)
}

// SweepWebhooksBefore removes terminal webhook records older than cutoff.
// Pending and retrying rows are never touched.
func (r *Repository) SweepWebhooksBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&interfaces.WebhookRecord{}).
		Where("status IN ? AND updated_at < ?",
			[]interfaces.WebhookStatus{interfaces.WebhookSent, interfaces.WebhookFailed}, cutoff)
	return r.countOrDelete(q, &interfaces.WebhookRecord{}, dryRun)
}

// SweepAuditBefore removes audit entries older than cutoff. The audit
// window is deliberately long; this only fires after years.
func (r *Repository) SweepAuditBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&interfaces.AuditLogEntry{}).Where("created_at < ?", cutoff)
	return r.countOrDelete(q, &interfaces.AuditLogEntry{}, dryRun)
}

// ArchiveTicketsClosedBefore flips closed support tickets to archived
// instead of deleting them.
func (r *Repository) ArchiveTicketsClosedBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&interfaces.SupportTicket{}).
		Where("status = ? AND closed_at < ?", "closed", cutoff)
	if dryRun {
		var n int64
		err := q.Count(&n).Error
		return n, err
	}
	res := q.Update("status", "archived")
	return res.RowsAffected, res.Error
}

func (r *Repository) countOrDelete(q *gorm.DB, model any, dryRun bool) (int64, error) {
	if dryRun {
		var n int64
		err := q.Count(&n).Error
		return n, err
	}
	res := q.Delete(model)
	return res.RowsAffected, res.Error
}
