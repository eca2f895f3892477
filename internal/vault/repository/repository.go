// Package repository provides the data access layer for the vault subsystem.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/altexo/walletvault/internal/vault/interfaces"
)

// Repository wraps all gorm access for vault entities.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository creates a repository over the given database handle.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB exposes the underlying handle for transaction scoping.
func (r *Repository) DB() *gorm.DB { return r.db }

// InTx returns a repository bound to an open transaction.
func (r *Repository) InTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx, logger: r.logger}
}

// Vault records

// CreateVaultRecord inserts a new encrypted proof record.
func (r *Repository) CreateVaultRecord(ctx context.Context, rec *interfaces.VaultRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// GetVaultRecord retrieves a record by storage id.
func (r *Repository) GetVaultRecord(ctx context.Context, storageID string) (*interfaces.VaultRecord, error) {
	var rec interfaces.VaultRecord
	err := r.db.WithContext(ctx).Where("storage_id = ?", storageID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByKeyHash returns all records sharing a key hash, across users.
// Used for duplicate detection before insert.
func (r *Repository) FindByKeyHash(ctx context.Context, keyHash string) ([]*interfaces.VaultRecord, error) {
	var recs []*interfaces.VaultRecord
	err := r.db.WithContext(ctx).Where("key_hash = ?", keyHash).Find(&recs).Error
	return recs, err
}

// SaveVaultRecord persists mutations to an existing record.
func (r *Repository) SaveVaultRecord(ctx context.Context, rec *interfaces.VaultRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

// DeleteVaultRecord removes a record by storage id.
func (r *Repository) DeleteVaultRecord(ctx context.Context, storageID string) error {
	return r.db.WithContext(ctx).Where("storage_id = ?", storageID).Delete(&interfaces.VaultRecord{}).Error
}

// Sessions

// CreateSession inserts a new verification session.
func (r *Repository) CreateSession(ctx context.Context, s *interfaces.VerificationSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetSession retrieves a session by id.
func (r *Repository) GetSession(ctx context.Context, sessionID uuid.UUID) (*interfaces.VerificationSession, error) {
	var s interfaces.VerificationSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSession persists session mutations.
func (r *Repository) SaveSession(ctx context.Context, s *interfaces.VerificationSession) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// ListUserSessions returns a page of a user's sessions, newest first.
func (r *Repository) ListUserSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*interfaces.VerificationSession, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&interfaces.VerificationSession{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var sessions []*interfaces.VerificationSession
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error
	return sessions, total, err
}

// Balance checks

// CreateBalanceCheck schedules work for the external balance worker.
func (r *Repository) CreateBalanceCheck(ctx context.Context, c *interfaces.ScheduledBalanceCheck) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// Webhooks

// CreateWebhook inserts a pending delivery record.
func (r *Repository) CreateWebhook(ctx context.Context, w *interfaces.WebhookRecord) error {
	return r.db.WithContext(ctx).Create(w).Error
}

// ListDeliverableWebhooks returns pending and retrying records, oldest first.
func (r *Repository) ListDeliverableWebhooks(ctx context.Context, limit int) ([]*interfaces.WebhookRecord, error) {
	var recs []*interfaces.WebhookRecord
	err := r.db.WithContext(ctx).
		Where("status IN ?", []interfaces.WebhookStatus{interfaces.WebhookPending, interfaces.WebhookRetrying}).
		Order("created_at ASC").Limit(limit).Find(&recs).Error
	return recs, err
}

// SaveWebhook persists delivery-state mutations.
func (r *Repository) SaveWebhook(ctx context.Context, w *interfaces.WebhookRecord) error {
	return r.db.WithContext(ctx).Save(w).Error
}

// Audit and attempts

// CreateAuditEntry appends an immutable audit row.
func (r *Repository) CreateAuditEntry(ctx context.Context, e *interfaces.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

// CreateAttempt records an assisted verification attempt.
func (r *Repository) CreateAttempt(ctx context.Context, a *interfaces.VerificationAttempt) error {
	return r.db.WithContext(ctx).Create(a).Error
}

// Rate buckets

// IncrementBucket atomically increments the (subject, endpoint, periodStart)
// counter, refusing once limit is reached. The bounded UPDATE makes the
// read-modify-write race-free without an explicit row lock; insert races on
// a fresh bucket fall back to the UPDATE path.
func (r *Repository) IncrementBucket(ctx context.Context, subject, endpoint string, periodStart time.Time, limit int) (bool, int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res := r.db.WithContext(ctx).Model(&interfaces.RateBucket{}).
			Where("subject = ? AND endpoint = ? AND period_start = ? AND count < ?",
				subject, endpoint, periodStart, limit).
			UpdateColumn("count", gorm.Expr("count + 1"))
		if res.Error != nil {
			return false, 0, res.Error
		}
		if res.RowsAffected == 1 {
			count, err := r.bucketCount(ctx, subject, endpoint, periodStart)
			return true, count, err
		}

		count, err := r.bucketCount(ctx, subject, endpoint, periodStart)
		if err == nil {
			// Bucket exists and is at the limit.
			return false, count, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, 0, err
		}

		bucket := &interfaces.RateBucket{
			Subject:     subject,
			Endpoint:    endpoint,
			PeriodStart: periodStart,
			Count:       1,
		}
		if err := r.db.WithContext(ctx).Create(bucket).Error; err == nil {
			return true, 1, nil
		}
		// Lost the insert race; loop once more through the UPDATE path.
	}
	return false, 0, errors.New("rate bucket increment did not converge")
}

// GetBucket reads a bucket count without mutating it.
func (r *Repository) GetBucket(ctx context.Context, subject, endpoint string, periodStart time.Time) (int, error) {
	count, err := r.bucketCount(ctx, subject, endpoint, periodStart)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return count, err
}

func (r *Repository) bucketCount(ctx context.Context, subject, endpoint string, periodStart time.Time) (int, error) {
	var bucket interfaces.RateBucket
	err := r.db.WithContext(ctx).
		Where("subject = ? AND endpoint = ? AND period_start = ?", subject, endpoint, periodStart).
		First(&bucket).Error
	if err != nil {
		return 0, err
	}
	return bucket.Count, nil
}

// DeleteBucketsBefore removes buckets whose window started before cutoff.
func (r *Repository) DeleteBucketsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("period_start < ?", cutoff).Delete(&interfaces.RateBucket{})
	return res.RowsAffected, res.Error
}
