package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/vault/config"
	"github.com/altexo/walletvault/internal/vault/interfaces"
	"github.com/altexo/walletvault/internal/vault/repository"
)

// Default retention windows in days per category. Config overrides apply
// per category name.
const (
	retentionAttemptsPendingDays  = 7
	retentionAttemptsRejectedDays = 90
	retentionSessionsExpiredDays  = 30
	retentionAttemptsApprovedDays = 365
	retentionAttemptsDays         = 90
	retentionWebhooksDays         = 30
	retentionAuditDays            = 2555 // 7 years
	retentionTicketsDays          = 90
)

// RetentionSweepService deletes (or archives) rows once their category
// window elapses. Sweeps are idempotent: a second run over unchanged data
// matches nothing.
type RetentionSweepService struct {
	repo   *repository.Repository
	cfg    config.RetentionConfig
	audit  *AuditService
	logger *zap.Logger
	now    func() time.Time
}

// NewRetentionSweepService creates the retention sweeper.
func NewRetentionSweepService(repo *repository.Repository, cfg config.RetentionConfig, audit *AuditService, logger *zap.Logger) *RetentionSweepService {
	return &RetentionSweepService{repo: repo, cfg: cfg, audit: audit, logger: logger, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *RetentionSweepService) WithClock(now func() time.Time) *RetentionSweepService {
	s.now = now
	return s
}

// RunCleanup sweeps every category. With dryRun it reports counts without
// mutating anything.
func (s *RetentionSweepService) RunCleanup(ctx context.Context, dryRun bool) (*interfaces.CleanupReport, error) {
	now := s.now()
	report := &interfaces.CleanupReport{
		DryRun:    dryRun,
		StartedAt: now,
		Deleted:   make(map[string]int64),
	}

	sweeps := []struct {
		category string
		run      func() (int64, error)
	}{
		{"vault_records", func() (int64, error) {
			return s.repo.SweepVaultRecordsDue(ctx, now, dryRun)
		}},
		{"sessions_expired", func() (int64, error) {
			cutoff := now.AddDate(0, 0, -s.days("sessions_expired", retentionSessionsExpiredDays))
			return s.repo.SweepSessionsBefore(ctx, cutoff, dryRun)
		}},
		{"attempts_pending", func() (int64, error) {
			cutoff := now.AddDate(0, 0, -s.days("attempts_pending", retentionAttemptsPendingDays))
			return s.repo.SweepAttemptsBefore(ctx, interfaces.AttemptPending, cutoff, dryRun)
		}},
		{"attempts_rejected", func() (int64, error) {
			cutoff := now.AddDate(0, 0, -s.days("attempts_rejected", retentionAttemptsRejectedDays))
			return s.repo.SweepAttemptsBefore(ctx, interfaces.AttemptRejected, cutoff, dryRun)
		}},
		{"attempts_approved", func() (int64, error) {
			cutoff := now.AddDate(0, 0, -s.days("attempts_approved", retentionAttemptsApprovedDays))
			return s.repo.SweepAttemptsBefore(ctx, interfaces.AttemptApproved, cutoff, dryRun)
		}},
		{"webhooks", func() (int64, error) {
			cutoff := now.AddDate(0, 0, -s.days("webhooks", retentionWebhooksDays))
			return s.repo.SweepWebhooksBefore(ctx, cutoff, dryRun)
		}},
		{"audit_logs", func() (int64, error) {
			cutoff := now.AddDate(0, 0, -s.days("audit_logs", retentionAuditDays))
			return s.repo.SweepAuditBefore(ctx, cutoff, dryRun)
		}},
	}

	for _, sweep := range sweeps {
		n, err := sweep.run()
		if err != nil {
			return report, err
		}
		report.Deleted[sweep.category] = n
	}

	ticketCutoff := now.AddDate(0, 0, -s.days("support_tickets", retentionTicketsDays))
	archived, err := s.repo.ArchiveTicketsClosedBefore(ctx, ticketCutoff, dryRun)
	if err != nil {
		return report, err
	}
	report.ArchivedTickets = archived

	if !dryRun {
		total := archived
		for _, n := range report.Deleted {
			total += n
		}
		if total > 0 {
			if err := s.audit.Record(ctx, interfaces.AuditLogEntry{
				Action:  ActionRetentionCleanup,
				ActorID: "retention-sweeper",
				UserID:  uuid.Nil,
				Detail: map[string]any{
					"deleted":          report.Deleted,
					"archived_tickets": archived,
				},
			}); err != nil {
				return report, err
			}
		}
	}

	s.logger.Info("retention sweep complete",
		zap.Bool("dry_run", dryRun),
		zap.Any("deleted", report.Deleted),
		zap.Int64("archived_tickets", report.ArchivedTickets))
	return report, nil
}

func (s *RetentionSweepService) days(category string, def int) int {
	return s.cfg.RetentionDaysFor(category, def)
}
