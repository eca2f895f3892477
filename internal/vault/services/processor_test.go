package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/vault/config"
	"github.com/altexo/walletvault/internal/vault/interfaces"
)

func newTestProcessor(t *testing.T, env *testEnv, webhookCfg config.WebhookConfig) *ProcessorService {
	t.Helper()
	webhooks := env.webhookService(t, webhookCfg)
	return NewProcessorService(env.db, env.repo, env.vault, webhooks, env.audit, zap.NewNop())
}

func validSubmission() interfaces.AssistedSubmission {
	return interfaces.AssistedSubmission{
		WalletOwnershipProof: testPrivateKey,
		Network:              interfaces.NetworkERC20,
		UserConsent:          true,
		Purpose:              "withdrawal_verification",
	}
}

func TestProcessPrivateKeyEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	p := newTestProcessor(t, env, config.WebhookConfig{GlobalURL: "https://hooks.example.com/v1"})

	start := time.Now()
	result, err := p.Process(context.Background(), uuid.New(), validSubmission(), testMeta())
	require.NoError(t, err)

	assert.Len(t, result.StorageID, 32)
	assert.Equal(t, testEVMAddress, result.WalletAddress)
	assert.Len(t, result.WalletAddress, 42)
	assert.Equal(t, interfaces.NetworkERC20, result.Network)
	assert.Equal(t, "balance_check", result.NextAction)
	assert.True(t, strings.HasPrefix(result.VerificationRecordID, "VR-"))

	// Balance check lands ~300s out to allow chain confirmation.
	delay := result.ScheduledFor.Sub(start)
	assert.InDelta(t, (5 * time.Minute).Seconds(), delay.Seconds(), 5)

	var check interfaces.ScheduledBalanceCheck
	require.NoError(t, env.db.First(&check).Error)
	assert.Equal(t, result.WalletAddress, check.WalletAddress)
	assert.Equal(t, "scheduled", check.Status)

	var attempt interfaces.VerificationAttempt
	require.NoError(t, env.db.First(&attempt).Error)
	assert.Equal(t, "private_key", attempt.ProofType)
	assert.Equal(t, interfaces.AttemptPending, attempt.Status)
	assert.Equal(t, result.VerificationRecordID, attempt.Reference)

	// Webhook queued against the configured global URL.
	var webhook interfaces.WebhookRecord
	require.NoError(t, env.db.First(&webhook).Error)
	assert.Equal(t, interfaces.WebhookPending, webhook.Status)
	assert.Equal(t, "verification.submitted", webhook.EventType)
	assert.Equal(t, "https://hooks.example.com/v1", webhook.WebhookURL)
}

func TestProcessValidationFailuresHaveNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	p := newTestProcessor(t, env, config.WebhookConfig{})

	cases := map[string]interfaces.AssistedSubmission{
		"missing_proof": {
			Network:     interfaces.NetworkERC20,
			UserConsent: true,
		},
		"missing_network": {
			WalletOwnershipProof: testPrivateKey,
			UserConsent:          true,
		},
		"unknown_network": {
			WalletOwnershipProof: testPrivateKey,
			Network:              interfaces.Network("solana"),
			UserConsent:          true,
		},
		"no_consent": {
			WalletOwnershipProof: testPrivateKey,
			Network:              interfaces.NetworkERC20,
		},
	}
	for name, sub := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Process(context.Background(), uuid.New(), sub, testMeta())
			assert.True(t, interfaces.IsValidation(err), "want validation error, got %v", err)
		})
	}

	_, err := p.Process(context.Background(), uuid.Nil, validSubmission(), testMeta())
	assert.True(t, interfaces.IsValidation(err))

	for _, model := range []any{
		&interfaces.VaultRecord{},
		&interfaces.ScheduledBalanceCheck{},
		&interfaces.VerificationAttempt{},
		&interfaces.AuditLogEntry{},
		&interfaces.WebhookRecord{},
	} {
		assert.Equal(t, int64(0), env.countRows(t, model))
	}
}

func TestProcessUnsupportedProof(t *testing.T) {
	env := newTestEnv(t)
	p := newTestProcessor(t, env, config.WebhookConfig{})

	sub := validSubmission()
	sub.WalletOwnershipProof = "definitely not a proof"
	_, err := p.Process(context.Background(), uuid.New(), sub, testMeta())
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedProofType)
	assert.Equal(t, int64(0), env.countRows(t, &interfaces.VaultRecord{}))
}

func TestProcessReservedPathsFailLoudly(t *testing.T) {
	env := newTestEnv(t)
	p := newTestProcessor(t, env, config.WebhookConfig{})

	signed := validSubmission()
	signed.WalletOwnershipProof = strings.Repeat("ab", 65)
	_, err := p.Process(context.Background(), uuid.New(), signed, testMeta())
	assert.ErrorIs(t, err, interfaces.ErrProofPathReserved)

	wc := validSubmission()
	wc.WalletOwnershipProof = "wc:topic@2?relay-protocol=irn"
	_, err = p.Process(context.Background(), uuid.New(), wc, testMeta())
	assert.ErrorIs(t, err, interfaces.ErrProofPathReserved)

	assert.Equal(t, int64(0), env.countRows(t, &interfaces.VaultRecord{}))
}

func TestProcessDerivationFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	p := newTestProcessor(t, env, config.WebhookConfig{})

	sub := validSubmission()
	sub.WalletOwnershipProof = strings.Repeat("f", 64) // above curve order
	_, err := p.Process(context.Background(), uuid.New(), sub, testMeta())
	require.ErrorIs(t, err, interfaces.ErrAddressDerivation)

	// Nothing scheduled, nothing stored: no fallback address ever.
	assert.Equal(t, int64(0), env.countRows(t, &interfaces.VaultRecord{}))
	assert.Equal(t, int64(0), env.countRows(t, &interfaces.ScheduledBalanceCheck{}))
}

func TestProcessRollsBackStoreWhenSchedulingFails(t *testing.T) {
	env := newTestEnv(t)
	p := newTestProcessor(t, env, config.WebhookConfig{})

	// Force the balance-check insert to fail after the vault store.
	require.NoError(t, env.db.Migrator().DropTable(&interfaces.ScheduledBalanceCheck{}))

	_, err := p.Process(context.Background(), uuid.New(), validSubmission(), testMeta())
	require.Error(t, err)

	// The whole operation unwinds: no vault record, attempt or audit entry
	// survives a partial failure.
	assert.Equal(t, int64(0), env.countRows(t, &interfaces.VaultRecord{}))
	assert.Equal(t, int64(0), env.countRows(t, &interfaces.VerificationAttempt{}))
	assert.Equal(t, int64(0), env.countRows(t, &interfaces.AuditLogEntry{}))
}

func TestProcessWithoutWebhookConfigSkipsQueue(t *testing.T) {
	env := newTestEnv(t)
	p := newTestProcessor(t, env, config.WebhookConfig{})

	_, err := p.Process(context.Background(), uuid.New(), validSubmission(), testMeta())
	require.NoError(t, err)
	assert.Equal(t, int64(0), env.countRows(t, &interfaces.WebhookRecord{}))
}
