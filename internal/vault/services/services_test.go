package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/altexo/walletvault/internal/vault/config"
	vaultcrypto "github.com/altexo/walletvault/internal/vault/crypto"
	"github.com/altexo/walletvault/internal/vault/interfaces"
	"github.com/altexo/walletvault/internal/vault/repository"
)

// First default hardhat/anvil account; safe, well-known test material.
const (
	testPrivateKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testEVMAddress  = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	testCipherKeyV1 = "4d6f6e65726f4d6f6e65726f4d6f6e65726f4d6f6e65726f4d6f6e65726f21aa"
)

type testEnv struct {
	db     *gorm.DB
	repo   *repository.Repository
	cipher *vaultcrypto.ComplianceCipher
	audit  *AuditService
	vault  *KeyVaultService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(interfaces.AllModels()...))

	logger := zap.NewNop()
	repo := repository.NewRepository(db, logger)
	cipher, err := vaultcrypto.NewComplianceCipher(map[vaultcrypto.KeyVersion]string{1: testCipherKeyV1})
	require.NoError(t, err)
	audit := NewAuditService(repo, logger)
	vault := NewKeyVaultService(db, repo, cipher, audit, 365, logger)

	return &testEnv{db: db, repo: repo, cipher: cipher, audit: audit, vault: vault}
}

func (e *testEnv) webhookService(t *testing.T, cfg config.WebhookConfig) *WebhookDeliveryService {
	t.Helper()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return NewWebhookDeliveryService(e.repo, cfg, nil, zap.NewNop())
}

func (e *testEnv) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Count(&n).Error)
	return n
}

func testMeta() interfaces.RequestMeta {
	return interfaces.RequestMeta{
		ActorID:   "test-operator",
		IPAddress: "203.0.113.7",
		UserAgent: "go-test",
	}
}
