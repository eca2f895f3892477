// Package config loads and validates the vault subsystem configuration.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	vaultcrypto "github.com/altexo/walletvault/internal/vault/crypto"
)

// Config is the full configuration surface consumed by the subsystem.
type Config struct {
	Environment string          `mapstructure:"environment" validate:"required,oneof=development staging production"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Vault       VaultConfig     `mapstructure:"vault" validate:"required"`
	Webhook     WebhookConfig   `mapstructure:"webhook"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Retention   RetentionConfig `mapstructure:"retention"`
}

// ServerConfig holds the HTTP boundary settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig holds the postgres connection settings.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// RedisConfig holds the rate-limiter fast-path cache settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// VaultConfig holds the encryption and retention defaults for stored proofs.
type VaultConfig struct {
	// EncryptionKeys maps version labels ("v1", "v2", ...) to key material.
	// The highest version is used for new blobs; retired versions remain
	// for decryption.
	EncryptionKeys map[string]string `mapstructure:"encryption_keys" validate:"required,min=1"`
	RetentionDays  int               `mapstructure:"retention_days" validate:"min=1"`
	AccessGrantTTL time.Duration     `mapstructure:"access_grant_ttl"`
}

// WebhookConfig holds the signing secret, destination URLs and the
// outbound-delivery rate rule.
type WebhookConfig struct {
	Secret        string            `mapstructure:"secret"`
	GlobalURL     string            `mapstructure:"global_url"`
	FeatureURLs   map[string]string `mapstructure:"feature_urls"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	SweepInterval time.Duration     `mapstructure:"sweep_interval"`
	MaxAttempts   int               `mapstructure:"max_attempts" validate:"min=1"`
	// DeliverRule bounds outbound POSTs across sweeps so a large backlog
	// cannot flood a receiver.
	DeliverRule RateLimitRule `mapstructure:"deliver_rule"`
}

// RateLimitRule bounds one (subject, endpoint) class of requests.
type RateLimitRule struct {
	Limit  int           `mapstructure:"limit" validate:"min=1"`
	Period time.Duration `mapstructure:"period" validate:"required"`
	// Durable forces every check through the transactional counter store,
	// bypassing the optimistic cache. Used for audit-grade limits.
	Durable bool `mapstructure:"durable"`
}

// RateLimitConfig holds per-endpoint rules and sweep settings.
type RateLimitConfig struct {
	Rules        map[string]RateLimitRule `mapstructure:"rules"`
	BucketMaxAge time.Duration            `mapstructure:"bucket_max_age"`
	CacheBuffer  time.Duration            `mapstructure:"cache_buffer"`
}

// RetentionConfig holds per-category retention windows in days.
type RetentionConfig struct {
	Overrides     map[string]int `mapstructure:"overrides"`
	SweepInterval time.Duration  `mapstructure:"sweep_interval"`
}

// Load reads configuration from the given file (optional) and VAULT_*
// environment variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.addr", ":8086")
	v.SetDefault("vault.retention_days", 365)
	v.SetDefault("vault.access_grant_ttl", time.Hour)
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.sweep_interval", 30*time.Second)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.deliver_rule.limit", 60)
	v.SetDefault("webhook.deliver_rule.period", time.Minute)
	v.SetDefault("webhook.deliver_rule.durable", true)
	v.SetDefault("ratelimit.bucket_max_age", 24*time.Hour)
	v.SetDefault("ratelimit.cache_buffer", time.Minute)
	v.SetDefault("retention.sweep_interval", time.Hour)
}

// CipherKeys resolves the configured version labels into cipher key
// versions. Labels must be "v<N>" with N in 1..255.
func (c VaultConfig) CipherKeys() (map[vaultcrypto.KeyVersion]string, error) {
	keys := make(map[vaultcrypto.KeyVersion]string, len(c.EncryptionKeys))
	for label, secret := range c.EncryptionKeys {
		n, err := parseVersionLabel(label)
		if err != nil {
			return nil, err
		}
		keys[n] = secret
	}
	return keys, nil
}

func parseVersionLabel(label string) (vaultcrypto.KeyVersion, error) {
	raw := strings.TrimPrefix(strings.ToLower(label), "v")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 255 {
		return 0, fmt.Errorf("invalid encryption key version label %q", label)
	}
	return vaultcrypto.KeyVersion(n), nil
}

// RetentionDaysFor returns the retention window for a category, applying
// any configured override on top of the built-in default.
func (c RetentionConfig) RetentionDaysFor(category string, def int) int {
	if days, ok := c.Overrides[category]; ok && days > 0 {
		return days
	}
	return def
}
