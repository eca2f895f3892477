package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/ratelimit"
	"github.com/altexo/walletvault/internal/vault/config"
	"github.com/altexo/walletvault/internal/vault/interfaces"
)

const testWebhookSecret = "whsec_test_0123456789"

func queueOne(t *testing.T, svc *WebhookDeliveryService) {
	t.Helper()
	err := svc.Queue(context.Background(), "assisted_verification", uuid.New(), uuid.New(),
		"verification.submitted", map[string]any{"reference": "VR-TEST01"})
	require.NoError(t, err)
}

func TestQueueWithoutURLIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	svc := env.webhookService(t, config.WebhookConfig{Secret: testWebhookSecret})

	queueOne(t, svc)
	assert.Equal(t, int64(0), env.countRows(t, &interfaces.WebhookRecord{}))
}

func TestQueuePrefersFeatureURL(t *testing.T) {
	env := newTestEnv(t)
	svc := env.webhookService(t, config.WebhookConfig{
		Secret:      testWebhookSecret,
		GlobalURL:   "https://global.example.com/hook",
		FeatureURLs: map[string]string{"assisted_verification": "https://feature.example.com/hook"},
	})

	queueOne(t, svc)
	var rec interfaces.WebhookRecord
	require.NoError(t, env.db.First(&rec).Error)
	assert.Equal(t, "https://feature.example.com/hook", rec.WebhookURL)
}

func TestDeliverySignedAndAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	var received atomic.Pointer[http.Request]
	var body atomic.Pointer[[]byte]
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(&b)
		received.Store(r)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	svc := env.webhookService(t, config.WebhookConfig{Secret: testWebhookSecret, GlobalURL: ts.URL})
	queueOne(t, svc)

	delivered, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	var rec interfaces.WebhookRecord
	require.NoError(t, env.db.First(&rec).Error)
	assert.Equal(t, interfaces.WebhookSent, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.ResponseStatus)
	assert.Equal(t, http.StatusOK, *rec.ResponseStatus)
	assert.Equal(t, `{"ok":true}`, rec.ResponseBody)

	// The receiver can verify the signature by stripping it and re-signing
	// the canonical (sorted-key) JSON.
	req := received.Load()
	require.NotNil(t, req)
	headerSig := req.Header.Get(SignatureHeader)
	require.NotEmpty(t, headerSig)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(*body.Load(), &envelope))
	assert.Equal(t, "verification.submitted", envelope["event"])
	bodySig, ok := envelope["signature"].(string)
	require.True(t, ok)
	assert.Equal(t, headerSig, bodySig)

	delete(envelope, "signature")
	canonical, err := json.Marshal(envelope)
	require.NoError(t, err)
	assert.Equal(t, SignPayload(testWebhookSecret, canonical), bodySig)
}

func TestDeliveryRetryCeiling(t *testing.T) {
	env := newTestEnv(t)

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "downstream on fire", http.StatusBadGateway)
	}))
	defer ts.Close()

	svc := env.webhookService(t, config.WebhookConfig{Secret: testWebhookSecret, GlobalURL: ts.URL})
	queueOne(t, svc)

	// Three sweeps: pending -> retrying -> retrying -> failed.
	for i := 0; i < 3; i++ {
		delivered, err := svc.ProcessPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 0, delivered)
	}

	var rec interfaces.WebhookRecord
	require.NoError(t, env.db.First(&rec).Error)
	assert.Equal(t, interfaces.WebhookFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	require.NotNil(t, rec.ResponseStatus)
	assert.Equal(t, http.StatusBadGateway, *rec.ResponseStatus)

	// Terminal failure: further sweeps never pick it up again.
	delivered, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	require.NoError(t, env.db.First(&rec).Error)
	assert.Equal(t, 3, rec.Attempts)
}

func TestDeliveryGateBoundsSweep(t *testing.T) {
	env := newTestEnv(t)

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	limiter := ratelimit.New(env.repo, nil, time.Minute, zap.NewNop())
	svc := NewWebhookDeliveryService(env.repo, config.WebhookConfig{
		Secret:      testWebhookSecret,
		GlobalURL:   ts.URL,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		DeliverRule: config.RateLimitRule{Limit: 2, Period: time.Minute, Durable: true},
	}, limiter, zap.NewNop())

	for i := 0; i < 4; i++ {
		queueOne(t, svc)
	}

	delivered, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, int32(2), hits.Load())

	// The overflow stays queued with attempts untouched; nothing was burned
	// against the retry ceiling.
	var leftover []interfaces.WebhookRecord
	require.NoError(t, env.db.Where("status = ?", interfaces.WebhookPending).Find(&leftover).Error)
	require.Len(t, leftover, 2)
	for _, rec := range leftover {
		assert.Equal(t, 0, rec.Attempts)
	}

	// Same window: the budget is spent, so the sweep sends nothing more.
	delivered, err = svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDeliveryTransportErrorRetries(t *testing.T) {
	env := newTestEnv(t)
	// Closed port: connection refused follows the same retry path as HTTP
	// failures.
	svc := env.webhookService(t, config.WebhookConfig{
		Secret:    testWebhookSecret,
		GlobalURL: "http://127.0.0.1:1/hook",
	})
	queueOne(t, svc)

	_, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)

	var rec interfaces.WebhookRecord
	require.NoError(t, env.db.First(&rec).Error)
	assert.Equal(t, interfaces.WebhookRetrying, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
}

func TestDeliveryTruncatesLargeResponses(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 100; i++ {
			w.Write([]byte("0123456789012345678901234567890123456789"))
		}
	}))
	defer ts.Close()

	svc := env.webhookService(t, config.WebhookConfig{Secret: testWebhookSecret, GlobalURL: ts.URL})
	queueOne(t, svc)

	_, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)

	var rec interfaces.WebhookRecord
	require.NoError(t, env.db.First(&rec).Error)
	assert.LessOrEqual(t, len(rec.ResponseBody), 1024)
}
