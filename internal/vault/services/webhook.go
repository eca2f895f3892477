package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/ratelimit"
	"github.com/altexo/walletvault/internal/vault/config"
	"github.com/altexo/walletvault/internal/vault/interfaces"
	"github.com/altexo/walletvault/internal/vault/repository"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Webhook-Signature"

	// deliverEndpoint names the rate rule gating outbound POSTs. The sender
	// is a single logical subject; the budget is global, not per receiver.
	deliverEndpoint = "webhook.deliver"
	deliverSubject  = "sender"

	responseBodyLimit = 1024
)

// DeliveryGate is the limiter facet consulted before each outbound POST.
// *ratelimit.Limiter satisfies it.
type DeliveryGate interface {
	Allow(ctx context.Context, subject, endpoint string, rule config.RateLimitRule) (ratelimit.Decision, error)
}

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "walletvault",
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Webhook delivery attempts by outcome.",
}, []string{"outcome"})

// WebhookDeliveryService delivers signed verification-outcome events with
// at-least-once semantics and a fixed attempt ceiling.
type WebhookDeliveryService struct {
	repo   *repository.Repository
	cfg    config.WebhookConfig
	gate   DeliveryGate
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewWebhookDeliveryService creates the delivery service. The HTTP client
// timeout is short so a stalled receiver cannot block the sweep. gate may be
// nil, in which case sends are unmetered.
func NewWebhookDeliveryService(repo *repository.Repository, cfg config.WebhookConfig, gate DeliveryGate, logger *zap.Logger) *WebhookDeliveryService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &WebhookDeliveryService{
		repo:   repo,
		cfg:    cfg,
		gate:   gate,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *WebhookDeliveryService) WithClock(now func() time.Time) *WebhookDeliveryService {
	s.now = now
	return s
}

// Queue inserts a pending delivery record, resolving the destination URL
// per feature with a global fallback. No URL configured means no-op.
func (s *WebhookDeliveryService) Queue(ctx context.Context, feature string, verificationID, userID uuid.UUID, eventType string, payload map[string]any) error {
	url := s.cfg.FeatureURLs[feature]
	if url == "" {
		url = s.cfg.GlobalURL
	}
	if url == "" {
		return nil
	}
	rec := &interfaces.WebhookRecord{
		ID:             uuid.New(),
		VerificationID: verificationID,
		UserID:         userID,
		WebhookURL:     url,
		EventType:      eventType,
		Payload:        payload,
		Status:         interfaces.WebhookPending,
	}
	return s.repo.CreateWebhook(ctx, rec)
}

// ProcessPending delivers up to limit pending/retrying records. A record
// becomes sent on any 2xx, retrying below the attempt ceiling, failed at
// it. Failed records remain queryable; nothing is silently dropped. When
// the delivery rate budget runs out mid-sweep the remaining records stay
// queued, attempts untouched, for the next window.
func (s *WebhookDeliveryService) ProcessPending(ctx context.Context, limit int) (int, error) {
	recs, err := s.repo.ListDeliverableWebhooks(ctx, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list deliverable webhooks")
	}
	delivered := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if !s.allowSend(ctx) {
			break
		}
		if s.deliver(ctx, rec) {
			delivered++
		}
	}
	return delivered, nil
}

// allowSend consults the delivery gate. Errors fail open so a limiter
// outage cannot stall notifications.
func (s *WebhookDeliveryService) allowSend(ctx context.Context) bool {
	if s.gate == nil || s.cfg.DeliverRule.Limit <= 0 {
		return true
	}
	d, err := s.gate.Allow(ctx, deliverSubject, deliverEndpoint, s.cfg.DeliverRule)
	if err != nil {
		s.logger.Warn("webhook delivery gate unavailable", zap.Error(err))
		return true
	}
	if !d.Allowed {
		s.logger.Debug("webhook delivery budget exhausted", zap.Time("reset_at", d.ResetAt))
	}
	return d.Allowed
}

func (s *WebhookDeliveryService) deliver(ctx context.Context, rec *interfaces.WebhookRecord) bool {
	body, signature, err := s.signedEnvelope(rec)
	if err != nil {
		s.logger.Error("webhook envelope build failed",
			zap.String("webhook_id", rec.ID.String()),
			zap.Error(err))
		s.recordFailure(ctx, rec, nil, err.Error())
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.WebhookURL, bytes.NewReader(body))
	if err != nil {
		s.recordFailure(ctx, rec, nil, err.Error())
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := s.client.Do(req)
	if err != nil {
		// Timeouts and transport errors follow the same retry path as
		// HTTP failures.
		s.recordFailure(ctx, rec, nil, err.Error())
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.recordSuccess(ctx, rec, resp.StatusCode, string(respBody))
		return true
	}
	s.recordFailure(ctx, rec, &resp.StatusCode, string(respBody))
	return false
}

// signedEnvelope builds the canonical JSON envelope and its signature.
// json.Marshal over maps emits keys in sorted order, which is the canonical
// form receivers must reproduce before verifying.
func (s *WebhookDeliveryService) signedEnvelope(rec *interfaces.WebhookRecord) ([]byte, string, error) {
	envelope := map[string]any{
		"event":           rec.EventType,
		"verification_id": rec.VerificationID.String(),
		"user_id":         rec.UserID.String(),
		"timestamp":       s.now().UTC().Unix(),
		"data":            rec.Payload,
	}
	unsigned, err := json.Marshal(envelope)
	if err != nil {
		return nil, "", errors.Wrap(err, "marshal envelope")
	}
	signature := SignPayload(s.cfg.Secret, unsigned)

	envelope["signature"] = signature
	signed, err := json.Marshal(envelope)
	if err != nil {
		return nil, "", errors.Wrap(err, "marshal signed envelope")
	}
	return signed, signature, nil
}

// SignPayload computes the hex HMAC-SHA256 receivers verify against.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookDeliveryService) recordSuccess(ctx context.Context, rec *interfaces.WebhookRecord, status int, body string) {
	now := s.now()
	rec.Attempts++
	rec.Status = interfaces.WebhookSent
	rec.ResponseStatus = &status
	rec.ResponseBody = truncate(body, responseBodyLimit)
	rec.LastAttemptAt = &now
	if err := s.repo.SaveWebhook(ctx, rec); err != nil {
		s.logger.Error("webhook state persist failed", zap.String("webhook_id", rec.ID.String()), zap.Error(err))
	}
	deliveriesTotal.WithLabelValues("sent").Inc()
}

func (s *WebhookDeliveryService) recordFailure(ctx context.Context, rec *interfaces.WebhookRecord, status *int, body string) {
	now := s.now()
	rec.Attempts++
	rec.ResponseStatus = status
	rec.ResponseBody = truncate(body, responseBodyLimit)
	rec.LastAttemptAt = &now
	if rec.Attempts >= s.cfg.MaxAttempts {
		rec.Status = interfaces.WebhookFailed
		deliveriesTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("webhook exhausted retries",
			zap.String("webhook_id", rec.ID.String()),
			zap.Int("attempts", rec.Attempts))
	} else {
		rec.Status = interfaces.WebhookRetrying
		deliveriesTotal.WithLabelValues("retrying").Inc()
	}
	if err := s.repo.SaveWebhook(ctx, rec); err != nil {
		s.logger.Error("webhook state persist failed", zap.String("webhook_id", rec.ID.String()), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
