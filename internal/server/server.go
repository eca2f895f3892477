// Package server exposes the vault subsystem over a thin gin boundary.
// Authentication, CSRF and general routing belong to the surrounding
// platform; upstream middleware injects the authenticated user id.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/ratelimit"
	"github.com/altexo/walletvault/internal/vault/config"
	"github.com/altexo/walletvault/internal/vault/interfaces"
)

// Server wires the vault services into HTTP routes.
type Server struct {
	processor interfaces.Processor
	sessions  interfaces.SessionService
	retention interfaces.RetentionService
	limiter   *ratelimit.Limiter
	rules     map[string]config.RateLimitRule
	logger    *zap.Logger
}

// New creates the HTTP server facade.
func New(
	processor interfaces.Processor,
	sessions interfaces.SessionService,
	retention interfaces.RetentionService,
	limiter *ratelimit.Limiter,
	rules map[string]config.RateLimitRule,
	logger *zap.Logger,
) *Server {
	return &Server{
		processor: processor,
		sessions:  sessions,
		retention: retention,
		limiter:   limiter,
		rules:     rules,
		logger:    logger,
	}
}

// Router builds the gin engine with rate limiting on the submission plane.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	{
		v1.POST("/verification/assisted",
			ratelimit.Middleware(s.limiter, "verification.assisted", s.rule("verification.assisted"), nil),
			s.handleSubmit)

		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.POST("/sessions/:id/cancel", s.handleCancelSession)
		v1.GET("/sessions", s.handleSessionHistory)

		v1.GET("/ratelimit/status", s.handleRateLimitStatus)
		v1.POST("/retention/cleanup", s.handleRetentionCleanup)
	}
	return r
}

func (s *Server) rule(endpoint string) config.RateLimitRule {
	if rule, ok := s.rules[endpoint]; ok {
		return rule
	}
	return config.RateLimitRule{Limit: 10, Period: time.Minute}
}

func (s *Server) handleSubmit(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	var sub interfaces.AssistedSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		s.writeError(c, interfaces.NewValidationError("body", "malformed JSON"))
		return
	}
	result, err := s.processor.Process(c.Request.Context(), userID, sub, s.meta(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleCreateSession(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	var req struct {
		SessionType    interfaces.SessionType `json:"session_type"`
		VerificationID *uuid.UUID             `json:"verification_id"`
		Metadata       map[string]string      `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, interfaces.NewValidationError("body", "malformed JSON"))
		return
	}
	session, err := s.sessions.CreateSession(c.Request.Context(), interfaces.CreateSessionRequest{
		UserID:         userID,
		SessionType:    req.SessionType,
		VerificationID: req.VerificationID,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.writeError(c, interfaces.NewValidationError("session_id", "malformed id"))
		return
	}
	session, err := s.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleCancelSession(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.writeError(c, interfaces.NewValidationError("session_id", "malformed id"))
		return
	}
	session, err := s.sessions.CancelSession(c.Request.Context(), sessionID, userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleSessionHistory(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	sessions, total, err := s.sessions.GetUserHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": total})
}

func (s *Server) handleRateLimitStatus(c *gin.Context) {
	endpoint := c.Query("endpoint")
	rule, ok := s.rules[endpoint]
	if !ok {
		s.writeError(c, interfaces.NewValidationError("endpoint", "unknown endpoint"))
		return
	}
	d, err := s.limiter.Status(c.Request.Context(), ratelimit.DefaultKeyFunc(c), endpoint, rule)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limit":     d.Limit,
		"remaining": d.Remaining,
		"reset_at":  d.ResetAt.Unix(),
	})
}

func (s *Server) handleRetentionCleanup(c *gin.Context) {
	dryRun := c.Query("dry_run") != "false"
	report, err := s.retention.RunCleanup(c.Request.Context(), dryRun)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) userID(c *gin.Context) (uuid.UUID, bool) {
	userID, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, false
	}
	return userID, true
}

func (s *Server) meta(c *gin.Context) interfaces.RequestMeta {
	return interfaces.RequestMeta{
		ActorID:   c.GetHeader("X-User-ID"),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// writeError maps domain errors to stable, non-leaking responses. Internal
// errors surface as an opaque message; details stay in the log.
func (s *Server) writeError(c *gin.Context, err error) {
	var ve *interfaces.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "field": ve.Field, "reason": ve.Reason})
	case errors.Is(err, interfaces.ErrUnsupportedProofType):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported proof type"})
	case errors.Is(err, interfaces.ErrInvalidKeyFormat),
		errors.Is(err, interfaces.ErrAddressDerivation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "proof could not be processed"})
	case errors.Is(err, interfaces.ErrProofPathReserved):
		c.JSON(http.StatusNotImplemented, gin.H{"error": "proof type not yet supported"})
	case errors.Is(err, interfaces.ErrInvalidAccessKey),
		errors.Is(err, interfaces.ErrAccessExpired),
		errors.Is(err, interfaces.ErrNotSessionOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, interfaces.ErrSessionNotFound),
		errors.Is(err, interfaces.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, interfaces.ErrRateLimitExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	default:
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n := 0
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return def
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
