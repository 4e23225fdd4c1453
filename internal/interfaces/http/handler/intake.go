package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storefront/backend/internal/domain/submission"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
	"github.com/storefront/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// IntakeService stores customer form submissions
type IntakeService interface {
	CreateSubmission(ctx context.Context, rec *submission.Record) error
}

// DuplicateGuard remembers Idempotency-Key values for a while
type DuplicateGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// IdempotencyKeyHeader lets a storefront retry a post without creating a second submission
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// IntakeHandler accepts storefront form posts
type IntakeHandler struct {
	BaseHandler
	service  IntakeService
	guard    DuplicateGuard
	guardTTL time.Duration
	now      func() time.Time
}

// NewIntakeHandler creates a new IntakeHandler
func NewIntakeHandler(service IntakeService) *IntakeHandler {
	return &IntakeHandler{service: service, now: time.Now}
}

// SetDuplicateGuard enables Idempotency-Key handling
func (h *IntakeHandler) SetDuplicateGuard(g DuplicateGuard, ttl time.Duration) {
	h.guard = g
	h.guardTTL = ttl
}

// Routes returns the /submissions route group
func (h *IntakeHandler) Routes(mw ...gin.HandlerFunc) *router.DomainGroup {
	g := router.NewDomainGroup("intake", "/submissions").Use(mw...)
	g.POST("", h.Create)
	return g
}

// Create validates and stores a new pending submission
func (h *IntakeHandler) Create(c *gin.Context) {
	var req dto.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	rec := submission.New(req.FormType, req.FormName, h.now())
	rec.CustomerName = req.CustomerName
	rec.CustomerEmail = req.CustomerEmail
	rec.CustomerPhone = req.CustomerPhone
	rec.DeliveryAddress = req.DeliveryAddress
	rec.DeliveryCity = req.DeliveryCity
	rec.DeliveryPostalCode = req.DeliveryPostalCode

	var err error
	if rec.OrderDetails, err = toJSON(req.OrderDetails); err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidJSON, "order_details is not valid JSON")
		return
	}
	if rec.AdditionalData, err = toJSON(req.AdditionalData); err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidJSON, "additional_data is not valid JSON")
		return
	}

	key, ok := h.claim(c)
	if !ok {
		return
	}

	if err := h.service.CreateSubmission(c.Request.Context(), rec); err != nil {
		if key != "" {
			if relErr := h.guard.Release(c.Request.Context(), key); relErr != nil {
				logger.GetGinLogger(c).Warn("Failed to release idempotency key", zap.Error(relErr))
			}
		}
		h.HandleError(c, err)
		return
	}
	h.Created(c, rec)
}

// claim reserves the request's Idempotency-Key. It returns the claimed key
// ("" when none applies) and false after writing a response.
// A guard outage lets the request through rather than rejecting customers.
func (h *IntakeHandler) claim(c *gin.Context) (string, bool) {
	key := c.GetHeader(IdempotencyKeyHeader)
	if h.guard == nil || key == "" {
		return "", true
	}
	if len(key) > maxIdempotencyKeyLength {
		h.ErrorWithCode(c, dto.ErrCodeBadRequest, "Idempotency-Key is too long")
		return "", false
	}

	claimed, err := h.guard.Claim(c.Request.Context(), key, h.guardTTL)
	if err != nil {
		logger.GetGinLogger(c).Warn("Idempotency check unavailable", zap.Error(err))
		return "", true
	}
	if !claimed {
		h.ErrorWithCode(c, dto.ErrCodeDuplicateSubmission, "A submission with this Idempotency-Key was already received")
		return "", false
	}
	return key, true
}

func toJSON(v map[string]any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
