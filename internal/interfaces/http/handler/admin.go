package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/storefront/backend/internal/application/reconcile"
	"github.com/storefront/backend/internal/domain/submission"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
	"github.com/storefront/backend/internal/interfaces/http/router"
)

// AdminService is the slice of the reconciliation engine the admin API drives
type AdminService interface {
	Snapshot() reconcile.Snapshot
	Grouped() reconcile.GroupedView
	Refresh(ctx context.Context) (reconcile.Snapshot, error)
	UpdateOrderStatus(ctx context.Context, rowIndex int, status string) error
	UpdateSubmission(ctx context.Context, id uuid.UUID, status, notes string) (*submission.Record, error)
	DeleteSubmission(ctx context.Context, id uuid.UUID) error
	MarkNotificationsRead(ctx context.Context) error
}

// AdminHandler serves the admin dashboard API
type AdminHandler struct {
	BaseHandler
	service AdminService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminService) *AdminHandler {
	return &AdminHandler{service: service}
}

// Routes returns the /admin route group
func (h *AdminHandler) Routes(mw ...gin.HandlerFunc) *router.DomainGroup {
	g := router.NewDomainGroup("admin", "/admin").Use(mw...)
	g.GET("/dashboard", h.Dashboard)
	g.GET("/grouped", h.Grouped)
	g.POST("/refresh", h.Refresh)
	g.PUT("/orders/:row/status", h.UpdateOrderStatus)
	g.PUT("/submissions/:id", h.UpdateSubmission)
	g.DELETE("/submissions/:id", h.DeleteSubmission)
	g.POST("/notifications/read", h.MarkNotificationsRead)
	return g
}

// Dashboard returns the current read model snapshot
func (h *AdminHandler) Dashboard(c *gin.Context) {
	h.Success(c, h.service.Snapshot())
}

// Grouped returns submissions and orders bucketed for display
func (h *AdminHandler) Grouped(c *gin.Context) {
	h.Success(c, h.service.Grouped())
}

// Refresh runs a manual reconciliation.
// Partial failures still return 200 with per-source status in the snapshot.
func (h *AdminHandler) Refresh(c *gin.Context) {
	snap, err := h.service.Refresh(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, snap)
}

// UpdateOrderStatus writes a status back to the order feed
func (h *AdminHandler) UpdateOrderStatus(c *gin.Context) {
	row, err := strconv.Atoi(c.Param("row"))
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "Row must be an integer")
		return
	}

	var req dto.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	if err := h.service.UpdateOrderStatus(c.Request.Context(), row, req.Status); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.OrderStatusResponse{Row: row, Status: req.Status})
}

// UpdateSubmission changes a submission's status and notes
func (h *AdminHandler) UpdateSubmission(c *gin.Context) {
	id, ok := h.submissionID(c)
	if !ok {
		return
	}

	var req dto.UpdateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	rec, err := h.service.UpdateSubmission(c.Request.Context(), id, req.Status, req.Notes)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if rec == nil {
		// removed by another admin; the dashboard has already been refreshed
		h.NoContent(c)
		return
	}
	h.Success(c, rec)
}

// DeleteSubmission removes a submission. Deleting a missing one still succeeds.
func (h *AdminHandler) DeleteSubmission(c *gin.Context) {
	id, ok := h.submissionID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteSubmission(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// MarkNotificationsRead acknowledges every submission seen so far
func (h *AdminHandler) MarkNotificationsRead(c *gin.Context) {
	if err := h.service.MarkNotificationsRead(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NotificationsResponse{
		NewSubmissionsCount: h.service.Snapshot().NewSubmissionsCount,
	})
}

func (h *AdminHandler) submissionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "Submission id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
