package order

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mvbraga/peertrade/internal/validation"
)

// Handler provides HTTP endpoints for the order book.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
}

// RegisterProtectedRoutes sets up actor-scoped order routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.PATCH("/orders/:id", h.UpdateOrder)
	r.POST("/orders/:id/pause", h.PauseOrder)
	r.POST("/orders/:id/resume", h.ResumeOrder)
	r.POST("/orders/:id/complete", h.CompleteOrder)
	r.POST("/orders/:id/cancel", h.CancelOrder)
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	callerID := c.GetString("actorID")
	if errs := validation.Validate(
		validation.ValidUserID("actor", callerID),
		validation.ValidAmount("unitPrice", req.UnitPrice),
		validation.ValidAmount("minAmount", req.MinAmount),
		validation.ValidAmount("maxAmount", req.MaxAmount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	o, err := h.service.Create(c.Request.Context(), callerID, req)
	if err != nil {
		if errors.Is(err, ErrInvalidOrder) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_order",
				"message": "Order parameters are invalid",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create order",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": o})
}

// UpdateOrder handles PATCH /v1/orders/:id
func (h *Handler) UpdateOrder(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	o, err := h.service.Edit(c.Request.Context(), c.GetString("actorID"), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
		case errors.Is(err, ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_owner",
				"message": "Only the order owner can do this",
			})
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_status",
				"message": "Order status does not allow this operation",
			})
		case errors.Is(err, ErrInvalidOrder):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_order",
				"message": "Order parameters are invalid",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

// ListOrders handles GET /v1/orders
func (h *Handler) ListOrders(c *gin.Context) {
	filter := ListFilter{
		Side:    c.Query("side"),
		Status:  c.Query("status"),
		OwnerID: c.Query("owner"),
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	orders, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// PauseOrder handles POST /v1/orders/:id/pause
func (h *Handler) PauseOrder(c *gin.Context) {
	h.mutateStatus(c, h.service.Pause)
}

// ResumeOrder handles POST /v1/orders/:id/resume
func (h *Handler) ResumeOrder(c *gin.Context) {
	h.mutateStatus(c, h.service.Resume)
}

// CompleteOrder handles POST /v1/orders/:id/complete
func (h *Handler) CompleteOrder(c *gin.Context) {
	h.mutateStatus(c, h.service.Complete)
}

// CancelOrder handles POST /v1/orders/:id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	h.mutateStatus(c, h.service.Cancel)
}

func (h *Handler) mutateStatus(c *gin.Context, op func(ctx context.Context, callerID, id string) (*Order, error)) {
	callerID := c.GetString("actorID")

	o, err := op(c.Request.Context(), callerID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
		case errors.Is(err, ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_owner",
				"message": "Only the order owner can do this",
			})
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_status",
				"message": "Order status does not allow this operation",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}
