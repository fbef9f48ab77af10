package ledger

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mvbraga/peertrade/internal/validation"
)

// Handler provides HTTP endpoints for account balances and history.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up actor-scoped account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/account/balance", h.GetBalance)
	r.GET("/account/history", h.GetHistory)
	r.POST("/account/deposit", h.Deposit)
	r.POST("/account/withdraw", h.Withdraw)
}

// GetBalance handles GET /v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	bal, err := h.ledger.GetBalance(c.Request.Context(), c.GetString("actorID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load balance",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// GetHistory handles GET /v1/account/history
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), c.GetString("actorID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load history",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

type moveRequest struct {
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference"`
}

// Deposit handles POST /v1/account/deposit
func (h *Handler) Deposit(c *gin.Context) {
	h.move(c, h.ledger.Deposit)
}

// Withdraw handles POST /v1/account/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	h.move(c, h.ledger.Withdraw)
}

func (h *Handler) move(c *gin.Context, op func(ctx context.Context, userID, amount, reference string) error) {
	var req moveRequest
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
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := op(c.Request.Context(), callerID, req.Amount, req.Reference); err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "insufficient_balance",
				"message": "Available balance cannot cover this amount",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount is not a valid decimal",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Ledger operation failed",
			})
		}
		return
	}

	bal, err := h.ledger.GetBalance(c.Request.Context(), callerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load balance",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}
