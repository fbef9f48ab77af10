package trade

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mvbraga/peertrade/internal/arbiter"
	"github.com/mvbraga/peertrade/internal/chat"
	"github.com/mvbraga/peertrade/internal/custodian"
	"github.com/mvbraga/peertrade/internal/events"
	"github.com/mvbraga/peertrade/internal/metrics"
	"github.com/mvbraga/peertrade/internal/order"
	"github.com/mvbraga/peertrade/internal/validation"
)

// Handler provides HTTP endpoints for trades, trade chat and disputes.
type Handler struct {
	service    *Service
	chat       *chat.Log
	dispatcher *events.Dispatcher
}

// NewHandler creates a new trade handler.
func NewHandler(service *Service, chatLog *chat.Log, dispatcher *events.Dispatcher) *Handler {
	return &Handler{service: service, chat: chatLog, dispatcher: dispatcher}
}

// RegisterRoutes sets up actor-scoped trade routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/trades", h.OpenTrade)
	r.GET("/trades", h.ListTrades)
	r.GET("/trades/:id", h.GetTrade)
	r.POST("/trades/:id/payment-sent", h.MarkPaymentSent)
	r.POST("/trades/:id/proof", h.SubmitProof)
	r.POST("/trades/:id/confirm", h.ConfirmPayment)
	r.POST("/trades/:id/cancel", h.CancelTrade)
	r.POST("/trades/:id/dispute", h.OpenDispute)
	r.POST("/trades/:id/evidence", h.SubmitEvidence)
	r.GET("/trades/:id/messages", h.ListMessages)
	r.POST("/trades/:id/messages", h.PostMessage)
}

// RegisterArbiterRoutes sets up routes guarded by the arbiter secret.
func (h *Handler) RegisterArbiterRoutes(r *gin.RouterGroup) {
	r.GET("/trades/:id", h.InspectTrade)
	r.POST("/trades/:id/decide", h.Arbitrate)
}

// OpenTrade handles POST /v1/trades
func (h *Handler) OpenTrade(c *gin.Context) {
	var req OpenRequest
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

	t, err := h.service.Open(c.Request.Context(), callerID, req)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Order not found",
			})
		case errors.Is(err, order.ErrOrderNotActive):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "order_not_active",
				"message": "Order is not accepting trades",
			})
		case errors.Is(err, ErrSelfTrade):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "self_trade",
				"message": "Cannot trade against your own order",
			})
		case errors.Is(err, ErrAmountOutOfBounds):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "amount_out_of_bounds",
				"message": "Amount is outside the order's limits",
			})
		case errors.Is(err, custodian.ErrInsufficientFunds):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "insufficient_funds",
				"message": "Seller balance cannot cover the escrow",
			})
		case errors.Is(err, ErrCustodianFailure):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "custodian_unavailable",
				"message": "Escrow service temporarily unavailable",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to open trade",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"trade": t})
}

// GetTrade handles GET /v1/trades/:id
func (h *Handler) GetTrade(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.GetString("actorID"), c.Param("id"))
	if err != nil {
		h.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trade":        t,
		"escrowStatus": t.EscrowStatus(),
	})
}

// ListTrades handles GET /v1/trades
func (h *Handler) ListTrades(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	trades, next, more, err := h.service.ListForUser(
		c.Request.Context(), c.GetString("actorID"), c.Query("cursor"), limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid pagination cursor",
		})
		return
	}

	resp := gin.H{
		"trades":  trades,
		"count":   len(trades),
		"hasMore": more,
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// MarkPaymentSent handles POST /v1/trades/:id/payment-sent
func (h *Handler) MarkPaymentSent(c *gin.Context) {
	h.transition(c, func(ctx context.Context, callerID, id string) (*Trade, error) {
		return h.service.MarkPaymentSent(ctx, callerID, id)
	})
}

// ConfirmPayment handles POST /v1/trades/:id/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	h.transition(c, func(ctx context.Context, callerID, id string) (*Trade, error) {
		return h.service.ConfirmPayment(ctx, callerID, id)
	})
}

// CancelTrade handles POST /v1/trades/:id/cancel
func (h *Handler) CancelTrade(c *gin.Context) {
	h.transition(c, func(ctx context.Context, callerID, id string) (*Trade, error) {
		return h.service.Cancel(ctx, callerID, id)
	})
}

// SubmitProof handles POST /v1/trades/:id/proof
func (h *Handler) SubmitProof(c *gin.Context) {
	var req ProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	h.transition(c, func(ctx context.Context, callerID, id string) (*Trade, error) {
		return h.service.SubmitProof(ctx, callerID, id, req)
	})
}

// OpenDispute handles POST /v1/trades/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	h.transition(c, func(ctx context.Context, callerID, id string) (*Trade, error) {
		return h.service.OpenDispute(ctx, callerID, id, req)
	})
}

// SubmitEvidence handles POST /v1/trades/:id/evidence
func (h *Handler) SubmitEvidence(c *gin.Context) {
	var req struct {
		Note          string `json:"note" binding:"required"`
		AttachmentURL string `json:"attachmentUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ev, err := h.service.SubmitEvidence(c.Request.Context(),
		c.GetString("actorID"), c.Param("id"), req.Note, req.AttachmentURL)
	if err != nil {
		h.tradeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"evidence": ev})
}

// InspectTrade handles GET /v1/arbiter/trades/:id
func (h *Handler) InspectTrade(c *gin.Context) {
	t, err := h.service.Inspect(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.tradeError(c, err)
		return
	}

	resp := gin.H{
		"trade":        t,
		"escrowStatus": t.EscrowStatus(),
	}
	if d, err := h.service.Dispute(c.Request.Context(), t.ID); err == nil {
		resp["dispute"] = d
	}
	c.JSON(http.StatusOK, resp)
}

// Arbitrate handles POST /v1/arbiter/trades/:id/decide
func (h *Handler) Arbitrate(c *gin.Context) {
	var req ArbitrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	arbiterID := c.GetString("actorID")
	if arbiterID == "" {
		arbiterID = "arbiter"
	}

	t, err := h.service.Arbitrate(c.Request.Context(), arbiterID, c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, arbiter.ErrInvalidDecision):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_decision",
				"message": "Decision must be release or refund",
			})
		default:
			h.tradeError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// ListMessages handles GET /v1/trades/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	// Only participants can read the log.
	t, err := h.service.Get(c.Request.Context(), c.GetString("actorID"), c.Param("id"))
	if err != nil {
		h.tradeError(c, err)
		return
	}

	var after int64
	if a := c.Query("after"); a != "" {
		after, _ = strconv.ParseInt(a, 10, 64)
	}
	limit := 0
	if l := c.Query("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}

	msgs, err := h.chat.ListAfter(c.Request.Context(), t.ID, after, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list messages",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// PostMessage handles POST /v1/trades/:id/messages
func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		Type          string `json:"type"`
		Body          string `json:"body"`
		AttachmentURL string `json:"attachmentUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.Type == "" {
		req.Type = chat.TypeText
	}

	m, err := h.chat.Post(c.Request.Context(), c.Param("id"),
		c.GetString("actorID"), req.Type, req.Body, req.AttachmentURL)
	if err != nil {
		switch {
		case errors.Is(err, ErrTradeNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Trade not found",
			})
		case errors.Is(err, chat.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_participant",
				"message": "Only trade participants can post messages",
			})
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidType):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_message",
				"message": err.Error(),
			})
		case errors.Is(err, chat.ErrMessageTooLong):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "message_too_long",
				"message": "Message body exceeds the maximum length",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to post message",
			})
		}
		return
	}

	metrics.ChatMessagesTotal.WithLabelValues(m.Type).Inc()
	if h.dispatcher != nil {
		h.dispatcher.Publish(c.Request.Context(), &events.Event{
			Type:    events.EventChatMessage,
			TradeID: m.TradeID,
			Data: map[string]any{
				"messageId": m.ID,
				"seq":       m.Seq,
				"senderId":  m.SenderID,
				"type":      m.Type,
			},
		})
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, callerID, id string) (*Trade, error)) {
	t, err := op(c.Request.Context(), c.GetString("actorID"), c.Param("id"))
	if err != nil {
		h.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

func (h *Handler) tradeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTradeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Trade not found",
		})
	case errors.Is(err, ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_participant",
			"message": "Caller is not part of this trade",
		})
	case errors.Is(err, ErrNotBuyer):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_buyer",
			"message": "Only the buyer can do this",
		})
	case errors.Is(err, ErrNotSeller):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_seller",
			"message": "Only the seller can do this",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	case errors.Is(err, ErrProofNotAllowed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "proof_not_allowed",
			"message": "Payment proof is no longer accepted for this trade",
		})
	case errors.Is(err, ErrCancelAfterProof):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "cancel_after_proof",
			"message": "Trade cannot be cancelled after proof was submitted",
		})
	case errors.Is(err, ErrNotDisputed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_disputed",
			"message": "Trade is not under dispute",
		})
	case errors.Is(err, arbiter.ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found",
		})
	case errors.Is(err, arbiter.ErrAlreadyDisputed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_disputed",
			"message": "A dispute already exists for this trade",
		})
	case errors.Is(err, arbiter.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_decided",
			"message": "The dispute was already decided",
		})
	case errors.Is(err, ErrCustodianFailure):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "custodian_unavailable",
			"message": "Escrow service temporarily unavailable",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}
