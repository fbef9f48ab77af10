package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *PeertradeClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *PeertradeClient) *Handlers {
	return &Handlers{client: client}
}

// HandleBrowseOrders lists active orders.
func (h *Handlers) HandleBrowseOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	side := req.GetString("side", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.BrowseOrders(ctx, side, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to browse orders: %v", err)), nil
	}

	text, err := formatOrders(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse orders: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleOpenTrade opens a trade against an order.
func (h *Handlers) HandleOpenTrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	amount := req.GetString("amount", "")
	if orderID == "" || amount == "" {
		return mcp.NewToolResultError("order_id and amount are required"), nil
	}

	raw, err := h.client.OpenTrade(ctx, orderID, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open trade: %v", err)), nil
	}

	text, err := formatTradeDetail(raw, "Trade opened. The seller's BZR is locked in escrow.")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trade: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetTrade returns the state of a trade.
func (h *Handlers) HandleGetTrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}

	raw, err := h.client.GetTrade(ctx, tradeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get trade: %v", err)), nil
	}

	text, err := formatTradeDetail(raw, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trade: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListTrades lists the actor's trades.
func (h *Handlers) HandleListTrades(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListTrades(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list trades: %v", err)), nil
	}

	text, err := formatTradeList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trades: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCheckBalance returns the actor's BZR balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBalance(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleMarkPaymentSent records the fiat payment as sent.
func (h *Handlers) HandleMarkPaymentSent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}

	raw, err := h.client.MarkPaymentSent(ctx, tradeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to mark payment sent: %v", err)), nil
	}

	text, err := formatTradeDetail(raw, "Payment recorded as sent. Wait for the seller to confirm.")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trade: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleConfirmPayment confirms fiat receipt and releases the escrow.
func (h *Handlers) HandleConfirmPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}

	raw, err := h.client.ConfirmPayment(ctx, tradeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to confirm payment: %v", err)), nil
	}

	text, err := formatTradeDetail(raw, "Payment confirmed. The escrow is released to the buyer.")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trade: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePostMessage sends a chat message.
func (h *Handlers) HandlePostMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	body := req.GetString("body", "")
	if tradeID == "" || body == "" {
		return mcp.NewToolResultError("trade_id and body are required"), nil
	}

	if _, err := h.client.PostMessage(ctx, tradeID, body); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to post message: %v", err)), nil
	}
	return mcp.NewToolResultText("Message sent."), nil
}

// HandleReadMessages reads a trade's chat log.
func (h *Handlers) HandleReadMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}
	afterSeq := req.GetInt("after_seq", 0)

	raw, err := h.client.ReadMessages(ctx, tradeID, int64(afterSeq))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read messages: %v", err)), nil
	}

	text, err := formatMessages(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse messages: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleDisputeTrade opens a dispute.
func (h *Handlers) HandleDisputeTrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	reason := req.GetString("reason", "")
	if tradeID == "" || reason == "" {
		return mcp.NewToolResultError("trade_id and reason are required"), nil
	}

	raw, err := h.client.DisputeTrade(ctx, tradeID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open dispute: %v", err)), nil
	}

	text, err := formatTradeDetail(raw, "Dispute opened. The escrow is frozen until an arbiter rules.")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trade: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- response formatting ---

type orderView struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"ownerId"`
	Side           string   `json:"side"`
	UnitPrice      string   `json:"unitPrice"`
	MinAmount      string   `json:"minAmount"`
	MaxAmount      string   `json:"maxAmount"`
	FiatCurrency   string   `json:"fiatCurrency"`
	PaymentMethods []string `json:"paymentMethods"`
}

func formatOrders(raw json.RawMessage) (string, error) {
	var resp struct {
		Orders []orderView `json:"orders"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Orders) == 0 {
		return "No active orders found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d order(s):\n\n", len(resp.Orders))
	for _, o := range resp.Orders {
		fmt.Fprintf(&sb, "- %s: %s side, %s %s per BZR, amount %s to %s BZR, pays via %s\n",
			o.ID, o.Side, o.UnitPrice, o.FiatCurrency, o.MinAmount, o.MaxAmount,
			strings.Join(o.PaymentMethods, "/"))
	}
	return sb.String(), nil
}

type tradeView struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"orderId"`
	BuyerID         string     `json:"buyerId"`
	SellerID        string     `json:"sellerId"`
	Amount          string     `json:"amount"`
	UnitPrice       string     `json:"unitPrice"`
	FiatCurrency    string     `json:"fiatCurrency"`
	Phase           string     `json:"phase"`
	EscrowExpiresAt *time.Time `json:"escrowExpiresAt"`
}

func formatTradeDetail(raw json.RawMessage, note string) (string, error) {
	var resp struct {
		Trade        tradeView `json:"trade"`
		EscrowStatus string    `json:"escrowStatus"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	t := resp.Trade

	var sb strings.Builder
	if note != "" {
		sb.WriteString(note + "\n\n")
	}
	fmt.Fprintf(&sb, "Trade %s\n", t.ID)
	fmt.Fprintf(&sb, "Phase: %s\n", t.Phase)
	fmt.Fprintf(&sb, "Amount: %s BZR at %s %s each\n", t.Amount, t.UnitPrice, t.FiatCurrency)
	fmt.Fprintf(&sb, "Buyer: %s, Seller: %s\n", t.BuyerID, t.SellerID)
	if resp.EscrowStatus != "" {
		fmt.Fprintf(&sb, "Escrow: %s\n", resp.EscrowStatus)
	}
	if t.EscrowExpiresAt != nil {
		fmt.Fprintf(&sb, "Payment due by: %s\n", t.EscrowExpiresAt.UTC().Format(time.RFC3339))
	}
	return sb.String(), nil
}

func formatTradeList(raw json.RawMessage) (string, error) {
	var resp struct {
		Trades  []tradeView `json:"trades"`
		HasMore bool        `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Trades) == 0 {
		return "No trades yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d trade(s):\n\n", len(resp.Trades))
	for _, t := range resp.Trades {
		fmt.Fprintf(&sb, "- %s: %s BZR, phase %s\n", t.ID, t.Amount, t.Phase)
	}
	if resp.HasMore {
		sb.WriteString("\nMore trades available; raise the limit to see them.")
	}
	return sb.String(), nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	var resp struct {
		Balance struct {
			Available string `json:"available"`
			Escrowed  string `json:"escrowed"`
		} `json:"balance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	return fmt.Sprintf("Available: %s BZR\nIn escrow: %s BZR",
		resp.Balance.Available, resp.Balance.Escrowed), nil
}

func formatMessages(raw json.RawMessage) (string, error) {
	var resp struct {
		Messages []struct {
			Seq      int64  `json:"seq"`
			SenderID string `json:"senderId"`
			Type     string `json:"type"`
			Body     string `json:"body"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "No messages.", nil
	}

	var sb strings.Builder
	for _, m := range resp.Messages {
		fmt.Fprintf(&sb, "[%d] %s: %s\n", m.Seq, m.SenderID, m.Body)
	}
	return sb.String(), nil
}
