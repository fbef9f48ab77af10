package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Peertrade platform.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	ActorID string // The user this MCP session acts as
}

// PeertradeClient is a pure HTTP client for the Peertrade platform API.
type PeertradeClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewPeertradeClient creates a new client for the Peertrade platform.
func NewPeertradeClient(cfg Config) *PeertradeClient {
	return &PeertradeClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *PeertradeClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Actor-Id", c.cfg.ActorID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// BrowseOrders lists published orders.
func (c *PeertradeClient) BrowseOrders(ctx context.Context, side string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if side != "" {
		q.Set("side", side)
	}
	q.Set("status", "active")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/orders", q, nil)
}

// OpenTrade opens a trade against an order.
func (c *PeertradeClient) OpenTrade(ctx context.Context, orderID, amount string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/trades", nil, map[string]string{
		"orderId": orderID,
		"amount":  amount,
	})
}

// GetTrade returns one of the actor's trades.
func (c *PeertradeClient) GetTrade(ctx context.Context, tradeID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/trades/"+tradeID, nil, nil)
}

// ListTrades returns the actor's trades.
func (c *PeertradeClient) ListTrades(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/trades", q, nil)
}

// GetBalance returns the actor's token balance.
func (c *PeertradeClient) GetBalance(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/account/balance", nil, nil)
}

// MarkPaymentSent records the fiat payment as sent.
func (c *PeertradeClient) MarkPaymentSent(ctx context.Context, tradeID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/trades/"+tradeID+"/payment-sent", nil, nil)
}

// ConfirmPayment confirms receipt of the fiat payment.
func (c *PeertradeClient) ConfirmPayment(ctx context.Context, tradeID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/trades/"+tradeID+"/confirm", nil, nil)
}

// PostMessage posts a chat message into a trade.
func (c *PeertradeClient) PostMessage(ctx context.Context, tradeID, body string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/trades/"+tradeID+"/messages", nil, map[string]string{
		"type": "text",
		"body": body,
	})
}

// ReadMessages reads a trade's chat log after a sequence number.
func (c *PeertradeClient) ReadMessages(ctx context.Context, tradeID string, afterSeq int64) (json.RawMessage, error) {
	q := url.Values{}
	if afterSeq > 0 {
		q.Set("after", strconv.FormatInt(afterSeq, 10))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/trades/"+tradeID+"/messages", q, nil)
}

// DisputeTrade opens a dispute on a trade.
func (c *PeertradeClient) DisputeTrade(ctx context.Context, tradeID, reason string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/trades/"+tradeID+"/dispute", nil, map[string]string{
		"reason": reason,
	})
}
