package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:  ts.URL,
		ActorID: "alice",
	}
	client := NewPeertradeClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// --- Client tests ---

func TestClient_ActorHeader(t *testing.T) {
	var gotActor string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = r.Header.Get("X-Actor-Id")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewPeertradeClient(Config{APIURL: ts.URL, ActorID: "alice"})
	_, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", gotActor)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "insufficient_funds",
			"message": "Seller balance cannot cover the escrow",
		})
	}))
	defer ts.Close()

	client := NewPeertradeClient(Config{APIURL: ts.URL, ActorID: "alice"})
	_, err := client.OpenTrade(context.Background(), "ord_1", "10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "cannot cover the escrow")
}

// --- Handler tests ---

func TestHandleBrowseOrders(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		assert.Equal(t, "sell", r.URL.Query().Get("side"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{{
				"id": "ord_1", "side": "sell", "unitPrice": "5.25",
				"minAmount": "1", "maxAmount": "50",
				"fiatCurrency": "BRL", "paymentMethods": []string{"pix"},
			}},
			"count": 1,
		})
	}))
	defer done()

	result, err := h.HandleBrowseOrders(context.Background(), makeRequest(map[string]any{"side": "sell"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "ord_1")
	assert.Contains(t, text, "5.25 BRL")
	assert.Contains(t, text, "pix")
}

func TestHandleBrowseOrders_Empty(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orders": [], "count": 0}`))
	}))
	defer done()

	result, err := h.HandleBrowseOrders(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No active orders")
}

func TestHandleOpenTrade(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/trades", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "ord_1", body["orderId"])
		assert.Equal(t, "10", body["amount"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"trade": map[string]any{
				"id": "trd_1", "phase": "initiated", "amount": "10",
				"unitPrice": "5.25", "fiatCurrency": "BRL",
				"buyerId": "alice", "sellerId": "bob",
			},
		})
	}))
	defer done()

	result, err := h.HandleOpenTrade(context.Background(), makeRequest(map[string]any{
		"order_id": "ord_1", "amount": "10",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "trd_1")
	assert.Contains(t, text, "initiated")
	assert.Contains(t, text, "locked in escrow")
}

func TestHandleOpenTrade_MissingArgs(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API must not be called with missing arguments")
	}))
	defer done()

	result, err := h.HandleOpenTrade(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCheckBalance(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account/balance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balance": map[string]any{"available": "90.00000000", "escrowed": "10.00000000"},
		})
	}))
	defer done()

	result, err := h.HandleCheckBalance(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Available: 90.00000000 BZR")
	assert.Contains(t, text, "In escrow: 10.00000000 BZR")
}

func TestHandleReadMessages(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/trades/trd_1/messages", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("after"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"seq": 4, "senderId": "system", "type": "system", "body": "trade opened"},
				{"seq": 5, "senderId": "bob", "type": "text", "body": "paying now"},
			},
		})
	}))
	defer done()

	result, err := h.HandleReadMessages(context.Background(), makeRequest(map[string]any{
		"trade_id": "trd_1", "after_seq": 3,
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "[4] system: trade opened")
	assert.Contains(t, text, "[5] bob: paying now")
}

func TestHandleDisputeTrade(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/trades/trd_1/dispute", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "no tokens received", body["reason"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"trade": map[string]any{"id": "trd_1", "phase": "disputed", "amount": "10"},
		})
	}))
	defer done()

	result, err := h.HandleDisputeTrade(context.Background(), makeRequest(map[string]any{
		"trade_id": "trd_1", "reason": "no tokens received",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "disputed")
	assert.Contains(t, text, "frozen")
}

func TestHandleGetTrade_APIError(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "not_found", "message": "Trade not found",
		})
	}))
	defer done()

	result, err := h.HandleGetTrade(context.Background(), makeRequest(map[string]any{"trade_id": "trd_x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Trade not found")
}
