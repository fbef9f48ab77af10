package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Peertrade tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("peertrade", "1.0.0")
	client := NewPeertradeClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolBrowseOrders, h.HandleBrowseOrders)
	s.AddTool(ToolOpenTrade, h.HandleOpenTrade)
	s.AddTool(ToolGetTrade, h.HandleGetTrade)
	s.AddTool(ToolListTrades, h.HandleListTrades)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolMarkPaymentSent, h.HandleMarkPaymentSent)
	s.AddTool(ToolConfirmPayment, h.HandleConfirmPayment)
	s.AddTool(ToolPostMessage, h.HandlePostMessage)
	s.AddTool(ToolReadMessages, h.HandleReadMessages)
	s.AddTool(ToolDisputeTrade, h.HandleDisputeTrade)

	return s
}
