// Peertrade MCP Server - Exposes trading capabilities as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mvbraga/peertrade/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("PEERTRADE_API_URL", "http://localhost:8080"),
		ActorID: os.Getenv("PEERTRADE_ACTOR_ID"),
	}

	if cfg.ActorID == "" {
		fmt.Fprintln(os.Stderr, "PEERTRADE_ACTOR_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
