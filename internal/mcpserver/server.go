// Package mcpserver exposes spill risk analysis to LLM agents over the Model
// Context Protocol. Scoring is delegated to the riskops HTTP service.
package mcpserver

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/treloxai/riskops/internal/client"
	"github.com/treloxai/riskops/internal/scenario"
)

// Config holds the configuration for connecting to the riskops service.
type Config struct {
	APIURL  string // e.g. "http://127.0.0.1:8000"
	Version string
	Logger  *slog.Logger
}

// NewMCPServer creates a configured MCP server with all riskops tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	c := client.New(client.Config{BaseURL: cfg.APIURL, Logger: cfg.Logger})
	return NewMCPServerWith(c, cfg.Version)
}

// NewMCPServerWith registers the tools against an arbitrary analyzer.
func NewMCPServerWith(analyzer Analyzer, version string) *server.MCPServer {
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("riskops", version)
	h := NewHandlers(analyzer, scenario.Default())

	s.AddTool(ToolAnalyzeSpillRisk, h.HandleAnalyzeSpillRisk)
	s.AddTool(ToolListDemoScenarios, h.HandleListDemoScenarios)
	s.AddTool(ToolRunDemoScenario, h.HandleRunDemoScenario)

	return s
}
