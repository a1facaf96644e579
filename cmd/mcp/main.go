// RiskOps MCP Server - exposes spill risk scoring as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/treloxai/riskops/internal/config"
	"github.com/treloxai/riskops/internal/logging"
	"github.com/treloxai/riskops/internal/mcpserver"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	// Load validates RISKOPS_API_URL along with the rest of the environment.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; logs go to stderr
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger.Info("mcp server starting", "api_url", cfg.APIURL, "version", Version)

	s := mcpserver.NewMCPServer(mcpserver.Config{
		APIURL:  cfg.APIURL,
		Version: Version,
		Logger:  logger,
	})
	if err := server.ServeStdio(s); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
