package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/treloxai/riskops/internal/report"
	"github.com/treloxai/riskops/internal/risk"
	"github.com/treloxai/riskops/internal/scenario"
)

// Analyzer scores an analysis request. *client.Client satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, req risk.AnalyzeRequest) (*risk.RiskResult, error)
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	analyzer Analyzer
	catalog  *scenario.Catalog
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(analyzer Analyzer, catalog *scenario.Catalog) *Handlers {
	return &Handlers{analyzer: analyzer, catalog: catalog}
}

// HandleAnalyzeSpillRisk builds a single-detection request from the tool
// arguments and scores it.
func (h *Handlers) HandleAnalyzeSpillRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	substance := req.GetString("substance", "")
	if substance == "" {
		return mcp.NewToolResultError("substance is required"), nil
	}

	p := scenario.DefaultParams()
	p.Substance = substance
	p.ImageID = req.GetString("image_id", "img_"+uuid.NewString()[:8])
	p.SiteID = req.GetString("site_id", p.SiteID)
	p.ZoneID = req.GetString("zone_id", p.ZoneID)
	p.ZoneType = req.GetString("zone_type", p.ZoneType)
	p.Proximity = req.GetString("proximity_to_machines", p.Proximity)
	p.FloorType = req.GetString("floor_type", p.FloorType)
	p.Confidence = req.GetFloat("confidence", p.Confidence)
	p.AreaRatio = req.GetFloat("area_ratio", p.AreaRatio)
	p.ProductionValuePerHour = req.GetFloat("production_value_per_hour", p.ProductionValuePerHour)

	if p.Confidence < 0 || p.Confidence > 1 {
		return mcp.NewToolResultError("confidence must be between 0 and 1"), nil
	}
	if p.AreaRatio < 0 || p.AreaRatio > 1 {
		return mcp.NewToolResultError("area_ratio must be between 0 and 1"), nil
	}
	if p.ProductionValuePerHour < 0 {
		return mcp.NewToolResultError("production_value_per_hour must not be negative"), nil
	}

	result, err := h.analyzer.Analyze(ctx, scenario.BuildDemoPayload(p))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze spill: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResult(result)), nil
}

// HandleListDemoScenarios lists the preset catalog.
func (h *Handlers) HandleListDemoScenarios(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := h.catalog.All()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d demo scenario(s):\n\n", len(all))
	for i, s := range all {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s.Name)
		if s.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", s.Description)
		}
		fmt.Fprintf(&sb, "   zone=%s substance=%s proximity=%s floor=%s production=%s/h\n",
			s.ZoneType, s.Substance, s.ProximityToMachines, s.FloorType,
			report.FormatAmount(s.ProductionValuePerHour))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleRunDemoScenario scores a preset.
func (h *Handlers) HandleRunDemoScenario(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	s := h.catalog.Get(name)
	result, err := h.analyzer.Analyze(ctx, scenario.BuildDemoPayload(s.Params()))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run scenario: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Scenario: %s\n", s.Name)
	if s.Name != name {
		fmt.Fprintf(&sb, "(no scenario named %q, used %s)\n", name, s.Name)
	}
	sb.WriteString("\n")
	sb.WriteString(formatResult(result))
	return mcp.NewToolResultText(sb.String()), nil
}

func formatResult(r *risk.RiskResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Image: %s\n", r.ImageID)
	fmt.Fprintf(&sb, "Risk level: %s (score %.1f/100)\n", r.GlobalSeverityLevel, r.GlobalSeverityScore)

	if len(r.Factors) == 0 {
		sb.WriteString("No spill detected.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "After mitigation: %s (score %.1f/100, -%.1f%%)\n",
		r.MitigatedSeverityLevel, r.MitigatedSeverityScore, r.RiskReductionPct)
	if r.EstimatedCost > 0 {
		fmt.Fprintf(&sb, "Estimated cost: %s %s (after mitigation %s %s)\n",
			report.FormatAmount(r.EstimatedCost), r.Currency,
			report.FormatAmount(r.MitigatedCost), r.Currency)
	}

	sb.WriteString("\nFactors:\n")
	for _, f := range r.Factors {
		fmt.Fprintf(&sb, "  - %s: %.1f (weight %.2f, contribution %.2f)\n", f.Name, f.Value, f.Weight, f.Contribution)
	}

	if len(r.Recommendations) > 0 {
		sb.WriteString("\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", rec)
		}
	}

	fmt.Fprintf(&sb, "\n%s\n", r.Explanation)
	return sb.String()
}
