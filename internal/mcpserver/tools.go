package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the riskops MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeSpillRisk = mcp.NewTool("analyze_spill_risk",
	mcp.WithDescription(
		"Score the risk of an industrial spill detected on a camera image. "+
			"Returns the global severity score (0-100) and level (LOW/MEDIUM/HIGH/CRITICAL), "+
			"the estimated downtime cost, the score after mitigation, and recommended actions. "+
			"Use this when you have a detection from a vision model and know where it happened."),
	mcp.WithString("substance",
		mcp.Required(),
		mcp.Description("Predicted substance: 'oil', 'water', 'chemical' or 'unknown'"),
		mcp.Enum("oil", "water", "chemical", "unknown")),
	mcp.WithNumber("confidence",
		mcp.Description("Model confidence between 0 and 1 (default 0.9)")),
	mcp.WithNumber("area_ratio",
		mcp.Description("Fraction of the image covered by the spill, 0 to 1 (default 0.3)")),
	mcp.WithString("image_id",
		mcp.Description("Image identifier (generated when omitted)")),
	mcp.WithString("site_id",
		mcp.Description("Site identifier (default 'SITE_001')")),
	mcp.WithString("zone_id",
		mcp.Description("Zone identifier within the site")),
	mcp.WithString("zone_type",
		mcp.Description("Zone type: 'production', 'storage', 'corridor' or 'electrical_room'"),
		mcp.Enum("production", "storage", "corridor", "electrical_room")),
	mcp.WithString("proximity_to_machines",
		mcp.Description("Distance to machinery: 'far', 'near_machine' or 'critical_machine'"),
		mcp.Enum("far", "near_machine", "critical_machine")),
	mcp.WithString("floor_type",
		mcp.Description("Floor type, e.g. 'absorbent' or 'non_absorbent'")),
	mcp.WithNumber("production_value_per_hour",
		mcp.Description("Production value per hour in the service currency; used for the cost estimate")),
)

var ToolListDemoScenarios = mcp.NewTool("list_demo_scenarios",
	mcp.WithDescription(
		"List the built-in demo incident scenarios with their zone, substance and production value. "+
			"Use run_demo_scenario to score one."),
)

var ToolRunDemoScenario = mcp.NewTool("run_demo_scenario",
	mcp.WithDescription(
		"Score one of the built-in demo incident scenarios. "+
			"Unknown names fall back to the default oil spill scenario."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Scenario name from list_demo_scenarios (e.g. 'oil_machine')")),
)
