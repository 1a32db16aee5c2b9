// Package mcpserver exposes the storefront orchestrator as MCP tools so an
// external assistant can drive research, workflows and AutoPilot review.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"storepilot/pkg/autopilot"
	"storepilot/pkg/catalog"
	"storepilot/pkg/logx"
	"storepilot/pkg/version"
)

// ServerName is reported to MCP clients during initialize.
const ServerName = "storepilot"

// Orchestrator is the part of the orchestrator the tools call.
type Orchestrator interface {
	AnalyzeTrends(ctx context.Context, niche string) (catalog.TrendReport, error)
	ScoutProducts(ctx context.Context, query string, opts catalog.ScoutOptions) ([]catalog.Product, error)
	RunProductDiscoveryWorkflow(ctx context.Context, niche string, opts catalog.ScoutOptions) ([]catalog.Listing, error)
	RunQuickImportWorkflow(ctx context.Context, url string) ([]catalog.Listing, error)
	RunCompetitorAnalysisWorkflow(ctx context.Context, niche string) (catalog.CompetitorReport, error)
}

// AutoPilot is the decision review surface.
type AutoPilot interface {
	Status() autopilot.Status
	PendingDecisions() []autopilot.Decision
	ApproveDecision(ctx context.Context, id string) (autopilot.Decision, error)
	RejectDecision(id string) error
	GenerateReport(p autopilot.Period) (autopilot.Report, error)
}

// New builds an MCP server with every tool registered.
func New(orch Orchestrator, ap AutoPilot) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version.Version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Storefront automation: research niches, import products and review AutoPilot decisions."),
	)
	Register(s, orch, ap)
	return s
}

// Register adds the storefront tools to s.
func Register(s *server.MCPServer, orch Orchestrator, ap AutoPilot) {
	h := &handlers{orch: orch, ap: ap, logger: logx.NewLogger("mcp")}

	s.AddTool(
		mcp.NewTool("analyze_trends",
			mcp.WithDescription("Rank product opportunities for a niche."),
			mcp.WithString("niche", mcp.Required(), mcp.Description("Market niche, e.g. 'home fitness'")),
		),
		h.analyzeTrends,
	)
	s.AddTool(
		mcp.NewTool("scout_products",
			mcp.WithDescription("Search supplier catalogs for candidate products."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
			mcp.WithNumber("limit", mcp.Description("Maximum products to return")),
			mcp.WithNumber("min_score", mcp.Description("Minimum product score (0-100)")),
			mcp.WithString("category", mcp.Description("Restrict to a category")),
		),
		h.scoutProducts,
	)
	s.AddTool(
		mcp.NewTool("run_workflow",
			mcp.WithDescription("Run a predefined workflow: discovery, import or competitors."),
			mcp.WithString("name", mcp.Required(), mcp.Enum("discovery", "import", "competitors")),
			mcp.WithString("niche", mcp.Description("Niche for discovery and competitors")),
			mcp.WithString("url", mcp.Description("Supplier URL for import")),
			mcp.WithNumber("limit", mcp.Description("Scout limit for discovery")),
		),
		h.runWorkflow,
	)
	s.AddTool(
		mcp.NewTool("autopilot_status",
			mcp.WithDescription("Current AutoPilot status and statistics."),
		),
		h.autopilotStatus,
	)
	s.AddTool(
		mcp.NewTool("pending_decisions",
			mcp.WithDescription("Decisions waiting for approval."),
		),
		h.pendingDecisions,
	)
	s.AddTool(
		mcp.NewTool("review_decision",
			mcp.WithDescription("Approve or reject a pending AutoPilot decision."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Decision ID")),
			mcp.WithString("action", mcp.Required(), mcp.Enum("approve", "reject")),
		),
		h.reviewDecision,
	)
	s.AddTool(
		mcp.NewTool("autopilot_report",
			mcp.WithDescription("Summarize AutoPilot activity over a period."),
			mcp.WithString("period", mcp.Enum("daily", "weekly", "monthly"), mcp.Description("Defaults to daily")),
		),
		h.report,
	)
}

type handlers struct {
	orch   Orchestrator
	ap     AutoPilot
	logger *logx.Logger
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func scoutOptions(req mcp.CallToolRequest) catalog.ScoutOptions {
	return catalog.ScoutOptions{
		Limit:    req.GetInt("limit", 0),
		MinScore: req.GetFloat("min_score", 0),
		Category: req.GetString("category", ""),
	}
}

func (h *handlers) analyzeTrends(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	niche := strings.TrimSpace(req.GetString("niche", ""))
	if niche == "" {
		return mcp.NewToolResultError("niche is required"), nil
	}
	report, err := h.orch.AnalyzeTrends(ctx, niche)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (h *handlers) scoutProducts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	products, err := h.orch.ScoutProducts(ctx, query, scoutOptions(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(products)
}

func (h *handlers) runWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	niche := req.GetString("niche", "")
	var (
		result any
		err    error
	)
	switch name {
	case "discovery":
		if niche == "" {
			return mcp.NewToolResultError("niche is required for discovery"), nil
		}
		result, err = h.orch.RunProductDiscoveryWorkflow(ctx, niche, scoutOptions(req))
	case "import":
		url := req.GetString("url", "")
		if url == "" {
			return mcp.NewToolResultError("url is required for import"), nil
		}
		result, err = h.orch.RunQuickImportWorkflow(ctx, url)
	case "competitors":
		if niche == "" {
			return mcp.NewToolResultError("niche is required for competitors"), nil
		}
		result, err = h.orch.RunCompetitorAnalysisWorkflow(ctx, niche)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown workflow %q", name)), nil
	}
	if err != nil {
		h.logger.Warn("workflow %s failed: %v", name, err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (h *handlers) autopilotStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.ap.Status())
}

func (h *handlers) pendingDecisions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending := h.ap.PendingDecisions()
	if pending == nil {
		pending = []autopilot.Decision{}
	}
	return jsonResult(pending)
}

func (h *handlers) reviewDecision(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	switch action := req.GetString("action", ""); action {
	case "approve":
		d, err := h.ap.ApproveDecision(ctx, id)
		if err != nil {
			return decisionError(id, err), nil
		}
		h.logger.Info("decision %s approved via MCP", id)
		return jsonResult(d)
	case "reject":
		if err := h.ap.RejectDecision(id); err != nil {
			return decisionError(id, err), nil
		}
		h.logger.Info("decision %s rejected via MCP", id)
		return mcp.NewToolResultText("rejected " + id), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func decisionError(id string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, autopilot.ErrDecisionNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("decision %s not found", id))
	case errors.Is(err, autopilot.ErrDecisionNotPending):
		return mcp.NewToolResultError(fmt.Sprintf("decision %s is not pending", id))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func (h *handlers) report(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := h.ap.GenerateReport(autopilot.Period(req.GetString("period", string(autopilot.PeriodDaily))))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

// ServeStdio runs s over stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}
