package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepilot/pkg/autopilot"
	"storepilot/pkg/catalog"
	"storepilot/pkg/clock"
	"storepilot/pkg/orchestrator"
)

func newTestServer(t *testing.T, opts ...orchestrator.Option) (*server.MCPServer, *orchestrator.Orchestrator) {
	t.Helper()
	opts = append([]orchestrator.Option{
		orchestrator.WithPace(-1),
		orchestrator.WithThinkDelay(-1),
		orchestrator.WithClock(clock.NewFake(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))),
	}, opts...)
	o, err := orchestrator.New(opts...)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return New(o, o.AutoPilot()), o
}

// callTool sends a tools/call request through HandleMessage.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	respBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqJSON))
	require.NoError(t, err)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	require.Nil(t, resp.Error, "rpc error")

	var result mcp.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return &result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestAnalyzeTrendsTool(t *testing.T) {
	s, _ := newTestServer(t)

	res := callTool(t, s, "analyze_trends", map[string]any{"niche": "camping"})
	require.False(t, res.IsError, resultText(t, res))
	var report catalog.TrendReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &report))
	assert.Equal(t, "camping", report.Niche)
	assert.NotEmpty(t, report.Opportunities)

	res = callTool(t, s, "analyze_trends", map[string]any{"niche": "  "})
	assert.True(t, res.IsError)
}

func TestScoutProductsTool(t *testing.T) {
	s, _ := newTestServer(t)

	res := callTool(t, s, "scout_products", map[string]any{"query": "yoga", "limit": 2})
	require.False(t, res.IsError, resultText(t, res))
	var products []catalog.Product
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &products))
	assert.LessOrEqual(t, len(products), 2)
}

func TestRunWorkflowTool(t *testing.T) {
	s, _ := newTestServer(t)

	res := callTool(t, s, "run_workflow", map[string]any{
		"name": "import",
		"url":  "https://supplier.example/items/desk-lamp.html",
	})
	require.False(t, res.IsError, resultText(t, res))
	var listings []catalog.Listing
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "Desk Lamp", listings[0].Product.Title)

	res = callTool(t, s, "run_workflow", map[string]any{"name": "import", "url": "not a url"})
	assert.True(t, res.IsError)

	res = callTool(t, s, "run_workflow", map[string]any{"name": "competitors"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "niche is required")

	res = callTool(t, s, "run_workflow", map[string]any{"name": "competitors", "niche": "yoga"})
	require.False(t, res.IsError, resultText(t, res))
	var rep catalog.CompetitorReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &rep))
	assert.Len(t, rep.Competitors, 4)
}

func TestDecisionReviewTools(t *testing.T) {
	stale := autopilot.PerformanceFunc(func(context.Context, catalog.Product, time.Time) (autopilot.Performance, error) {
		return autopilot.Performance{ConversionRate: 0.5, Margin: 50, DaysSinceLastSale: 45, Stock: 2}, nil
	})
	s, o := newTestServer(t, orchestrator.WithPerformanceSource(stale))

	_, err := o.StartAutoPilot(context.Background(), autopilot.Config{
		Mode:        autopilot.ModeAggressive,
		Niches:      []string{"kitchen"},
		AutoPublish: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { o.StopAutoPilot() })
	require.NotEmpty(t, o.AutoPilot().Published())
	o.AutoPilot().CheckPerformance(context.Background())

	res := callTool(t, s, "autopilot_status", nil)
	var st autopilot.Status
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &st))
	assert.True(t, st.Running)

	res = callTool(t, s, "pending_decisions", nil)
	var pending []autopilot.Decision
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &pending))
	require.NotEmpty(t, pending, "remove and restock always wait for review")

	first := pending[0].ID
	res = callTool(t, s, "review_decision", map[string]any{"id": first, "action": "approve"})
	require.False(t, res.IsError, resultText(t, res))

	res = callTool(t, s, "review_decision", map[string]any{"id": first, "action": "approve"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not pending")

	res = callTool(t, s, "review_decision", map[string]any{"id": "missing", "action": "reject"})
	assert.True(t, res.IsError)
	assert.Equal(t, fmt.Sprintf("decision %s not found", "missing"), resultText(t, res))

	if len(pending) > 1 {
		res = callTool(t, s, "review_decision", map[string]any{"id": pending[1].ID, "action": "reject"})
		assert.False(t, res.IsError, resultText(t, res))
	}

	res = callTool(t, s, "autopilot_report", map[string]any{"period": "weekly"})
	require.False(t, res.IsError, resultText(t, res))
	res = callTool(t, s, "autopilot_report", map[string]any{"period": "hourly"})
	assert.True(t, res.IsError)
}
