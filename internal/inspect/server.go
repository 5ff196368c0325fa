// Package inspect implements a read-only MCP introspection surface over a
// running Agent: list_series, series_statistics, list_active_anomalies,
// and composite_rule_status tools served over stdio. Grounded directly on
// the teacher's internal/mcp (server.go's NewServer/Start shape,
// handlers.go's getArgs/stringArg/newTextResult/errResult helpers),
// narrowed from melisai's "run a collection, return a report" tools to
// read-only introspection queries against the agent's already-running
// state.
package inspect

import (
	"context"
	"encoding/json"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/serversentry/agent/internal/agent"
	"github.com/serversentry/agent/internal/series"
)

func seriesKeyFor(plugin, metric string) series.SeriesKey {
	return series.SeriesKey{Plugin: plugin, Metric: metric}
}

// Server wraps the MCP server instance, bound to one running Agent.
type Server struct {
	mcpServer *server.MCPServer
	agent     *agent.Agent
}

// NewServer creates an MCP server exposing read-only introspection tools
// over a.
func NewServer(a *agent.Agent, version string) *Server {
	s := server.NewMCPServer("serversentry", version, server.WithLogging())
	srv := &Server{mcpServer: s, agent: a}
	srv.registerTools()
	return srv
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	listSeriesTool := mcp.NewTool("list_series",
		mcp.WithDescription("List every (plugin, metric) series currently tracked in the store, with point counts."),
	)
	s.mcpServer.AddTool(listSeriesTool, s.handleListSeries)

	statisticsTool := mcp.NewTool("series_statistics",
		mcp.WithDescription("Compute summary statistics (mean, stddev, quartiles) over the most recent N points of one series."),
		mcp.WithString("plugin", mcp.Required(), mcp.Description("Plugin name, e.g. 'cpu'")),
		mcp.WithString("metric", mcp.Required(), mcp.Description("Metric name, e.g. 'value'")),
		mcp.WithNumber("points", mcp.Description("Number of recent points to summarize (default 100)"), mcp.DefaultNumber(100)),
	)
	s.mcpServer.AddTool(statisticsTool, s.handleSeriesStatistics)

	anomaliesTool := mcp.NewTool("list_active_anomalies",
		mcp.WithDescription("List (plugin, metric) pairs whose consecutive-anomalous-evaluation counter is currently above zero."),
	)
	s.mcpServer.AddTool(anomaliesTool, s.handleListActiveAnomalies)

	compositeTool := mcp.NewTool("composite_rule_status",
		mcp.WithDescription("List every configured composite rule with its degraded/enabled state."),
	)
	s.mcpServer.AddTool(compositeTool, s.handleCompositeRuleStatus)
}

func (s *Server) handleListSeries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type entry struct {
		Plugin string `json:"plugin"`
		Metric string `json:"metric"`
		Points int    `json:"points"`
	}
	var entries []entry
	for _, key := range s.agent.Store.Keys() {
		entries = append(entries, entry{Plugin: key.Plugin, Metric: key.Metric, Points: s.agent.Store.Len(key)})
	}
	return jsonResult(entries)
}

func (s *Server) handleSeriesStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	plugin := stringArg(args, "plugin", "")
	metric := stringArg(args, "metric", "")
	if plugin == "" || metric == "" {
		return errResult("plugin and metric are required"), nil
	}
	points := intArg(args, "points", 100)

	key := seriesKeyFor(plugin, metric)
	summary, err := s.agent.Store.Statistics(key, points)
	if err != nil {
		return errResult(err.Error()), nil
	}
	return jsonResult(summary)
}

func (s *Server) handleListActiveAnomalies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type entry struct {
		Plugin  string `json:"plugin"`
		Metric  string `json:"metric"`
		Counter int    `json:"consecutive_count"`
	}
	var entries []entry
	for _, key := range s.agent.Store.Keys() {
		if n := s.agent.Anomaly.Counter(key.Plugin, key.Metric); n > 0 {
			entries = append(entries, entry{Plugin: key.Plugin, Metric: key.Metric, Counter: n})
		}
	}
	return jsonResult(entries)
}

func (s *Server) handleCompositeRuleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type entry struct {
		Name     string `json:"name"`
		Enabled  bool   `json:"enabled"`
		Degraded bool   `json:"degraded"`
	}
	var entries []entry
	for _, rule := range s.agent.Rules {
		entries = append(entries, entry{Name: rule.Spec.Name, Enabled: rule.Spec.Enabled, Degraded: rule.Degraded()})
	}
	return jsonResult(entries)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult(err.Error()), nil
	}
	return newTextResult(string(data)), nil
}

func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
	}
}

func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func intArg(args map[string]interface{}, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	f, ok := val.(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}
