package inspect

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	serveragent "github.com/serversentry/agent/internal/agent"
	"github.com/serversentry/agent/internal/config"
	"github.com/serversentry/agent/internal/series"
)

func newTestAgent(t *testing.T) *serveragent.Agent {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	yamlContent := "system:\n" +
		"  data_directory: " + dataDir + "\n" +
		"plugins:\n" +
		"  enabled:\n" +
		"    - cpu\n" +
		"notifications:\n" +
		"  enabled: false\n" +
		"composite_checks:\n" +
		"  enabled: false\n"
	path := filepath.Join(dir, "serversentry.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, err := serveragent.New(cfg, path)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func TestHandleListSeriesEmpty(t *testing.T) {
	a := newTestAgent(t)
	s := NewServer(a, "test")
	result, err := s.handleListSeries(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected no error result")
	}
}

func TestHandleListSeriesReportsAppendedReadings(t *testing.T) {
	a := newTestAgent(t)
	if err := a.Store.Append(series.MetricReading{Plugin: "cpu", Metric: "value", Value: 10, Timestamp: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	s := NewServer(a, "test")
	result, err := s.handleListSeries(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := result.Content[0].(mcp.TextContent).Text
	var entries []struct {
		Plugin string `json:"plugin"`
		Metric string `json:"metric"`
		Points int    `json:"points"`
	}
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 || entries[0].Plugin != "cpu" || entries[0].Points != 1 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestHandleSeriesStatisticsRequiresArgs(t *testing.T) {
	a := newTestAgent(t)
	s := NewServer(a, "test")
	result, err := s.handleSeriesStatistics(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result for missing plugin/metric")
	}
}

func TestHandleSeriesStatisticsComputesSummary(t *testing.T) {
	a := newTestAgent(t)
	for i, v := range []float64{10, 20, 30, 40, 50} {
		if err := a.Store.Append(series.MetricReading{Plugin: "cpu", Metric: "value", Value: v, Timestamp: int64(i + 1)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	s := NewServer(a, "test")
	result, err := s.handleSeriesStatistics(context.Background(), toolRequest(map[string]interface{}{
		"plugin": "cpu", "metric": "value", "points": float64(5),
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %v", result.Content)
	}
}

func TestHandleCompositeRuleStatusEmpty(t *testing.T) {
	a := newTestAgent(t)
	s := NewServer(a, "test")
	result, err := s.handleCompositeRuleStatus(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected no error result")
	}
}
