// Package mcpsrv exposes the tab telemetry to agent consumers as MCP
// tools: an overview of the open tabs, the cleanup recommendations, the
// per-tab memory report, and a close action.
package mcpsrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tabwarden/tabwarden/memest"
	"github.com/tabwarden/tabwarden/stats"
	"github.com/tabwarden/tabwarden/store"
	"github.com/tabwarden/tabwarden/tabcore"
)

// TabSource is the live-tab side of the host-environment adapter.
type TabSource interface {
	QueryAllTabs(ctx context.Context) ([]tabcore.Tab, error)
	CloseTabs(ctx context.Context, ids []int) error
}

// Service backs the MCP tools.
type Service struct {
	gw   *store.Gateway
	tabs TabSource
	est  *memest.Estimator
	now  func() time.Time
}

// NewService wires the tool backends. now defaults to time.Now.
func NewService(gw *store.Gateway, tabs TabSource, est *memest.Estimator, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{gw: gw, tabs: tabs, est: est, now: now}
}

// RegisterMCP registers the tabwarden tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerOverviewTool(srv)
	s.registerRecommendationsTool(srv)
	s.registerMemoryTool(srv)
	s.registerCloseTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// addTool registers endpoint behind decode, marshaling the response as a
// single JSON text content, tool errors in-band.
func addTool(srv *mcp.Server, tool *mcp.Tool, endpoint func(ctx context.Context, req any) (any, error), decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}
		resp, err := endpoint(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func decodeNothing(_ *mcp.CallToolRequest) (any, error) { return nil, nil }

// --- tabs_overview ---

func (s *Service) registerOverviewTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabs_overview",
		Description: "Summarize the currently open browser tabs: counts, windows, domains, duplicates, averages, and overall health.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		b, tabs, err := s.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		now := s.now()
		return map[string]any{
			"summary": stats.Summarize(b.TabStats, tabs, now),
			"health":  stats.OverallHealth(b.TabStats, tabs, now),
		}, nil
	}

	addTool(srv, tool, endpoint, decodeNothing)
}

// --- tabs_recommendations ---

func (s *Service) registerRecommendationsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabs_recommendations",
		Description: "List prioritized tab-cleanup recommendations (inactive, duplicate, rarely used) with the affected tab IDs.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		b, tabs, err := s.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		recs := stats.Recommendations(b.TabStats, tabs, b.Settings, s.now())
		if recs == nil {
			recs = []stats.Recommendation{}
		}
		return map[string]any{"recommendations": recs}, nil
	}

	addTool(srv, tool, endpoint, decodeNothing)
}

// --- tabs_memory ---

func (s *Service) registerMemoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabs_memory",
		Description: "Estimate per-tab memory usage (heuristic, DOM-based, not measured RSS) and report the total and heaviest tab.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		tabs, err := s.tabs.QueryAllTabs(ctx)
		if err != nil {
			return nil, err
		}
		estimates := s.est.EstimateAll(ctx, tabs)
		return map[string]any{
			"estimates": estimates,
			"stats":     memest.MemoryStats(estimates),
		}, nil
	}

	addTool(srv, tool, endpoint, decodeNothing)
}

// --- tabs_close ---

type closeReq struct {
	IDs []int `json:"ids"`
}

func (s *Service) registerCloseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabs_close",
		Description: "Close the given browser tabs by ID.",
		InputSchema: inputSchema(map[string]any{
			"ids": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "integer"},
				"description": "Tab IDs to close",
			},
		}, []string{"ids"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*closeReq)
		if len(r.IDs) == 0 {
			return nil, errors.New("ids must be non-empty")
		}
		if err := s.tabs.CloseTabs(ctx, r.IDs); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "closed": len(r.IDs)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (any, error) {
		var r closeReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}

	addTool(srv, tool, endpoint, decode)
}

func (s *Service) snapshot(ctx context.Context) (tabcore.Bundle, []tabcore.Tab, error) {
	b, err := s.gw.Load(ctx)
	if err != nil {
		return b, nil, err
	}
	tabs, err := s.tabs.QueryAllTabs(ctx)
	if err != nil {
		return b, nil, err
	}
	return b, tabs, nil
}
