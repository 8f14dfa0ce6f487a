package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store JobStore
	Sizer Sizer
}

// NewMCPServer creates an MCP server exposing the dispatch service to
// assistant tooling: sizing previews, job lookups, and an active-jobs
// resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"solarsync",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("solarsync — solar installation job dispatch: size systems, inspect jobs, and track active work."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("calculate_sizing",
			mcp.WithDescription("Size a solar system for an appliance load at a location, returning panel/battery/inverter counts and costs."),
			mcp.WithString("system_type", mcp.Description("\"pure\" (grid-tie, no storage) or \"hybrid\""), mcp.Required()),
			mcp.WithString("battery_type", mcp.Description("\"lead_acid\" or \"lithium_ion\""), mcp.Required()),
			mcp.WithString("appliances", mcp.Description("JSON array of {name, power_w, quantity, runtime_hrs}"), mcp.Required()),
			mcp.WithNumber("lat", mcp.Description("Site latitude"), mcp.Required()),
			mcp.WithNumber("lon", mcp.Description("Site longitude"), mcp.Required()),
		),
		mcpCalculateSizing(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Look up one dispatch job by id, including sizing figures and assignment."),
			mcp.WithString("job_id", mcp.Description("The job identifier"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_jobs",
			mcp.WithDescription("List dispatch jobs, optionally filtered by status (pending, in_progress, completed)."),
			mcp.WithString("status", mcp.Description("Optional status filter")),
		),
		mcpListJobs(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jobs://active",
			"Active Jobs",
			mcp.WithResourceDescription("Jobs currently moving through the pipeline"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceActiveJobs(deps),
	)

	return s
}

func mcpCalculateSizing(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		systemType, err := req.RequireString("system_type")
		if err != nil {
			return mcpError("system_type is required"), nil
		}
		batteryType, err := req.RequireString("battery_type")
		if err != nil {
			return mcpError("battery_type is required"), nil
		}
		appliancesJSON, err := req.RequireString("appliances")
		if err != nil {
			return mcpError("appliances is required"), nil
		}
		lat, err := req.RequireFloat("lat")
		if err != nil {
			return mcpError("lat is required"), nil
		}
		lon, err := req.RequireFloat("lon")
		if err != nil {
			return mcpError("lon is required"), nil
		}

		var appliances []sizing.Appliance
		if err := json.Unmarshal([]byte(appliancesJSON), &appliances); err != nil {
			return mcpError(fmt.Sprintf("invalid appliances JSON: %v", err)), nil
		}

		res, err := deps.Sizer.Calculate(ctx, systemType, appliances, sizing.Position{Lat: lat, Lon: lon}, batteryType)
		if err != nil {
			return mcpError(fmt.Sprintf("sizing failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := deps.Store.GetJob(jobID)
		if err != nil {
			return mcpError(fmt.Sprintf("job lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(toJobResponse(job))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal job: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListJobs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		statuses := []string{state.StatusPending, state.StatusInProgress, state.StatusCompleted}
		if s := req.GetString("status", ""); s != "" {
			statuses = []string{s}
		}

		jobs, err := deps.Store.ListJobsByStatus(statuses...)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list jobs: %v", err)), nil
		}

		out := make([]jobResponse, len(jobs))
		for i, j := range jobs {
			out[i] = toJobResponse(j)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal jobs: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceActiveJobs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jobs, err := deps.Store.ListJobsByStatus(state.StatusPending, state.StatusInProgress)
		if err != nil {
			return nil, fmt.Errorf("failed to list active jobs: %w", err)
		}

		out := make([]jobResponse, len(jobs))
		for i, j := range jobs {
			out[i] = toJobResponse(j)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
