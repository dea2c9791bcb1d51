package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/relay/internal/diagram"
	"github.com/rendis/relay/pkg/schema"
)

// handleRun executes a workflow pipeline and returns the finalized run.
func (s *RelayServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wf, err := parseWorkflow(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	projectID := req.GetString("project_id", "")

	exec, runErr := s.runner.Run(ctx, wf, projectID)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow run failed: %v", runErr)), nil
	}

	return marshalResult(exec)
}

// handleStatus returns the persisted state of a run.
func (s *RelayServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, getErr := s.store.GetExecution(ctx, executionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}

	return marshalResult(exec)
}

// handleLogs returns the log stream of a run, optionally filtered by level.
func (s *RelayServer) handleLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	level := req.GetString("level", "")

	exec, getErr := s.store.GetExecution(ctx, executionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("log query failed: %v", getErr)), nil
	}

	logs := exec.Logs
	if level != "" {
		filtered := make([]schema.LogEntry, 0, len(logs))
		for _, entry := range logs {
			if string(entry.Level) == level {
				filtered = append(filtered, entry)
			}
		}
		logs = filtered
	}

	return marshalResult(map[string]any{
		"execution_id": executionID,
		"logs":         logs,
	})
}

// handleAgents serves the catalog operations.
func (s *RelayServer) handleAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "list":
		agents, listErr := s.store.ListAgents(ctx)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"agents": agents})

	case "get":
		agentID := req.GetString("agent_id", "")
		if agentID == "" {
			return mcp.NewToolResultError("agent_id is required for get"), nil
		}
		agent, getErr := s.store.GetAgent(ctx, agentID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get failed: %v", getErr)), nil
		}
		return marshalResult(agent)

	case "register":
		raw := mcp.ParseStringMap(req, "agent", nil)
		if raw == nil {
			return mcp.NewToolResultError("agent is required for register"), nil
		}
		var agent schema.AgentDefinition
		if convErr := remarshal(raw, &agent); convErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid agent: %v", convErr)), nil
		}
		if agent.ID == "" || agent.Name == "" {
			return mcp.NewToolResultError("agent id and name are required"), nil
		}
		if regErr := s.store.RegisterAgent(ctx, &agent); regErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("register failed: %v", regErr)), nil
		}
		return marshalResult(map[string]any{"registered": agent.ID})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// handleDiagram renders a workflow pipeline as Mermaid.
func (s *RelayServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wf, err := parseWorkflow(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var results []schema.StepResult
	if executionID := req.GetString("execution_id", ""); executionID != "" {
		exec, getErr := s.store.GetExecution(ctx, executionID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
		}
		results = exec.Results
	}

	model, buildErr := diagram.Build(wf, results)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

// --- Internal helpers ---

// parseWorkflow extracts and decodes the workflow argument.
func parseWorkflow(req mcp.CallToolRequest) (*schema.Workflow, error) {
	raw := mcp.ParseStringMap(req, "workflow", nil)
	if raw == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	var wf schema.Workflow
	if err := remarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("invalid workflow: %v", err)
	}
	return &wf, nil
}

// remarshal round-trips a decoded map into a typed struct.
func remarshal(from any, to any) error {
	b, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, to)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
