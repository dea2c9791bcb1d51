package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelayServer(t *testing.T) {
	s := NewRelayServer(RelayServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s := NewRelayServer(RelayServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"relay.run",
		"relay.status",
		"relay.logs",
		"relay.agents",
		"relay.diagram",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "relay.run", "Execute a workflow pipeline. Steps run strictly in order; each result carries the step outcome"},
		{"status", "relay.status", "Get the state of a workflow run, including per-step results"},
		{"logs", "relay.logs", "Read the log stream of a workflow run"},
		{"agents", "relay.agents", "Manage the agent catalog"},
		{"diagram", "relay.diagram", "Render a workflow pipeline as a Mermaid flowchart, optionally overlaying a run's step results"},
	}

	s := NewRelayServer(RelayServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
