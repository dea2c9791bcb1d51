package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/relay/internal/store"
	"github.com/rendis/relay/pkg/schema"
)

// Runner is the interface the MCP surface uses to start workflow runs.
// Satisfied by the engine scheduler.
type Runner interface {
	Run(ctx context.Context, wf *schema.Workflow, projectID string) (*schema.Execution, error)
}

// RelayServerDeps holds the dependencies for creating a RelayServer.
type RelayServerDeps struct {
	Runner Runner
	Store  store.Store
	Logger *slog.Logger
}

// RelayServer wraps an MCP server with relay-specific tool handlers.
type RelayServer struct {
	runner    Runner
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewRelayServer creates a new RelayServer with all 5 tools registered.
func NewRelayServer(deps RelayServerDeps) *RelayServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &RelayServer{
		runner: deps.Runner,
		store:  deps.Store,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"relay",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Relay runs agent pipelines sequentially. Use relay.run to execute a workflow, relay.status to inspect a run, relay.logs to read a run's log stream, relay.agents to manage the agent catalog, and relay.diagram to render a pipeline."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *RelayServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *RelayServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *RelayServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: logsTool(), Handler: s.handleLogs},
		{Tool: agentsTool(), Handler: s.handleAgents},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("relay.run",
		mcp.WithDescription("Execute a workflow pipeline. Steps run strictly in order; each result carries the step outcome"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow object with id, name, and steps")),
		mcp.WithString("project_id", mcp.Description("Project the run belongs to")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("relay.status",
		mcp.WithDescription("Get the state of a workflow run, including per-step results"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func logsTool() mcp.Tool {
	return mcp.NewTool("relay.logs",
		mcp.WithDescription("Read the log stream of a workflow run"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the run to read logs for")),
		mcp.WithString("level", mcp.Description("Only return entries at this level (info, warning, error, success)")),
	)
}

func agentsTool() mcp.Tool {
	return mcp.NewTool("relay.agents",
		mcp.WithDescription("Manage the agent catalog"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("list", "get", "register"),
			mcp.Description("Catalog operation to perform"),
		),
		mcp.WithString("agent_id", mcp.Description("Agent ID (required for get)")),
		mcp.WithObject("agent", mcp.Description("Agent definition with id, name, system_prompt (required for register)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("relay.diagram",
		mcp.WithDescription("Render a workflow pipeline as a Mermaid flowchart, optionally overlaying a run's step results"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow object to render")),
		mcp.WithString("execution_id", mcp.Description("Run whose step results should color the diagram")),
	)
}
