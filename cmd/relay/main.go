package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/relay/internal/diagram"
	"github.com/rendis/relay/internal/engine"
	"github.com/rendis/relay/internal/expressions"
	"github.com/rendis/relay/internal/invoker"
	"github.com/rendis/relay/internal/limiter"
	"github.com/rendis/relay/internal/logging"
	"github.com/rendis/relay/internal/logstream"
	"github.com/rendis/relay/internal/schedule"
	"github.com/rendis/relay/internal/store"
	"github.com/rendis/relay/internal/validation"
	relaymcp "github.com/rendis/relay/pkg/mcp"
	"github.com/rendis/relay/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(cfg, logger, os.Args[2:])
	case "serve":
		err = cmdServe(cfg, logger)
	case "diagram":
		err = cmdDiagram(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: relay <command>

commands:
  run <workflow.json> [project_id]   execute a workflow once and print the run
  serve                              start the MCP server and cron scheduler
  diagram <workflow.json>            print a Mermaid flowchart of the pipeline
  version                            print the relay version`)
}

// newLogger builds the process logger: JSON to stderr with correlation IDs
// injected from the context.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// runtime bundles the wired collaborators of a relay process.
type runtime struct {
	store     *store.LibSQLStore
	scheduler *engine.Scheduler
	hub       *logstream.Hub
}

func (r *runtime) close() {
	_ = r.store.Close()
}

// buildRuntime wires the store, invoker, engines, and scheduler.
func buildRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*runtime, error) {
	if cfg.InvokerEndpoint == "" {
		return nil, fmt.Errorf("invoker endpoint is not configured (set RELAY_INVOKER_ENDPOINT or invoker_endpoint in settings.json)")
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	inv, err := invoker.NewHTTPInvoker(invoker.HTTPConfig{
		Endpoint: cfg.InvokerEndpoint,
		APIKey:   cfg.InvokerAPIKey,
		Timeout:  cfg.invokerTimeout(),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build invoker: %w", err)
	}

	condEngine, err := newConditionEngine(cfg.ConditionEngine)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	validator, err := validation.NewWorkflowValidator(st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build validator: %w", err)
	}

	runner := engine.NewStepRunner(st, inv, expressions.NewConditionEvaluator(condEngine), engine.StepRunnerConfig{
		Transforms: expressions.NewGoJQEngine(),
		Limiter:    limiter.New(cfg.AgentRatePerMin, cfg.AgentRateBurst),
		Logger:     logger,
	})

	hub := logstream.NewHub()
	return &runtime{
		store:     st,
		scheduler: engine.NewScheduler(runner, st, validator, hub, logger),
		hub:       hub,
	}, nil
}

// newConditionEngine selects the expression engine for step conditions.
func newConditionEngine(name string) (expressions.Engine, error) {
	switch name {
	case "", "cel":
		eng, err := expressions.NewCELEngine()
		if err != nil {
			return nil, fmt.Errorf("build condition engine: %w", err)
		}
		return eng, nil
	case "expr":
		return expressions.NewExprEngine(), nil
	default:
		return nil, fmt.Errorf("unknown condition engine %q (want cel or expr)", name)
	}
}

func cmdRun(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("run requires a workflow file")
	}
	wf, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}
	projectID := ""
	if len(args) > 1 {
		projectID = args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	exec, err := rt.scheduler.Run(ctx, wf, projectID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if exec.Status == schema.ExecutionStatusFailed {
		return fmt.Errorf("run %s failed", exec.ID)
	}
	return nil
}

func cmdServe(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	cron := schedule.NewScheduler(rt.store, rt.scheduler, logger)
	if err := cron.RecoverMissed(ctx); err != nil {
		logger.Warn("missed run recovery failed", slog.String("error", err.Error()))
	}
	if err := cron.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = cron.Stop() }()

	srv := relaymcp.NewRelayServer(relaymcp.RelayServerDeps{
		Runner: rt.scheduler,
		Store:  rt.store,
		Logger: logger,
	})
	return srv.Serve(ctx)
}

func cmdDiagram(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("diagram requires a workflow file")
	}
	wf, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}
	model, err := diagram.Build(wf, nil)
	if err != nil {
		return err
	}
	fmt.Print(diagram.RenderMermaid(model))
	return nil
}

// loadWorkflow reads and decodes a workflow definition file.
func loadWorkflow(path string) (*schema.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow file: %w", err)
	}
	return &wf, nil
}
