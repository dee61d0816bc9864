// Command loomd runs the agent execution core as a daemon: it loads
// configuration, opens the store, connects providers and MCP servers,
// and starts the scheduler. The HTTP/A2A transport layer sits in front
// of the core handler and is owned by the deployment, not this binary.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/core"
	"github.com/loomhq/loom/internal/cron"
	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/mcp"
	"github.com/loomhq/loom/internal/persistence"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/shared"
	"github.com/loomhq/loom/internal/strategy"
	"github.com/loomhq/loom/internal/stream"
	"github.com/loomhq/loom/internal/telemetry"
	"github.com/loomhq/loom/internal/trace"
	"github.com/loomhq/loom/internal/uirender"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	traceTask := flag.String("trace", "", "print the execution trace for a task id (or unique prefix) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting", "version", Version, "home", cfg.HomeDir)

	otelProvider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "telemetry init", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := telemetry.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "metrics init", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		fatalStartup(logger, "store open", err)
	}
	defer store.Close()
	logger.Info("store opened", "path", cfg.DBPath)

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		fatalStartup(logger, "provider init", err)
	}
	logger.Info("providers registered", "names", providers.Names())

	if *traceTask != "" {
		os.Exit(runTrace(ctx, store, *traceTask))
	}

	manager := mcp.NewManager(cfg.McpServerConfigs())
	defer manager.CloseAll()

	events := stream.NewBroadcaster()
	exec := strategy.New(store, providers, manager, events, logger)
	exec.SetMetrics(metrics)
	exec.SetTracer(otelProvider.Tracer)
	exec.SetRenderers(uirender.NewRegistry())

	agents := config.NewAgentRegistry(cfg)
	handler := core.New(store, agents, exec, events, logger)

	confWatcher := config.NewWatcher(config.ConfigPath(cfg.HomeDir), logger)
	if err := confWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			reloaded, err := config.Load()
			if err != nil {
				logger.Warn("config reload failed", "path", ev.Path, "error", err)
				continue
			}
			agents.Reload(reloaded)
			logger.Info("agents reloaded", "names", agents.Names())
		}
	}()

	sched := cron.NewScheduler(cron.Config{Store: store, Logger: logger})
	if cfg.Jobs.Evaluator.Enabled {
		evaluator := cron.NewConversationEvaluator(providers, cfg.Jobs.Evaluator.Provider, cfg.Jobs.Evaluator.Model)
		if err := sched.Register(evaluator); err != nil {
			fatalStartup(logger, "register evaluator", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		fatalStartup(logger, "scheduler start", err)
	}
	defer sched.Stop()

	logger.Info("ready", "agents", agents.Names())

	if isatty.IsTerminal(os.Stdin.Fd()) {
		runREPL(ctx, handler, agents)
	} else {
		<-ctx.Done()
	}
	logger.Info("shutting down")
}

// runREPL reads lines from stdin and sends each as a message to the
// first configured agent, keeping one context across turns.
func runREPL(ctx context.Context, handler *core.Handler, agents *config.AgentRegistry) {
	names := agents.Names()
	if len(names) == 0 {
		slog.Error("no agents configured")
		return
	}
	agentName := names[0]

	scope := shared.Scope{
		UserID:    ids.AnonymousUserID,
		SessionID: ids.NewSessionID(),
		AgentName: agentName,
	}
	var contextID ids.ContextID

	fmt.Printf("chatting with %s (ctrl-d to exit)\n", agentName)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		msg := a2a.Message{
			MessageID: ids.NewMessageID(),
			Role:      a2a.RoleUser,
			Parts:     []a2a.Part{a2a.TextPart{Text: text}},
			ContextID: contextID,
			Kind:      "message",
		}
		task, err := handler.MessageSend(shared.WithScope(ctx, scope), a2a.MessageSendParams{Message: msg})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		contextID = task.ContextID
		if task.Status.Message != nil {
			fmt.Println(task.Status.Message.TextContent())
		}
	}
}

// newLogger picks a text handler on a terminal and JSON otherwise.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func buildProviders(ctx context.Context, cfg config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			slog.Warn("provider has no api key, skipping", "provider", name)
			continue
		}
		switch name {
		case "openai":
			registry.Register(provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			}))
		case "anthropic":
			registry.Register(provider.NewAnthropic(provider.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			}))
		case "gemini":
			g, err := provider.NewGemini(ctx, provider.GeminiConfig{
				APIKey:       pc.APIKey,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, err
			}
			registry.Register(g)
		default:
			slog.Warn("unknown provider in config, skipping", "provider", name)
		}
	}
	return registry, nil
}

func runTrace(ctx context.Context, store *persistence.Store, taskID string) int {
	svc := trace.NewService(store)
	tr, err := svc.Assemble(ctx, taskID)
	if err != nil {
		slog.Error("trace assembly failed", "task_id", taskID, "error", err)
		return 1
	}
	os.Stdout.WriteString(trace.Render(tr))
	return 0
}

func fatalStartup(logger *slog.Logger, phase string, err error) {
	if logger != nil {
		logger.Error("startup failure", "phase", phase, "error", err)
	} else {
		slog.Error("startup failure", "phase", phase, "error", err)
	}
	os.Exit(1)
}
