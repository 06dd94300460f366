package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentcore/nexus/internal/artifacts"
	"github.com/agentcore/nexus/internal/audit"
	"github.com/agentcore/nexus/internal/compaction"
	"github.com/agentcore/nexus/internal/config"
	"github.com/agentcore/nexus/internal/hooks"
	"github.com/agentcore/nexus/internal/modelcatalog"
	"github.com/agentcore/nexus/internal/modelclient"
	"github.com/agentcore/nexus/internal/models"
	"github.com/agentcore/nexus/internal/observability"
	"github.com/agentcore/nexus/internal/rpc"
	"github.com/agentcore/nexus/internal/scheduler"
	"github.com/agentcore/nexus/internal/session"
	"github.com/agentcore/nexus/internal/toolregistry"
	toolartifact "github.com/agentcore/nexus/internal/tools/artifact"
	"github.com/agentcore/nexus/internal/tools/exec"
	"github.com/agentcore/nexus/internal/tools/files"
	"github.com/agentcore/nexus/internal/transcript"
)

func runServe(cmd *cobra.Command, configPath, cwd string, debug bool) error {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()

	var tracer *observability.Tracer
	var tracerShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		t, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName: cfg.Tracing.ServiceName,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		tracer = t
		tracerShutdown = shutdown
	}

	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled:           true,
		Level:             audit.LevelInfo,
		Format:            audit.FormatJSON,
		Output:            "stderr",
		IncludeToolInput:  true,
		IncludeToolOutput: true,
	})
	if err != nil {
		return fmt.Errorf("init audit logger: %w", err)
	}
	defer auditLogger.Close()

	clients := buildModelClients(cmd.Context(), cfg)

	artifactRepo, artifactCleanup, err := buildArtifactRepository(cfg.Session.Dir)
	if err != nil {
		return fmt.Errorf("init artifact repository: %w", err)
	}
	if artifactCleanup != nil {
		go artifactCleanup.Start(cmd.Context())
		defer artifactCleanup.Stop()
	}

	tools := buildToolRegistry(cwd, artifactRepo)

	hookRegistry := hooks.NewRegistry(slog.Default(), func(he *models.HookError) {
		logger.Warn(context.Background(), "hook failed", "event", he.EventType, "error", he.Cause)
	})

	summarizer := &compaction.ModelSummarizer{Clients: clients, API: cfg.Provider.Default, Model: cfg.Provider.Model}
	compactionPolicy := compaction.Policy{
		AutoEnabled: cfg.Compaction.AutoCompaction,
		Threshold:   cfg.Compaction.Threshold,
		KeepShare:   cfg.Compaction.KeepBudget,
	}
	compactor := compaction.NewEngine(summarizer, compactionPolicy)

	schedulerConfig := scheduler.Config{
		SteeringMode:  scheduler.SteeringMode(cfg.Scheduler.SteeringMode),
		FollowUpMode:  scheduler.FollowUpMode(cfg.Scheduler.FollowUpMode),
		InterruptMode: scheduler.InterruptMode(cfg.Scheduler.InterruptMode),
	}

	factory := fileStoreFactory(cfg.Session.Dir)

	deps := session.Deps{
		Factory:              factory,
		Tools:                tools,
		Clients:              clients,
		Catalog:              modelcatalog.DefaultCatalog,
		Hooks:                hookRegistry,
		CompactionPolicy:     compactionPolicy,
		Compactor:            compactor,
		SchedulerConfig:      schedulerConfig,
		Logger:               logger,
		Metrics:              metrics,
		Tracer:               tracer,
		Audit:                auditLogger,
		DefaultAPI:           cfg.Provider.Default,
		DefaultModel:         cfg.Provider.Model,
		AutoRetry:            cfg.Provider.AutoRetry,
		MaxRetries:           cfg.Provider.MaxRetries,
		DefaultContextWindow: 200_000,
	}

	ctrl, err := session.New(cmd.Context(), deps)
	if err != nil {
		return fmt.Errorf("init session controller: %w", err)
	}
	ctrl.SetCwd(cwd)

	watchCtx, watchCancel := context.WithCancel(cmd.Context())
	defer watchCancel()
	go func() {
		if err := config.Watch(watchCtx, configPath, slog.Default(), func(reloaded config.Config) {
			ctrl.SetAutoCompaction(reloaded.Compaction.AutoCompaction)
		}); err != nil {
			logger.Warn(context.Background(), "config watch failed", "error", err)
		}
	}()

	server := rpc.NewServer(ctrl, logger)
	server.SetMetrics(metrics)
	if tracer != nil {
		server.SetTracer(tracer)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), session.ShutdownGrace+5*time.Second)
	defer shutdownCancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("controller shutdown: %w", err)
	}
	if tracerShutdown != nil {
		_ = tracerShutdown(shutdownCtx)
	}
	return nil
}

// buildModelClients wires one modelclient.Client per provider whose
// credentials are present in the environment, resolving provider
// credentials from process environment variables rather than the config
// file.
func buildModelClients(ctx context.Context, cfg config.Config) *modelclient.Registry {
	var clients []modelclient.Client

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		clients = append(clients, modelclient.NewAnthropicClient(modelclient.AnthropicConfig{
			APIKey: key,
		}))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		clients = append(clients, modelclient.NewOpenAIClient(modelclient.OpenAIConfig{
			APIKey: key,
		}))
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if gemini, err := modelclient.NewGeminiClient(ctx, modelclient.GeminiConfig{APIKey: key}); err == nil {
			clients = append(clients, gemini)
		} else {
			slog.Warn("gemini client init failed", "error", err)
		}
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		if bedrock, err := modelclient.NewBedrockClient(ctx, modelclient.BedrockConfig{
			Region:    region,
			Discovery: cfg.Provider.BedrockDiscovery,
			Catalog:   modelcatalog.DefaultCatalog,
		}); err == nil {
			clients = append(clients, bedrock)
		} else {
			slog.Warn("bedrock client init failed", "error", err)
		}
	}

	return modelclient.NewRegistry(clients...)
}

// buildToolRegistry wires the file-editing and shell-execution tools
// scoped to cwd, the baseline tool surface a coding agent needs, plus an
// artifact retrieval tool when repo is non-nil.
func buildToolRegistry(cwd string, repo artifacts.Repository) *toolregistry.Registry {
	reg := toolregistry.NewRegistry()

	fileCfg := files.Config{Workspace: cwd, MaxReadBytes: 200_000}
	reg.Register(files.NewReadTool(fileCfg))
	reg.Register(files.NewWriteTool(fileCfg))
	reg.Register(files.NewEditTool(fileCfg))
	reg.Register(files.NewApplyPatchTool(fileCfg))

	manager := exec.NewManager(cwd)
	if repo != nil {
		manager.SetArtifacts(repo)
	}
	reg.Register(exec.NewExecTool("exec", manager))
	reg.Register(exec.NewProcessTool(manager))

	if tool := toolartifact.NewTool(repo); tool != nil {
		reg.Register(tool)
	}

	return reg
}

// buildArtifactRepository wires a disk-backed artifact Store and
// MemoryRepository under dir/artifacts, plus a CleanupService that prunes
// expired artifacts on a timer. Returns a nil repo and cleanup if dir is
// empty.
func buildArtifactRepository(dir string) (artifacts.Repository, *artifacts.CleanupService, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil, nil
	}
	store, err := artifacts.NewLocalStore(filepath.Join(dir, "artifacts"))
	if err != nil {
		return nil, nil, err
	}
	repo := artifacts.NewMemoryRepository(store, slog.Default())
	cleanup := artifacts.NewCleanupService(repo, "@hourly", slog.Default())
	return repo, cleanup, nil
}

// fileStoreFactory adapts transcript.NewFileStore into a
// session.StoreFactory: an empty id mints a fresh uuid-based one.
func fileStoreFactory(dir string) session.StoreFactory {
	return func(ctx context.Context, id models.SessionID) (models.SessionID, transcript.Store, error) {
		if id == "" {
			id = models.SessionID(uuid.NewString())
		}
		store, err := transcript.NewFileStore(dir, id)
		if err != nil {
			return "", nil, err
		}
		return id, store, nil
	}
}
