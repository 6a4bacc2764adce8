package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/missiond/internal/agents"
	"github.com/fyrsmithlabs/missiond/internal/config"
	"github.com/fyrsmithlabs/missiond/internal/extai"
	"github.com/fyrsmithlabs/missiond/internal/gitops"
	"github.com/fyrsmithlabs/missiond/internal/inference"
	"github.com/fyrsmithlabs/missiond/internal/logging"
	"github.com/fyrsmithlabs/missiond/internal/memory"
	"github.com/fyrsmithlabs/missiond/internal/mission"
	"github.com/fyrsmithlabs/missiond/internal/notify"
	"github.com/fyrsmithlabs/missiond/internal/pipeline"
	"github.com/fyrsmithlabs/missiond/internal/retry"
	"github.com/fyrsmithlabs/missiond/internal/scheduler"
	"github.com/fyrsmithlabs/missiond/internal/secrets"
	"github.com/fyrsmithlabs/missiond/internal/telemetry"
	"github.com/fyrsmithlabs/missiond/internal/validation"
	"github.com/fyrsmithlabs/missiond/internal/vectorstore"
)

var (
	runTitle     string
	runObjective string
	runRepo      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a mission end to end",
	Long: `Run drives one mission through all five phases and waits for it to
finish. Ctrl-C cancels the mission; tasks already running finish and the
remaining tasks are skipped.`,
	RunE: runMission,
}

func init() {
	runCmd.Flags().StringVar(&runTitle, "title", "", "mission title (required)")
	runCmd.Flags().StringVar(&runObjective, "objective", "", "mission objective (required)")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "repository path (default from config)")
	_ = runCmd.MarkFlagRequired("title")
	_ = runCmd.MarkFlagRequired("objective")
}

func runMission(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	if runRepo != "" {
		cfg.Workspace.RepoPath = runRepo
	}

	otelProvider, err := telemetry.Setup(ctx, cfg.Observability, version)
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()

	logger, err := newLogger(cfg, otelProvider)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	retrier := retry.NewExecutor(retry.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}, logger.Underlying())

	inferenceSvc, err := inference.NewService(inference.Config{
		BaseURL:        cfg.Inference.BaseURL,
		Model:          cfg.Inference.Model,
		EmbeddingModel: cfg.Inference.EmbeddingModel,
		Timeout:        cfg.Inference.Timeout,
	}, retrier, logger.Underlying())
	if err != nil {
		return fmt.Errorf("inference setup failed: %w", err)
	}

	store, err := vectorstore.NewFromConfig(ctx, cfg, retrier, logger.Underlying())
	if err != nil {
		return fmt.Errorf("vectorstore setup failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	memorySvc := memory.NewService(memory.Config{
		TopK:            cfg.Memory.TopK,
		MinScore:        cfg.Memory.MinScore,
		MaxContextBytes: cfg.Memory.MaxContextBytes,
	}, store, inferenceSvc, logger.Underlying())

	registry := agents.NewRegistry()
	agents.RegisterDefaults(registry, inferenceSvc, logger.Underlying())
	if err := registerConsultant(cfg, registry, retrier, logger.Underlying()); err != nil {
		return err
	}

	validator := validation.NewExecRunner(validation.Commands{
		Lint:  cfg.Validation.Lint,
		Test:  cfg.Validation.Test,
		Build: cfg.Validation.Build,
	}, cfg.Validation.Timeout, logger.Underlying())

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notifier.Enabled {
		natsNotifier, err := notify.NewNATSNotifier(cfg.Notifier.URL, cfg.Notifier.Subject, logger.Underlying())
		if err != nil {
			return fmt.Errorf("notifier setup failed: %w", err)
		}
		defer natsNotifier.Close()
		notifier = natsNotifier
	}

	missions := mission.NewStore()
	p := pipeline.New(pipeline.Config{
		Scheduler: scheduler.Config{
			MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		},
		RepoPath:    cfg.Workspace.RepoPath,
		TaskTimeout: cfg.Scheduler.TaskTimeout,
	}, missions, inference.NewPlanner(inferenceSvc, logger.Underlying()), registry,
		memorySvc, validator, gitops.NewIntegrator(cfg.Workspace.RepoPath, logger.Underlying()),
		notifier, logger)

	m, err := p.Launch(ctx, runTitle, runObjective)
	if err != nil {
		return err
	}
	logger.Info(ctx, "mission launched",
		zap.String("mission_id", m.ID),
		zap.String("title", m.Title),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case sig := <-sigCh:
		logger.Warn(ctx, "signal received, cancelling mission", zap.String("signal", sig.String()))
		_ = p.Cancel(m.ID)
		<-done
	case <-done:
	}

	final, err := missions.Get(m.ID)
	if err != nil {
		return err
	}
	printMissionResult(final)

	if final.Status != mission.StatusCompleted {
		return fmt.Errorf("mission %s: %s", final.Status, final.Error)
	}
	return nil
}

func registerConsultant(cfg *config.Config, registry *agents.Registry, retrier *retry.Executor, logger *zap.Logger) error {
	if cfg.ExternalAI.Provider == "none" || cfg.ExternalAI.Provider == "" {
		return nil
	}
	if cfg.ExternalAI.Provider != "openai" {
		return fmt.Errorf("unknown external AI provider %q", cfg.ExternalAI.Provider)
	}

	provider, err := extai.NewOpenAIProvider(cfg.ExternalAI.APIKey, cfg.ExternalAI.Model, cfg.ExternalAI.CostPer1KTokensUSD)
	if err != nil {
		return fmt.Errorf("external AI setup failed: %w", err)
	}

	scrubber, err := secrets.NewScrubber()
	if err != nil {
		return fmt.Errorf("scrubber setup failed: %w", err)
	}

	gate := extai.NewGate(extai.GateConfig{
		RequireApproval: cfg.ExternalAI.RequireApproval,
		ApprovalTimeout: cfg.ExternalAI.ApprovalTimeout,
	},
		extai.NewPolicy(),
		extai.NewCache(cfg.ExternalAI.CacheTTL, extai.SystemClock()),
		extai.NewBudget(cfg.ExternalAI.MissionBudgetUSD, cfg.ExternalAI.DailyBudgetUSD, extai.SystemClock()),
		extai.NewApprovals(extai.SystemClock()),
		extai.NewAuditLog(scrubber, extai.SystemClock()),
		provider, retrier, logger,
	)

	registry.Register(agents.NewConsultantAgent(gate, cfg.ExternalAI.Model, logger))
	return nil
}

func newLogger(cfg *config.Config, otelProvider *telemetry.Provider) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	logCfg.Output.OTEL = cfg.Logging.OTEL

	return logging.NewLogger(logCfg, otelProvider.LoggerProvider())
}

func printMissionResult(m *mission.Mission) {
	fmt.Printf("\nMission %s: %s\n", m.ID, m.Status)
	for _, t := range m.Tasks {
		fmt.Printf("  [%s] %s\n", t.Status, t.Title)
	}
	if m.Validation != nil {
		fmt.Printf("  validation: lint=%t test=%t build=%t\n",
			m.Validation.Lint.Passed, m.Validation.Test.Passed, m.Validation.Build.Passed)
	}
	if m.Branch != "" {
		fmt.Printf("  branch: %s\n", m.Branch)
	}
	if m.CommitHash != "" {
		fmt.Printf("  commit: %s\n", m.CommitHash)
	}
	if m.Error != "" {
		fmt.Printf("  error: %s\n", m.Error)
	}
	if len(m.MemoryCandidates) > 0 {
		fmt.Println("  proposed memory candidates (approve with 'missiond memory add'):")
		for _, c := range m.MemoryCandidates {
			fmt.Printf("    [%s] %s\n", c.Type, c.Title)
		}
	}
}
