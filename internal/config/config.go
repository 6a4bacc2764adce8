// Package config provides configuration loading for missiond.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for missiond.
type Config struct {
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	Retry         RetryConfig         `koanf:"retry"`
	ExternalAI    ExternalAIConfig    `koanf:"external_ai"`
	Memory        MemoryConfig        `koanf:"memory"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Inference     InferenceConfig     `koanf:"inference"`
	Notifier      NotifierConfig      `koanf:"notifier"`
	Workspace     WorkspaceConfig     `koanf:"workspace"`
	Validation    ValidationConfig    `koanf:"validation"`
}

// ValidationConfig lists the commands run during the validation phase.
// An empty command skips its check.
type ValidationConfig struct {
	Lint    []string      `koanf:"lint"`
	Test    []string      `koanf:"test"`
	Build   []string      `koanf:"build"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// ObservabilityConfig controls OTLP export of traces, metrics and logs.
type ObservabilityConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// SchedulerConfig bounds task concurrency within a wave.
type SchedulerConfig struct {
	// MaxConcurrent is the maximum number of tasks running at once.
	MaxConcurrent int `koanf:"max_concurrent"`

	// TaskTimeout bounds a single task execution. Zero disables the bound.
	TaskTimeout time.Duration `koanf:"task_timeout"`
}

// RetryConfig controls retry of external calls.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// ExternalAIConfig controls the external AI gate.
type ExternalAIConfig struct {
	// Provider selects the external backend: "openai" or "none".
	Provider string `koanf:"provider"`

	// Model is the external model requests default to.
	Model string `koanf:"model"`

	// APIKey authenticates with the external provider.
	APIKey string `koanf:"api_key"`

	// CostPer1KTokensUSD prices usage when the provider reports tokens
	// but not cost.
	CostPer1KTokensUSD float64 `koanf:"cost_per_1k_tokens_usd"`

	// MissionBudgetUSD caps external AI spend per mission. Zero means unlimited.
	MissionBudgetUSD float64 `koanf:"mission_budget_usd"`

	// DailyBudgetUSD caps external AI spend per UTC day. Zero means unlimited.
	DailyBudgetUSD float64 `koanf:"daily_budget_usd"`

	// CacheTTL is how long cached responses stay valid.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// RequireApproval forces every request through the approval broker.
	RequireApproval bool `koanf:"require_approval"`

	// ApprovalTimeout bounds how long a request waits for approval.
	ApprovalTimeout time.Duration `koanf:"approval_timeout"`
}

// MemoryConfig controls the memory retrieval gate.
type MemoryConfig struct {
	// TopK is how many candidates to fetch from the vector store.
	TopK int `koanf:"top_k"`

	// MinScore is the similarity threshold below which results are discarded.
	MinScore float32 `koanf:"min_score"`

	// MaxContextBytes bounds the assembled context size.
	MaxContextBytes int `koanf:"max_context_bytes"`
}

// VectorStoreConfig selects and configures the vector store provider.
type VectorStoreConfig struct {
	// Provider selects the backend: "chromem" (embedded) or "qdrant".
	Provider string `koanf:"provider"`

	Chromem ChromemConfig `koanf:"chromem"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     string `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	Collection string `koanf:"collection"`
	VectorSize uint64 `koanf:"vector_size"`
}

// InferenceConfig configures the local Ollama backend.
type InferenceConfig struct {
	BaseURL        string        `koanf:"base_url"`
	Model          string        `koanf:"model"`
	EmbeddingModel string        `koanf:"embedding_model"`
	Timeout        time.Duration `koanf:"timeout"`
}

// NotifierConfig configures mission event publishing.
type NotifierConfig struct {
	// Enabled turns on NATS publishing. When false events are dropped.
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// WorkspaceConfig locates the repository missions operate on.
type WorkspaceConfig struct {
	// RepoPath is the working tree missions integrate into.
	RepoPath string `koanf:"repo_path"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "missiond"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}

	if cfg.Scheduler.MaxConcurrent == 0 {
		cfg.Scheduler.MaxConcurrent = 3
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = time.Second
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 30 * time.Second
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2.0
	}

	if cfg.ExternalAI.Provider == "" {
		cfg.ExternalAI.Provider = "none"
	}
	if cfg.ExternalAI.Model == "" {
		cfg.ExternalAI.Model = "gpt-4o"
	}
	if cfg.ExternalAI.CostPer1KTokensUSD == 0 {
		cfg.ExternalAI.CostPer1KTokensUSD = 0.01
	}
	if cfg.ExternalAI.CacheTTL == 0 {
		cfg.ExternalAI.CacheTTL = 24 * time.Hour
	}
	if cfg.ExternalAI.ApprovalTimeout == 0 {
		cfg.ExternalAI.ApprovalTimeout = 5 * time.Minute
	}

	if cfg.Memory.TopK == 0 {
		cfg.Memory.TopK = 8
	}
	if cfg.Memory.MinScore == 0 {
		cfg.Memory.MinScore = 0.7
	}
	if cfg.Memory.MaxContextBytes == 0 {
		cfg.Memory.MaxContextBytes = 16 * 1024
	}

	// chromem is the default: embedded, no external dependencies.
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.local/share/missiond/vectorstore"
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "missiond_memory"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "missiond_memory"
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 768 // nomic-embed-text dimensions
	}

	if cfg.Inference.BaseURL == "" {
		cfg.Inference.BaseURL = "http://localhost:11434"
	}
	if cfg.Inference.Model == "" {
		cfg.Inference.Model = "qwen2.5-coder:7b"
	}
	if cfg.Inference.EmbeddingModel == "" {
		cfg.Inference.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Inference.Timeout == 0 {
		cfg.Inference.Timeout = 2 * time.Minute
	}

	if cfg.Notifier.URL == "" {
		cfg.Notifier.URL = "nats://localhost:4222"
	}
	if cfg.Notifier.Subject == "" {
		cfg.Notifier.Subject = "missiond.events"
	}

	if cfg.Workspace.RepoPath == "" {
		cfg.Workspace.RepoPath = "."
	}

	if cfg.Validation.Test == nil {
		cfg.Validation.Test = []string{"go", "test", "./..."}
	}
	if cfg.Validation.Build == nil {
		cfg.Validation.Build = []string{"go", "build", "./..."}
	}
	if cfg.Validation.Timeout == 0 {
		cfg.Validation.Timeout = 10 * time.Minute
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Scheduler.TaskTimeout < 0 {
		return fmt.Errorf("scheduler.task_timeout must not be negative")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1, got %v", c.Retry.BackoffMultiplier)
	}

	if c.ExternalAI.MissionBudgetUSD < 0 {
		return fmt.Errorf("external_ai.mission_budget_usd must not be negative")
	}
	if c.ExternalAI.DailyBudgetUSD < 0 {
		return fmt.Errorf("external_ai.daily_budget_usd must not be negative")
	}

	if c.Memory.MinScore < 0 || c.Memory.MinScore > 1 {
		return fmt.Errorf("memory.min_score must be in [0, 1], got %v", c.Memory.MinScore)
	}
	if c.Memory.TopK < 1 {
		return fmt.Errorf("memory.top_k must be at least 1, got %d", c.Memory.TopK)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider)
	}

	if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("qdrant.port must be in [1, 65535], got %d", c.Qdrant.Port)
	}

	return nil
}
