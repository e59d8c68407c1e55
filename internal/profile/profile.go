package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the memory daemon.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Data is the data directory (checkpoints, index blobs, sqlite database)
	Data string
	// DSN points to where recall stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of the daemon
	Version string

	// Embedding provider configuration
	AIEnabled            bool   // RECALL_AI_ENABLED
	AIEmbeddingProvider  string // RECALL_AI_EMBEDDING_PROVIDER (default: siliconflow)
	AISiliconFlowAPIKey  string // RECALL_AI_SILICONFLOW_API_KEY
	AISiliconFlowBaseURL string // RECALL_AI_SILICONFLOW_BASE_URL (default: https://api.siliconflow.cn/v1)
	AIOpenAIAPIKey       string // RECALL_AI_OPENAI_API_KEY
	AIOpenAIBaseURL      string // RECALL_AI_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	AIEmbeddingModel     string // RECALL_AI_EMBEDDING_MODEL (default: BAAI/bge-m3)
	AIEmbeddingDims      int    // RECALL_AI_EMBEDDING_DIMS (default: 384)

	// Memory tuning
	WorkingMemoryTokens int // RECALL_WORKING_MEMORY_TOKENS (default: 2000)
	RetentionDays       int // RECALL_RETENTION_DAYS (default: 30)
	MaxEpisodes         int // RECALL_MAX_EPISODES, hard retention ceiling (default: 100000)

	// Cache configuration
	CacheRedisAddr string // RECALL_CACHE_REDIS_ADDR enables the L2 Redis cache when set
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if embeddings are enabled and at least one provider
// is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && (p.AISiliconFlowAPIKey != "" || p.AIOpenAIAPIKey != "")
}

// IndexPath returns the location of the persisted vector index blob.
func (p *Profile) IndexPath() string {
	return filepath.Join(p.Data, "episode_index.hnsw")
}

// CheckpointDir returns the directory holding compression checkpoints.
func (p *Profile) CheckpointDir() string {
	return filepath.Join(p.Data, "checkpoints")
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// FromEnv loads configuration from RECALL_* environment variables.
func (p *Profile) FromEnv() {
	p.AIEnabled = os.Getenv("RECALL_AI_ENABLED") == "true"
	p.AIEmbeddingProvider = getEnvOrDefault("RECALL_AI_EMBEDDING_PROVIDER", "siliconflow")
	p.AISiliconFlowAPIKey = os.Getenv("RECALL_AI_SILICONFLOW_API_KEY")
	p.AISiliconFlowBaseURL = getEnvOrDefault("RECALL_AI_SILICONFLOW_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIOpenAIAPIKey = os.Getenv("RECALL_AI_OPENAI_API_KEY")
	p.AIOpenAIBaseURL = getEnvOrDefault("RECALL_AI_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.AIEmbeddingModel = getEnvOrDefault("RECALL_AI_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.AIEmbeddingDims = getIntEnvOrDefault("RECALL_AI_EMBEDDING_DIMS", 384)

	p.WorkingMemoryTokens = getIntEnvOrDefault("RECALL_WORKING_MEMORY_TOKENS", 2000)
	p.RetentionDays = getIntEnvOrDefault("RECALL_RETENTION_DAYS", 30)
	p.MaxEpisodes = getIntEnvOrDefault("RECALL_MAX_EPISODES", 100000)

	p.CacheRedisAddr = os.Getenv("RECALL_CACHE_REDIS_ADDR")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/recall"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("recall_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if err := os.MkdirAll(p.CheckpointDir(), 0o770); err != nil {
		return errors.Wrap(err, "unable to create checkpoint directory")
	}

	return nil
}
