package config

import (
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	redisclient "github.com/quarklabs/chainrisk/internal/infra/redis"
	"github.com/quarklabs/chainrisk/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Chains     []ChainConfig      `yaml:"chains"`
	Cache      CacheConfig        `yaml:"cache"`
	Scoring    ScoringConfig      `yaml:"scoring"`
	Reputation ReputationConfig   `yaml:"reputation"`
	Patterns   PatternsConfig     `yaml:"patterns"`
	Simulation SimulationConfig   `yaml:"simulation"`
	Trace      TraceConfig        `yaml:"trace"`
	Ingest     IngestConfig       `yaml:"ingest"`
	Redis      redisclient.Config `yaml:"redis"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ChainConfig holds settings for a specific blockchain.
type ChainConfig struct {
	ChainID   domain.ChainID     `yaml:"id"`
	Family    domain.ChainFamily `yaml:"family"` // "utxo", "account"
	Providers []ProviderConfig   `yaml:"providers"`
}

// ProviderConfig holds settings for a chain node endpoint.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Transport string `yaml:"transport"`  // "http" (default) or "grpc"
	RateLimit int    `yaml:"rate_limit"` // requests per second, 0 = unlimited
}

// CacheConfig holds cache layer settings.
type CacheConfig struct {
	RiskTTL         time.Duration `yaml:"risk_ttl"`
	StageTTL        time.Duration `yaml:"stage_ttl"`
	ReputationTTL   time.Duration `yaml:"reputation_ttl"`
	TraceTTL        time.Duration `yaml:"trace_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ScoringConfig holds risk model weights and thresholds.
type ScoringConfig struct {
	ModelVersion     string  `yaml:"model_version"`
	ReputationWeight float64 `yaml:"reputation_weight"`
	MEVWeight        float64 `yaml:"mev_weight"`
	PatternWeight    float64 `yaml:"pattern_weight"`
	ValueWeight      float64 `yaml:"value_weight"`
	NoveltyWeight    float64 `yaml:"novelty_weight"`
	SanctionsFloor   int     `yaml:"sanctions_floor"` // minimum score with a sanctioned counterparty
}

// ReputationConfig holds evidence fold thresholds.
type ReputationConfig struct {
	SuspiciousThreshold  float64       `yaml:"suspicious_threshold"`
	MaturityAge          time.Duration `yaml:"maturity_age"`
	ConfidenceNormalizer float64       `yaml:"confidence_normalizer"`
}

// PatternsConfig holds behavioral detection thresholds.
type PatternsConfig struct {
	StructuringWindow time.Duration `yaml:"structuring_window"`
	StructuringCount  int           `yaml:"structuring_count"`
	StructuringAmount string        `yaml:"structuring_amount"` // decimal, native units
	MixerMaxHops      int           `yaml:"mixer_max_hops"`
	Mixers            []string      `yaml:"mixers"` // labeled mixers, "<chain>:<address>"
}

// SimulationConfig holds the simulation retry policy.
type SimulationConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// TraceConfig holds cross-chain correlation settings.
type TraceConfig struct {
	DefaultDepth       int           `yaml:"default_depth"`
	MaxDepth           int           `yaml:"max_depth"`
	CounterpartyWindow time.Duration `yaml:"counterparty_window"`
	BridgeConfidence   float64       `yaml:"bridge_confidence"`
	SharedConfidence   float64       `yaml:"shared_confidence"`
	// Entities labels known cross-chain actors (exchange hot wallets,
	// bridge contracts) for shared-counterparty correlation. Entries are
	// "<label>=<chain>:<address>"; one label may appear on several chains.
	Entities []string `yaml:"entities"`
}

// IngestConfig holds address history ingestion settings.
type IngestConfig struct {
	Workers   int `yaml:"workers"`
	PageLimit int `yaml:"page_limit"`
	QueueSize int `yaml:"queue_size"`
}
