package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Cache.RiskTTL == 0 {
		cfg.Cache.RiskTTL = 5 * time.Minute
	}
	if cfg.Cache.StageTTL == 0 {
		cfg.Cache.StageTTL = 15 * time.Minute
	}
	if cfg.Cache.ReputationTTL == 0 {
		cfg.Cache.ReputationTTL = 30 * time.Second
	}
	if cfg.Cache.TraceTTL == 0 {
		cfg.Cache.TraceTTL = time.Minute
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = 10 * time.Minute
	}

	if cfg.Scoring.ModelVersion == "" {
		cfg.Scoring.ModelVersion = "chainrisk-scoring/1"
	}
	if cfg.Scoring.ReputationWeight == 0 {
		cfg.Scoring.ReputationWeight = 0.40
	}
	if cfg.Scoring.MEVWeight == 0 {
		cfg.Scoring.MEVWeight = 0.15
	}
	if cfg.Scoring.PatternWeight == 0 {
		cfg.Scoring.PatternWeight = 0.20
	}
	if cfg.Scoring.ValueWeight == 0 {
		cfg.Scoring.ValueWeight = 0.15
	}
	if cfg.Scoring.NoveltyWeight == 0 {
		cfg.Scoring.NoveltyWeight = 0.10
	}
	if cfg.Scoring.SanctionsFloor == 0 {
		cfg.Scoring.SanctionsFloor = 80
	}

	if cfg.Reputation.SuspiciousThreshold == 0 {
		cfg.Reputation.SuspiciousThreshold = 0.75
	}
	if cfg.Reputation.MaturityAge == 0 {
		cfg.Reputation.MaturityAge = 180 * 24 * time.Hour
	}
	if cfg.Reputation.ConfidenceNormalizer == 0 {
		cfg.Reputation.ConfidenceNormalizer = 3.0
	}

	if cfg.Patterns.StructuringWindow == 0 {
		cfg.Patterns.StructuringWindow = 24 * time.Hour
	}
	if cfg.Patterns.StructuringCount == 0 {
		cfg.Patterns.StructuringCount = 5
	}
	if cfg.Patterns.StructuringAmount == "" {
		cfg.Patterns.StructuringAmount = "1000"
	}
	if cfg.Patterns.MixerMaxHops == 0 {
		cfg.Patterns.MixerMaxHops = 2
	}

	if cfg.Simulation.MaxAttempts == 0 {
		cfg.Simulation.MaxAttempts = 3
	}
	if cfg.Simulation.InitialDelay == 0 {
		cfg.Simulation.InitialDelay = 200 * time.Millisecond
	}
	if cfg.Simulation.MaxDelay == 0 {
		cfg.Simulation.MaxDelay = 5 * time.Second
	}

	if cfg.Trace.DefaultDepth == 0 {
		cfg.Trace.DefaultDepth = 4
	}
	if cfg.Trace.MaxDepth == 0 {
		cfg.Trace.MaxDepth = 8
	}
	if cfg.Trace.CounterpartyWindow == 0 {
		cfg.Trace.CounterpartyWindow = 6 * time.Hour
	}
	if cfg.Trace.BridgeConfidence == 0 {
		cfg.Trace.BridgeConfidence = 0.95
	}
	if cfg.Trace.SharedConfidence == 0 {
		cfg.Trace.SharedConfidence = 0.40
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.PageLimit == 0 {
		cfg.Ingest.PageLimit = 200
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 1024
	}
}
