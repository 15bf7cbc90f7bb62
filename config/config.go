package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable read from the environment. Defaults are safe
// for local development; deployments override via env vars.
type Config struct {
	// Server
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Providers
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	AnthropicKey  string `env:"ANTHROPIC_API_KEY"`
	ModelProvider string `env:"MODEL_PROVIDER" envDefault:"openai"`
	ModelName     string `env:"MODEL_NAME"`

	// Turn loop
	MaxRounds       int           `env:"MAX_ROUNDS" envDefault:"10"`
	TurnTimeout     time.Duration `env:"TURN_TIMEOUT" envDefault:"120s"`
	ToolTimeout     time.Duration `env:"TOOL_TIMEOUT" envDefault:"15s"`
	EventBufferSize int           `env:"EVENT_BUFFER_SIZE" envDefault:"100"`

	// Memory fusion
	RetrieveTimeout time.Duration `env:"RETRIEVE_TIMEOUT" envDefault:"2s"`
	PerStoreLimit   int           `env:"PER_STORE_LIMIT" envDefault:"10"`
	FusionCap       int           `env:"FUSION_CAP" envDefault:"10"`
	MemoryDBPath    string        `env:"MEMORY_DB_PATH"` // empty => in-memory tiers

	// Context building
	HistoryTokenBudget int `env:"HISTORY_TOKEN_BUDGET" envDefault:"4096"`

	// Session lifecycle
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	TurnQueueDepth   int           `env:"TURN_QUEUE_DEPTH" envDefault:"8"`
	EvictionInterval time.Duration `env:"EVICTION_INTERVAL" envDefault:"1m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
