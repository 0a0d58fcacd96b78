package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for both services.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Research  ResearchConfig  `mapstructure:"research"`
	Notion    NotionConfig    `mapstructure:"notion"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains the listen addresses of the two services.
type ServerConfig struct {
	ResearchAddr string `mapstructure:"research_addr"`
	NotionAddr   string `mapstructure:"notion_addr"`
}

// LLMConfig configures the Fireworks chat-completions endpoint.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SearchConfig configures the serper.dev search collaborator. With no API
// key the pipeline falls back to deterministic mock results.
type SearchConfig struct {
	SerperAPIKey    string `mapstructure:"serper_api_key"`
	MaxResults      int    `mapstructure:"max_results"`
	MockReliability int    `mapstructure:"mock_reliability"`
}

// ResearchConfig contains the pipeline tunables. The reliability threshold
// and confidence breakpoints are deliberately configuration, not constants.
type ResearchConfig struct {
	MaxQueries           int `mapstructure:"max_queries"`
	ReliabilityThreshold int `mapstructure:"reliability_threshold"`
	ConfidenceHigh       int `mapstructure:"confidence_high"`
	ConfidenceMediumHigh int `mapstructure:"confidence_medium_high"`
}

// NotionConfig configures the workspace assistant's tool-calling loop.
type NotionConfig struct {
	MCPCommand     string        `mapstructure:"mcp_command"`
	MCPArgs        []string      `mapstructure:"mcp_args"`
	MaxIterations  int           `mapstructure:"max_iterations"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TelemetryConfig controls the /metrics endpoint.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults() {
	viper.SetDefault("server.research_addr", ":8001")
	viper.SetDefault("server.notion_addr", ":8000")
	viper.SetDefault("llm.base_url", "https://api.fireworks.ai/inference/v1")
	viper.SetDefault("llm.model", "accounts/fireworks/models/kimi-k2-instruct-0905")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.max_tokens", 4000)
	viper.SetDefault("llm.timeout", 90*time.Second)
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("search.mock_reliability", 75)
	viper.SetDefault("research.max_queries", 5)
	viper.SetDefault("research.reliability_threshold", 70)
	viper.SetDefault("research.confidence_high", 85)
	viper.SetDefault("research.confidence_medium_high", 75)
	viper.SetDefault("notion.mcp_command", "npx")
	viper.SetDefault("notion.mcp_args", []string{"-y", "@notionhq/notion-mcp-server"})
	viper.SetDefault("notion.max_iterations", 5)
	viper.SetDefault("notion.request_timeout", 60*time.Second)
	viper.SetDefault("telemetry.enabled", true)
}

// LoadConfig reads configuration from an optional YAML file plus
// VOICEDESK_* environment variables. A missing config file is not an error;
// defaults and environment cover the full surface.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	setDefaults()

	if path == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("VOICEDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field invariants. API keys are validated lazily at
// the point of use, because the notion service accepts per-request keys.
func (c *Config) Validate() error {
	if c.Research.MaxQueries <= 0 {
		return fmt.Errorf("research.max_queries must be > 0")
	}
	if c.Research.ReliabilityThreshold < 0 || c.Research.ReliabilityThreshold > 100 {
		return fmt.Errorf("research.reliability_threshold must be within 0..100")
	}
	if c.Research.ConfidenceMediumHigh > c.Research.ConfidenceHigh {
		return fmt.Errorf("research.confidence_medium_high must not exceed research.confidence_high")
	}
	if c.Notion.MaxIterations <= 0 {
		return fmt.Errorf("notion.max_iterations must be > 0")
	}
	if c.Notion.RequestTimeout <= 0 {
		return fmt.Errorf("notion.request_timeout must be > 0")
	}
	return nil
}
