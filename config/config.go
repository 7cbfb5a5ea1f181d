package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	openAIKeyEnv     = "OPENAI_API_KEY"
	openAIBaseURLEnv = "OPENAI_BASE_URL"
	signalsKeyEnv    = "PERPLEXITY_API_KEY"
	databaseDSNEnv   = "DATABASE_DSN"
	logLevelEnv      = "BRANDHERO_LOG_LEVEL"
)

// Config holds every setting the CLI and the web server need.
type Config struct {
	LLM        LLMConfig      `json:"llm" yaml:"llm"`
	Store      StoreConfig    `json:"store" yaml:"store"`
	Signals    SignalsConfig  `json:"signals" yaml:"signals"`
	Pipeline   PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Logging    LoggingConfig  `json:"logging" yaml:"logging"`
	ServerAddr string         `json:"server_addr,omitempty" yaml:"server_addr,omitempty"`
}

// LLMConfig selects the model. Providers other than openai are OpenAI-compatible
// gateways and need base_url.
type LLMConfig struct {
	Provider   string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	ImageModel string `json:"image_model,omitempty" yaml:"image_model,omitempty"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// SignalsConfig describes the trend/news lookups used by research and strategy.
type SignalsConfig struct {
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL      string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	NewsURL      string `json:"news_url,omitempty" yaml:"news_url,omitempty"`
	NewsSelector string `json:"news_selector,omitempty" yaml:"news_selector,omitempty"`
}

// PipelineConfig bounds concurrency and upstream calls.
type PipelineConfig struct {
	ImageConcurrency   int `json:"image_concurrency,omitempty" yaml:"image_concurrency,omitempty"`
	CallTimeoutSeconds int `json:"call_timeout_seconds,omitempty" yaml:"call_timeout_seconds,omitempty"`
	MaxToolRounds      int `json:"max_tool_rounds,omitempty" yaml:"max_tool_rounds,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

// Default returns a config usable without any file on disk.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4.1",
			ImageModel: "dall-e-3",
		},
		Store: StoreConfig{
			Driver: "bolt",
			Path:   "data/brandhero.bolt",
		},
		Signals: SignalsConfig{
			BaseURL:      "https://api.perplexity.ai",
			Model:        "sonar",
			NewsSelector: "h2 a, h3 a",
		},
		Pipeline: PipelineConfig{
			ImageConcurrency:   3,
			CallTimeoutSeconds: 30,
			MaxToolRounds:      8,
		},
		Logging:    LoggingConfig{Level: "info"},
		ServerAddr: ":8080",
	}
}

// Load reads the config file (JSON, or YAML by extension), fills defaults and applies
// environment overrides. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		var fileCfg Config
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return Config{}, fmt.Errorf("parse yaml config: %w", err)
			}
		default:
			if err := json.Unmarshal(data, &fileCfg); err != nil {
				return Config{}, fmt.Errorf("parse json config: %w", err)
			}
		}
		cfg = merge(cfg, fileCfg)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the wiring in main cannot satisfy.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "deepseek", "mock":
	default:
		return fmt.Errorf("llm provider %s not supported", c.LLM.Provider)
	}
	if c.LLM.Provider == "deepseek" && c.LLM.BaseURL == "" {
		return errors.New("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
	}
	switch c.Store.Driver {
	case "bolt":
		if c.Store.Path == "" {
			return errors.New("store driver bolt requires path")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store driver postgres requires dsn")
		}
	case "memory":
	default:
		return fmt.Errorf("store driver %s not supported", c.Store.Driver)
	}
	if c.Pipeline.ImageConcurrency <= 0 {
		return errors.New("pipeline.image_concurrency must be positive")
	}
	if c.Pipeline.CallTimeoutSeconds <= 0 {
		return errors.New("pipeline.call_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(openAIBaseURLEnv); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv(signalsKeyEnv); v != "" {
		c.Signals.APIKey = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func merge(base, override Config) Config {
	if override.LLM.Provider != "" {
		base.LLM.Provider = override.LLM.Provider
	}
	if override.LLM.Model != "" {
		base.LLM.Model = override.LLM.Model
	}
	if override.LLM.APIKey != "" {
		base.LLM.APIKey = override.LLM.APIKey
	}
	if override.LLM.BaseURL != "" {
		base.LLM.BaseURL = override.LLM.BaseURL
	}
	if override.LLM.ImageModel != "" {
		base.LLM.ImageModel = override.LLM.ImageModel
	}

	if override.Store.Driver != "" {
		base.Store.Driver = override.Store.Driver
	}
	if override.Store.Path != "" {
		base.Store.Path = override.Store.Path
	}
	if override.Store.DSN != "" {
		base.Store.DSN = override.Store.DSN
	}

	if override.Signals.APIKey != "" {
		base.Signals.APIKey = override.Signals.APIKey
	}
	if override.Signals.BaseURL != "" {
		base.Signals.BaseURL = override.Signals.BaseURL
	}
	if override.Signals.Model != "" {
		base.Signals.Model = override.Signals.Model
	}
	if override.Signals.NewsURL != "" {
		base.Signals.NewsURL = override.Signals.NewsURL
	}
	if override.Signals.NewsSelector != "" {
		base.Signals.NewsSelector = override.Signals.NewsSelector
	}

	if override.Pipeline.ImageConcurrency != 0 {
		base.Pipeline.ImageConcurrency = override.Pipeline.ImageConcurrency
	}
	if override.Pipeline.CallTimeoutSeconds != 0 {
		base.Pipeline.CallTimeoutSeconds = override.Pipeline.CallTimeoutSeconds
	}
	if override.Pipeline.MaxToolRounds != 0 {
		base.Pipeline.MaxToolRounds = override.Pipeline.MaxToolRounds
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.ServerAddr != "" {
		base.ServerAddr = override.ServerAddr
	}
	return base
}
