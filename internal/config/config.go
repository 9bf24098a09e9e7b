package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	GeminiAPIKey string `yaml:"-" env:"GEMINI_API_KEY"`

	TextModel  string `yaml:"text_model" env:"STORYFRAME_TEXT_MODEL"`
	ImageModel string `yaml:"image_model" env:"STORYFRAME_IMAGE_MODEL"`
	GridModel  string `yaml:"grid_model" env:"STORYFRAME_GRID_MODEL"`

	SaveDir        string `yaml:"save_dir" env:"STORYFRAME_SAVE_DIR"`
	ArchivePath    string `yaml:"archive_path" env:"STORYFRAME_ARCHIVE_PATH"`
	SessionBackend string `yaml:"session_backend" env:"STORYFRAME_SESSION_BACKEND"` // file | redis | memory
	RedisURL       string `yaml:"redis_url" env:"STORYFRAME_REDIS_URL"`
	DefaultSession string `yaml:"default_session" env:"STORYFRAME_DEFAULT_SESSION"`

	DecisionTimeout   time.Duration `yaml:"decision_timeout" env:"STORYFRAME_DECISION_TIMEOUT"`
	NarrativeTimeout  time.Duration `yaml:"narrative_timeout" env:"STORYFRAME_NARRATIVE_TIMEOUT"`
	ExtractionTimeout time.Duration `yaml:"extraction_timeout" env:"STORYFRAME_EXTRACTION_TIMEOUT"`
	ImageTimeout      time.Duration `yaml:"image_timeout" env:"STORYFRAME_IMAGE_TIMEOUT"`

	ImageBackend  string  `yaml:"image_backend" env:"STORYFRAME_IMAGE_BACKEND"` // image | hybrid
	CostCeiling   float64 `yaml:"cost_ceiling" env:"STORYFRAME_COST_CEILING"`
	ExpensiveCost float64 `yaml:"expensive_cost" env:"STORYFRAME_EXPENSIVE_COST"`

	// Permissiveness is handed to the narrative provider untouched.
	Permissiveness string `yaml:"permissiveness" env:"STORYFRAME_PERMISSIVENESS"`

	LogLevel     string `yaml:"log_level" env:"STORYFRAME_LOG_LEVEL"`
	OTELEndpoint string `yaml:"otel_endpoint" env:"STORYFRAME_OTEL_ENDPOINT"`
}

func DefaultConfig() *Config {
	return &Config{
		TextModel:         "gemini-2.5-flash",
		ImageModel:        "gemini-2.5-flash-image",
		GridModel:         "gemini-3-pro-image-preview",
		SaveDir:           ".saves",
		ArchivePath:       filepath.Join(".saves", "archive.db"),
		SessionBackend:    "file",
		DefaultSession:    "default",
		DecisionTimeout:   90 * time.Second,
		NarrativeTimeout:  60 * time.Second,
		ExtractionTimeout: 10 * time.Second,
		ImageTimeout:      120 * time.Second,
		ImageBackend:      "image",
		CostCeiling:       2.00,
		ExpensiveCost:     0.25,
		LogLevel:          "info",
	}
}

// LoadConfig loads defaults, then the optional YAML file at path, then
// environment variables, which win over both.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	switch c.SessionBackend {
	case "file", "memory":
	case "redis":
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("STORYFRAME_REDIS_URL is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	switch c.ImageBackend {
	case "image", "hybrid":
	default:
		return fmt.Errorf("unknown image backend %q", c.ImageBackend)
	}
	if c.CostCeiling < 0 || c.ExpensiveCost < 0 {
		return fmt.Errorf("costs must not be negative")
	}
	if c.DefaultSession == "" {
		return fmt.Errorf("default session id must not be empty")
	}
	return nil
}

// RequireAPIKey reports a missing Gemini credential. Commands that only read
// local state do not need one.
func (c *Config) RequireAPIKey() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is not set")
	}
	return nil
}
