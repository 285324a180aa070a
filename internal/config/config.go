package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models groupsync.yml.
type Config struct {
	Project struct {
		DefaultTitle     string `yaml:"default_title" json:"default_title"`
		DescriptionLimit int    `yaml:"description_limit" json:"description_limit"`
	} `yaml:"project" json:"project"`
	Extractor struct {
		DefaultHours float64 `yaml:"default_hours" json:"default_hours"`
	} `yaml:"extractor" json:"extractor"`
	Store struct {
		MaxRetries int `yaml:"max_retries" json:"max_retries"`
	} `yaml:"store" json:"store"`
	Risk   RiskConfig `yaml:"risk" json:"risk"`
	Server struct {
		Addr      string `yaml:"addr" json:"addr"`
		BasePath  string `yaml:"base_path" json:"base_path"`
		JWTSecret string `yaml:"jwt_secret" json:"-"`
	} `yaml:"server" json:"server"`
	Journal struct {
		Enabled   bool   `yaml:"enabled" json:"enabled"`
		Workspace string `yaml:"workspace" json:"workspace"`
	} `yaml:"journal" json:"journal"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

// RiskConfig holds the deviation thresholds separating risk flags.
type RiskConfig struct {
	OnTrackMax float64 `yaml:"on_track_max" json:"on_track_max"`
	AtRiskMax  float64 `yaml:"at_risk_max" json:"at_risk_max"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"-"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with gs config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.DescriptionLimit < 0 {
		return fmt.Errorf("config.project.description_limit must be >= 0")
	}
	if c.Extractor.DefaultHours <= 0 {
		return fmt.Errorf("config.extractor.default_hours must be > 0")
	}
	if c.Store.MaxRetries < 1 {
		return fmt.Errorf("config.store.max_retries must be >= 1")
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

func (r RiskConfig) Validate() error {
	if r.OnTrackMax < 0 || r.AtRiskMax < 0 {
		return fmt.Errorf("config.risk thresholds must be >= 0")
	}
	if r.OnTrackMax > r.AtRiskMax {
		return fmt.Errorf("config.risk.on_track_max (%.2f) must not exceed at_risk_max (%.2f)", r.OnTrackMax, r.AtRiskMax)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "groupsync.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  default_title: Untitled project
  description_limit: 200

extractor:
  default_hours: 2

store:
  max_retries: 5

risk:
  on_track_max: 0.15
  at_risk_max: 0.35

server:
  addr: 127.0.0.1:8080
  base_path: /v0

journal:
  enabled: true
  workspace: .

log:
  level: info
  format: text

webhooks: []
`
