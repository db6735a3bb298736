package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"caseflow/internal/stages"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Config models caseflow.yml.
type Config struct {
	Stages       []stages.Definition `yaml:"stages"`
	OverrideRole string              `yaml:"override_role"`
	Assignment   struct {
		// ClaimTimeout releases claims with no activity for longer than this. Zero disables it.
		ClaimTimeout      time.Duration `yaml:"claim_timeout"`
		ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	} `yaml:"assignment"`
	Pagination struct {
		DefaultSize int `yaml:"default_size"`
		MaxSize     int `yaml:"max_size"`
	} `yaml:"pagination"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Actions        []string `yaml:"actions"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cf config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := stages.New(c.Stages, c.OverrideRole); err != nil {
		return fmt.Errorf("config.stages: %w", err)
	}
	if c.Assignment.ClaimTimeout < 0 {
		return errors.New("config.assignment.claim_timeout must not be negative")
	}
	if c.Assignment.ReconcileInterval < 0 {
		return errors.New("config.assignment.reconcile_interval must not be negative")
	}
	if c.Pagination.DefaultSize < 0 || c.Pagination.MaxSize < 0 {
		return errors.New("config.pagination sizes must not be negative")
	}
	if c.Pagination.MaxSize > 0 && c.Pagination.DefaultSize > c.Pagination.MaxSize {
		return fmt.Errorf("config.pagination.default_size %d exceeds max_size %d", c.Pagination.DefaultSize, c.Pagination.MaxSize)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Registry builds the stage registry described by the config.
func (c *Config) Registry() (*stages.Registry, error) {
	return stages.New(c.Stages, c.OverrideRole)
}

// PageSizes returns the effective default and maximum page sizes.
func (c *Config) PageSizes() (int, int) {
	def, limit := c.Pagination.DefaultSize, c.Pagination.MaxSize
	if limit <= 0 {
		limit = MaxPageSize
	}
	if def <= 0 {
		def = DefaultPageSize
	}
	if def > limit {
		def = limit
	}
	return def, limit
}

// ReconcileEvery returns how often stale claims are checked, zero when disabled.
func (c *Config) ReconcileEvery() time.Duration {
	if c.Assignment.ClaimTimeout <= 0 {
		return 0
	}
	if c.Assignment.ReconcileInterval > 0 {
		return c.Assignment.ReconcileInterval
	}
	every := c.Assignment.ClaimTimeout / 4
	if every < time.Second {
		every = time.Second
	}
	return every
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `stages:
  - code: INTAKE
    role: intake_agent
    description: "Dossier reception and completeness check"
  - code: TREASURY
    role: treasury_agent
    description: "Fee payment verification"
  - code: REVIEW
    role: review_agent
    description: "Legal review of statutes"
  - code: TAX
    role: tax_agent
    description: "Tax identification"
  - code: REGISTRY_1
    role: registry1_agent
    description: "Trade registry entry"
  - code: REGISTRY_2
    role: registry2_agent
    description: "Trade registry countersignature"
  - code: NATIONAL_ID
    role: national_id_agent
    description: "National company identifier"
  - code: RELEASE
    role: release_agent
    description: "Certificate release to applicant"

override_role: admin

assignment:
  claim_timeout: 0s

pagination:
  default_size: 20
  max_size: 200

webhooks: []
`
