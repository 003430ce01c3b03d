package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBackendTimeout  = 30 * time.Second
	defaultCatalogPageSize = 5000
	maxCatalogPageSize     = 5000
)

// Settings are optional tuning knobs read from a YAML file.
type Settings struct {
	Backend BackendSettings `yaml:"backend"`
	Catalog CatalogSettings `yaml:"catalog"`
	Policy  PolicySettings  `yaml:"policy"`
}

type BackendSettings struct {
	TimeoutSeconds int64 `yaml:"timeout_seconds"`
}

type CatalogSettings struct {
	PageSize int `yaml:"page_size"`
}

// PolicySettings apply to policies created for a missing policy_name.
type PolicySettings struct {
	ParentID    int    `yaml:"parent_id"`
	Description string `yaml:"description"`
}

// Timeout returns the backend HTTP timeout.
func (s *Settings) Timeout() time.Duration {
	if s == nil || s.Backend.TimeoutSeconds <= 0 {
		return defaultBackendTimeout
	}
	return time.Duration(s.Backend.TimeoutSeconds) * time.Second
}

// LoadSettings loads a YAML settings file; returns defaults if missing.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return defaultSettingsValue(), nil
	}
	// #nosec G304 -- settings path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultSettingsValue(), fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings parses settings from YAML/JSON bytes.
func ParseSettings(data []byte) (*Settings, error) {
	if len(data) == 0 {
		return defaultSettingsValue(), nil
	}
	var cfg Settings
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultSettingsValue(), fmt.Errorf("parse settings: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return defaultSettingsValue(), err
	}
	def := defaultSettingsValue()
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = def.Backend.TimeoutSeconds
	}
	if cfg.Catalog.PageSize == 0 {
		cfg.Catalog.PageSize = def.Catalog.PageSize
	}
	return &cfg, nil
}

func (s *Settings) validate() error {
	if s.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be >= 0")
	}
	if s.Catalog.PageSize < 0 || s.Catalog.PageSize > maxCatalogPageSize {
		return fmt.Errorf("catalog.page_size must be between 0 and %d", maxCatalogPageSize)
	}
	if s.Policy.ParentID < 0 {
		return fmt.Errorf("policy.parent_id must be >= 0")
	}
	return nil
}

func defaultSettingsValue() *Settings {
	return &Settings{
		Backend: BackendSettings{TimeoutSeconds: int64(defaultBackendTimeout / time.Second)},
		Catalog: CatalogSettings{PageSize: defaultCatalogPageSize},
	}
}
