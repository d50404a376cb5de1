package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"textgen/internal/backend"
)

// Config holds runtime parameters for every textgen command.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	StateFile string `json:"state_file" yaml:"state_file" toml:"state_file"`
	// Confirm asks before each generation request.
	Confirm bool `json:"confirm" yaml:"confirm" toml:"confirm"`

	Backend backend.Options `json:"backend" yaml:"backend" toml:"backend"`
	// APIKey authenticates against the remote backend. Prefer the env vars.
	APIKey                string `json:"api_key" yaml:"api_key" toml:"api_key"`
	CacheTTLSeconds       int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	// Models are offered by the change-model command.
	Models []string `json:"models" yaml:"models" toml:"models"`

	Worker WorkerConfig `json:"worker" yaml:"worker" toml:"worker"`

	InteractiveTimeoutSeconds int `json:"interactive_timeout_seconds" yaml:"interactive_timeout_seconds" toml:"interactive_timeout_seconds"`
	BatchTimeoutSeconds       int `json:"batch_timeout_seconds" yaml:"batch_timeout_seconds" toml:"batch_timeout_seconds"`
	BatchThreshold            int `json:"batch_threshold" yaml:"batch_threshold" toml:"batch_threshold"`

	CORS CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
}

// WorkerConfig controls the supervised worker process.
type WorkerConfig struct {
	// Mode is process (spawn a worker) or inprocess (load the backend in the
	// serving process). Empty picks inprocess for remote and process otherwise.
	Mode string `json:"mode" yaml:"mode" toml:"mode"`
	// Bin overrides the worker executable; default is this binary.
	Bin         string   `json:"bin" yaml:"bin" toml:"bin"`
	Args        []string `json:"args" yaml:"args" toml:"args"`
	PayloadPath string   `json:"payload_path" yaml:"payload_path" toml:"payload_path"`
	PayloadDir  string   `json:"payload_dir" yaml:"payload_dir" toml:"payload_dir"`

	StartupTimeoutSeconds  int `json:"startup_timeout_seconds" yaml:"startup_timeout_seconds" toml:"startup_timeout_seconds"`
	GenerateTimeoutSeconds int `json:"generate_timeout_seconds" yaml:"generate_timeout_seconds" toml:"generate_timeout_seconds"`
	StopGraceMS            int `json:"stop_grace_ms" yaml:"stop_grace_ms" toml:"stop_grace_ms"`
	AdmissionWaitMS        int `json:"admission_wait_ms" yaml:"admission_wait_ms" toml:"admission_wait_ms"`
	// DefaultBudget is the worker's initial session budget.
	DefaultBudget int `json:"default_budget" yaml:"default_budget" toml:"default_budget"`
}

// CORSConfig enables cross-origin access for browser-based editors.
type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
	MaxAgeSeconds  int      `json:"max_age_seconds" yaml:"max_age_seconds" toml:"max_age_seconds"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// LoadOptional loads path when set and returns an empty Config otherwise.
func LoadOptional(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, nil
	}
	return Load(path)
}
