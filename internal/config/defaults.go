package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"textgen/internal/backend"
)

// Defaults.
const (
	DefaultAddr                = ":8080"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultStateFile           = "~/.textgen/state.json"
	DefaultBackend             = backend.KindBabble
	DefaultModelsDir           = "~/models/llm"
	DefaultCacheTTL            = 10 * 60
	DefaultRequestTimeout      = 60
	DefaultStartupTimeout      = 120
	DefaultGenerateTimeout     = 120
	DefaultStopGraceMS         = 2000
	DefaultInteractiveTimeout  = 60
	DefaultBatchTimeout        = 600
	DefaultBatchThreshold      = 1024
	DefaultWorkerDefaultBudget = 1024

	ModeProcess   = "process"
	ModeInProcess = "inprocess"
)

// Environment overrides.
const (
	EnvAddr         = "TEXTGEN_ADDR"
	EnvAPIKey       = "TEXTGEN_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvLogLevel     = "TEXTGEN_LOG_LEVEL"
	EnvStateFile    = "TEXTGEN_STATE_FILE"
)

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	setStr(&c.Addr, DefaultAddr)
	setStr(&c.LogLevel, DefaultLogLevel)
	setStr(&c.LogFormat, DefaultLogFormat)
	setStr(&c.StateFile, DefaultStateFile)
	setStr(&c.Backend.Kind, DefaultBackend)
	c.Backend.Kind = strings.ToLower(c.Backend.Kind)
	setStr(&c.Backend.ModelsDir, DefaultModelsDir)
	setInt(&c.CacheTTLSeconds, DefaultCacheTTL)
	setInt(&c.RequestTimeoutSeconds, DefaultRequestTimeout)
	setInt(&c.Worker.StartupTimeoutSeconds, DefaultStartupTimeout)
	setInt(&c.Worker.GenerateTimeoutSeconds, DefaultGenerateTimeout)
	setInt(&c.Worker.StopGraceMS, DefaultStopGraceMS)
	setInt(&c.Worker.DefaultBudget, DefaultWorkerDefaultBudget)
	setInt(&c.InteractiveTimeoutSeconds, DefaultInteractiveTimeout)
	setInt(&c.BatchTimeoutSeconds, DefaultBatchTimeout)
	setInt(&c.BatchThreshold, DefaultBatchThreshold)
	if c.Worker.Mode == "" {
		if c.Backend.Kind == "remote" {
			c.Worker.Mode = ModeInProcess
		} else {
			c.Worker.Mode = ModeProcess
		}
	}
}

// ApplyEnv overrides fields from the environment. The API key is read from
// TEXTGEN_API_KEY, then OPENAI_API_KEY.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvAddr); v != "" {
		c.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvStateFile); v != "" {
		c.StateFile = v
	}
	if v := getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	} else if v := getenv(EnvOpenAIAPIKey); v != "" && c.APIKey == "" {
		c.APIKey = v
	}
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	switch c.Worker.Mode {
	case ModeProcess, ModeInProcess:
	default:
		return fmt.Errorf("worker.mode must be %q or %q, got %q", ModeProcess, ModeInProcess, c.Worker.Mode)
	}
	if c.Worker.DefaultBudget < 1 || c.Worker.DefaultBudget > 4096 {
		return fmt.Errorf("worker.default_budget must be between 1 and 4096, got %d", c.Worker.DefaultBudget)
	}
	if c.Worker.PayloadPath != "" && c.Worker.PayloadDir != "" {
		return fmt.Errorf("worker.payload_path and worker.payload_dir are mutually exclusive")
	}
	return nil
}

// BackendOptions returns the backend options with secrets and durations set.
func (c *Config) BackendOptions() backend.Options {
	o := c.Backend
	o.APIKey = c.APIKey
	o.CacheTTL = seconds(c.CacheTTLSeconds)
	if c.CacheTTLSeconds < 0 {
		o.CacheTTL = -1
	}
	o.RequestTimeout = seconds(c.RequestTimeoutSeconds)
	return o
}

func (w WorkerConfig) StartupTimeout() time.Duration  { return seconds(w.StartupTimeoutSeconds) }
func (w WorkerConfig) GenerateTimeout() time.Duration { return seconds(w.GenerateTimeoutSeconds) }
func (w WorkerConfig) StopGrace() time.Duration       { return time.Duration(w.StopGraceMS) * time.Millisecond }
func (w WorkerConfig) AdmissionWait() time.Duration   { return time.Duration(w.AdmissionWaitMS) * time.Millisecond }

func (c *Config) InteractiveTimeout() time.Duration { return seconds(c.InteractiveTimeoutSeconds) }
func (c *Config) BatchTimeout() time.Duration       { return seconds(c.BatchTimeoutSeconds) }

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func setStr(p *string, def string) {
	if strings.TrimSpace(*p) == "" {
		*p = def
	}
}

func setInt(p *int, def int) {
	if *p == 0 {
		*p = def
	}
}
