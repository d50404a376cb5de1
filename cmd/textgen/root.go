package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"textgen/internal/config"
	"textgen/internal/logging"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	backend    string
	model      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "textgen",
		Short:         "Extend selected text with a locally supervised generation worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", os.Getenv("TEXTGEN_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error|off")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: json|console")
	pf.StringVar(&opts.backend, "backend", "", "Backend kind: babble|llama|remote")
	pf.StringVar(&opts.model, "model", "", "Model path, registry id or remote model name")

	root.AddCommand(
		newWorkerCmd(opts),
		newServeCmd(opts),
		newGenerateCmd(opts),
		newReplCmd(opts),
		newModelsCmd(opts),
	)
	return root
}

// load resolves the configuration: file, then environment, then flags.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.LoadOptional(o.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.Getenv)
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.backend != "" {
		cfg.Backend.Kind = o.backend
	}
	if o.model != "" {
		cfg.Backend.Model = o.model
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (zerolog.Logger, error) {
	return logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
}

// workerArgs rebuilds the flags a spawned worker needs to load the same
// backend as its parent.
func (o *rootOptions) workerArgs(cfg config.Config) []string {
	args := []string{"worker", "--log-level", cfg.LogLevel, "--log-format", cfg.LogFormat,
		"--backend", cfg.Backend.Kind}
	if o.configPath != "" {
		args = append(args, "--config", o.configPath)
	}
	if cfg.Backend.Model != "" {
		args = append(args, "--model", cfg.Backend.Model)
	}
	return args
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
