package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"textgen/internal/common/fsutil"
	"textgen/internal/config"
	"textgen/internal/orchestrator"
	"textgen/internal/state"
	"textgen/internal/supervisor"
)

// app bundles what the front-end commands share: settings, the generator
// and the orchestrator on top of them.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	store *state.Store
	gen   orchestrator.Generator
	orch  *orchestrator.Orchestrator
	// sup is set in process mode.
	sup *supervisor.Supervisor
}

// newApp opens the state store and builds the generator for cfg.Worker.Mode.
// Nothing is started yet.
func newApp(opts *rootOptions, cfg config.Config, log zerolog.Logger) (*app, error) {
	store, err := state.Open(cfg.StateFile, log)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	if opts.model == "" && cfg.Backend.Model == "" {
		cfg.Backend.Model = store.Snapshot().Model
	}
	if err := store.SetBackend(cfg.Backend.Kind); err != nil {
		log.Warn().Err(err).Msg("persist backend")
	}

	a := &app{cfg: cfg, log: log, store: store}
	switch cfg.Worker.Mode {
	case config.ModeInProcess:
		a.gen = orchestrator.NewInProcess(cfg.BackendOptions(), nil, log)
	default:
		scfg := supervisor.Config{
			Bin:             cfg.Worker.Bin,
			Args:            cfg.Worker.Args,
			PayloadPath:     cfg.Worker.PayloadPath,
			PayloadDir:      cfg.Worker.PayloadDir,
			StartupTimeout:  cfg.Worker.StartupTimeout(),
			GenerateTimeout: cfg.Worker.GenerateTimeout(),
			StopGrace:       cfg.Worker.StopGrace(),
			AdmissionWait:   cfg.Worker.AdmissionWait(),
		}
		if scfg.PayloadPath != "" {
			if scfg.PayloadPath, err = fsutil.EnsureParentDir(scfg.PayloadPath); err != nil {
				return nil, fmt.Errorf("payload path: %w", err)
			}
		}
		if scfg.PayloadDir != "" {
			if scfg.PayloadDir, err = fsutil.ExpandHome(scfg.PayloadDir); err != nil {
				return nil, fmt.Errorf("payload dir: %w", err)
			}
			if !fsutil.PathExists(scfg.PayloadDir) {
				return nil, fmt.Errorf("payload dir %s does not exist", scfg.PayloadDir)
			}
		}
		if scfg.Bin == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locate worker binary: %w", err)
			}
			scfg.Bin = exe
			scfg.Args = opts.workerArgs(cfg)
			scfg.ModelFlag = "--model"
		}
		a.sup = supervisor.New(scfg, log)
		a.gen = a.sup
	}

	a.orch = orchestrator.New(orchestrator.Config{
		Backend:            cfg.Backend.Kind,
		Confirm:            cfg.Confirm,
		InteractiveTimeout: cfg.InteractiveTimeout(),
		BatchTimeout:       cfg.BatchTimeout(),
		BatchThreshold:     cfg.BatchThreshold,
		Models:             cfg.Models,
		ModelsDir:          cfg.Backend.ModelsDir,
	}, a.gen, store, log)
	return a, nil
}

// start brings the generator up: it spawns the worker or loads the backend.
func (a *app) start(ctx context.Context) error {
	if a.sup != nil {
		return a.sup.Start(ctx)
	}
	if ip, ok := a.gen.(*orchestrator.InProcess); ok {
		return ip.Start(ctx)
	}
	return nil
}

func (a *app) close() {
	if err := a.gen.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("stop generator")
	}
}
