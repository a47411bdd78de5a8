// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/mosaic/pkg/logging"
	"github.com/AleutianAI/mosaic/services/analysis/cache"
	"github.com/AleutianAI/mosaic/services/analysis/config"
	"github.com/AleutianAI/mosaic/services/analysis/orchestrator"
	"github.com/AleutianAI/mosaic/services/analysis/pipelines"
	"github.com/AleutianAI/mosaic/services/analysis/processors"
	"github.com/AleutianAI/mosaic/services/llm"
)

// app holds everything a command needs. close releases it in reverse
// order of construction.
type app struct {
	cfg    config.Config
	logger *logging.Logger
	orch   *orchestrator.Orchestrator
}

func isConfigError(err error) bool {
	return errors.Is(err, config.ErrInvalidConfig)
}

// newApp loads the configuration and builds the orchestrator.
func newApp(flags *rootFlags, service string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.pipelinesFile != "" {
		cfg.PipelinesFile = flags.pipelinesFile
	}

	logger, err := logging.New(cfg.Logging(service))
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	orch, err := buildOrchestrator(cfg, logger.Slog())
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

func buildOrchestrator(cfg config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	backend, err := llm.New(cfg.LLM())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	procs := processors.NewDefaultRegistry(backend, processors.WithLogger(logger))

	pipes, err := pipelines.NewDefaultRegistry(logger)
	if err != nil {
		return nil, err
	}
	if cfg.PipelinesFile != "" {
		if err := pipes.LoadFile(cfg.PipelinesFile); err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
	}

	orchCfg, err := cfg.Orchestrator()
	if err != nil {
		return nil, err
	}
	policy, err := cache.NewPolicy(cfg.CacheMinAnalysisLength)
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore(logger)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}

	orch, err := orchestrator.New(procs, pipes,
		orchestrator.WithConfig(orchCfg),
		orchestrator.WithLogger(logger),
		orchestrator.WithStore(store),
		orchestrator.WithPolicy(policy),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return orch, nil
}

func (a *app) close() {
	if err := a.orch.Close(); err != nil {
		a.logger.Slog().Warn("closing orchestrator", slog.String("error", err.Error()))
	}
	_ = a.logger.Close()
}
