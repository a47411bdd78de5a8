// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipelines

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize is the maximum allowed pipeline file size (1MB).
const MaxYAMLFileSize = 1024 * 1024

//go:embed defaults.yaml
var defaultPipelinesYAML []byte

// fileYAML is the root structure of a pipeline file.
type fileYAML struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

// Registry stores pipelines by name.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline
	sealed    bool
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		pipelines: make(map[string]Pipeline),
		logger:    logger,
	}
}

// NewDefaultRegistry creates a registry holding the embedded reference
// pipelines: agriculture, mycology and coding.
func NewDefaultRegistry(logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	if err := r.LoadYAML(defaultPipelinesYAML); err != nil {
		return nil, fmt.Errorf("loading default pipelines: %w", err)
	}
	return r, nil
}

// Register validates and stores p.
//
// Description:
//
//	Rejects invalid pipelines (see Pipeline.Validate), including cyclic
//	ones, so a cycle is reported at registration rather than mid-run.
//
// Outputs:
//
//	error - ErrRegistrySealed, ErrDuplicatePipeline, ErrInvalidPipeline,
//	        or a *datatypes.CycleDetectedError.
func (r *Registry) Register(p Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.pipelines[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePipeline, p.Name)
	}
	r.pipelines[p.Name] = p
	r.logger.Debug("Pipeline registered",
		slog.String("pipeline", p.Name),
		slog.Int("stages", len(p.Stages)),
		slog.Bool("parallel", p.Parallel))
	return nil
}

// Get returns the pipeline registered under name.
func (r *Registry) Get(name string) (Pipeline, error) {
	r.mu.RLock()
	p, ok := r.pipelines[name]
	r.mu.RUnlock()
	if !ok {
		return Pipeline{}, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	return p, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every pipeline, sorted by name.
func (r *Registry) All() []Pipeline {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pipeline, 0, len(names))
	for _, name := range names {
		out = append(out, r.pipelines[name])
	}
	return out
}

// Seal makes the registry read-only. The orchestrator seals it when it
// starts serving.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// LoadYAML registers every pipeline in a pipelines document. Unknown
// fields are rejected. On error, pipelines registered before the failing
// one stay registered.
func (r *Registry) LoadYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc fileYAML
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parsing pipelines yaml: %w", err)
	}
	for _, p := range doc.Pipelines {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	r.logger.Info("Pipelines loaded", slog.Int("count", len(doc.Pipelines)))
	return nil
}

// LoadFile registers the pipelines in a YAML file.
func (r *Registry) LoadFile(path string) error {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return fmt.Errorf("stat pipelines file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return fmt.Errorf("pipelines file %s exceeds %d bytes", clean, MaxYAMLFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return fmt.Errorf("reading pipelines file: %w", err)
	}
	return r.LoadYAML(data)
}
