// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipelines defines domain pipelines and the registry that holds them.
//
// A Pipeline is a named DAG of stages. Each stage names the processor
// capability it needs, a free-form config passed to the processor, and the
// ids of the stages whose results it consumes. Pipelines are configuration:
// they are registered at startup and read-only afterwards.
//
// Thread Safety:
//
//	Registry is safe for concurrent use. Pipeline values returned by the
//	registry must not be modified.
package pipelines

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

var (
	// ErrPipelineNotFound is returned by Get for unknown names.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrDuplicatePipeline is returned when a name is registered twice.
	ErrDuplicatePipeline = errors.New("pipeline already registered")

	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("pipeline registry is sealed")

	// ErrInvalidPipeline is returned for structurally invalid pipelines.
	ErrInvalidPipeline = errors.New("invalid pipeline")
)

// Stage is one node of a pipeline DAG.
type Stage struct {
	ID         string         `yaml:"id" json:"id"`
	Name       string         `yaml:"name" json:"name"`
	Capability string         `yaml:"capability" json:"capability"`
	Config     map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	DependsOn  []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Timeout bounds this stage. Zero means the scheduler default.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Pipeline is a named DAG of stages for one domain.
//
// Stages are listed in declaration order; execution order is derived from
// DependsOn, with declaration order breaking ties.
type Pipeline struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Stages      []Stage `yaml:"stages" json:"stages"`

	// Parallel lets independent stages run concurrently.
	Parallel bool `yaml:"parallel,omitempty" json:"parallel,omitempty"`

	// Timeout bounds the whole run. Zero means unbounded.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// MarshalJSON writes Timeout as a duration string.
func (s Stage) MarshalJSON() ([]byte, error) {
	type plain Stage
	return json.Marshal(struct {
		plain
		Timeout string `json:"timeout,omitempty"`
	}{plain(s), datatypes.FormatDurationJSON(s.Timeout)})
}

// UnmarshalJSON reads Timeout as a duration string or as nanoseconds.
func (s *Stage) UnmarshalJSON(data []byte) error {
	type plain Stage
	aux := struct {
		*plain
		Timeout json.RawMessage `json:"timeout,omitempty"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := datatypes.ParseDurationJSON(aux.Timeout)
	if err != nil {
		return fmt.Errorf("stage timeout: %w", err)
	}
	s.Timeout = d
	return nil
}

// MarshalJSON writes Timeout as a duration string.
func (p Pipeline) MarshalJSON() ([]byte, error) {
	type plain Pipeline
	return json.Marshal(struct {
		plain
		Timeout string `json:"timeout,omitempty"`
	}{plain(p), datatypes.FormatDurationJSON(p.Timeout)})
}

// UnmarshalJSON reads Timeout as a duration string or as nanoseconds.
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	type plain Pipeline
	aux := struct {
		*plain
		Timeout json.RawMessage `json:"timeout,omitempty"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := datatypes.ParseDurationJSON(aux.Timeout)
	if err != nil {
		return fmt.Errorf("pipeline timeout: %w", err)
	}
	p.Timeout = d
	return nil
}

// Stage returns the stage with id.
func (p Pipeline) Stage(id string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// Validate checks structure: a name, at least one stage, unique non-empty
// stage ids, a capability on every stage, dependencies that exist, and no
// cycles.
//
// Outputs:
//
//	error - wraps ErrInvalidPipeline, or a *datatypes.CycleDetectedError.
func (p Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPipeline)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: %s: at least one stage is required", ErrInvalidPipeline, p.Name)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("%w: %s: negative timeout", ErrInvalidPipeline, p.Name)
	}
	seen := make(map[string]struct{}, len(p.Stages))
	for _, s := range p.Stages {
		if s.ID == "" {
			return fmt.Errorf("%w: %s: stage id is required", ErrInvalidPipeline, p.Name)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: %s: duplicate stage id %q", ErrInvalidPipeline, p.Name, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Capability == "" {
			return fmt.Errorf("%w: %s: stage %q has no capability", ErrInvalidPipeline, p.Name, s.ID)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("%w: %s: stage %q has a negative timeout", ErrInvalidPipeline, p.Name, s.ID)
		}
	}
	for _, s := range p.Stages {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("%w: %s: stage %q depends on unknown stage %q", ErrInvalidPipeline, p.Name, s.ID, dep)
			}
		}
	}
	_, err := p.TopologicalOrder()
	return err
}

// visit marks for the three-color depth-first search.
const (
	unvisited = iota
	visiting
	visited
)

// TopologicalOrder returns the stages ordered so that every stage follows
// all of its dependencies.
//
// # Description
//
// Depth-first traversal with three-color marking. Roots are visited in
// declaration order and dependencies in their listed order, so the result
// is deterministic. Revisiting a stage that is still "visiting" closes a
// cycle and yields a *datatypes.CycleDetectedError naming that stage and
// the path that leads back to it. Unknown dependency ids are ignored here;
// Validate reports them.
//
// # Outputs
//
//   - []Stage: Stages in dependency order.
//   - error: *datatypes.CycleDetectedError if the graph has a cycle.
func (p Pipeline) TopologicalOrder() ([]Stage, error) {
	index := make(map[string]int, len(p.Stages))
	for i, s := range p.Stages {
		index[s.ID] = i
	}

	color := make([]int, len(p.Stages))
	order := make([]Stage, 0, len(p.Stages))
	var path []string

	var visit func(i int) error
	visit = func(i int) error {
		switch color[i] {
		case visited:
			return nil
		case visiting:
			id := p.Stages[i].ID
			start := 0
			for j, s := range path {
				if s == id {
					start = j
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), id)
			return datatypes.NewCycleDetectedError(p.Name, id, cycle)
		}

		color[i] = visiting
		path = append(path, p.Stages[i].ID)
		for _, dep := range p.Stages[i].DependsOn {
			j, ok := index[dep]
			if !ok {
				continue
			}
			if err := visit(j); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[i] = visited
		order = append(order, p.Stages[i])
		return nil
	}

	for i := range p.Stages {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}
