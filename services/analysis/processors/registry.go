// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/llm"
)

var (
	// ErrDuplicateProcessor is returned when a kind is registered twice.
	ErrDuplicateProcessor = errors.New("processor already registered for kind")

	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("processor registry is sealed")
)

// Registry maps each modality kind to its processor.
//
// # Description
//
// Lookup is a direct table access by kind. Capability binding walks the
// request's items in input order and returns the first whose kind's
// processor satisfies the capability.
//
// # Thread Safety
//
// Safe for concurrent use. Registration is expected at startup; Seal makes
// the registry read-only.
type Registry struct {
	mu         sync.RWMutex
	processors map[datatypes.ModalityKind]Processor
	sealed     bool
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		processors: make(map[datatypes.ModalityKind]Processor),
		logger:     logger,
	}
}

// NewDefaultRegistry registers the five built-in processors over backend.
func NewDefaultRegistry(backend llm.Backend, opts ...Option) *Registry {
	r := NewRegistry(buildOptions(opts).logger)
	for _, p := range []Processor{
		NewTextProcessor(backend, opts...),
		NewCodeProcessor(backend, opts...),
		NewImageProcessor(backend, opts...),
		NewAudioProcessor(backend, opts...),
		NewVideoProcessor(backend, opts...),
	} {
		// Kinds are distinct and the registry is fresh.
		_ = r.Register(p)
	}
	return r
}

// Register adds p for its kind.
//
// Outputs:
//
//	error - ErrDuplicateProcessor, ErrRegistrySealed, or an invalid kind error.
func (r *Registry) Register(p Processor) error {
	if p == nil {
		return errors.New("processor must not be nil")
	}
	kind := p.Kind()
	if !kind.Valid() {
		return fmt.Errorf("invalid modality kind %q", kind)
	}
	if len(p.Capabilities()) == 0 {
		return fmt.Errorf("processor for %q declares no capabilities", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.processors[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProcessor, kind)
	}
	r.processors[kind] = p
	r.logger.Debug("Processor registered",
		slog.String("kind", string(kind)),
		slog.Any("capabilities", p.Capabilities()))
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns the processor for kind or a *datatypes.ProcessorUnavailableError.
func (r *Registry) Get(kind datatypes.ModalityKind) (Processor, error) {
	r.mu.RLock()
	p, ok := r.processors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &datatypes.ProcessorUnavailableError{Kind: kind}
	}
	return p, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []datatypes.ModalityKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]datatypes.ModalityKind, 0, len(r.processors))
	for k := range r.processors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Supports reports whether any registered processor satisfies capability.
func (r *Registry) Supports(capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.processors {
		if p.CanProcess(capability) {
			return true
		}
	}
	return false
}

// Binding is the result of capability binding.
type Binding struct {
	Processor Processor
	Item      datatypes.ModalityItem

	// Index of Item in the request's modality list.
	Index int
}

// Bind returns the first item, in input order, whose kind's processor
// satisfies capability. ok is false when no item qualifies; that is not an
// error, the pipeline is only partially applicable to this input.
func (r *Registry) Bind(capability string, items []datatypes.ModalityItem) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, item := range items {
		p, ok := r.processors[item.Kind]
		if ok && p.CanProcess(capability) {
			return Binding{Processor: p, Item: item, Index: i}, true
		}
	}
	return Binding{}, false
}

// Process dispatches item to its kind's processor.
//
// # Description
//
// A processor panic is recovered and returned as an error so one faulty
// processor cannot take down the caller.
//
// # Outputs
//
//   - datatypes.Result: The produced result.
//   - error: *ProcessorUnavailableError, *ProviderError, or a recovered panic.
func (r *Registry) Process(ctx context.Context, requestID string, item datatypes.ModalityItem,
	pctx Context) (datatypes.Result, error) {

	p, err := r.Get(item.Kind)
	if err != nil {
		return datatypes.Result{}, err
	}
	return SafeProcess(ctx, p, requestID, item, pctx)
}

// SafeProcess calls p.Process, converting a panic into an error.
func SafeProcess(ctx context.Context, p Processor, requestID string, item datatypes.ModalityItem,
	pctx Context) (res datatypes.Result, err error) {

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor %s panicked: %v", p.Kind(), rec)
		}
	}()
	return p.Process(ctx, requestID, item, pctx)
}
