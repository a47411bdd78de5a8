// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors of the analysis core. Every typed error below unwraps to
// one of these, so callers can use errors.Is without knowing the type.
var (
	// ErrValidation is returned before any processing when a request is malformed.
	ErrValidation = errors.New("invalid request")

	// ErrCycleDetected is returned when a pipeline's stages form a cycle.
	ErrCycleDetected = errors.New("cycle detected in pipeline")

	// ErrProcessorUnavailable is returned when no processor satisfies a capability.
	ErrProcessorUnavailable = errors.New("no processor available")

	// ErrProvider is returned when the inference backend fails.
	ErrProvider = errors.New("inference provider failed")

	// ErrTimeout is returned when a stage or the whole call exceeds its deadline.
	ErrTimeout = errors.New("deadline exceeded")
)

// ValidationError describes why a request was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CycleDetectedError names the stage at which a cycle was closed and the
// stage path forming the cycle.
type CycleDetectedError struct {
	Pipeline string
	Stage    string
	Path     []string
}

// NewCycleDetectedError creates a CycleDetectedError.
func NewCycleDetectedError(pipeline, stage string, path []string) *CycleDetectedError {
	return &CycleDetectedError{Pipeline: pipeline, Stage: stage, Path: path}
}

// Error returns the cycle description.
func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("%v: pipeline %q revisits stage %q via [%s]",
		ErrCycleDetected, e.Pipeline, e.Stage, strings.Join(e.Path, " -> "))
}

// Unwrap returns ErrCycleDetected.
func (e *CycleDetectedError) Unwrap() error {
	return ErrCycleDetected
}

// ProcessorUnavailableError is recorded when a capability or kind has no
// registered processor.
type ProcessorUnavailableError struct {
	Capability string
	Kind       ModalityKind
}

// Error returns the error message.
func (e *ProcessorUnavailableError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("%v: capability %q", ErrProcessorUnavailable, e.Capability)
	}
	return fmt.Sprintf("%v: modality %q", ErrProcessorUnavailable, e.Kind)
}

// Unwrap returns ErrProcessorUnavailable.
func (e *ProcessorUnavailableError) Unwrap() error {
	return ErrProcessorUnavailable
}

// ProviderError wraps an inference backend failure.
type ProviderError struct {
	Provider string
	Kind     ModalityKind
	Err      error
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, kind ModalityKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// Error returns the error message.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%v: %s (%s): %v", ErrProvider, e.Provider, e.Kind, e.Err)
}

// Is matches ErrProvider as well as the wrapped error.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// Unwrap returns the backend error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a stage, a pipeline or a whole request
// exceeds its deadline.
type TimeoutError struct {
	// Scope is "stage", "pipeline" or "request".
	Scope   string
	Name    string
	Timeout time.Duration
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(scope, name string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Scope: scope, Name: name, Timeout: timeout}
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v: %s %q exceeded %v", ErrTimeout, e.Scope, e.Name, e.Timeout)
}

// Unwrap returns ErrTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// IsFatal reports whether err must be returned to the caller of Process
// rather than absorbed into partial results.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrCycleDetected) || errors.Is(err, ErrTimeout)
}
