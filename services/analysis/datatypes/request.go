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
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Priority controls how a request without a domain pipeline is executed.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Quality is a hint forwarded to processors.
type Quality string

const (
	QualityFast     Quality = "fast"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// RequestContext is the optional domain context of a request.
//
// It takes part in the fingerprint: two requests that differ only in
// context are not deduplicated against each other.
type RequestContext struct {
	// Domain selects a registered pipeline by name, e.g. "coding".
	Domain string `json:"domain,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	// PriorResults are results of earlier requests the caller wants the
	// processors to take into account.
	PriorResults []Result `json:"prior_results,omitempty"`
}

// Options are per-request processing options.
//
// CachingEnabled is a pointer so that an absent value can default to true.
type Options struct {
	Priority          Priority      `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	MaxProcessingTime time.Duration `json:"max_processing_time,omitempty" validate:"gte=0"`
	Quality           Quality       `json:"quality,omitempty" validate:"omitempty,oneof=fast standard high"`
	CachingEnabled    *bool         `json:"caching_enabled,omitempty"`
}

// Request is a full analysis request.
type Request struct {
	ID         string          `json:"id" validate:"required,request_id"`
	Modalities []ModalityItem  `json:"modalities" validate:"required,min=1,max=64,dive"`
	Context    *RequestContext `json:"context,omitempty"`
	Options    Options         `json:"options"`
}

// Caching reports whether results of this request may be read from and
// written to the cache. Defaults to true.
func (r Request) Caching() bool {
	if r.Options.CachingEnabled == nil {
		return true
	}
	return *r.Options.CachingEnabled
}

// EffectivePriority returns the priority, defaulting to medium.
func (r Request) EffectivePriority() Priority {
	if r.Options.Priority == "" {
		return PriorityMedium
	}
	return r.Options.Priority
}

// EffectiveQuality returns the quality, defaulting to standard.
func (r Request) EffectiveQuality() Quality {
	if r.Options.Quality == "" {
		return QualityStandard
	}
	return r.Options.Quality
}

// Domain returns the context domain or "".
func (r Request) Domain() string {
	if r.Context == nil {
		return ""
	}
	return r.Context.Domain
}

// Bool returns a pointer to b, for Options.CachingEnabled.
func Bool(b bool) *bool {
	return &b
}

// requestIDPattern accepts caller ids such as "req-1", UUIDs and dotted or
// colon-separated ids. Whitespace and control characters are rejected.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// requestValidate is the validator instance for request types.
// Initialized in init() with the custom validators.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	if err := requestValidate.RegisterValidation("request_id", func(fl validator.FieldLevel) bool {
		return requestIDPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("registering request_id validator: %v", err))
	}
	if err := requestValidate.RegisterValidation("modality_kind", func(fl validator.FieldLevel) bool {
		return ModalityKind(fl.Field().String()).Valid()
	}); err != nil {
		panic(fmt.Sprintf("registering modality_kind validator: %v", err))
	}
}

// Validate checks the request before any processing starts.
//
// # Outputs
//
//   - error: nil, or a *ValidationError listing every failed field.
func (r *Request) Validate() error {
	if r == nil {
		return NewValidationError("request", "request must not be nil")
	}
	if len(r.Modalities) == 0 {
		return NewValidationError("modalities", "at least one modality is required")
	}
	err := requestValidate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError("request", err.Error())
	}
	fields := make([]string, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return NewValidationError(strings.Join(fields, ","), strings.Join(msgs, "; "))
}
