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
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{
		ID:         "req-1",
		Modalities: []ModalityItem{{Kind: ModalityText, Data: "hello"}},
	}
}

// =============================================================================
// Request.Validate
// =============================================================================

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		field  string
	}{
		{"empty id", func(r *Request) { r.ID = "" }, "ID"},
		{"id with spaces", func(r *Request) { r.ID = "req 1" }, "ID"},
		{"no modalities", func(r *Request) { r.Modalities = nil }, "modalities"},
		{"unknown kind", func(r *Request) { r.Modalities[0].Kind = "smell" }, "Kind"},
		{"negative size", func(r *Request) { r.Modalities[0].Metadata.SizeBytes = -1 }, "SizeBytes"},
		{"bad priority", func(r *Request) { r.Options.Priority = "urgent" }, "Priority"},
		{"bad quality", func(r *Request) { r.Options.Quality = "ultra" }, "Quality"},
		{"negative timeout", func(r *Request) { r.Options.MaxProcessingTime = -time.Second }, "MaxProcessingTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.True(t, IsFatal(err))

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.Field, tt.field)
		})
	}
}

func TestRequest_ValidateAccepts(t *testing.T) {
	req := validRequest()
	req.ID = "550e8400-e29b-41d4-a716-446655440000"
	req.Options = Options{Priority: PriorityCritical, Quality: QualityHigh, MaxProcessingTime: time.Minute}
	assert.NoError(t, req.Validate())

	var nilReq *Request
	assert.ErrorIs(t, nilReq.Validate(), ErrValidation)
}

func TestRequest_Defaults(t *testing.T) {
	req := validRequest()
	assert.True(t, req.Caching())
	assert.Equal(t, PriorityMedium, req.EffectivePriority())
	assert.Equal(t, QualityStandard, req.EffectiveQuality())
	assert.Equal(t, "", req.Domain())

	req.Options.CachingEnabled = Bool(false)
	req.Context = &RequestContext{Domain: "coding"}
	assert.False(t, req.Caching())
	assert.Equal(t, "coding", req.Domain())
}

func TestModalityKind_UnmarshalJSON(t *testing.T) {
	var item ModalityItem
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"image","data":"https://x/y.png"}`), &item))
	assert.Equal(t, ModalityImage, item.Kind)

	err := json.Unmarshal([]byte(`{"kind":"hologram"}`), &item)
	assert.Error(t, err)
}

// =============================================================================
// Errors
// =============================================================================

func TestTypedErrors(t *testing.T) {
	cycle := NewCycleDetectedError("loop", "A", []string{"A", "B", "A"})
	assert.ErrorIs(t, cycle, ErrCycleDetected)
	assert.True(t, IsFatal(cycle))

	timeout := NewTimeoutError("pipeline", "coding", 2*time.Minute)
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.True(t, IsFatal(timeout))
	assert.True(t, strings.Contains(timeout.Error(), "pipeline"))

	provider := NewProviderError("ollama", ModalityText, errors.New("connection refused"))
	assert.ErrorIs(t, provider, ErrProvider)
	assert.False(t, IsFatal(provider))
	assert.False(t, IsFatal(nil))
}

// =============================================================================
// Result cloning
// =============================================================================

func TestResult_Clone(t *testing.T) {
	orig := Result{
		ID: "r1",
		Payload: Payload{
			Analysis:        "text",
			Insights:        []string{"a"},
			Recommendations: []string{"b"},
			Data:            map[string]any{"k": "v"},
		},
	}
	c := orig.Clone()
	c.Payload.Insights[0] = "changed"
	c.Payload.Recommendations = append(c.Payload.Recommendations, "c")
	c.Payload.Data["k"] = "changed"

	assert.Equal(t, "a", orig.Payload.Insights[0])
	assert.Len(t, orig.Payload.Recommendations, 1)
	assert.Equal(t, "v", orig.Payload.Data["k"])
}

func TestCloneResults(t *testing.T) {
	assert.Nil(t, CloneResults(nil))

	in := []Result{{ID: "r1", Payload: Payload{Insights: []string{"x"}}}}
	out := CloneResults(in)
	out[0].ID = "r2"
	out[0].Payload.Insights[0] = "y"

	assert.Equal(t, "r1", in[0].ID)
	assert.Equal(t, "x", in[0].Payload.Insights[0])
}

func TestRequestValidator_CustomTagsRegistered(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.NoError(t, requestValidate.Var("req-1", "request_id"))
		assert.Error(t, requestValidate.Var("req 1", "request_id"))
		assert.NoError(t, requestValidate.Var("video", "modality_kind"))
		assert.Error(t, requestValidate.Var("smell", "modality_kind"))
	})
}

// =============================================================================
// Duration JSON
// =============================================================================

func TestOptions_MaxProcessingTimeJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{"duration string", `{"max_processing_time":"90s"}`, 90 * time.Second},
		{"compound string", `{"max_processing_time":"1m30s"}`, 90 * time.Second},
		{"nanoseconds", `{"max_processing_time":1500000000}`, 1500 * time.Millisecond},
		{"null", `{"max_processing_time":null}`, 0},
		{"absent", `{"priority":"high"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o Options
			require.NoError(t, json.Unmarshal([]byte(tt.body), &o))
			assert.Equal(t, tt.want, o.MaxProcessingTime)
		})
	}

	var o Options
	assert.Error(t, json.Unmarshal([]byte(`{"max_processing_time":"soon"}`), &o))
}

func TestOptions_JSONKeepsOtherFields(t *testing.T) {
	var req Request
	body := `{"id":"req-1","modalities":[{"kind":"text","data":"x"}],"options":{"priority":"critical","quality":"fast","caching_enabled":false,"max_processing_time":"2s"}}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.Equal(t, PriorityCritical, req.Options.Priority)
	assert.Equal(t, QualityFast, req.Options.Quality)
	assert.False(t, req.Caching())
	assert.Equal(t, 2*time.Second, req.Options.MaxProcessingTime)

	out, err := json.Marshal(req.Options)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"max_processing_time":"2s"`)
	assert.Contains(t, string(out), `"priority":"critical"`)
	assert.Equal(t, 1, strings.Count(string(out), "max_processing_time"))

	out, err = json.Marshal(Options{})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "max_processing_time")
}
