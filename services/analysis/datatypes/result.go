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
	"time"
)

// Payload is the structured body of a Result.
type Payload struct {
	// Analysis is the main answer text.
	Analysis string `json:"analysis"`

	Insights        []string       `json:"insights,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

// ResultMetadata records where a result came from.
type ResultMetadata struct {
	Model            string    `json:"model,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
}

// Result is one produced answer.
//
// A Result always belongs to exactly one request and either one modality
// (direct dispatch) or one pipeline stage.
type Result struct {
	ID             string         `json:"id"`
	RequestID      string         `json:"request_id"`
	Modality       ModalityKind   `json:"modality"`
	StageID        string         `json:"stage_id,omitempty"`
	Confidence     float64        `json:"confidence"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Payload        Payload        `json:"payload"`
	Metadata       ResultMetadata `json:"metadata"`

	// Error marks a result the backend answered but flagged as unusable,
	// e.g. a vision call that could not decode the image.
	Error bool `json:"error,omitempty"`
}

// Clone returns a copy of r whose payload slices and data map are not
// shared with r. Values inside Data are copied shallowly.
func (r Result) Clone() Result {
	out := r
	if r.Payload.Insights != nil {
		out.Payload.Insights = append([]string(nil), r.Payload.Insights...)
	}
	if r.Payload.Recommendations != nil {
		out.Payload.Recommendations = append([]string(nil), r.Payload.Recommendations...)
	}
	if r.Payload.Data != nil {
		out.Payload.Data = make(map[string]any, len(r.Payload.Data))
		for k, v := range r.Payload.Data {
			out.Payload.Data[k] = v
		}
	}
	return out
}

// CloneResults returns a copy of results so cached result sets are never
// shared with callers that might modify them.
func CloneResults(results []Result) []Result {
	if results == nil {
		return nil
	}
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = r.Clone()
	}
	return out
}
