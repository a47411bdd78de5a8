// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the inference backends the analysis processors call.
//
// A Backend turns a prompt, or an image plus a prompt, into an answer. It is
// the only I/O boundary of the analysis core. Implementations:
//
//   - OpenAIBackend: OpenAI-compatible chat completions (go-openai).
//   - OllamaBackend: the Ollama HTTP API.
//   - LangChainBackend: any langchaingo llms.Model.
//   - RateLimited: a token-bucket decorator around another Backend.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyResponse is returned when a backend answers without any content.
var ErrEmptyResponse = errors.New("backend returned no content")

// Completion is the answer to a text completion.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// VisionResult is the structured answer to an image prompt.
//
// Backends ask the model for a JSON object and fall back to treating the
// whole answer as the description when it is not valid JSON.
type VisionResult struct {
	Description string   `json:"description"`
	Objects     []string `json:"objects,omitempty"`

	// Confidence in [0,1]; zero means the model did not say.
	Confidence float64 `json:"confidence,omitempty"`

	// Error is set when the model reports it could not analyze the image.
	Error string `json:"error,omitempty"`

	Model            string `json:"-"`
	PromptTokens     int    `json:"-"`
	CompletionTokens int    `json:"-"`
}

// Backend defines the interface for any inference backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; processors call them
// from concurrent goroutines.
type Backend interface {
	// Name identifies the provider in results and errors, e.g. "openai".
	Name() string

	// Complete runs a text completion. An empty modelHint selects the
	// backend's default model; maxTokens <= 0 selects the backend default.
	Complete(ctx context.Context, prompt, modelHint string, temperature float32, maxTokens int) (Completion, error)

	// VisionComplete answers a prompt about the image at imageRef, an
	// http(s) URL or a data URI.
	VisionComplete(ctx context.Context, imageRef, prompt, modelHint string) (VisionResult, error)
}

// Config selects and configures a Backend.
type Config struct {
	// Provider is "openai", "ollama" or "langchain".
	Provider string

	BaseURL     string
	APIKey      string
	Model       string
	VisionModel string
	Timeout     time.Duration

	// RequestsPerSecond above zero wraps the backend in RateLimited.
	RequestsPerSecond float64
	Burst             int
}

// New creates the Backend described by cfg.
//
// Outputs:
//
//	Backend - The backend, wrapped in RateLimited when configured.
//	error - Non-nil if the provider is unknown or misconfigured.
func New(cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		b, err = NewOpenAIBackend(cfg)
	case "ollama":
		b, err = NewOllamaBackend(cfg)
	case "langchain":
		b, err = NewLangChainOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond > 0 {
		b = NewRateLimited(b, cfg.RequestsPerSecond, cfg.Burst)
	}
	return b, nil
}

// visionInstruction is appended to every vision prompt so the answer can
// be parsed into a VisionResult.
const visionInstruction = `

Respond with a single JSON object: {"description": string, "objects": [string], "confidence": number between 0 and 1}. If the image cannot be analyzed, respond with {"error": string}.`

// ParseVisionAnswer converts a raw model answer into a VisionResult.
//
// Code fences around the JSON are tolerated. Anything that does not parse
// becomes the description.
func ParseVisionAnswer(raw string) VisionResult {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var vr VisionResult
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &vr) == nil {
		if vr.Confidence < 0 || vr.Confidence > 1 {
			vr.Confidence = 0
		}
		return vr
	}
	return VisionResult{Description: strings.TrimSpace(raw)}
}

func pickModel(hint, fallback string) string {
	if hint != "" {
		return hint
	}
	return fallback
}
