// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("mosaic.llm")

// maxImageBytes bounds images fetched by URL for the Ollama API.
const maxImageBytes = 20 << 20

// OllamaBackend talks to the Ollama HTTP API.
type OllamaBackend struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	visionModel string
}

// Ollama API request structure
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewOllamaBackend creates an OllamaBackend. The base URL comes from
// cfg.BaseURL or OLLAMA_BASE_URL.
func NewOllamaBackend(cfg Config) (*OllamaBackend, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("Ollama base URL not configured")
	}
	model := cfg.Model
	if model == "" {
		slog.Warn("No Ollama model configured, defaulting to llama3.2")
		model = "llama3.2"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama backend", "base_url", baseURL, "default_model", model)
	return &OllamaBackend{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		model:       model,
		visionModel: pickModel(cfg.VisionModel, "llava"),
	}, nil
}

// Name implements Backend.
func (o *OllamaBackend) Name() string {
	return "ollama"
}

// Complete implements Backend.
func (o *OllamaBackend) Complete(ctx context.Context, prompt, modelHint string,
	temperature float32, maxTokens int) (Completion, error) {

	model := pickModel(modelHint, o.model)
	ctx, span := tracer.Start(ctx, "OllamaBackend.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	options := map[string]any{"temperature": temperature}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	resp, err := o.generate(ctx, ollamaGenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Options: options,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, err
	}
	if strings.TrimSpace(resp.Response) == "" {
		return Completion{}, ErrEmptyResponse
	}
	return Completion{
		Text:             resp.Response,
		Model:            pickModel(resp.Model, model),
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

// VisionComplete implements Backend. Ollama takes images as base64, so URLs
// are fetched first and data URIs are unwrapped.
func (o *OllamaBackend) VisionComplete(ctx context.Context, imageRef, prompt,
	modelHint string) (VisionResult, error) {

	model := pickModel(modelHint, o.visionModel)
	ctx, span := tracer.Start(ctx, "OllamaBackend.VisionComplete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	image, err := o.loadImage(ctx, imageRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return VisionResult{}, err
	}
	resp, err := o.generate(ctx, ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt + visionInstruction,
		Images: []string{image},
		Format: "json",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return VisionResult{}, err
	}
	if strings.TrimSpace(resp.Response) == "" {
		return VisionResult{}, ErrEmptyResponse
	}
	vr := ParseVisionAnswer(resp.Response)
	vr.Model = pickModel(resp.Model, model)
	vr.PromptTokens = resp.PromptEvalCount
	vr.CompletionTokens = resp.EvalCount
	return vr, nil
}

func (o *OllamaBackend) generate(ctx context.Context, payload ollamaGenerateRequest) (ollamaGenerateResponse, error) {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return ollamaGenerateResponse{}, fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	// NewRequestWithContext so stage deadlines cancel the call
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(reqBodyBytes))
	if err != nil {
		return ollamaGenerateResponse{}, fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		slog.Error("Ollama API call failed", "error", err)
		return ollamaGenerateResponse{}, fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return ollamaGenerateResponse{}, fmt.Errorf("failed to read response body from Ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(respBodyBytes, &errResp); err == nil &&
				strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
				slog.Warn("Ollama model not found", "model", payload.Model)
				return ollamaGenerateResponse{}, fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", payload.Model, payload.Model)
			}
		}
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode, "response", string(respBodyBytes))
		return ollamaGenerateResponse{}, fmt.Errorf("Ollama failed with status %d: %s", resp.StatusCode, string(respBodyBytes))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBodyBytes, &out); err != nil {
		slog.Error("Failed to parse JSON response from Ollama", "error", err)
		return ollamaGenerateResponse{}, fmt.Errorf("failed to parse Ollama response: %w", err)
	}
	return out, nil
}

// loadImage returns the base64 body of an image reference.
func (o *OllamaBackend) loadImage(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "data:") {
		comma := strings.Index(ref, ",")
		if comma < 0 || !strings.Contains(ref[:comma], ";base64") {
			return "", fmt.Errorf("unsupported data URI image reference")
		}
		return ref[comma+1:], nil
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		// Assume the caller already passed base64.
		return ref, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
