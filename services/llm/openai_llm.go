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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OpenAIBackend talks to any OpenAI-compatible chat completions API.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	visionModel string
	system      string
}

// NewOpenAIBackend creates an OpenAIBackend.
//
// The API key comes from cfg.APIKey, then OPENAI_API_KEY, then the
// /run/secrets/openai_api_key file.
func NewOpenAIBackend(cfg Config) (*OpenAIBackend, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OpenAI API key not configured and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OpenAI API key not configured")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the OpenAI API key from secrets")
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("No OpenAI model configured, defaulting to gpt-4o-mini")
	}

	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	slog.Info("Initializing OpenAI backend", "model", model)
	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		visionModel: pickModel(cfg.VisionModel, model),
		system:      "You are a precise multimodal analysis assistant.",
	}, nil
}

// Name implements Backend.
func (o *OpenAIBackend) Name() string {
	return "openai"
}

// Complete implements Backend.
func (o *OpenAIBackend) Complete(ctx context.Context, prompt, modelHint string,
	temperature float32, maxTokens int) (Completion, error) {

	model := pickModel(modelHint, o.model)
	ctx, span := tracer.Start(ctx, "OpenAIBackend.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxCompletionTokens = maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return Completion{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		span.SetStatus(codes.Error, "no choices")
		return Completion{}, ErrEmptyResponse
	}

	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            pickModel(resp.Model, model),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// VisionComplete implements Backend by sending the image as an image_url
// content part.
func (o *OpenAIBackend) VisionComplete(ctx context.Context, imageRef, prompt,
	modelHint string) (VisionResult, error) {

	model := pickModel(modelHint, o.visionModel)
	ctx, span := tracer.Start(ctx, "OpenAIBackend.VisionComplete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt + visionInstruction},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageRef,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI vision call failed", "error", err)
		return VisionResult{}, fmt.Errorf("OpenAI vision call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		span.SetStatus(codes.Error, "no choices")
		return VisionResult{}, ErrEmptyResponse
	}

	vr := ParseVisionAnswer(resp.Choices[0].Message.Content)
	vr.Model = pickModel(resp.Model, model)
	vr.PromptTokens = resp.Usage.PromptTokens
	vr.CompletionTokens = resp.Usage.CompletionTokens
	return vr, nil
}
