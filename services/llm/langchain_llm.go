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
	"os"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LangChainBackend adapts a langchaingo llms.Model to Backend.
//
// Token counts are read from the generation info when the provider reports
// them under the usual keys.
type LangChainBackend struct {
	model llms.Model
	name  string
}

// NewLangChainBackend wraps model. name is reported as the provider.
func NewLangChainBackend(name string, model llms.Model) *LangChainBackend {
	if name == "" {
		name = "langchain"
	}
	return &LangChainBackend{model: model, name: name}
}

// NewLangChainOpenAI builds a LangChainBackend over langchaingo's OpenAI
// client, for OpenAI-compatible servers that the go-openai client does not
// suit.
func NewLangChainOpenAI(cfg Config) (*LangChainBackend, error) {
	token := cfg.APIKey
	if token == "" {
		token = os.Getenv("OPENAI_API_KEY")
	}
	opts := []lcopenai.Option{lcopenai.WithToken(token)}
	if cfg.Model != "" {
		opts = append(opts, lcopenai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	m, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain openai model: %w", err)
	}
	return NewLangChainBackend("langchain", m), nil
}

// Name implements Backend.
func (l *LangChainBackend) Name() string {
	return l.name
}

// Complete implements Backend.
func (l *LangChainBackend) Complete(ctx context.Context, prompt, modelHint string,
	temperature float32, maxTokens int) (Completion, error) {

	ctx, span := tracer.Start(ctx, "LangChainBackend.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", l.name))

	resp, err := l.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		callOptions(modelHint, temperature, maxTokens)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, fmt.Errorf("langchain generate failed: %w", err)
	}
	choice, err := firstChoice(resp)
	if err != nil {
		return Completion{}, err
	}
	return Completion{
		Text:             choice.Content,
		Model:            modelHint,
		PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

// VisionComplete implements Backend with an image URL content part.
func (l *LangChainBackend) VisionComplete(ctx context.Context, imageRef, prompt,
	modelHint string) (VisionResult, error) {

	ctx, span := tracer.Start(ctx, "LangChainBackend.VisionComplete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", l.name))

	msg := llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextContent{Text: prompt + visionInstruction},
			llms.ImageURLContent{URL: imageRef},
		},
	}
	resp, err := l.model.GenerateContent(ctx, []llms.MessageContent{msg}, callOptions(modelHint, 0, 0)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return VisionResult{}, fmt.Errorf("langchain vision failed: %w", err)
	}
	choice, err := firstChoice(resp)
	if err != nil {
		return VisionResult{}, err
	}
	vr := ParseVisionAnswer(choice.Content)
	vr.Model = modelHint
	vr.PromptTokens = intInfo(choice.GenerationInfo, "PromptTokens")
	vr.CompletionTokens = intInfo(choice.GenerationInfo, "CompletionTokens")
	return vr, nil
}

func callOptions(modelHint string, temperature float32, maxTokens int) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(float64(temperature))}
	if modelHint != "" {
		opts = append(opts, llms.WithModel(modelHint))
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	return opts
}

func firstChoice(resp *llms.ContentResponse) (*llms.ContentChoice, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil || resp.Choices[0].Content == "" {
		return nil, ErrEmptyResponse
	}
	return resp.Choices[0], nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
