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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// =============================================================================
// OpenAI
// =============================================================================

func newMockOpenAIServer(t *testing.T, content string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 7, "completion_tokens": 5, "total_tokens": 12},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIBackend_Complete(t *testing.T) {
	var got map[string]any
	srv := newMockOpenAIServer(t, "Revenue grew.", &got)

	b, err := NewOpenAIBackend(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	c, err := b.Complete(context.Background(), "Summarize", "", 0.2, 64)
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew.", c.Text)
	assert.Equal(t, "gpt-4o-mini", c.Model)
	assert.Equal(t, 7, c.PromptTokens)
	assert.Equal(t, 5, c.CompletionTokens)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.EqualValues(t, 64, got["max_completion_tokens"])
}

func TestOpenAIBackend_VisionComplete(t *testing.T) {
	var got map[string]any
	srv := newMockOpenAIServer(t, "```json\n{\"description\":\"wheat field\",\"confidence\":0.7}\n```", &got)

	b, err := NewOpenAIBackend(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", VisionModel: "gpt-4o"})
	require.NoError(t, err)

	vr, err := b.VisionComplete(context.Background(), "https://example.com/field.jpg", "Describe", "")
	require.NoError(t, err)
	assert.Equal(t, "wheat field", vr.Description)
	assert.InDelta(t, 0.7, vr.Confidence, 1e-9)
	assert.Equal(t, "gpt-4o", got["model"])

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)
	parts, ok := user["content"].([]any)
	require.True(t, ok, "vision prompt must use multi-part content")
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
}

func TestOpenAIBackend_EmptyChoices(t *testing.T) {
	srv := newMockOpenAIServer(t, "", nil)
	b, err := NewOpenAIBackend(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), "p", "", 0, 0)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

// =============================================================================
// LangChain
// =============================================================================

// fakeModel implements llms.Model.
type fakeModel struct {
	answer   string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent,
	options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        f.answer,
		GenerationInfo: map[string]any{"PromptTokens": 4, "CompletionTokens": 2},
	}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainBackend_Complete(t *testing.T) {
	m := &fakeModel{answer: "done"}
	b := NewLangChainBackend("", m)

	c, err := b.Complete(context.Background(), "hello", "small-model", 0.5, 32)
	require.NoError(t, err)
	assert.Equal(t, "langchain", b.Name())
	assert.Equal(t, "done", c.Text)
	assert.Equal(t, 4, c.PromptTokens)
	assert.Equal(t, 2, c.CompletionTokens)
	assert.Equal(t, "small-model", m.opts.Model)
	assert.Equal(t, 32, m.opts.MaxTokens)
	assert.InDelta(t, 0.5, m.opts.Temperature, 1e-6)
}

func TestLangChainBackend_VisionComplete(t *testing.T) {
	m := &fakeModel{answer: `{"description":"a leaf","objects":["leaf"]}`}
	b := NewLangChainBackend("local", m)

	vr, err := b.VisionComplete(context.Background(), "https://example.com/leaf.jpg", "Describe", "")
	require.NoError(t, err)
	assert.Equal(t, "a leaf", vr.Description)
	require.Len(t, m.messages, 1)
	require.Len(t, m.messages[0].Parts, 2)
	img, ok := m.messages[0].Parts[1].(llms.ImageURLContent)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/leaf.jpg", img.URL)
}

func TestLangChainBackend_Errors(t *testing.T) {
	b := NewLangChainBackend("", &fakeModel{err: errors.New("quota")})
	_, err := b.Complete(context.Background(), "p", "", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")

	b = NewLangChainBackend("", &fakeModel{answer: ""})
	_, err = b.Complete(context.Background(), "p", "", 0, 0)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

// =============================================================================
// RateLimited and helpers
// =============================================================================

type countingBackend struct {
	calls atomic.Int32
}

func (c *countingBackend) Name() string { return "counting" }

func (c *countingBackend) Complete(ctx context.Context, prompt, modelHint string, temperature float32, maxTokens int) (Completion, error) {
	c.calls.Add(1)
	return Completion{Text: "ok"}, nil
}

func (c *countingBackend) VisionComplete(ctx context.Context, imageRef, prompt, modelHint string) (VisionResult, error) {
	c.calls.Add(1)
	return VisionResult{Description: "ok"}, nil
}

func TestRateLimited(t *testing.T) {
	inner := &countingBackend{}
	b := NewRateLimited(inner, 1, 1)
	assert.Equal(t, "counting", b.Name())

	_, err := b.Complete(context.Background(), "p", "", 0, 0)
	require.NoError(t, err)

	// The bucket is empty; the next call must wait about a second, which
	// exceeds this deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.VisionComplete(ctx, "ref", "p", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNew_WrapsRateLimit(t *testing.T) {
	b, err := New(Config{Provider: "ollama", BaseURL: "http://localhost:11434", RequestsPerSecond: 5})
	require.NoError(t, err)
	_, ok := b.(*RateLimited)
	assert.True(t, ok)
	assert.Equal(t, "ollama", b.Name())
}

func TestParseVisionAnswer(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want VisionResult
	}{
		{"plain json", `{"description":"cat","confidence":0.5}`, VisionResult{Description: "cat", Confidence: 0.5}},
		{"fenced json", "```json\n{\"description\":\"dog\"}\n```", VisionResult{Description: "dog"}},
		{"error report", `{"error":"image unreadable"}`, VisionResult{Error: "image unreadable"}},
		{"out of range confidence", `{"description":"x","confidence":7}`, VisionResult{Description: "x"}},
		{"free text", "A red barn at dusk.", VisionResult{Description: "A red barn at dusk."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVisionAnswer(tt.raw))
		})
	}
}
