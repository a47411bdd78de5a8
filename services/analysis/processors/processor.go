// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package processors implements the modality processors and their registry.
//
// There is exactly one Processor per ModalityKind. Each declares the
// capability tags it satisfies; capability tags are coarser than kinds, so
// a pipeline stage names a capability ("vision") and the registry binds it
// to whichever registered kind supports it.
//
// Processors are the only callers of the inference backend. A backend
// failure is returned as *datatypes.ProviderError; processors never panic
// on backend errors and the registry recovers from processor panics.
package processors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/llm"
)

// Capability tags. Stages name one of these.
const (
	CapTextAnalysis     = "text_analysis"
	CapSummarization    = "summarization"
	CapSentiment        = "sentiment"
	CapReportGeneration = "report_generation"

	CapCodeAnalysis   = "code_analysis"
	CapSyntaxAnalysis = "syntax_analysis"
	CapSecurityScan   = "security_scan"
	CapOptimization   = "optimization"

	CapVision          = "vision"
	CapImageAnalysis   = "image_analysis"
	CapObjectDetection = "object_detection"

	CapAudioAnalysis = "audio_analysis"
	CapTranscription = "transcription"

	CapVideoAnalysis    = "video_analysis"
	CapTemporalAnalysis = "temporal_analysis"
)

// Processor analyzes one ModalityItem.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Processor interface {
	// Kind is the modality this processor handles.
	Kind() datatypes.ModalityKind

	// Capabilities lists the tags this processor satisfies. The first entry
	// is the default used for direct per-modality dispatch.
	Capabilities() []string

	// CanProcess reports whether capability is one of Capabilities.
	CanProcess(capability string) bool

	// Process analyzes item and returns one Result owned by requestID.
	Process(ctx context.Context, requestID string, item datatypes.ModalityItem, pctx Context) (datatypes.Result, error)
}

// Context is the enriched context a processor receives.
//
// Direct dispatch fills the request fields only. The DAG scheduler adds the
// stage fields and the results of the stage's dependencies that completed.
// Missing dependencies are simply absent from Dependencies.
type Context struct {
	Domain       string
	SessionID    string
	UserID       string
	PriorResults []datatypes.Result
	Quality      datatypes.Quality

	// Capability requested by the stage; empty means the processor default.
	Capability string

	StageID      string
	StageName    string
	StageConfig  map[string]any
	Dependencies map[string]datatypes.Result
}

// NewContext builds the request part of a Context.
func NewContext(req datatypes.Request) Context {
	pctx := Context{Quality: req.EffectiveQuality()}
	if req.Context != nil {
		pctx.Domain = req.Context.Domain
		pctx.SessionID = req.Context.SessionID
		pctx.UserID = req.Context.UserID
		pctx.PriorResults = req.Context.PriorResults
	}
	return pctx
}

// ConfigString returns a string stage config value or "".
func (c Context) ConfigString(key string) string {
	if v, ok := c.StageConfig[key].(string); ok {
		return v
	}
	return ""
}

// ConfigFloat returns a numeric stage config value.
func (c Context) ConfigFloat(key string) (float64, bool) {
	switch v := c.StageConfig[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// base carries what every built-in processor shares.
type base struct {
	kind              datatypes.ModalityKind
	capabilities      []string
	backend           llm.Backend
	logger            *slog.Logger
	modelHint         string
	defaultConfidence float64
}

func newBase(kind datatypes.ModalityKind, caps []string, backend llm.Backend, o options) base {
	return base{
		kind:              kind,
		capabilities:      caps,
		backend:           backend,
		logger:            o.logger.With(slog.String("processor", string(kind))),
		modelHint:         o.modelHints[kind],
		defaultConfidence: o.confidence[kind],
	}
}

// Kind implements Processor.
func (b *base) Kind() datatypes.ModalityKind {
	return b.kind
}

// Capabilities implements Processor.
func (b *base) Capabilities() []string {
	return append([]string(nil), b.capabilities...)
}

// CanProcess implements Processor.
func (b *base) CanProcess(capability string) bool {
	return lo.Contains(b.capabilities, capability)
}

// capability resolves the requested capability, falling back to the default.
func (b *base) capability(pctx Context) string {
	if pctx.Capability != "" && b.CanProcess(pctx.Capability) {
		return pctx.Capability
	}
	return b.capabilities[0]
}

// generation returns the model hint, temperature and token budget for a
// call, honoring stage config overrides.
func (b *base) generation(pctx Context) (string, float32, int) {
	model := b.modelHint
	if m := pctx.ConfigString("model"); m != "" {
		model = m
	}

	temperature := float32(0.2)
	maxTokens := 1024
	switch pctx.Quality {
	case datatypes.QualityFast:
		maxTokens = 512
	case datatypes.QualityHigh:
		maxTokens = 2048
		temperature = 0.1
	}
	if v, ok := pctx.ConfigFloat("temperature"); ok {
		temperature = float32(v)
	}
	if v, ok := pctx.ConfigFloat("max_tokens"); ok && v > 0 {
		maxTokens = int(v)
	}
	return model, temperature, maxTokens
}

// complete runs a text completion and converts the answer into a Result.
func (b *base) complete(ctx context.Context, requestID string, item datatypes.ModalityItem,
	pctx Context, prompt string, data map[string]any) (datatypes.Result, error) {

	start := time.Now()
	model, temperature, maxTokens := b.generation(pctx)
	c, err := b.backend.Complete(ctx, prompt, model, temperature, maxTokens)
	if err != nil {
		b.logger.Warn("Backend completion failed",
			slog.String("request_id", requestID),
			slog.String("stage_id", pctx.StageID),
			slog.String("error", err.Error()))
		return datatypes.Result{}, datatypes.NewProviderError(b.backend.Name(), b.kind, err)
	}

	res := b.newResult(requestID, pctx, c.Text, data, time.Since(start))
	res.Metadata.Model = c.Model
	res.Metadata.PromptTokens = c.PromptTokens
	res.Metadata.CompletionTokens = c.CompletionTokens
	return res, nil
}

// vision runs a vision completion and converts the answer into a Result.
// A model-reported error marks the Result with Error rather than failing.
func (b *base) vision(ctx context.Context, requestID string, imageRef string,
	pctx Context, prompt string, data map[string]any) (datatypes.Result, error) {

	start := time.Now()
	model, _, _ := b.generation(pctx)
	vr, err := b.backend.VisionComplete(ctx, imageRef, prompt, model)
	if err != nil {
		b.logger.Warn("Backend vision call failed",
			slog.String("request_id", requestID),
			slog.String("stage_id", pctx.StageID),
			slog.String("error", err.Error()))
		return datatypes.Result{}, datatypes.NewProviderError(b.backend.Name(), b.kind, err)
	}

	if data == nil {
		data = map[string]any{}
	}
	if len(vr.Objects) > 0 {
		data["objects"] = vr.Objects
	}
	analysis := vr.Description
	if vr.Error != "" {
		data["backend_error"] = vr.Error
		if analysis == "" {
			analysis = vr.Error
		}
	}

	res := b.newResult(requestID, pctx, analysis, data, time.Since(start))
	if vr.Confidence > 0 {
		res.Confidence = vr.Confidence
	}
	if vr.Error != "" {
		res.Error = true
		res.Confidence = 0
	}
	res.Metadata.Model = vr.Model
	res.Metadata.PromptTokens = vr.PromptTokens
	res.Metadata.CompletionTokens = vr.CompletionTokens
	return res, nil
}

func (b *base) newResult(requestID string, pctx Context, answer string,
	data map[string]any, elapsed time.Duration) datatypes.Result {

	insights, recommendations := ParseAnswer(answer)
	if data == nil {
		data = map[string]any{}
	}
	data["capability"] = b.capability(pctx)
	return datatypes.Result{
		ID:             uuid.NewString(),
		RequestID:      requestID,
		Modality:       b.kind,
		StageID:        pctx.StageID,
		Confidence:     b.defaultConfidence,
		ProcessingTime: elapsed,
		Payload: datatypes.Payload{
			Analysis:        strings.TrimSpace(answer),
			Insights:        insights,
			Recommendations: recommendations,
			Data:            data,
		},
		Metadata: datatypes.ResultMetadata{
			Provider:  b.backend.Name(),
			Timestamp: time.Now().UTC(),
		},
	}
}

// ParseAnswer extracts bullet insights and recommendations from an answer.
//
// Lines starting with "- " or "* " are insights. Lines starting with
// "Recommendation:" (any case) are recommendations. Duplicates are dropped.
func ParseAnswer(answer string) (insights, recommendations []string) {
	for _, raw := range strings.Split(answer, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			if s := strings.TrimSpace(line[2:]); s != "" {
				insights = append(insights, s)
			}
		case len(line) > len("recommendation:") &&
			strings.EqualFold(line[:len("recommendation:")], "recommendation:"):
			if s := strings.TrimSpace(line[len("recommendation:"):]); s != "" {
				recommendations = append(recommendations, s)
			}
		}
	}
	return lo.Uniq(insights), lo.Uniq(recommendations)
}

// contextSection renders prior and dependency results for a prompt.
// Dependencies are listed in stage id order so prompts are reproducible.
func contextSection(pctx Context) string {
	var sb strings.Builder
	if len(pctx.Dependencies) > 0 {
		ids := lo.Keys(pctx.Dependencies)
		sort.Strings(ids)
		sb.WriteString("\nFindings from earlier analysis steps:\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "[%s] %s\n", id, pctx.Dependencies[id].Payload.Analysis)
		}
	}
	if len(pctx.PriorResults) > 0 {
		sb.WriteString("\nPrevious results for this session:\n")
		for _, r := range pctx.PriorResults {
			fmt.Fprintf(&sb, "- (%s) %s\n", r.Modality, r.Payload.Analysis)
		}
	}
	return sb.String()
}

// buildPrompt assembles the full prompt for a task.
func buildPrompt(task string, pctx Context, body string) string {
	var sb strings.Builder
	if p := pctx.ConfigString("prompt"); p != "" {
		task = p
	}
	sb.WriteString(task)
	if pctx.Domain != "" {
		fmt.Fprintf(&sb, "\nDomain: %s.", pctx.Domain)
	}
	if focus := pctx.ConfigString("focus"); focus != "" {
		fmt.Fprintf(&sb, "\nFocus on: %s.", focus)
	}
	sb.WriteString("\nList key findings as lines starting with \"- \" and actionable advice as lines starting with \"Recommendation:\".\n")
	sb.WriteString(contextSection(pctx))
	if body != "" {
		sb.WriteString("\nInput:\n")
		sb.WriteString(body)
	}
	return sb.String()
}
