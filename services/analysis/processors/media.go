// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package processors

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/llm"
)

// sniffLimit is how many payload bytes are inspected for MIME detection.
const sniffLimit = 3072

var imageTasks = map[string]string{
	CapVision:          "Describe this image in detail, including its subject, condition and anything unusual.",
	CapImageAnalysis:   "Analyze this image. Assess quality, composition and notable features.",
	CapObjectDetection: "List every distinct object visible in this image with its approximate position.",
}

var audioTasks = map[string]string{
	CapAudioAnalysis: "Analyze the following audio recording. Identify speakers, topics and tone.",
	CapTranscription: "Clean up the following transcript: fix punctuation and mark speaker changes.",
}

var videoTasks = map[string]string{
	CapVideoAnalysis:    "Analyze this video. Describe the scene, the subjects and what happens.",
	CapTemporalAnalysis: "Describe how the scene in this video changes over time and point out key moments.",
}

// ImageProcessor analyzes still images through the vision backend.
type ImageProcessor struct {
	base
}

// NewImageProcessor creates an ImageProcessor.
func NewImageProcessor(backend llm.Backend, opts ...Option) *ImageProcessor {
	return &ImageProcessor{
		base: newBase(datatypes.ModalityImage,
			[]string{CapVision, CapImageAnalysis, CapObjectDetection},
			backend, buildOptions(opts)),
	}
}

// Process implements Processor. Item.Data is the image reference.
func (p *ImageProcessor) Process(ctx context.Context, requestID string, item datatypes.ModalityItem,
	pctx Context) (datatypes.Result, error) {

	data := mediaData(item)
	if strings.TrimSpace(item.Data) == "" {
		return datatypes.Result{}, fmt.Errorf("image item has no reference")
	}
	task := imageTasks[p.capability(pctx)]
	return p.vision(ctx, requestID, item.Data, pctx, buildPrompt(task, pctx, ""), data)
}

// AudioProcessor analyzes audio through its transcript.
//
// The transcript comes from metadata extra "transcript", or from Data when
// Data is text. Without one, only the recording's metadata is analyzed.
type AudioProcessor struct {
	base
}

// NewAudioProcessor creates an AudioProcessor.
func NewAudioProcessor(backend llm.Backend, opts ...Option) *AudioProcessor {
	return &AudioProcessor{
		base: newBase(datatypes.ModalityAudio,
			[]string{CapAudioAnalysis, CapTranscription},
			backend, buildOptions(opts)),
	}
}

// Process implements Processor.
func (p *AudioProcessor) Process(ctx context.Context, requestID string, item datatypes.ModalityItem,
	pctx Context) (datatypes.Result, error) {

	data := mediaData(item)
	transcript := item.Extra(datatypes.ExtraTranscript)
	if transcript == "" && isTextPayload(item.Data) {
		transcript = item.Data
	}

	var body string
	if transcript != "" {
		data["has_transcript"] = true
		body = "Transcript:\n" + transcript
	} else {
		data["has_transcript"] = false
		body = describeMedia(item, data)
	}
	task := audioTasks[p.capability(pctx)]
	return p.complete(ctx, requestID, item, pctx, buildPrompt(task, pctx, body), data)
}

// VideoProcessor analyzes video through a keyframe when one is given, and
// through its metadata otherwise.
type VideoProcessor struct {
	base
}

// NewVideoProcessor creates a VideoProcessor.
func NewVideoProcessor(backend llm.Backend, opts ...Option) *VideoProcessor {
	return &VideoProcessor{
		base: newBase(datatypes.ModalityVideo,
			[]string{CapVideoAnalysis, CapTemporalAnalysis},
			backend, buildOptions(opts)),
	}
}

// Process implements Processor.
func (p *VideoProcessor) Process(ctx context.Context, requestID string, item datatypes.ModalityItem,
	pctx Context) (datatypes.Result, error) {

	data := mediaData(item)
	task := videoTasks[p.capability(pctx)]
	if keyframe := item.Extra(datatypes.ExtraKeyframe); keyframe != "" {
		data["keyframe"] = true
		prompt := buildPrompt(task+" You are given a representative keyframe.", pctx, describeMedia(item, data))
		return p.vision(ctx, requestID, keyframe, pctx, prompt, data)
	}
	data["keyframe"] = false
	return p.complete(ctx, requestID, item, pctx, buildPrompt(task, pctx, describeMedia(item, data)), data)
}

// mediaData seeds the auxiliary data of a media result with the MIME type,
// sniffed from inline payloads when metadata does not declare one.
func mediaData(item datatypes.ModalityItem) map[string]any {
	data := map[string]any{}
	if item.Metadata.MimeType != "" {
		data["mime_type"] = item.Metadata.MimeType
	} else if mt := sniffMime(item.Data); mt != "" {
		data["mime_type"] = mt
		data["mime_sniffed"] = true
	}
	if r := item.Metadata.Resolution; r != nil {
		data["resolution"] = fmt.Sprintf("%dx%d", r.Width, r.Height)
	}
	if item.Metadata.DurationSeconds > 0 {
		data["duration_seconds"] = item.Metadata.DurationSeconds
	}
	return data
}

// sniffMime detects the MIME type of a data URI or an inline payload. URLs
// are not fetched.
func sniffMime(payload string) string {
	if payload == "" || strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return ""
	}
	raw := []byte(payload)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.Index(payload, ",")
		if comma < 0 {
			return ""
		}
		enc := payload[comma+1:]
		if len(enc) > sniffLimit*2 {
			enc = enc[:sniffLimit*2]
		}
		// Truncating may cut a quantum; decode what is complete.
		enc = enc[:len(enc)-len(enc)%4]
		decoded, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return ""
		}
		raw = decoded
	}
	if len(raw) > sniffLimit {
		raw = raw[:sniffLimit]
	}
	return mimetype.Detect(raw).String()
}

// isTextPayload reports whether a payload looks like plain text rather
// than a reference or binary data.
func isTextPayload(payload string) bool {
	if payload == "" || strings.HasPrefix(payload, "data:") ||
		strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return false
	}
	return strings.HasPrefix(sniffMime(payload), "text/plain")
}

func describeMedia(item datatypes.ModalityItem, data map[string]any) string {
	var parts []string
	if mt, ok := data["mime_type"].(string); ok {
		parts = append(parts, "type "+mt)
	}
	if d := item.Metadata.DurationSeconds; d > 0 {
		parts = append(parts, fmt.Sprintf("duration %.1fs", d))
	}
	if r, ok := data["resolution"].(string); ok {
		parts = append(parts, "resolution "+r)
	}
	if name := item.Extra(datatypes.ExtraFilename); name != "" {
		parts = append(parts, "file "+name)
	}
	if len(parts) == 0 {
		return "Recording metadata: none available."
	}
	return "Recording metadata: " + strings.Join(parts, ", ") + "."
}
