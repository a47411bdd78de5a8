// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the request, modality and result types shared by
// every stage of the analysis core.
//
// # Thread Safety
//
// Values in this package are plain data. A Request must not be mutated after
// it has been passed to the orchestrator.
package datatypes

import (
	"encoding/json"
	"fmt"
)

// ModalityKind identifies the kind of input carried by a ModalityItem.
//
// The set is closed: only the constants below are valid.
type ModalityKind string

const (
	// ModalityText is natural-language text.
	ModalityText ModalityKind = "text"

	// ModalityCode is program source code.
	ModalityCode ModalityKind = "code"

	// ModalityImage is a still image, passed by URL or data URI.
	ModalityImage ModalityKind = "image"

	// ModalityAudio is an audio clip or its transcript.
	ModalityAudio ModalityKind = "audio"

	// ModalityVideo is a video clip, usually referenced by URL.
	ModalityVideo ModalityKind = "video"
)

// AllModalityKinds lists every valid kind in declaration order.
var AllModalityKinds = []ModalityKind{
	ModalityText,
	ModalityCode,
	ModalityImage,
	ModalityAudio,
	ModalityVideo,
}

// Valid reports whether k is one of the closed set of kinds.
func (k ModalityKind) Valid() bool {
	switch k {
	case ModalityText, ModalityCode, ModalityImage, ModalityAudio, ModalityVideo:
		return true
	default:
		return false
	}
}

// String returns the kind as a string.
func (k ModalityKind) String() string {
	return string(k)
}

// UnmarshalJSON rejects kinds outside the closed set.
func (k *ModalityKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	kind := ModalityKind(s)
	if !kind.Valid() {
		return fmt.Errorf("invalid modality kind %q", s)
	}
	*k = kind
	return nil
}

// Resolution is a pixel size for images and video frames.
type Resolution struct {
	Width  int `json:"width" validate:"gte=0"`
	Height int `json:"height" validate:"gte=0"`
}

// ModalityMetadata describes a payload without carrying it.
//
// All fields are optional. Processors fill in what they can detect
// (language, MIME type) on their own copy; the caller's item is never
// modified.
type ModalityMetadata struct {
	// Language is a natural language (ISO 639-1) for text, or a programming
	// language name for code.
	Language string `json:"language,omitempty"`

	// MimeType of the payload, e.g. "image/jpeg".
	MimeType string `json:"mime_type,omitempty"`

	// DurationSeconds for audio and video.
	DurationSeconds float64 `json:"duration_seconds,omitempty" validate:"gte=0"`

	// Resolution for images and video.
	Resolution *Resolution `json:"resolution,omitempty"`

	// SizeBytes is the declared payload size. When zero the size of Data
	// is used.
	SizeBytes int64 `json:"size_bytes,omitempty" validate:"gte=0"`

	// Extra holds free-form attributes such as a transcript or a keyframe URL.
	Extra map[string]string `json:"extra,omitempty"`
}

// ModalityItem is one unit of input data.
type ModalityItem struct {
	Kind     ModalityKind     `json:"kind" validate:"required,modality_kind"`
	Data     string           `json:"data"`
	Metadata ModalityMetadata `json:"metadata"`
}

// Size returns the payload size, preferring the declared size.
func (m ModalityItem) Size() int64 {
	if m.Metadata.SizeBytes > 0 {
		return m.Metadata.SizeBytes
	}
	return int64(len(m.Data))
}

// Extra returns a metadata extra value or "".
func (m ModalityItem) Extra(key string) string {
	if m.Metadata.Extra == nil {
		return ""
	}
	return m.Metadata.Extra[key]
}

// Well-known keys for ModalityMetadata.Extra.
const (
	ExtraTranscript = "transcript"
	ExtraKeyframe   = "keyframe_url"
	ExtraFilename   = "filename"
)
