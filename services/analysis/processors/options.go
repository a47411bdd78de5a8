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
	"log/slog"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

// DefaultChunkSize is the character budget of one chunk of a long text or
// code payload.
const DefaultChunkSize = 4000

// DefaultMaxChunks bounds how many chunks of a payload reach the prompt.
const DefaultMaxChunks = 4

type options struct {
	logger     *slog.Logger
	modelHints map[datatypes.ModalityKind]string
	confidence map[datatypes.ModalityKind]float64
	chunkSize  int
	maxChunks  int
}

func defaultOptions() options {
	return options{
		logger:     slog.Default(),
		modelHints: map[datatypes.ModalityKind]string{},
		confidence: map[datatypes.ModalityKind]float64{
			datatypes.ModalityText:  0.85,
			datatypes.ModalityCode:  0.85,
			datatypes.ModalityImage: 0.8,
			datatypes.ModalityAudio: 0.75,
			datatypes.ModalityVideo: 0.7,
		},
		chunkSize: DefaultChunkSize,
		maxChunks: DefaultMaxChunks,
	}
}

// Option configures the built-in processors.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithModelHint sets the model hint passed to the backend for kind.
func WithModelHint(kind datatypes.ModalityKind, model string) Option {
	return func(o *options) {
		o.modelHints[kind] = model
	}
}

// WithChunking sets the chunk size and the number of chunks of long
// payloads that are sent to the backend.
func WithChunking(size, maxChunks int) Option {
	return func(o *options) {
		if size > 0 {
			o.chunkSize = size
		}
		if maxChunks > 0 {
			o.maxChunks = maxChunks
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
