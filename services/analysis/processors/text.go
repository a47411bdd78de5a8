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
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/llm"
)

var (
	proseSeparators = []string{"\n\n", "\n", ". ", " ", ""}
	codeSeparators  = []string{
		"\nfunc ", "\nfunction ", "\nclass ", "\ndef ", "\ninterface ",
		"\ntype ", "\n\n", "\n", " ", "",
	}
)

var textTasks = map[string]string{
	CapTextAnalysis:     "Analyze the following text. Identify its main topics, claims and notable details.",
	CapSummarization:    "Summarize the following text concisely, preserving key facts and figures.",
	CapSentiment:        "Assess the sentiment and tone of the following text and justify the assessment.",
	CapReportGeneration: "Write a structured report that consolidates the findings below into conclusions and next steps.",
}

// TextProcessor analyzes natural-language text.
type TextProcessor struct {
	base
	chunkSize int
	maxChunks int
}

// NewTextProcessor creates a TextProcessor.
func NewTextProcessor(backend llm.Backend, opts ...Option) *TextProcessor {
	o := buildOptions(opts)
	return &TextProcessor{
		base: newBase(datatypes.ModalityText,
			[]string{CapTextAnalysis, CapSummarization, CapSentiment, CapReportGeneration},
			backend, o),
		chunkSize: o.chunkSize,
		maxChunks: o.maxChunks,
	}
}

// Process implements Processor.
//
// The language is detected when metadata does not name one. Payloads longer
// than one chunk are split on paragraph boundaries and only the first
// chunks are sent.
func (p *TextProcessor) Process(ctx context.Context, requestID string, item datatypes.ModalityItem,
	pctx Context) (datatypes.Result, error) {

	data := map[string]any{}
	lang := item.Metadata.Language
	if lang == "" && strings.TrimSpace(item.Data) != "" {
		info := whatlanggo.Detect(item.Data)
		if code := info.Lang.Iso6391(); code != "" {
			lang = code
			data["detected_language"] = code
		}
	}

	body, chunks := excerpt(item.Data, p.chunkSize, p.maxChunks, proseSeparators)
	if chunks > p.maxChunks {
		data["truncated_chunks"] = chunks - p.maxChunks
	}

	task := textTasks[p.capability(pctx)]
	if lang != "" && lang != "en" {
		task += " The text is in language '" + lang + "'; answer in English."
	}
	return p.complete(ctx, requestID, item, pctx, buildPrompt(task, pctx, body), data)
}

// excerpt returns at most maxChunks chunks of text and the total number of
// chunks. Text that fits one chunk is returned unchanged.
func excerpt(text string, size, maxChunks int, separators []string) (string, int) {
	if len(text) <= size {
		return text, 1
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(size/10),
		textsplitter.WithSeparators(separators),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		if len(text) > size*maxChunks {
			return text[:size*maxChunks], (len(text) + size - 1) / size
		}
		return text, 1
	}
	if len(chunks) > maxChunks {
		return strings.Join(chunks[:maxChunks], "\n"), len(chunks)
	}
	return strings.Join(chunks, "\n"), len(chunks)
}
