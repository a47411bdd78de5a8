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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/llm"
)

var codeTasks = map[string]string{
	CapCodeAnalysis:   "Review the following source code. Describe what it does and point out defects.",
	CapSyntaxAnalysis: "Check the following source code for syntax errors, structural problems and style violations.",
	CapSecurityScan:   "Audit the following source code for security vulnerabilities such as injection, unsafe deserialization and leaked secrets. Rate each finding's severity.",
	CapOptimization:   "Suggest concrete optimizations for the following source code, covering performance, memory use and readability.",
}

var extLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".rs":   "rust",
	".rb":   "ruby",
	".php":  "php",
	".cs":   "csharp",
	".kt":   "kotlin",
	".sql":  "sql",
	".sh":   "shell",
}

// CodeProcessor analyzes program source code.
type CodeProcessor struct {
	base
	chunkSize int
	maxChunks int
}

// NewCodeProcessor creates a CodeProcessor.
func NewCodeProcessor(backend llm.Backend, opts ...Option) *CodeProcessor {
	o := buildOptions(opts)
	return &CodeProcessor{
		base: newBase(datatypes.ModalityCode,
			[]string{CapCodeAnalysis, CapSyntaxAnalysis, CapSecurityScan, CapOptimization},
			backend, o),
		chunkSize: o.chunkSize,
		maxChunks: o.maxChunks,
	}
}

// Process implements Processor.
func (p *CodeProcessor) Process(ctx context.Context, requestID string, item datatypes.ModalityItem,
	pctx Context) (datatypes.Result, error) {

	data := map[string]any{}
	lang := codeLanguage(item)
	if lang != "" {
		data["language"] = lang
	}
	data["lines"] = strings.Count(item.Data, "\n") + 1

	body, chunks := excerpt(item.Data, p.chunkSize, p.maxChunks, codeSeparators)
	if chunks > p.maxChunks {
		data["truncated_chunks"] = chunks - p.maxChunks
	}
	if lang != "" {
		body = fmt.Sprintf("```%s\n%s\n```", lang, body)
	}

	task := codeTasks[p.capability(pctx)]
	return p.complete(ctx, requestID, item, pctx, buildPrompt(task, pctx, body), data)
}

// codeLanguage prefers declared metadata, then the filename extension.
func codeLanguage(item datatypes.ModalityItem) string {
	if item.Metadata.Language != "" {
		return strings.ToLower(item.Metadata.Language)
	}
	if name := item.Extra(datatypes.ExtraFilename); name != "" {
		return extLanguages[strings.ToLower(filepath.Ext(name))]
	}
	return ""
}
