// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Title("Results")
	p.Status(IconSuccess, "text analyzed")
	p.Field("confidence", 0.85)
	p.List("insights", []string{"first", "second"})
	p.List("empty", nil)
	p.Box("analysis", "body text\n")

	want := "Results\n" +
		"✓ text analyzed\n" +
		"  confidence: 0.85\n" +
		"  insights:\n" +
		"    • first\n" +
		"    • second\n" +
		"[analysis]\nbody text\n\n"
	assert.Equal(t, want, buf.String())
}

func TestPrinter_ColorKeepsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Status(IconError, "failed")
	p.Box("analysis", "body")

	assert.Contains(t, buf.String(), "failed")
	assert.Contains(t, buf.String(), "body")
}

func TestIsTerminal_RegularFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTerminal(f))
	ForFile(f).Title("plain")

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "plain\n", string(data))
}
