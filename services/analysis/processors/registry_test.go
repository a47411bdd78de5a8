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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

type panickyProcessor struct {
	base
}

func (p *panickyProcessor) Process(ctx context.Context, requestID string, item datatypes.ModalityItem, pctx Context) (datatypes.Result, error) {
	panic("boom")
}

func TestRegistry_DefaultKinds(t *testing.T) {
	r := NewDefaultRegistry(&fakeBackend{})
	assert.Equal(t, []datatypes.ModalityKind{
		datatypes.ModalityAudio,
		datatypes.ModalityCode,
		datatypes.ModalityImage,
		datatypes.ModalityText,
		datatypes.ModalityVideo,
	}, r.Kinds())

	p, err := r.Get(datatypes.ModalityImage)
	require.NoError(t, err)
	assert.True(t, p.CanProcess(CapVision))
	assert.False(t, p.CanProcess(CapTextAnalysis))
}

func TestRegistry_CapabilityTable(t *testing.T) {
	r := NewDefaultRegistry(&fakeBackend{})
	tests := []struct {
		capability string
		kind       datatypes.ModalityKind
	}{
		{CapTextAnalysis, datatypes.ModalityText},
		{CapReportGeneration, datatypes.ModalityText},
		{CapSyntaxAnalysis, datatypes.ModalityCode},
		{CapSecurityScan, datatypes.ModalityCode},
		{CapVision, datatypes.ModalityImage},
		{CapObjectDetection, datatypes.ModalityImage},
		{CapTranscription, datatypes.ModalityAudio},
		{CapTemporalAnalysis, datatypes.ModalityVideo},
	}
	for _, tt := range tests {
		t.Run(tt.capability, func(t *testing.T) {
			assert.True(t, r.Supports(tt.capability))
			for _, kind := range datatypes.AllModalityKinds {
				p, err := r.Get(kind)
				require.NoError(t, err)
				assert.Equal(t, kind == tt.kind, p.CanProcess(tt.capability), "kind %s", kind)
			}
		})
	}
	assert.False(t, r.Supports("telepathy"))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(NewTextProcessor(&fakeBackend{})))

	err := r.Register(NewTextProcessor(&fakeBackend{}))
	assert.ErrorIs(t, err, ErrDuplicateProcessor)

	r.Seal()
	err = r.Register(NewCodeProcessor(&fakeBackend{}))
	assert.ErrorIs(t, err, ErrRegistrySealed)

	assert.Error(t, r.Register(nil))
}

func TestRegistry_GetUnavailable(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Get(datatypes.ModalityVideo)
	require.Error(t, err)
	assert.ErrorIs(t, err, datatypes.ErrProcessorUnavailable)

	var pu *datatypes.ProcessorUnavailableError
	require.True(t, errors.As(err, &pu))
	assert.Equal(t, datatypes.ModalityVideo, pu.Kind)
}

func TestRegistry_BindFirstMatch(t *testing.T) {
	r := NewDefaultRegistry(&fakeBackend{})
	items := []datatypes.ModalityItem{
		{Kind: datatypes.ModalityText, Data: "notes"},
		{Kind: datatypes.ModalityImage, Data: "https://example.com/a.jpg"},
		{Kind: datatypes.ModalityImage, Data: "https://example.com/b.jpg"},
	}

	b, ok := r.Bind(CapVision, items)
	require.True(t, ok)
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, "https://example.com/a.jpg", b.Item.Data)
	assert.Equal(t, datatypes.ModalityImage, b.Processor.Kind())

	b, ok = r.Bind(CapReportGeneration, items)
	require.True(t, ok)
	assert.Equal(t, 0, b.Index)

	_, ok = r.Bind(CapSecurityScan, items)
	assert.False(t, ok, "no code item, stage is skipped")
}

func TestRegistry_ProcessRecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	o := buildOptions(nil)
	require.NoError(t, r.Register(&panickyProcessor{
		base: newBase(datatypes.ModalityText, []string{CapTextAnalysis}, &fakeBackend{}, o),
	}))

	_, err := r.Process(context.Background(), "req-1",
		datatypes.ModalityItem{Kind: datatypes.ModalityText, Data: "x"}, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRegistry_ProcessDispatchesByKind(t *testing.T) {
	be := &fakeBackend{answer: "fine"}
	r := NewDefaultRegistry(be)

	res, err := r.Process(context.Background(), "req-7",
		datatypes.ModalityItem{Kind: datatypes.ModalityCode, Data: "x = 1"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, datatypes.ModalityCode, res.Modality)
	assert.Equal(t, "req-7", res.RequestID)
	assert.Equal(t, CapCodeAnalysis, res.Payload.Data["capability"])
}
