// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fingerprint derives deterministic cache and deduplication keys
// from analysis requests.
//
// A fingerprint covers each modality's kind, payload size and metadata plus
// the request context. The request id and the processing options are
// excluded, so two callers submitting the same input under different ids
// share one computation.
//
// Two modes exist:
//
//   - ModeContentDigest (default) adds a 64-bit xxhash of every payload, so
//     equal-sized payloads with different bytes do not collide.
//   - ModeShape hashes sizes only. Equal-sized payloads with identical
//     metadata collide on purpose; hashing stays O(number of items).
//
// # Thread Safety
//
// Fingerprinter is immutable and safe for concurrent use.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

// Mode selects how payload bytes contribute to the fingerprint.
type Mode string

const (
	// ModeContentDigest includes a digest of each payload.
	ModeContentDigest Mode = "content"

	// ModeShape includes only payload sizes.
	ModeShape Mode = "shape"
)

// ParseMode parses a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeContentDigest:
		return ModeContentDigest, nil
	case ModeShape:
		return ModeShape, nil
	default:
		return "", fmt.Errorf("unknown fingerprint mode %q", s)
	}
}

// Fingerprinter computes request and item fingerprints.
type Fingerprinter struct {
	mode Mode
}

// New creates a Fingerprinter. An empty mode means ModeContentDigest.
func New(mode Mode) *Fingerprinter {
	if mode == "" {
		mode = ModeContentDigest
	}
	return &Fingerprinter{mode: mode}
}

// Mode returns the configured mode.
func (f *Fingerprinter) Mode() Mode {
	return f.mode
}

// itemShape is the normalized, serializable view of a ModalityItem.
type itemShape struct {
	Kind     datatypes.ModalityKind     `json:"k"`
	Size     int64                      `json:"s"`
	Digest   string                     `json:"d,omitempty"`
	Metadata datatypes.ModalityMetadata `json:"m"`
}

// contextShape is the normalized view of a RequestContext. Prior results
// are reduced to their ids and analysis digests to keep the key small.
type contextShape struct {
	Domain    string   `json:"domain,omitempty"`
	SessionID string   `json:"session,omitempty"`
	UserID    string   `json:"user,omitempty"`
	Prior     []string `json:"prior,omitempty"`
}

type requestShape struct {
	Items   []itemShape   `json:"items"`
	Context *contextShape `json:"ctx,omitempty"`
}

// Fingerprint returns the hex SHA-256 fingerprint of a request.
//
// Description:
//
//	Serializes the request's modality shapes and context deterministically
//	(JSON encodes struct fields in declaration order and map keys sorted)
//	and hashes the bytes. Identical requests always yield identical
//	fingerprints; the request id never influences the result.
//
// Inputs:
//
//	req - The request. Must have been validated.
//
// Outputs:
//
//	string - 64 hex characters.
func (f *Fingerprinter) Fingerprint(req datatypes.Request) string {
	shape := requestShape{
		Items:   make([]itemShape, 0, len(req.Modalities)),
		Context: f.normalizeContext(req.Context),
	}
	for _, item := range req.Modalities {
		shape.Items = append(shape.Items, f.normalizeItem(item))
	}
	return hashJSON(shape)
}

// ItemFingerprint returns the fingerprint of a single modality under a
// request context. It keys per-modality partial reuse.
func (f *Fingerprinter) ItemFingerprint(item datatypes.ModalityItem, rc *datatypes.RequestContext) string {
	shape := requestShape{
		Items:   []itemShape{f.normalizeItem(item)},
		Context: f.normalizeContext(rc),
	}
	return "item:" + hashJSON(shape)
}

func (f *Fingerprinter) normalizeItem(item datatypes.ModalityItem) itemShape {
	shape := itemShape{
		Kind:     item.Kind,
		Size:     item.Size(),
		Metadata: item.Metadata,
	}
	if f.mode == ModeContentDigest {
		shape.Digest = fmt.Sprintf("%016x", xxhash.Sum64String(item.Data))
	}
	return shape
}

func (f *Fingerprinter) normalizeContext(rc *datatypes.RequestContext) *contextShape {
	if rc == nil {
		return nil
	}
	cs := &contextShape{
		Domain:    rc.Domain,
		SessionID: rc.SessionID,
		UserID:    rc.UserID,
	}
	for _, prior := range rc.PriorResults {
		cs.Prior = append(cs.Prior,
			fmt.Sprintf("%s:%016x", prior.ID, xxhash.Sum64String(prior.Payload.Analysis)))
	}
	if cs.Domain == "" && cs.SessionID == "" && cs.UserID == "" && len(cs.Prior) == 0 {
		return nil
	}
	return cs
}

func hashJSON(v any) string {
	// Marshal cannot fail for these shapes: no channels, funcs or cycles.
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
