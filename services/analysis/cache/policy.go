// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

// DefaultMinAnalysisLength is the shortest analysis text worth caching.
const DefaultMinAnalysisLength = 10

// SensitivePatterns holds the embedded sensitive content classifications.
//
//go:embed sensitive_patterns.yaml
var SensitivePatterns []byte

// ConfidenceLevel is how reliable a pattern match is.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// UnmarshalYAML rejects unknown confidence levels.
func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch level := ConfidenceLevel(s); level {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		*c = level
		return nil
	default:
		return fmt.Errorf("invalid value for confidence: %q", s)
	}
}

// Pattern is one regex of a classification.
type Pattern struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`
	compiled    *regexp.Regexp
}

// Classification groups patterns under a name.
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// classificationFile is the root of the patterns document.
type classificationFile struct {
	Keywords        []string         `yaml:"keywords"`
	Classifications []Classification `yaml:"classifications"`
}

// Finding describes why content was classified as sensitive.
type Finding struct {
	Classification string
	PatternID      string
	Confidence     ConfidenceLevel
}

// Policy decides whether a result set may be cached.
//
// Description:
//
//	A result set is rejected when it is empty, when any result is flagged
//	as an error, when any analysis text is shorter than MinAnalysisLength,
//	or when any result's text matches a sensitive keyword or pattern.
//
// Thread Safety:
//
//	Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	MinAnalysisLength int

	classifications []Classification
	keywords        *goahocorasick.Machine
}

// NewPolicy builds a policy from the embedded patterns.
func NewPolicy(minAnalysisLength int) (*Policy, error) {
	return NewPolicyFromYAML(SensitivePatterns, minAnalysisLength)
}

// NewPolicyFromYAML builds a policy from a patterns document.
func NewPolicyFromYAML(data []byte, minAnalysisLength int) (*Policy, error) {
	var file classificationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sensitive patterns: %w", err)
	}

	for i := range file.Classifications {
		for j := range file.Classifications[i].Patterns {
			p := &file.Classifications[i].Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile the regex %s: %w", p.ID, err)
			}
			p.compiled = re
		}
	}
	sort.SliceStable(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})

	policy := &Policy{
		MinAnalysisLength: minAnalysisLength,
		classifications:   file.Classifications,
	}

	keywords := lo.Uniq(lo.FilterMap(file.Keywords, func(k string, _ int) (string, bool) {
		k = strings.ToLower(strings.TrimSpace(k))
		return k, k != ""
	}))
	if len(keywords) > 0 {
		sort.Strings(keywords)
		m := new(goahocorasick.Machine)
		if err := m.Build(lo.Map(keywords, func(k string, _ int) []rune { return []rune(k) })); err != nil {
			return nil, fmt.Errorf("building keyword matcher: %w", err)
		}
		policy.keywords = m
	}
	return policy, nil
}

// ShouldCache reports whether results may be stored, and if not, why.
func (p *Policy) ShouldCache(results []datatypes.Result) (bool, string) {
	if len(results) == 0 {
		return false, "empty result set"
	}
	for _, r := range results {
		if r.Error {
			return false, "result flagged as error"
		}
		if len(strings.TrimSpace(r.Payload.Analysis)) < p.MinAnalysisLength {
			return false, "analysis too short"
		}
		for _, text := range resultTexts(r) {
			if f, ok := p.Classify(text); ok {
				return false, "sensitive content: " + f.Classification + "/" + f.PatternID
			}
		}
	}
	return true, ""
}

// Classify returns the first sensitive finding in text.
func (p *Policy) Classify(text string) (Finding, bool) {
	if text == "" {
		return Finding{}, false
	}
	if p.keywords != nil {
		terms := p.keywords.MultiPatternSearch([]rune(strings.ToLower(text)), true)
		if len(terms) > 0 {
			return Finding{
				Classification: "secret",
				PatternID:      "keyword:" + string(terms[0].Word),
				Confidence:     ConfidenceHigh,
			}, true
		}
	}
	for _, c := range p.classifications {
		for _, pat := range c.Patterns {
			if pat.compiled.MatchString(text) {
				return Finding{Classification: c.Name, PatternID: pat.ID, Confidence: pat.Confidence}, true
			}
		}
	}
	return Finding{}, false
}

// resultTexts returns the free text of a result.
func resultTexts(r datatypes.Result) []string {
	texts := make([]string, 0, 1+len(r.Payload.Insights)+len(r.Payload.Recommendations))
	texts = append(texts, r.Payload.Analysis)
	texts = append(texts, r.Payload.Insights...)
	texts = append(texts, r.Payload.Recommendations...)
	for _, v := range r.Payload.Data {
		if s, ok := v.(string); ok {
			texts = append(texts, s)
		}
	}
	return texts
}
