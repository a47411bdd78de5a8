// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ParseDurationJSON decodes a JSON duration. It accepts a Go duration
// string such as "30s" or "1m30s", or a number of nanoseconds. null
// decodes to zero.
func ParseDurationJSON(data []byte) (time.Duration, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return d, nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, fmt.Errorf("invalid duration %s: %w", data, err)
	}
	return time.Duration(n), nil
}

// FormatDurationJSON is the string form written by MarshalJSON
// implementations. Zero formats as "".
func FormatDurationJSON(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// MarshalJSON writes MaxProcessingTime as a duration string.
func (o Options) MarshalJSON() ([]byte, error) {
	type plain Options
	return json.Marshal(struct {
		plain
		MaxProcessingTime string `json:"max_processing_time,omitempty"`
	}{
		plain:             plain(o),
		MaxProcessingTime: FormatDurationJSON(o.MaxProcessingTime),
	})
}

// UnmarshalJSON reads MaxProcessingTime as a duration string ("90s") or
// as nanoseconds.
func (o *Options) UnmarshalJSON(data []byte) error {
	type plain Options
	aux := struct {
		*plain
		MaxProcessingTime json.RawMessage `json:"max_processing_time,omitempty"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := ParseDurationJSON(aux.MaxProcessingTime)
	if err != nil {
		return fmt.Errorf("max_processing_time: %w", err)
	}
	o.MaxProcessingTime = d
	return nil
}
