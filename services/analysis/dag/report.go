// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

var (
	// ErrNilContext is returned when Run is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrStageFailed is wrapped by StageError in fail-fast mode.
	ErrStageFailed = errors.New("stage failed")
)

// StageError reports the stage that aborted a fail-fast run.
type StageError struct {
	Stage string
	Err   error
}

// Error returns the error message.
func (e *StageError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrStageFailed, e.Stage, e.Err)
}

// Unwrap returns both ErrStageFailed and the cause.
func (e *StageError) Unwrap() []error {
	return []error{ErrStageFailed, e.Err}
}

// StageStatus is the outcome of one stage in a run.
type StageStatus string

const (
	// StageCompleted produced a result.
	StageCompleted StageStatus = "completed"

	// StageFailed returned an error or timed out.
	StageFailed StageStatus = "failed"

	// StageSkipped had no modality satisfying its capability.
	StageSkipped StageStatus = "skipped"

	// StageNotRun was never started because the run ended early.
	StageNotRun StageStatus = "not_run"
)

// StageReport describes what happened to one stage.
type StageReport struct {
	StageID  string
	Status   StageStatus
	Modality datatypes.ModalityKind
	Started  time.Time
	Duration time.Duration
	Err      error
}

// RunReport is the detailed outcome of a pipeline run.
type RunReport struct {
	RunID    string
	Pipeline string

	// Results of completed stages, in completion order.
	Results []datatypes.Result

	// Stages in the order they settled, followed by stages not run.
	Stages []StageReport

	Duration time.Duration
}

// Stage returns the report for a stage id.
func (r *RunReport) Stage(id string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.StageID == id {
			return s, true
		}
	}
	return StageReport{}, false
}

// Count returns the number of stages with status.
func (r *RunReport) Count(status StageStatus) int {
	n := 0
	for _, s := range r.Stages {
		if s.Status == status {
			n++
		}
	}
	return n
}
