// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/mosaic/pkg/ux"
	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/analysis/pipelines"
)

func renderResults(p *ux.Printer, req datatypes.Request, results []datatypes.Result) {
	p.Title(fmt.Sprintf("Request %s", req.ID))
	p.Muted(fmt.Sprintf("%d of %d modalities produced results", len(results), len(req.Modalities)))
	for _, r := range results {
		heading := string(r.Modality)
		if r.StageID != "" {
			heading += " / " + r.StageID
		}
		icon := ux.IconSuccess
		if r.Error {
			icon = ux.IconError
		}
		p.Status(icon, heading)
		p.Field("confidence", fmt.Sprintf("%.2f", r.Confidence))
		if r.Metadata.Model != "" {
			p.Field("model", r.Metadata.Provider+"/"+r.Metadata.Model)
		}
		p.Field("time", r.ProcessingTime.Round(time.Millisecond))
		if a := strings.TrimSpace(r.Payload.Analysis); a != "" {
			p.Box("analysis", a)
		}
		p.List("insights", r.Payload.Insights)
		p.List("recommendations", r.Payload.Recommendations)
	}
}

func renderPipelines(p *ux.Printer, ps []pipelines.Pipeline) {
	p.Title("Pipelines")
	for _, pl := range ps {
		mode := "sequential"
		if pl.Parallel {
			mode = "parallel"
		}
		p.Status(ux.IconArrow, fmt.Sprintf("%s (%s, %d stages)", pl.Name, mode, len(pl.Stages)))
		if pl.Description != "" {
			p.Muted("  " + pl.Description)
		}
		for _, st := range pl.Stages {
			line := fmt.Sprintf("%s [%s]", st.ID, st.Capability)
			if len(st.DependsOn) > 0 {
				line += " after " + strings.Join(st.DependsOn, ", ")
			}
			p.Field("stage", line)
		}
	}
}
