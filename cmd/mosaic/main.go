// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mosaic runs multimodal analysis requests through the
// orchestrator, either once from the command line or behind the admin
// HTTP server.
//
// Usage:
//
//	mosaic process request.json
//	cat request.json | mosaic process -
//	mosaic process --text "summarize this" --domain coding
//	mosaic pipelines
//	mosaic serve
//
// Configuration comes from MOSAIC_* environment variables; see
// services/analysis/config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "mosaic: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if isConfigError(err) {
			return exitConfig, err
		}
		return exitRuntime, err
	}
	return exitOK, nil
}

type rootFlags struct {
	pipelinesFile string
	jsonOutput    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "mosaic",
		Short:         "Multimodal analysis orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.pipelinesFile, "pipelines", "",
		"YAML file with additional pipelines (overrides MOSAIC_PIPELINES_FILE)")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false,
		"print JSON instead of formatted output")

	root.AddCommand(
		newProcessCmd(flags),
		newPipelinesCmd(flags),
		newServeCmd(flags),
	)
	return root
}
