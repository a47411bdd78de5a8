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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/mosaic/pkg/ux"
	"github.com/AleutianAI/mosaic/services/analysis/admin"
	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/analysis/telemetry"
)

// maxRequestFileSize bounds request files read by the process command.
const maxRequestFileSize = 32 << 20

// ============================================================================
// process
// ============================================================================

type processFlags struct {
	text     string
	domain   string
	priority string
	timeout  time.Duration
	noCache  bool
}

func newProcessCmd(root *rootFlags) *cobra.Command {
	flags := &processFlags{}
	cmd := &cobra.Command{
		Use:   "process [request.json | -]",
		Short: "Analyze one request and print its results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(args, flags, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := newApp(root, "mosaic-cli")
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := a.orch.Process(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if root.jsonOutput {
				return writeJSON(out, results)
			}
			renderResults(printerFor(out), req, results)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.text, "text", "", "analyze this text instead of a request file")
	cmd.Flags().StringVar(&flags.domain, "domain", "", "domain pipeline for --text")
	cmd.Flags().StringVar(&flags.priority, "priority", "", "priority: low, medium, high or critical")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "max processing time, e.g. 90s")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "bypass the result cache")
	return cmd
}

// buildRequest reads the request file named by args, or builds a text
// request from flags. Flag options override the file's options.
func buildRequest(args []string, flags *processFlags, stdin io.Reader) (datatypes.Request, error) {
	var req datatypes.Request
	switch {
	case len(args) == 1 && flags.text != "":
		return req, errors.New("use either a request file or --text, not both")
	case len(args) == 1:
		var r io.Reader = stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return req, fmt.Errorf("open request: %w", err)
			}
			defer f.Close()
			r = f
		}
		dec := json.NewDecoder(io.LimitReader(r, maxRequestFileSize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, fmt.Errorf("decode request: %w", err)
		}
	case flags.text != "":
		req.Modalities = []datatypes.ModalityItem{{Kind: datatypes.ModalityText, Data: flags.text}}
		if flags.domain != "" {
			req.Context = &datatypes.RequestContext{Domain: flags.domain}
		}
	default:
		return req, errors.New("a request file or --text is required")
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if flags.priority != "" {
		req.Options.Priority = datatypes.Priority(flags.priority)
	}
	if flags.timeout > 0 {
		req.Options.MaxProcessingTime = flags.timeout
	}
	if flags.noCache {
		off := false
		req.Options.CachingEnabled = &off
	}
	return req, nil
}

// ============================================================================
// pipelines
// ============================================================================

func newPipelinesCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List the registered domain pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root, "mosaic-cli")
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if root.jsonOutput {
				return writeJSON(out, a.orch.Pipelines())
			}
			renderPipelines(printerFor(out), a.orch.Pipelines())
			return nil
		},
	}
}

// ============================================================================
// serve
// ============================================================================

func newServeCmd(root *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gin.SetMode(gin.ReleaseMode)
			a, err := newApp(root, "mosaic")
			if err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.AdminAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tel, err := telemetry.Init(ctx, a.cfg.Telemetry(version))
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(sctx)
			}()

			return serve(ctx, addr, admin.NewRouter(a.orch, tel.MetricsHandler(), a.logger.Slog()), a.logger.Slog())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides MOSAIC_ADMIN_ADDR)")
	return cmd
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down admin server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func printerFor(w io.Writer) *ux.Printer {
	if f, ok := w.(*os.File); ok {
		return ux.ForFile(f)
	}
	return ux.NewPrinter(w, false)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
