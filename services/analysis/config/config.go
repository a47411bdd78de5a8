// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the MOSAIC_* environment configuration and turns
// it into the settings of the individual components.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/mosaic/pkg/logging"
	"github.com/AleutianAI/mosaic/services/analysis/cache"
	"github.com/AleutianAI/mosaic/services/analysis/fingerprint"
	"github.com/AleutianAI/mosaic/services/analysis/orchestrator"
	"github.com/AleutianAI/mosaic/services/analysis/telemetry"
	"github.com/AleutianAI/mosaic/services/llm"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Config is the process configuration, read from the environment.
//
// Every field maps to one MOSAIC_* variable. Durations use Go syntax
// ("30s", "5m").
type Config struct {
	LogLevel  string `env:"MOSAIC_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"MOSAIC_LOG_FORMAT,default=text" validate:"oneof=text json"`
	LogDir    string `env:"MOSAIC_LOG_DIR"`

	FingerprintMode string `env:"MOSAIC_FINGERPRINT_MODE,default=content" validate:"oneof=content shape"`

	LLMProvider    string        `env:"MOSAIC_LLM_PROVIDER,default=ollama" validate:"oneof=ollama openai langchain"`
	LLMBaseURL     string        `env:"MOSAIC_LLM_BASE_URL" validate:"omitempty,url"`
	LLMAPIKey      string        `env:"MOSAIC_LLM_API_KEY"`
	LLMModel       string        `env:"MOSAIC_LLM_MODEL"`
	LLMVisionModel string        `env:"MOSAIC_LLM_VISION_MODEL"`
	LLMTimeout     time.Duration `env:"MOSAIC_LLM_TIMEOUT,default=2m" validate:"gte=0"`
	LLMRPS         float64       `env:"MOSAIC_LLM_RPS,default=0" validate:"gte=0"`
	LLMBurst       int           `env:"MOSAIC_LLM_BURST,default=1" validate:"gte=0"`

	CacheBackend           string        `env:"MOSAIC_CACHE_BACKEND,default=memory" validate:"oneof=memory badger"`
	CacheTTL               time.Duration `env:"MOSAIC_CACHE_TTL,default=1h" validate:"gte=0"`
	CacheMaxEntries        int           `env:"MOSAIC_CACHE_MAX_ENTRIES,default=1024" validate:"gt=0"`
	CachePath              string        `env:"MOSAIC_CACHE_PATH" validate:"required_if=CacheBackend badger"`
	CacheMinAnalysisLength int           `env:"MOSAIC_CACHE_MIN_ANALYSIS_LENGTH,default=10" validate:"gte=0"`

	PipelinesFile string        `env:"MOSAIC_PIPELINES_FILE"`
	StageTimeout  time.Duration `env:"MOSAIC_STAGE_TIMEOUT,default=30s" validate:"gt=0"`
	FailFast      bool          `env:"MOSAIC_FAIL_FAST,default=false"`

	AdminAddr string `env:"MOSAIC_ADMIN_ADDR,default=:8089"`

	Environment    string  `env:"MOSAIC_ENV,default=development"`
	TraceExporter  string  `env:"MOSAIC_TRACE_EXPORTER,default=none" validate:"oneof=otlp stdout none"`
	MetricExporter string  `env:"MOSAIC_METRIC_EXPORTER,default=prometheus" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string  `env:"MOSAIC_OTLP_ENDPOINT,default=localhost:4317"`
	SampleRatio    float64 `env:"MOSAIC_TRACE_SAMPLE_RATIO,default=1" validate:"gte=0,lte=1"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// FromEnvSet reads the configuration from an explicit variable set.
func FromEnvSet(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Logging returns the logger configuration.
func (c Config) Logging(service string) logging.Config {
	return logging.Config{
		Level:   logging.ParseLevel(c.LogLevel),
		LogDir:  c.LogDir,
		Service: service,
		JSON:    c.LogFormat == "json",
	}
}

// DefaultOllamaURL is used for the ollama provider when no base URL is
// configured.
const DefaultOllamaURL = "http://localhost:11434"

// LLM returns the backend configuration.
func (c Config) LLM() llm.Config {
	baseURL := c.LLMBaseURL
	if baseURL == "" && c.LLMProvider == "ollama" {
		baseURL = DefaultOllamaURL
	}
	return llm.Config{
		Provider:          c.LLMProvider,
		BaseURL:           baseURL,
		APIKey:            c.LLMAPIKey,
		Model:             c.LLMModel,
		VisionModel:       c.LLMVisionModel,
		Timeout:           c.LLMTimeout,
		RequestsPerSecond: c.LLMRPS,
		Burst:             c.LLMBurst,
	}
}

// Orchestrator returns the orchestrator configuration.
func (c Config) Orchestrator() (orchestrator.Config, error) {
	mode, err := fingerprint.ParseMode(c.FingerprintMode)
	if err != nil {
		return orchestrator.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return orchestrator.Config{
		FingerprintMode:     mode,
		CacheTTL:            c.CacheTTL,
		DefaultStageTimeout: c.StageTimeout,
		MinAnalysisLength:   c.CacheMinAnalysisLength,
		FailFast:            c.FailFast,
	}, nil
}

// Telemetry returns the telemetry configuration.
func (c Config) Telemetry(version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    "mosaic",
		ServiceVersion: version,
		Environment:    c.Environment,
		TraceExporter:  c.TraceExporter,
		MetricExporter: c.MetricExporter,
		OTLPEndpoint:   c.OTLPEndpoint,
		OTLPInsecure:   true,
		SampleRatio:    c.SampleRatio,
	}
}

// OpenStore opens the configured result store.
func (c Config) OpenStore(logger *slog.Logger) (cache.Store, error) {
	switch c.CacheBackend {
	case "badger":
		bc := cache.DefaultBadgerConfig(c.CachePath)
		bc.TTL = c.CacheTTL
		bc.Logger = logger
		store, err := cache.OpenBadgerStore(bc)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return cache.NewMemoryStore(
			cache.WithMaxEntries(c.CacheMaxEntries),
			cache.WithTTL(c.CacheTTL),
		), nil
	}
}
