// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wlog provides the structured logger used throughout the worker
// runtime, built on log/slog.
package wlog

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// severityCritical marks CRITICAL log lines: slog has no CRITICAL level,
// so they are emitted at slog.LevelError with an explicit severity
// attribute carrying this value (see Critical).
const severityCritical = "critical"

// Standard field keys for structured logging, kept consistent across the
// poller, executor, and supervisor.
const (
	WorkerIDKey = "worker_id"
	TaskIDKey   = "task_id"
	TaskTypeKey = "task_type"
	RunnerKey   = "runner"
	DurationKey = "duration_ms"
	AttemptKey  = "attempt"
	SeverityKey = "severity"
)

// Config holds the logging configuration.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from environment variables:
//   - CONDUCTOR_WORKER_DEBUG: true/1 enables debug level and source info
//   - CONDUCTOR_WORKER_LOG_LEVEL: debug, info, warn, error
//   - CONDUCTOR_WORKER_LOG_FORMAT: json, text
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("CONDUCTOR_WORKER_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("CONDUCTOR_WORKER_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("CONDUCTOR_WORKER_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	return cfg
}

// New creates a structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithWorker returns a logger annotated with worker and task-type context.
func WithWorker(logger *slog.Logger, workerID, taskType string) *slog.Logger {
	return logger.With(
		slog.String(WorkerIDKey, workerID),
		slog.String(TaskTypeKey, taskType),
	)
}

// Critical logs msg at slog.LevelError with an explicit severity=critical
// attribute. Go's slog has no CRITICAL level; the attribute marks the
// one truly fatal-to-the-task event in this runtime: exhausting the
// update-retry budget.
func Critical(logger *slog.Logger, msg string, args ...any) {
	args = append(args, SeverityKey, severityCritical)
	logger.Error(msg, args...)
}
