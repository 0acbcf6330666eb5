// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package reporter delivers fire-and-forget build telemetry.
//
// The core emits progress events at phase boundaries; reporters must
// never block or fail the build. The default implementation logs
// through slog.
package reporter

import "log/slog"

// Event types.
const (
	TypeBuildProgress = "buildProgress"
)

// Build phases carried on progress events.
const (
	PhaseTransforming = "transforming"
	PhaseCacheHit     = "cache_hit"
	PhaseFinished     = "finished"
)

// Event is one telemetry record.
type Event struct {
	Type      string
	Phase     string
	RequestID string
	FilePath  string
}

// Reporter consumes telemetry events. Implementations must be safe
// for concurrent use and must not block.
type Reporter interface {
	Report(event Event)
}

// Slog returns a Reporter that logs events at debug level.
func Slog(logger *slog.Logger) Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return slogReporter{logger: logger}
}

type slogReporter struct {
	logger *slog.Logger
}

func (r slogReporter) Report(event Event) {
	r.logger.Debug("build progress",
		"type", event.Type,
		"phase", event.Phase,
		"request", event.RequestID,
		"filePath", event.FilePath,
	)
}

// Null returns a Reporter that drops every event.
func Null() Reporter {
	return nullReporter{}
}

type nullReporter struct{}

func (nullReporter) Report(Event) {}
