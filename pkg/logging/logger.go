// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for kbchat components.
//
// The package is a thin layer over the standard library slog package.
// It standardizes the output format across services (JSON in
// production, text for local runs), attaches a "service" attribute to
// every entry, and maps a level name from configuration onto slog.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "orchestrator",
//	    JSON:    true,
//	})
//	slog.SetDefault(logger)
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers
// must ensure PII, tokens, and secrets are not logged:
//
//	// BAD: logs sensitive data
//	logger.Info("auth", "token", authToken)
//
//	// GOOD: log metadata only
//	logger.Info("auth", "token_present", authToken != "")
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels, ordered Debug < Info < Warn <
// Error. Setting a minimum level filters out everything below it. Info
// is the zero value so an unset Config.Level defaults to it.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = -1

	// LevelInfo is for normal operational messages.
	LevelInfo Level = 0

	// LevelWarn is for potentially problematic situations the system
	// recovers from.
	LevelWarn Level = 1

	// LevelError is for failed operations the system survives.
	LevelError Level = 2
)

// String returns the human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a level name to a Level. Unknown names fall back to
// LevelInfo so a typo in configuration never silences a service.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures logger construction. The zero value creates a
// text-format Info-level logger on stdout.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo
	Level Level

	// Service identifies the component generating logs. It is included
	// in every entry as the "service" attribute so aggregated systems
	// can filter by component. Default: "" (no service attribute)
	Service string

	// JSON enables machine-parseable JSON output. When false, entries
	// are human-readable text. Default: false
	JSON bool
}

// New creates a slog.Logger per the config.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Default returns an Info-level text logger with no service attribute.
func Default() *slog.Logger {
	return New(Config{})
}
