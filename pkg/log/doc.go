/*
Package log provides structured logging for panda using zerolog.

The log package wraps zerolog with a process-wide logger, configurable
levels and component-specific child loggers. Every orchestration component
(task tracker, cluster reader, sequencer, upgrade controller, diagnostics
collector) logs through a child logger so a single run can be filtered by
component, step, cluster or task id.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Tagged with run_id via log.SetRunID()    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - File: optional JSON copy in log dir      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("task")                    │          │
	│  │  - .With().Str("step", ...) per call site   │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: false,
		Output:     os.Stderr,
		File:       logFile,
	})
	log.SetRunID(uuid.NewString())

Component Loggers:

	taskLog := log.WithComponent("task")
	taskLog.Info().
		Str("operation", "Create cluster").
		Str("task_id", id).
		Dur("waited", elapsed).
		Msg("Task completed")

Error Logging:

	log.Logger.Error().
		Err(err).
		Str("cluster", name).
		Msg("Failed to get support bundle")

# Output Examples

Console Format:

	2024-10-13T10:30:00Z INF Task completed component=task operation="Create cluster" task_id=42
	2024-10-13T10:30:02Z ERR Failed to get support bundle component=diagnostics error="connection refused"

JSON Format:

	{"level":"info","component":"task","task_id":"42","time":"2024-10-13T10:30:00Z","message":"Task completed"}

# Security

Passwords from the run configuration are never logged. Commands sent over
SSH are logged after sudo wrapping, and the sudo password is written to the
session stdin rather than the command line.
*/
package log
