/*
Package log provides structured logging for the replicated database core using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

The logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("statemachine")            │          │
	│  │  - WithNodeID("node-abc123")                │          │
	│  │  - WithTxID(123)                            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "statemachine",             │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "batch applied"              │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z INF batch applied     │          │
	│  │    component=statemachine                   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID: Add node ID context
  - WithTxID: Add transaction ID context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Evaluating wait-for graph edge: waiter=7 holder=5"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Batch applied: id=42 commands=3"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Lock acquisition retried after deadlock victim selection"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to open storage file: permission denied"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to initialize Raft: %v"

# Usage

Initializing the Logger:

	import "github.com/coraldb/coral/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/coral.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("cluster initialized successfully")
	log.Debug("checking replica apply index")
	log.Warn("high lock wait contention detected")
	log.Error("failed to open storage file")
	log.Fatal("cannot start without storage") // exits process

Structured Logging:

	log.Logger.Info().
		Str("table", "users").
		Int("rows", 3).
		Msg("batch applied")

	log.Logger.Error().
		Err(err).
		Str("node_id", "node-abc").
		Msg("apply failed")

Component Loggers:

	// Create component-specific logger
	smLog := log.WithComponent("statemachine")
	smLog.Info().Msg("starting apply loop")
	smLog.Debug().Uint64("command_id", 123).Msg("applying batch")

	// Multiple context fields
	txLog := log.WithComponent("txn").
		With().Str("node_id", "node-abc").
		Uint64("tx_id", 123).Logger()
	txLog.Info().Msg("beginning transaction")
	txLog.Error().Err(err).Msg("transaction aborted")

Context Logger Helpers:

	// Node-specific logs
	nodeLog := log.WithNodeID("node-abc123")
	nodeLog.Info().Msg("node joined cluster")

	// Transaction-specific logs
	txLog := log.WithTxID(7)
	txLog.Warn().Msg("serialization failure on commit")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/coraldb/coral/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("coral node starting")

		// Component-specific logging
		smLog := log.WithComponent("statemachine")
		smLog.Info().
			Str("node_id", "node-1").
			Uint64("command_id", 42).
			Msg("batch applied")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "api").
			Msg("admin rpc dial failed")

		log.Info("coral node stopped")
	}

# Integration Points

This package integrates with:

  - pkg/manager: Logs cluster bootstrap/join, leadership changes, Raft events
  - pkg/statemachine: Logs apply-path and snapshot events
  - pkg/maintenance: Logs the MVCC GC / abandoned-transaction reaping loop
  - pkg/txn / pkg/lockmgr: Logs transaction and lock manager events
  - pkg/api: Logs Admin RPC requests and errors

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"manager","time":"2024-10-13T10:30:00Z","message":"cluster initialized"}
	{"level":"info","component":"statemachine","command_id":123,"time":"2024-10-13T10:30:01Z","message":"batch applied"}
	{"level":"error","component":"txn","node_id":"node-abc","error":"write conflict","time":"2024-10-13T10:30:02Z","message":"transaction aborted"}

Console Format (Development):

	2024-10-13T10:30:00Z INF cluster initialized component=manager
	2024-10-13T10:30:01Z INF batch applied component=statemachine command_id=123
	2024-10-13T10:30:02Z ERR transaction aborted component=txn node_id=node-abc error="write conflict"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Uint64, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs externally

Missing Context Fields:
  - Symptom: Logs missing component or ID fields
  - Cause: Using global Logger instead of a context logger
  - Solution: Use WithComponent()/WithNodeID()/WithTxID() or build a child logger

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Check: Embedded quotes or control characters
  - Solution: Use .Str() instead of string interpolation

Performance Degradation:
  - Symptom: Slow apply throughput
  - Cause: Excessive logging in the apply path's hot loop
  - Check: Log statements inside apply_batch/lock-wait loops
  - Solution: Reduce log frequency, log at batch granularity not per-row

# Log Rotation

coral doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):
	# /etc/logrotate.d/coral
	/var/log/coral/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u coral -f

# Log Aggregation

Recommended Tools:

Elasticsearch + Filebeat:
  - Filebeat ships logs to Elasticsearch
  - Kibana for visualization and search
  - Query: component:"statemachine" AND level:"error"

Loki + Promtail:
  - Lightweight log aggregation
  - Grafana integration
  - Query: {component="statemachine"} |= "error"

# Monitoring

Log-Based Alerts:

High Error Rate:
  - Query: rate(log entries with level="error"[5m]) > 10
  - Description: More than 10 errors per second
  - Action: Check recent errors, investigate root cause

No Logs:
  - Query: absent(log entries[1m])
  - Description: No logs received in 1 minute
  - Action: Check coral process, log pipeline

Specific Error Pattern:
  - Query: log entries containing "failed to open storage file"
  - Description: Storage directory permission or disk space issues
  - Action: Check data directory permissions and free space

# Security

Log Content:
  - Never log secrets or sensitive data (row values, cluster encryption key)
  - Redact tokens, passwords, API keys
  - Review logs before sharing externally

Log Access:
  - Restrict log file permissions (0640)
  - Limit log aggregation access (RBAC)
  - Audit log access in production

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data
  - Validate/sanitize before logging if necessary

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (node ID, tx ID, command ID)

Don't:
  - Log sensitive data (secrets, row contents, passwords)
  - Use Debug level in production
  - Log in the apply path's hot loop (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
