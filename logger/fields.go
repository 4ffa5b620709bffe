package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across ghostline.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldURI       = "uri"
	FieldRequestID = "request_id"

	// Documents
	FieldVersion    = "version"
	FieldLine       = "line"
	FieldCharacter  = "character"
	FieldCandidates = "candidates"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Process
	FieldPID    = "pid"
	FieldState  = "state"
	FieldStatus = "status"
	FieldBinary = "binary"
	FieldSize   = "size"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	sup := agent.NewSupervisor(agent.Config{
//	    Logger: logger.ComponentLogger("agent"),
//	})
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
