// Package clean cleans the build artifacts of every project below a directory.
//
// Project roots are recognized by marker files such as Cargo.toml or
// Makefile. Each marker maps to either a clean command, run through a
// bounded pool of child processes, or a dependency directory to remove.
package clean

import (
	"context"

	internal "github.com/TFMV/codeclean/internal/clean"
	"github.com/TFMV/codeclean/internal/dispatch"
	"github.com/TFMV/codeclean/internal/logging"
	"go.uber.org/zap"
)

// Re-export the types callers need to configure a run
type (
	// Options configures a run.
	Options = internal.Options

	// Stats summarizes a run.
	Stats = internal.Stats

	// Table maps a marker file name to the rule that builds its action.
	Table = dispatch.Table

	// Rule builds the action for a marker found at path.
	Rule = dispatch.Rule

	// Action is what a marker asks for.
	Action = dispatch.Action

	// Command describes one external invocation.
	Command = dispatch.Command

	// LogLevel defines the verbosity of internal logging.
	LogLevel = logging.LogLevel
)

const (
	// Action kinds
	Spawn      = dispatch.Spawn
	RemoveTree = dispatch.RemoveTree

	// Log levels
	LogLevelError = logging.LogLevelError
	LogLevelWarn  = logging.LogLevelWarn
	LogLevelInfo  = logging.LogLevelInfo
	LogLevelDebug = logging.LogLevelDebug

	// DefaultJobs is the default ceiling on concurrently running commands.
	DefaultJobs = internal.DefaultJobs
)

// Run cleans every project below root. See Options for the knobs.
func Run(ctx context.Context, root string, opts Options) (Stats, error) {
	return internal.Run(ctx, root, opts)
}

// DefaultTable returns a fresh copy of the built-in marker table.
func DefaultTable() Table {
	return dispatch.DefaultTable()
}

// SpawnRule returns a Rule running program with args in the marker's directory.
func SpawnRule(program string, args ...string) Rule {
	return dispatch.SpawnRule(program, args...)
}

// RemoveSiblingRule returns a Rule that removes the named directory next to the marker.
func RemoveSiblingRule(name string) Rule {
	return dispatch.RemoveSiblingRule(name)
}

// NewLogger builds a zap logger for Options.Logger.
func NewLogger(level LogLevel) *zap.Logger {
	return logging.New(level)
}

// LoggingRule wraps a rule so every match is logged at debug level.
func LoggingRule(logger *zap.Logger, next Rule) Rule {
	return func(path, dir string) Action {
		action := next(path, dir)
		logger.Debug("marker matched",
			zap.String("path", path),
			zap.Stringer("kind", action.Kind),
		)
		return action
	}
}
