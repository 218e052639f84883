// Package logger provides leveled console and file sinks for the engine's
// observability output: colorized console output plus a durable file sink,
// fanned out through a multi-logger.
package logger

import (
	"fmt"
	"time"
)

// Logger is the leveled logging surface every engine component depends on,
// plus the domain-specific hooks the engine's event stream needs (spec.md
// C9/§6.2's push events).
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)

	LoopStarted(loopID, kind string)
	LoopIteration(loopID string, iteration int, passed bool)
	ToolDispatched(loopID, toolName string, lane string, duration time.Duration)
	ValidationResult(loopID string, passed bool, summary string)
	SignalEmitted(signalID, kind, target string)
	MergeCompleted(loopID, preHead, postHead string, filesChanged int)
}

// fieldf formats one "label=value" pair (e.g. "loop=<id>") used across the
// domain hooks.
func fieldf(label string, value any) string {
	return fmt.Sprintf("%s=%v", label, value)
}
