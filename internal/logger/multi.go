package logger

import "time"

// Multi fans every call out to each wrapped Logger in order, matching the
// teacher's pattern of a console logger plus a file logger both receiving
// every event.
type Multi struct {
	sinks []Logger
}

// NewMulti builds a Multi logger over the given sinks. Nil sinks are
// skipped so callers can pass an optional file logger without branching.
func NewMulti(sinks ...Logger) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Debug(format string, args ...any) {
	for _, s := range m.sinks {
		s.Debug(format, args...)
	}
}

func (m *Multi) Info(format string, args ...any) {
	for _, s := range m.sinks {
		s.Info(format, args...)
	}
}

func (m *Multi) Warn(format string, args ...any) {
	for _, s := range m.sinks {
		s.Warn(format, args...)
	}
}

func (m *Multi) Error(format string, args ...any) {
	for _, s := range m.sinks {
		s.Error(format, args...)
	}
}

func (m *Multi) LoopStarted(loopID, kind string) {
	for _, s := range m.sinks {
		s.LoopStarted(loopID, kind)
	}
}

func (m *Multi) LoopIteration(loopID string, iteration int, passed bool) {
	for _, s := range m.sinks {
		s.LoopIteration(loopID, iteration, passed)
	}
}

func (m *Multi) ToolDispatched(loopID, toolName, lane string, duration time.Duration) {
	for _, s := range m.sinks {
		s.ToolDispatched(loopID, toolName, lane, duration)
	}
}

func (m *Multi) ValidationResult(loopID string, passed bool, summary string) {
	for _, s := range m.sinks {
		s.ValidationResult(loopID, passed, summary)
	}
}

func (m *Multi) SignalEmitted(signalID, kind, target string) {
	for _, s := range m.sinks {
		s.SignalEmitted(signalID, kind, target)
	}
}

func (m *Multi) MergeCompleted(loopID, preHead, postHead string, filesChanged int) {
	for _, s := range m.sinks {
		s.MergeCompleted(loopID, preHead, postHead, filesChanged)
	}
}
