package logger

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileLogger writes leveled, uncolored, line-oriented log entries to a
// durable file under <project-root>/logs, the production-run destination
// alongside the console sink.
type FileLogger struct {
	mu    sync.Mutex
	file  *os.File
	level Level
}

// NewFileLogger opens (creating/appending) the log file at path.
func NewFileLogger(path string, level Level) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &FileLogger{file: f, level: level}, nil
}

// Close releases the underlying file handle.
func (f *FileLogger) Close() error {
	return f.file.Close()
}

func (f *FileLogger) writeLine(lvl Level, line string) {
	if lvl < f.level {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.file, "%s %-5s %s\n", time.Now().UTC().Format(time.RFC3339Nano), lvl, line)
}

func (f *FileLogger) Debug(format string, args ...any) { f.writeLine(LevelDebug, fmt.Sprintf(format, args...)) }
func (f *FileLogger) Info(format string, args ...any)  { f.writeLine(LevelInfo, fmt.Sprintf(format, args...)) }
func (f *FileLogger) Warn(format string, args ...any)  { f.writeLine(LevelWarn, fmt.Sprintf(format, args...)) }
func (f *FileLogger) Error(format string, args ...any) { f.writeLine(LevelError, fmt.Sprintf(format, args...)) }

func (f *FileLogger) LoopStarted(loopID, kind string) {
	f.writeLine(LevelInfo, fmt.Sprintf("loop started %s %s", fieldf("id", loopID), fieldf("kind", kind)))
}

func (f *FileLogger) LoopIteration(loopID string, iteration int, passed bool) {
	f.writeLine(LevelInfo, fmt.Sprintf("iteration %s %s %s", fieldf("id", loopID), fieldf("n", iteration), fieldf("passed", passed)))
}

func (f *FileLogger) ToolDispatched(loopID, toolName, lane string, duration time.Duration) {
	f.writeLine(LevelDebug, fmt.Sprintf("tool dispatched %s %s %s %s",
		fieldf("id", loopID), fieldf("tool", toolName), fieldf("lane", lane), fieldf("dur", duration)))
}

func (f *FileLogger) ValidationResult(loopID string, passed bool, summary string) {
	f.writeLine(LevelInfo, fmt.Sprintf("validation %s %s %s", fieldf("id", loopID), fieldf("passed", passed), summary))
}

func (f *FileLogger) SignalEmitted(signalID, kind, target string) {
	f.writeLine(LevelDebug, fmt.Sprintf("signal emitted %s %s %s", fieldf("id", signalID), fieldf("kind", kind), fieldf("target", target)))
}

func (f *FileLogger) MergeCompleted(loopID, preHead, postHead string, filesChanged int) {
	f.writeLine(LevelInfo, fmt.Sprintf("merge completed %s %s %s %s",
		fieldf("id", loopID), fieldf("pre", preHead), fieldf("post", postHead), fieldf("files", filesChanged)))
}
