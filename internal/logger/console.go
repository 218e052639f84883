package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleColors bundles the color scheme used across console output
// (success/fail/warn/label/value).
type ConsoleColors struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

func newConsoleColors(enabled bool) *ConsoleColors {
	c := &ConsoleColors{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
	if !enabled {
		c.success.DisableColor()
		c.fail.DisableColor()
		c.warn.DisableColor()
		c.label.DisableColor()
		c.value.DisableColor()
	}
	return c
}

// ConsoleLogger writes leveled and domain-event output to an io.Writer,
// colorizing when the destination is a real terminal (gated by
// mattn/go-isatty, never forcing color onto a pipe or file).
type ConsoleLogger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	colors *ConsoleColors
}

// NewConsoleLogger builds a ConsoleLogger writing to out at the given
// minimum level. Color is auto-detected unless forceColor is non-nil.
func NewConsoleLogger(out io.Writer, level Level, forceColor *bool) *ConsoleLogger {
	enabled := false
	if forceColor != nil {
		enabled = *forceColor
	} else if f, ok := out.(*os.File); ok {
		enabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &ConsoleLogger{
		out:    out,
		level:  level,
		colors: newConsoleColors(enabled),
	}
}

func (c *ConsoleLogger) writeLine(lvl Level, line string) {
	if lvl < c.level {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func (c *ConsoleLogger) Debug(format string, args ...any) {
	c.writeLine(LevelDebug, c.colors.label.Sprint("[debug] ")+fmt.Sprintf(format, args...))
}

func (c *ConsoleLogger) Info(format string, args ...any) {
	c.writeLine(LevelInfo, c.colors.value.Sprint("[info]  ")+fmt.Sprintf(format, args...))
}

func (c *ConsoleLogger) Warn(format string, args ...any) {
	c.writeLine(LevelWarn, c.colors.warn.Sprint("[warn]  ")+fmt.Sprintf(format, args...))
}

func (c *ConsoleLogger) Error(format string, args ...any) {
	c.writeLine(LevelError, c.colors.fail.Sprint("[error] ")+fmt.Sprintf(format, args...))
}

func (c *ConsoleLogger) LoopStarted(loopID, kind string) {
	c.writeLine(LevelInfo, fmt.Sprintf("%s %s %s",
		c.colors.success.Sprint("loop started"), fieldf("id", loopID), fieldf("kind", kind)))
}

func (c *ConsoleLogger) LoopIteration(loopID string, iteration int, passed bool) {
	verdict := c.colors.fail.Sprint("FAIL")
	if passed {
		verdict = c.colors.success.Sprint("PASS")
	}
	c.writeLine(LevelInfo, fmt.Sprintf("iteration %s %s %s", fieldf("id", loopID), fieldf("n", iteration), verdict))
}

func (c *ConsoleLogger) ToolDispatched(loopID, toolName, lane string, duration time.Duration) {
	c.writeLine(LevelDebug, fmt.Sprintf("tool dispatched %s %s %s %s",
		fieldf("id", loopID), fieldf("tool", toolName), fieldf("lane", lane), fieldf("dur", duration)))
}

func (c *ConsoleLogger) ValidationResult(loopID string, passed bool, summary string) {
	verdict := c.colors.fail.Sprint("RED")
	if passed {
		verdict = c.colors.success.Sprint("GREEN")
	}
	c.writeLine(LevelInfo, fmt.Sprintf("validation %s %s %s", fieldf("id", loopID), verdict, summary))
}

func (c *ConsoleLogger) SignalEmitted(signalID, kind, target string) {
	c.writeLine(LevelDebug, fmt.Sprintf("signal emitted %s %s %s",
		fieldf("id", signalID), fieldf("kind", kind), fieldf("target", target)))
}

func (c *ConsoleLogger) MergeCompleted(loopID, preHead, postHead string, filesChanged int) {
	c.writeLine(LevelInfo, fmt.Sprintf("%s %s %s %s %s",
		c.colors.success.Sprint("merge completed"), fieldf("id", loopID),
		fieldf("pre", preHead), fieldf("post", postHead), fieldf("files", filesChanged)))
}
