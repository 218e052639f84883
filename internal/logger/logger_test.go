package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	noColor := false
	l := NewConsoleLogger(&buf, LevelWarn, &noColor)

	l.Info("should not appear")
	assert.Empty(t, buf.String())

	l.Warn("should appear: %d", 42)
	assert.Contains(t, buf.String(), "should appear: 42")
}

func TestConsoleLogger_DomainHooks(t *testing.T) {
	var buf bytes.Buffer
	noColor := false
	l := NewConsoleLogger(&buf, LevelDebug, &noColor)

	l.LoopStarted("001", "plan")
	l.ValidationResult("001", true, "all green")
	out := buf.String()
	assert.Contains(t, out, "id=001")
	assert.Contains(t, out, "kind=plan")
	assert.Contains(t, out, "all green")
}

func TestFileLogger_WritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	fl, err := NewFileLogger(path, LevelInfo)
	require.NoError(t, err)
	fl.Info("hello %s", "world")
	require.NoError(t, fl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
}

func TestMulti_FansOutToAllSinks(t *testing.T) {
	var bufA, bufB bytes.Buffer
	noColor := false
	a := NewConsoleLogger(&bufA, LevelInfo, &noColor)
	b := NewConsoleLogger(&bufB, LevelInfo, &noColor)
	m := NewMulti(a, b, nil)

	m.Info("fan out")
	assert.Contains(t, bufA.String(), "fan out")
	assert.Contains(t, bufB.String(), "fan out")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
