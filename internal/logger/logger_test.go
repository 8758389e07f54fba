package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	lvl, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, INFO, lvl)
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Capture", "attempt %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("Capture", "blank frame on attempt %d", 2)
	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "Capture")
	assert.Contains(t, out, "blank frame on attempt 2")
}

func TestLoggerSilent(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, false)
	l.SetLevel(SILENT)
	assert.Equal(t, SILENT, l.GetLevel())

	l.Error("Fusion", "should not appear")
	assert.Empty(t, buf.String())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
