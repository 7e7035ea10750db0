package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func reset(t *testing.T) {
	t.Cleanup(func() {
		SetFormat("text")
		SetOutput(os.Stdout)
		SetLevel("info")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestLevelFiltersOutput(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("warn")
	Infof("[test] hidden %d", 1)
	Warnf("[test] shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")
	assert.Equal(t, slog.LevelWarn, Level())
}

func TestJSONFormat(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("json")
	Errorf("[test] boom %s", "now")
	line := bytes.TrimSpace(buf.Bytes())
	require.True(t, gjson.ValidBytes(line))
	assert.Equal(t, "ERROR", gjson.GetBytes(line, "level").String())
	assert.Equal(t, "[test] boom now", gjson.GetBytes(line, "msg").String())
}
