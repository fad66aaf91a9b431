package logs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"tierbot/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerUsableBeforeInit(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	WithFields(Fields{"instrument": "SPY"}).Warn("[Test] structured line")
	assert.Contains(t, buf.String(), "instrument=SPY")
	assert.Contains(t, buf.String(), "structured line")
}

func TestInitWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.log")
	require.NoError(t, Init(&config.LogConfig{LogLevel: "debug", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}, path))
	SetOutput(&bytes.Buffer{})

	Infof("[Test] hello %s", "file")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}
