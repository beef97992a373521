package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/telenode/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"DEBUG", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}

	_, err := parseLevel("trace")
	assert.Error(t, err)
}

func TestGetLoggerBeforeInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestInitTextFormat(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{Level: "debug", Format: "text"}))

	var buf bytes.Buffer
	SetOutput(&buf)
	GetLogger().WithFields(map[string]interface{}{"mode": "periodic", "attempt": 3}).Info("packet sent")

	line := buf.String()
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "attempt=3,mode=periodic")
	assert.Contains(t, line, "packet sent")
	assert.True(t, GetLogger().IsDebugEnabled())
}

func TestInitJSONFormat(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{Level: "warn", Format: "json"}))

	var buf bytes.Buffer
	SetOutput(&buf)
	GetLogger().Info("suppressed")
	GetLogger().WithError(errors.New("queue full")).Warn("transmit rejected")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, `"error":"queue full"`)
	assert.False(t, GetLogger().IsDebugEnabled())
}

func TestInitWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "telenode.log")

	cfg := config.LogConfig{
		Level:  "info",
		Format: "text",
		File: config.FileOutputConfig{
			Enabled: true,
			Path:    logPath,
			Rotation: config.RotationConfig{
				MaxSizeMB:  1,
				MaxBackups: 1,
			},
		},
	}
	require.NoError(t, Init(cfg))
	GetLogger().Info("written to file")
	Flush()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
}

func TestInitRejectsBadConfig(t *testing.T) {
	assert.Error(t, Init(config.LogConfig{Level: "loud", Format: "text"}))
	assert.Error(t, Init(config.LogConfig{Level: "info", Format: "xml"}))
	assert.Error(t, Init(config.LogConfig{Level: "info", Format: "text", File: config.FileOutputConfig{Enabled: true}}))
}
