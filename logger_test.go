package gallows

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		log, err := NewLogger(LogConfig{Level: "warn", Format: format})
		require.NoError(t, err)
		require.False(t, log.Core().Enabled(zapcore.InfoLevel))
		require.True(t, log.Core().Enabled(zapcore.WarnLevel))
	}
}

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLogLevel("DEBUG"))
	require.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	require.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	require.Equal(t, zapcore.InfoLevel, parseLogLevel(""))
}
