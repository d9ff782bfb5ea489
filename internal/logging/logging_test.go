package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	logger, err := New("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("WARN")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = New("verbose")
	assert.Error(t, err)
}

func TestBufferedLogger(t *testing.T) {
	logger, buf, err := NewBuffered("info")
	require.NoError(t, err)

	logger.Debug("hidden")
	for i := 0; i < bufferCap+5; i++ {
		logger.Info(fmt.Sprintf("line %d", i), zap.Int("i", i))
	}

	lines := buf.Lines(0)
	assert.Len(t, lines, bufferCap)
	assert.Contains(t, lines[0], fmt.Sprintf("line %d", bufferCap+4))

	latest := buf.Lines(2)
	require.Len(t, latest, 2)
	assert.Contains(t, latest[1], fmt.Sprintf("line %d", bufferCap+3))
}
