package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps debug, info, warn and error to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// New builds a console logger on stderr.
func New(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.DisableStacktrace = lvl > zapcore.DebugLevel
	return config.Build()
}

const bufferCap = 200

// Buffer is an in-memory ring of formatted log lines. It lets a full-screen
// UI show recent logs without writing to the terminal.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// Write implements zapcore.WriteSyncer. Each call carries one entry.
func (b *Buffer) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")

	b.mu.Lock()
	if len(b.lines) >= bufferCap {
		b.lines = b.lines[1:]
	}
	b.lines = append(b.lines, line)
	b.mu.Unlock()
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer.
func (b *Buffer) Sync() error { return nil }

// Lines returns up to n buffered lines, newest first. n <= 0 returns all.
func (b *Buffer) Lines(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = b.lines[len(b.lines)-1-i]
	}
	return out
}

// NewBuffered builds a logger that writes only into a Buffer.
func NewBuffered(level string) (*zap.Logger, *Buffer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	buf := &Buffer{}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), buf, lvl)
	return zap.New(core), buf, nil
}
