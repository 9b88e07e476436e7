package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zengyi-thinking/Agent-team-dashboard/config"
)

// Helper to create test config
func createTestConfig(level string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = level
	cfg.Logging.ChannelSize = 100
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stdout"
	return cfg
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		expectWarn  bool
		expectInfo  bool
		expectDebug bool
	}{
		{"ERROR level - only errors", "ERROR", false, false, false},
		{"WARN level - error and warn", "WARN", true, false, false},
		{"INFO level - error, warn, info", "INFO", true, true, false},
		{"DEBUG level - all messages", "DEBUG", true, true, true},
		{"unknown level - only errors", "VERBOSE", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewSlogAdapter(createTestConfig(tt.level))
			defer logger.Shutdown()

			adapter := logger.(*SlogAdapter)
			assert.True(t, adapter.shouldLog(LevelError))
			assert.Equal(t, tt.expectWarn, adapter.shouldLog(LevelWarn))
			assert.Equal(t, tt.expectInfo, adapter.shouldLog(LevelInfo))
			assert.Equal(t, tt.expectDebug, adapter.shouldLog(LevelDebug))
		})
	}
}

func TestLogger_FallsBackToGeneralLevel(t *testing.T) {
	cfg := createTestConfig("")
	cfg.General.LogLevel = "debug"

	logger := NewSlogAdapter(cfg)
	defer logger.Shutdown()

	assert.True(t, logger.(*SlogAdapter).shouldLog(LevelDebug))
}

func TestLogger_DynamicLevelChange(t *testing.T) {
	logger := NewSlogAdapter(createTestConfig("DEBUG"))
	defer logger.Shutdown()

	adapter := logger.(*SlogAdapter)

	adapter.UpdateLevel("error")
	assert.Equal(t, "error", adapter.config.General.LogLevel)
	assert.Equal(t, "ERROR", adapter.config.Logging.Level)
	assert.False(t, adapter.shouldLog(LevelWarn))

	adapter.UpdateLevel("Info")
	assert.True(t, adapter.shouldLog(LevelInfo))
	assert.False(t, adapter.shouldLog(LevelDebug))
}

func TestLogger_AsyncBehavior(t *testing.T) {
	cfg := createTestConfig("DEBUG")
	cfg.Logging.ChannelSize = 5 // Small buffer to test overflow behavior

	logger := NewSlogAdapter(cfg)
	defer logger.Shutdown()

	// Async logging should not be blocked by I/O even when the buffer overflows
	start := time.Now()
	for i := 0; i < 100; i++ {
		logger.Debug("message", "iteration", i)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLogger_ChannelOverflowCountsDrops(t *testing.T) {
	cfg := createTestConfig("DEBUG")
	cfg.Logging.ChannelSize = 1

	logger := NewSlogAdapter(cfg)
	defer logger.Shutdown()

	for i := 0; i < 500; i++ {
		logger.Debug("overflow test", "iteration", i)
	}

	assert.Greater(t, logger.(*SlogAdapter).Dropped(), int64(0))
}

func TestLogger_Shutdown(t *testing.T) {
	adapter := NewSlogAdapter(createTestConfig("DEBUG")).(*SlogAdapter)

	adapter.Debug("message 1")
	adapter.Info("message 2")

	start := time.Now()
	adapter.Shutdown()
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// logging and shutting down again after shutdown must be harmless
	assert.NotPanics(t, func() {
		adapter.Debug("message after shutdown")
		adapter.Shutdown()
	})
}

func TestLogger_FileOutputWithRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dashboard.log")

	cfg := createTestConfig("INFO")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = path

	logger := NewSlogAdapter(cfg)
	logger.Info("notification published", "category", "tasks:update")
	logger.Debug("filtered out")
	logger.Shutdown()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"notification published"`)
	assert.Contains(t, string(data), `"category":"tasks:update"`)
	assert.NotContains(t, string(data), "filtered out")
}

func TestLogger_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.log")

	cfg := createTestConfig("INFO")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = path
	cfg.Logging.Format = "text"

	logger := NewSlogAdapter(cfg)
	logger.Warn("session dropped", "session", "abc")
	logger.Shutdown()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, "level=WARN")
	assert.Contains(t, line, "session=abc")
}

func TestLogger_DifferentOutputs(t *testing.T) {
	outputs := []string{"stdout", "stderr", "invalid", ""}

	for _, output := range outputs {
		t.Run("output_"+output, func(t *testing.T) {
			cfg := createTestConfig("DEBUG")
			cfg.Logging.Output = output

			logger := NewSlogAdapter(cfg)
			assert.NotPanics(t, func() {
				logger.Info("test message", "key", "value")
			})
			logger.Shutdown()
		})
	}
}

func BenchmarkLogger_Info(b *testing.B) {
	cfg := createTestConfig("INFO")
	cfg.Logging.ChannelSize = 1000

	logger := NewSlogAdapter(cfg)
	defer logger.Shutdown()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			logger.Info("benchmark message", "iteration", 1, "key", "value")
		}
	})
}
