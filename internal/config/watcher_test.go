package config

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"offlinekit/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const watcherConfig = `{
	"log_level": "info",
	"store": {"path": "/tmp/offlinekit-watch.db"},
	"worker": {"origin": "http://localhost:3000", "version": "v1"},
	"sync": {"interval_sec": 120}
}`

func TestNewConfigWatcher(t *testing.T) {
	logger := logrus.New()
	configPath := "/path/to/config.json"

	watcher := NewConfigWatcher(configPath, logger)

	assert.NotNil(t, watcher)
	assert.Equal(t, configPath, watcher.configPath)
	assert.Equal(t, logger, watcher.logger)
	assert.Equal(t, 5*time.Second, watcher.pollInterval)
	assert.NotNil(t, watcher.callbacks)
	assert.Len(t, watcher.callbacks, 0)
}

func TestConfigWatcher_Start_InvalidPath(t *testing.T) {
	logger := logrus.New()
	watcher := NewConfigWatcher("/nonexistent/config.json", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := watcher.Start(ctx)
	assert.Error(t, err)
}

func TestConfigWatcher_Start_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.json", watcherConfig)

	logger := logrus.New()
	logger.SetOutput(&syncBuffer{})
	watcher := NewConfigWatcher(configPath, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := watcher.Start(ctx)
	assert.NoError(t, err) // Should exit gracefully when context is cancelled

	config := watcher.GetConfig()
	require.NotNil(t, config)
	assert.Equal(t, "http://localhost:3000", config.Worker.Origin)
	assert.Equal(t, 120, config.Sync.IntervalSec)
}

func TestConfigWatcher_Start_DetectsChange(t *testing.T) {
	configPath := writeConfig(t, "config.json", watcherConfig)

	logger := logrus.New()
	logger.SetOutput(&syncBuffer{})
	watcher := NewConfigWatcher(configPath, logger)
	watcher.pollInterval = 20 * time.Millisecond

	levels := make(chan string, 1)
	watcher.OnConfigChange(func(c *models.Config) {
		select {
		case levels <- c.LogLevel:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Start(ctx) }()

	require.Eventually(t, func() bool { return watcher.GetConfig() != nil }, 2*time.Second, 10*time.Millisecond)

	updated := strings.Replace(watcherConfig, `"log_level": "info"`, `"log_level": "warn"`, 1)
	require.NoError(t, os.WriteFile(configPath, []byte(updated), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(configPath, future, future))

	select {
	case level := <-levels:
		assert.Equal(t, "warn", level)
	case <-time.After(3 * time.Second):
		t.Fatal("configuration change was not detected")
	}
}

func TestConfigWatcher_ReloadConfig_FileChanged(t *testing.T) {
	configPath := writeConfig(t, "config.json", watcherConfig)

	logOutput := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(logOutput)

	watcher := NewConfigWatcher(configPath, logger)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	watcher.mu.Lock()
	watcher.config = config
	watcher.mu.Unlock()

	received := make(chan *models.Config, 1)
	watcher.OnConfigChange(func(config *models.Config) {
		received <- config
	})

	updated := strings.Replace(watcherConfig, `"version": "v1"`, `"version": "v2"`, 1)
	require.NoError(t, os.WriteFile(configPath, []byte(updated), 0o600))

	watcher.reloadConfig()

	select {
	case newConfig := <-received:
		assert.Equal(t, "v2", newConfig.Worker.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not called")
	}

	logStr := logOutput.String()
	assert.Contains(t, logStr, "Configuration reloaded successfully")
	assert.Contains(t, logStr, "Worker version changed")
}

func TestConfigWatcher_ReloadConfig_InvalidFile(t *testing.T) {
	configPath := writeConfig(t, "config.json", watcherConfig)

	logOutput := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(logOutput)

	watcher := NewConfigWatcher(configPath, logger)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	watcher.mu.Lock()
	watcher.config = config
	watcher.mu.Unlock()

	require.NoError(t, os.WriteFile(configPath, []byte(`invalid json`), 0o600))

	watcher.reloadConfig()

	assert.Contains(t, logOutput.String(), "Failed to reload configuration")
	assert.Equal(t, config, watcher.GetConfig())
}

func TestConfigWatcher_CallbackPanic(t *testing.T) {
	configPath := writeConfig(t, "config.json", watcherConfig)

	logOutput := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(logOutput)

	watcher := NewConfigWatcher(configPath, logger)
	watcher.OnConfigChange(func(config *models.Config) {
		panic("test panic")
	})

	watcher.reloadConfig()

	require.Eventually(t, func() bool {
		return strings.Contains(logOutput.String(), "Config change callback panicked")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConfigWatcher_LogConfigChanges(t *testing.T) {
	logOutput := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(logOutput)

	watcher := NewConfigWatcher("/path/to/config.json", logger)

	oldConfig := &models.Config{
		LogLevel: "info",
		Sync:     models.SyncConfig{IntervalSec: 300},
		Worker:   models.WorkerConfig{Version: "v1"},
	}
	newConfig := &models.Config{
		LogLevel: "debug",
		Sync:     models.SyncConfig{IntervalSec: 60},
		Worker:   models.WorkerConfig{Version: "v2"},
	}

	watcher.logConfigChanges(oldConfig, newConfig)

	logStr := logOutput.String()
	assert.Contains(t, logStr, "Log level changed")
	assert.Contains(t, logStr, "Sync interval changed")
	assert.Contains(t, logStr, "Worker version changed")
}

func TestConfigWatcher_LogConfigChanges_NilOldConfig(t *testing.T) {
	logOutput := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(logOutput)

	watcher := NewConfigWatcher("/path/to/config.json", logger)

	// Should not log anything when old config is nil
	watcher.logConfigChanges(nil, &models.Config{LogLevel: "debug"})

	assert.Equal(t, "", logOutput.String())
}

func TestApplyLogLevel(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	require.NoError(t, ApplyLogLevel(logger, "warn"))
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	assert.Error(t, ApplyLogLevel(logger, "loud"))
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	require.NoError(t, ApplyLogLevel(logger, ""))
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}
