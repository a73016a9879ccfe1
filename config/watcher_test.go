package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherUpdatesThreshold(t *testing.T) {
	path := writeConfig(t, "thermald.yaml", "threshold: 47\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	th := NewThreshold(cfg.Threshold)
	w, err := NewWatcher(path, cfg, th)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("threshold: 55\n"), 0644))

	assert.Eventually(t, func() bool { return th.Load() == 55 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(55), w.Current().Threshold)
}

func TestWatcherKeepsSettingsOnBadFile(t *testing.T) {
	path := writeConfig(t, "thermald.yaml", "threshold: 47\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	th := NewThreshold(cfg.Threshold)
	w, err := NewWatcher(path, cfg, th)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("threshold: 50\nsafe_diff: -4\n"), 0644))
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int64(47), th.Load())
	assert.Equal(t, 0, w.Reloads())
}

func TestReloadKeepsThresholdSetElsewhere(t *testing.T) {
	path := writeConfig(t, "thermald.yaml", "threshold: 47\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	// no fsnotify here, Reload is driven by hand
	th := NewThreshold(cfg.Threshold)
	w := &Watcher{path: path, threshold: th, current: cfg}

	var reloaded GovernorConfig
	w.OnReload(func(c GovernorConfig) { reloaded = c })

	th.Store(60)
	require.NoError(t, os.WriteFile(path, []byte("threshold: 47\nlog_level: debug\n"), 0644))
	w.Reload()

	assert.Equal(t, int64(60), th.Load())
	assert.Equal(t, "debug", reloaded.LogLevel)
}
