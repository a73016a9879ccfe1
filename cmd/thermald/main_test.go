package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermal_governor/api"
	"thermal_governor/config"
	"thermal_governor/governor"
	"thermal_governor/version"
)

func TestBuildConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thermald.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 60\nsafe_diff: 3\nmetrics_addr: \":9000\"\n"), 0644))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--threshold", "52", "--api-addr", "127.0.0.1:5000"}))

	s, err := buildConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, path, s.path)
	assert.Equal(t, int64(52), s.cfg.Threshold)
	assert.Equal(t, int64(3), s.cfg.SafeDiff, "file value kept when the flag is not set")
	assert.Equal(t, ":9000", s.cfg.MetricsAddr)
	assert.Equal(t, "127.0.0.1:5000", s.cfg.APIAddr)

	assert.Equal(t, int64(60), s.file.Threshold, "file settings exclude flags")
	assert.Equal(t, config.DEFAULT_API_ADDR, s.file.APIAddr)
}

func TestReloadOfUnchangedFileKeepsFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thermald.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 47\n"), 0644))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--threshold", "60", "--api-addr", "127.0.0.1:5000"}))
	s, err := buildConfig(cmd)
	require.NoError(t, err)

	th := config.NewThreshold(s.cfg.Threshold)
	w, err := startWatcher(s, th)
	require.NoError(t, err)
	require.NotNil(t, w)
	defer w.Close()

	w.Reload()
	assert.Equal(t, int64(60), th.Load(), "flag threshold survives a reload of the same file")

	require.NoError(t, os.WriteFile(path, []byte("threshold: 50\n"), 0644))
	w.Reload()
	assert.Equal(t, int64(50), th.Load(), "an edited file threshold still applies")
}

func TestStartWatcherWithoutFile(t *testing.T) {
	w, err := startWatcher(settings{}, config.NewThreshold(47))
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestBuildConfigDefaults(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	s, err := buildConfig(cmd)
	require.NoError(t, err)
	assert.Empty(t, s.path)
	assert.Equal(t, config.Default(), s.cfg)
}

func TestBuildConfigRejectsInvalid(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--safe-diff", "-2"}))

	_, err := buildConfig(cmd)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())

	var got version.VersionConfig
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, version.GetVersionConfig(), got)
}

type fixedState governor.State

func (s fixedState) State() governor.State { return governor.State(s) }

func startAPI(t *testing.T, h *api.Handler) string {
	t.Helper()
	s, err := api.NewServer("127.0.0.1:0", h.Serve, false)
	require.NoError(t, err)
	go s.ListenAndServe()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s.Addr().String()
}

func TestSetThresholdCmd(t *testing.T) {
	th := config.NewThreshold(47)
	addr := startAPI(t, &api.Handler{Threshold: th})

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"set-threshold", "--api-addr", addr, "58"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, int64(58), th.Load())
	assert.Equal(t, "threshold 47 -> 58\n", out.String())
}

func TestSetThresholdCmdRejectsGarbage(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"set-threshold", "warm"})
	assert.Error(t, cmd.Execute())
}

func TestStatusCmd(t *testing.T) {
	st := fixedState{Running: true, Threshold: 47, Throttling: true, LimitedMaxFreq: governor.FREQ_HIGH, Tier: governor.TierHigh}
	addr := startAPI(t, &api.Handler{State: st})

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status", "--api-addr", addr})
	require.NoError(t, cmd.Execute())

	var got governor.State
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, governor.State(st), got)
}
