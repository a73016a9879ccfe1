package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"thermal_governor/api"
	"thermal_governor/config"
	"thermal_governor/device"
	"thermal_governor/governor"
	log "thermal_governor/log"
	"thermal_governor/metrics"
	"thermal_governor/system"
	"thermal_governor/version"
)

const shutdownTimeout = 5 * time.Second

// settings is the configuration the daemon runs with, plus the file as
// loaded before any flag was applied. The watcher compares reloads against
// the latter so an unchanged file never undoes a flag.
type settings struct {
	cfg  config.GovernorConfig
	file config.GovernorConfig
	path string
}

// buildConfig layers defaults, the config file, the environment and finally
// the flags that were set explicitly.
func buildConfig(cmd *cobra.Command) (settings, error) {
	f := cmd.Flags()
	path, err := f.GetString("config")
	if err != nil {
		return settings{}, fmt.Errorf("failed to get config flag: %w", err)
	}

	file, err := config.Load(path)
	if err != nil {
		return settings{path: path}, err
	}
	cfg := file

	if f.Changed("threshold") {
		cfg.Threshold, _ = f.GetInt64("threshold")
	}
	if f.Changed("safe-diff") {
		cfg.SafeDiff, _ = f.GetInt64("safe-diff")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("cpufreq-path") {
		cfg.CPUFreqPath, _ = f.GetString("cpufreq-path")
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("api-addr") {
		cfg.APIAddr, _ = f.GetString("api-addr")
	}

	if err := cfg.Validate(); err != nil {
		return settings{path: path}, err
	}
	return settings{cfg: cfg, file: file, path: path}, nil
}

// startWatcher returns nil when no config file is in use.
func startWatcher(s settings, threshold *config.Threshold) (*config.Watcher, error) {
	if s.path == "" {
		return nil, nil
	}
	return config.NewWatcher(s.path, s.file, threshold)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	s, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	cfg := s.cfg

	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") {
		log.ApplyEnv()
	}
	log.Infof("=============== %s %s start ===============", version.Name, version.Version)

	var devMgr device.DeviceManager
	if err := devMgr.Init(cfg); err != nil {
		return err
	}
	defer devMgr.Fini()

	threshold := config.NewThreshold(cfg.Threshold)
	m := metrics.NewMetrics()

	gov, err := governor.New(governor.Options{
		Sensor:    devMgr.Sensor,
		Limiter:   devMgr.Limiter,
		Notifier:  devMgr.Policies,
		Threshold: threshold,
		SafeDiff:  cfg.SafeDiff,
		Ladder:    cfg.GovernorLadder(),
		Observers: []governor.Observer{m, &devMgr},
	})
	if err != nil {
		return err
	}
	if err := gov.Start(); err != nil {
		return err
	}
	defer gov.Stop()

	handler := &api.Handler{
		State:     gov,
		Threshold: threshold,
		SysInfo:   system.NewReader(devMgr.Policies),
	}
	srv, err := api.NewServer(cfg.APIAddr, handler.Serve, false)
	if err != nil {
		return err
	}
	go srv.ListenAndServe()
	log.Infof("Control API listening on %s", srv.Addr())

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server: %v", err)
			}
		}()
		log.Infof("Metrics on http://%s/metrics", cfg.MetricsAddr)
	}

	watcher, err := startWatcher(s, threshold)
	if err != nil {
		log.Warnf("Config %s will not be watched: %v", s.path, err)
		watcher = nil
	} else if watcher != nil {
		watcher.OnReload(func(config.GovernorConfig) { m.RecordConfigReload() })
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if watcher != nil {
				log.Info("SIGHUP, reloading config")
				watcher.Reload()
			}
			continue
		}
		log.Infof("Received %v, shutting down", sig)
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		watcher.Close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("Control API shutdown: %v", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Warnf("Metrics server shutdown: %v", err)
		}
	}

	log.Infof("=============== %s stop ===============", version.Name)
	return nil
}
