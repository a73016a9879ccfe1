package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	log "thermal_governor/log"
)

const WATCH_DEBOUNCE = 100 * time.Millisecond

// Watcher reloads the config file when it changes and pushes a new
// threshold into the live Threshold. Other settings take effect on restart.
type Watcher struct {
	path      string
	threshold *Threshold
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	current GovernorConfig
	reloads int
	onLoad  func(GovernorConfig)
}

// NewWatcher starts watching path. current is the configuration the daemon
// was started with.
func NewWatcher(path string, current GovernorConfig, threshold *Threshold) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// editors replace files, so watch the directory
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:      absPath,
		threshold: threshold,
		watcher:   fw,
		cancel:    cancel,
		done:      make(chan struct{}),
		current:   current,
	}
	go w.watchLoop(ctx)
	return w, nil
}

// OnReload registers fn to run after every successful reload.
func (my *Watcher) OnReload(fn func(GovernorConfig)) {
	my.mu.Lock()
	my.onLoad = fn
	my.mu.Unlock()
}

func (my *Watcher) Current() GovernorConfig {
	my.mu.Lock()
	defer my.mu.Unlock()
	return my.current
}

func (my *Watcher) Reloads() int {
	my.mu.Lock()
	defer my.mu.Unlock()
	return my.reloads
}

func (my *Watcher) Close() error {
	my.cancel()
	err := my.watcher.Close()
	<-my.done
	return err
}

func (my *Watcher) watchLoop(ctx context.Context) {
	defer close(my.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-my.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != my.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(WATCH_DEBOUNCE, my.Reload)
			}
		case err, ok := <-my.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("Config watcher error: %v", err)
		}
	}
}

// Reload reads the file once. A file that fails to load or validate leaves
// everything as it was.
func (my *Watcher) Reload() {
	next, err := Load(my.path)
	if err != nil {
		log.Errorf("Error reloading config %s, keeping current settings: %v", my.path, err)
		return
	}

	my.mu.Lock()
	prev := my.current
	my.current = next
	my.reloads++
	onLoad := my.onLoad
	my.mu.Unlock()

	// only a threshold edited in the file replaces the live value, so one
	// set through the control API survives unrelated edits
	if next.Threshold != prev.Threshold {
		my.threshold.Store(next.Threshold)
		log.Infof("Threshold changed from %d to %d by %s", prev.Threshold, next.Threshold, my.path)
	}

	a, b := prev, next
	a.Threshold, b.Threshold = 0, 0
	if !reflect.DeepEqual(a, b) {
		log.Warnf("Config %s changed settings other than threshold, restart thermald to apply them", my.path)
	}

	if onLoad != nil {
		onLoad(next)
	}
}
