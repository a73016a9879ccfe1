package governor

import (
	"sync"
	"time"
)

// Scheduler re-invokes a function after a delay on a single slot: arming the
// slot again replaces whatever was pending.
type Scheduler interface {
	ScheduleAfter(d time.Duration, fn func())
	// Stop cancels the pending call, waits for a running one, and ignores
	// later ScheduleAfter calls.
	Stop()
}

type TimerScheduler struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

func (my *TimerScheduler) ScheduleAfter(d time.Duration, fn func()) {
	my.mu.Lock()
	defer my.mu.Unlock()

	if my.stopped {
		return
	}
	if my.timer != nil && my.timer.Stop() {
		my.wg.Done()
	}

	my.wg.Add(1)
	my.timer = time.AfterFunc(d, func() {
		defer my.wg.Done()

		my.mu.Lock()
		stopped := my.stopped
		my.mu.Unlock()
		if stopped {
			return
		}
		fn()
	})
}

func (my *TimerScheduler) Stop() {
	my.mu.Lock()
	if my.stopped {
		my.mu.Unlock()
		return
	}
	my.stopped = true
	if my.timer != nil && my.timer.Stop() {
		my.wg.Done()
	}
	my.mu.Unlock()

	my.wg.Wait()
}
