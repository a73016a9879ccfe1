package governor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerSchedulerRuns(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var calls atomic.Int32
	s.ScheduleAfter(time.Millisecond, func() { calls.Add(1) })

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestTimerSchedulerSingleSlot(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var first, second atomic.Int32
	s.ScheduleAfter(50*time.Millisecond, func() { first.Add(1) })
	s.ScheduleAfter(time.Millisecond, func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "rearming replaces the pending call")
}

func TestTimerSchedulerStop(t *testing.T) {
	s := NewTimerScheduler()

	var calls atomic.Int32
	s.ScheduleAfter(20*time.Millisecond, func() { calls.Add(1) })
	s.Stop()
	s.ScheduleAfter(time.Millisecond, func() { calls.Add(1) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	s.Stop()
}

func TestTimerSchedulerStopWaitsForRunning(t *testing.T) {
	s := NewTimerScheduler()

	started := make(chan struct{})
	var done atomic.Bool
	s.ScheduleAfter(time.Millisecond, func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		done.Store(true)
	})

	<-started
	s.Stop()
	assert.True(t, done.Load())
}

func TestTimerSchedulerSelfRearm(t *testing.T) {
	s := NewTimerScheduler()

	var calls atomic.Int32
	var fn func()
	fn = func() {
		if calls.Add(1) < 5 {
			s.ScheduleAfter(time.Millisecond, fn)
		}
	}
	s.ScheduleAfter(time.Millisecond, fn)

	assert.Eventually(t, func() bool { return calls.Load() == 5 }, time.Second, time.Millisecond)
	s.Stop()
}
