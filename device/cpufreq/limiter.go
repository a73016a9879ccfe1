package cpufreq

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "thermal_governor/log"
)

// Limiter publishes a frequency ceiling and broadcasts it to every online
// CPU. The published ceiling is read by Callback, which must be registered
// with the PolicyNotifier backing the updater.
type Limiter struct {
	policies PolicyUpdater

	mu             sync.Mutex
	limitedMaxFreq atomic.Uint32
	pendingChange  atomic.Bool
	broadcasts     atomic.Uint64

	// set when a broadcast reached only some CPUs; the ceiling actually in
	// effect is then unknown and the next Limit broadcasts regardless
	dirty atomic.Bool
}

func NewLimiter(policies PolicyUpdater) *Limiter {
	l := &Limiter{policies: policies}
	l.limitedMaxFreq.Store(uint32(Unbounded))
	return l
}

// LimitedMaxFreq is the last ceiling successfully applied.
func (my *Limiter) LimitedMaxFreq() Frequency {
	return Frequency(my.limitedMaxFreq.Load())
}

// Broadcasts counts policy broadcasts that were started.
func (my *Limiter) Broadcasts() uint64 {
	return my.broadcasts.Load()
}

// Dirty reports that the last broadcast failed after some CPUs had already
// taken the new ceiling.
func (my *Limiter) Dirty() bool {
	return my.dirty.Load()
}

// Callback clamps a CPU policy to the published ceiling while a change is
// pending.
func (my *Limiter) Callback(p *Policy) {
	if !my.pendingChange.Load() {
		return
	}
	VerifyWithinLimits(p, 0, my.LimitedMaxFreq())
	log.Infof("Setting cpu%d max frequency to %d", p.CPU, p.Max)
}

// Limit applies maxFreq as the ceiling of all online CPUs. Requesting the
// ceiling already in effect is a no-op unless the limiter is dirty. On
// failure the previous ceiling is kept as the published value so the same
// request is retried next time.
func (my *Limiter) Limit(maxFreq Frequency) error {
	my.mu.Lock()
	defer my.mu.Unlock()

	prev := my.LimitedMaxFreq()
	if prev == maxFreq && !my.dirty.Load() {
		return nil
	}

	my.limitedMaxFreq.Store(uint32(maxFreq))
	my.pendingChange.Store(true)
	defer my.pendingChange.Store(false)

	cpus, err := my.policies.OnlineCPUs()
	if err != nil {
		my.limitedMaxFreq.Store(uint32(prev))
		return fmt.Errorf("%w: %w", ErrApply, err)
	}

	my.broadcasts.Add(1)

	var wg sync.WaitGroup
	errs := make([]error, len(cpus))
	var applied atomic.Int32
	for i, cpu := range cpus {
		wg.Add(1)
		go func(i int, cpu uint) {
			defer wg.Done()
			if err := my.policies.UpdatePolicy(cpu); err != nil {
				errs[i] = fmt.Errorf("cpu%d: %w", cpu, err)
				return
			}
			applied.Add(1)
		}(i, cpu)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		my.limitedMaxFreq.Store(uint32(prev))
		if applied.Load() > 0 || my.dirty.Load() {
			my.dirty.Store(true)
		}
		return fmt.Errorf("%w: %w", ErrApply, err)
	}
	my.dirty.Store(false)
	return nil
}
