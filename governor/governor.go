// Package governor implements the thermal control loop: sample a sensor,
// pick a tier from the ladder, clamp the CPU ceiling, and resample after a
// tier-dependent delay.
package governor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"thermal_governor/device/cpufreq"
	"thermal_governor/device/temperature"
	log "thermal_governor/log"
)

const (
	DefaultSafeDiff     = 5
	DefaultInitialDelay = 10 * time.Millisecond

	sensorLogInterval = 100 // log every Nth consecutive sensor failure
)

var ErrInit = errors.New("governor: initialization failed")

// Threshold is read fresh on every tick.
type Threshold interface {
	Load() int64
}

type Limiter interface {
	Limit(maxFreq cpufreq.Frequency) error
	LimitedMaxFreq() cpufreq.Frequency
	Callback(p *cpufreq.Policy)
	// Dirty is true when a failed apply left some CPUs clamped.
	Dirty() bool
}

// Report describes one tick.
type Report struct {
	Time           time.Time
	Temperature    int64
	SensorErr      error
	LimitErr       error
	Threshold      int64
	Tier           string
	Released       bool
	Throttling     bool
	LimitedMaxFreq cpufreq.Frequency
	NextDelay      time.Duration
}

type Observer interface {
	Observe(r Report)
}

type ObserverFunc func(r Report)

func (f ObserverFunc) Observe(r Report) {
	f(r)
}

// State is a snapshot of the governor safe to take from any goroutine.
type State struct {
	Running        bool              `json:"running"`
	Threshold      int64             `json:"threshold"`
	SafeDiff       int64             `json:"safe_diff"`
	Throttling     bool              `json:"throttling"`
	LimitedMaxFreq cpufreq.Frequency `json:"limited_max_freq"`
	Temperature    int64             `json:"temperature"`
	Tier           string            `json:"tier"`
	NextDelay      time.Duration     `json:"next_delay"`
	Ticks          uint64            `json:"ticks"`
	SensorErrors   uint64            `json:"sensor_errors"`
	LimitErrors    uint64            `json:"limit_errors"`
}

type Options struct {
	Sensor       temperature.Sensor
	Limiter      Limiter
	Notifier     cpufreq.PolicyNotifier
	Scheduler    Scheduler
	Threshold    Threshold
	SafeDiff     int64
	Ladder       *Ladder
	InitialDelay time.Duration
	Observers    []Observer
}

type Governor struct {
	sensor       temperature.Sensor
	limiter      Limiter
	notifier     cpufreq.PolicyNotifier
	sched        Scheduler
	threshold    Threshold
	safeDiff     int64
	ladder       Ladder
	initialDelay time.Duration
	observers    []Observer

	// consecutive sensor failures, only touched by the tick
	sensorFailures uint64

	mu           sync.Mutex
	started      bool
	stopped      bool
	throttling   bool
	temperature  int64
	tier         string
	nextDelay    time.Duration
	ticks        uint64
	sensorErrors uint64
	limitErrors  uint64
}

// New builds a governor in the unthrottled state. A nil Ladder selects
// DefaultLadder and a nil Scheduler a TimerScheduler.
func New(opts Options) (*Governor, error) {
	if opts.Sensor == nil {
		return nil, fmt.Errorf("%w: no temperature sensor", ErrInit)
	}
	if opts.Limiter == nil || opts.Notifier == nil {
		return nil, fmt.Errorf("%w: no frequency limiter", ErrInit)
	}
	if opts.Threshold == nil {
		return nil, fmt.Errorf("%w: no threshold", ErrInit)
	}
	if opts.SafeDiff < 0 {
		return nil, fmt.Errorf("%w: negative safe diff %d", ErrInit, opts.SafeDiff)
	}

	ladder := DefaultLadder()
	if opts.Ladder != nil {
		ladder = *opts.Ladder
	}
	if err := ladder.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}

	sched := opts.Scheduler
	if sched == nil {
		sched = NewTimerScheduler()
	}
	initialDelay := opts.InitialDelay
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}

	return &Governor{
		sensor:       opts.Sensor,
		limiter:      opts.Limiter,
		notifier:     opts.Notifier,
		sched:        sched,
		threshold:    opts.Threshold,
		safeDiff:     opts.SafeDiff,
		ladder:       ladder,
		initialDelay: initialDelay,
		observers:    opts.Observers,
		tier:         TierNormal,
		nextDelay:    initialDelay,
	}, nil
}

// Start registers the policy callback and arms the first tick. Nothing is
// left running when it fails.
func (my *Governor) Start() error {
	my.mu.Lock()
	if my.started {
		my.mu.Unlock()
		return fmt.Errorf("%w: already started", ErrInit)
	}
	if err := my.notifier.Register(my.limiter.Callback); err != nil {
		my.mu.Unlock()
		return fmt.Errorf("%w: policy notifier registration: %w", ErrInit, err)
	}
	my.started = true
	my.mu.Unlock()

	log.Infof("Thermal governor started: sensor %s, threshold %d, safe diff %d",
		my.sensor.Name(), my.threshold.Load(), my.safeDiff)
	my.sched.ScheduleAfter(my.initialDelay, my.Tick)
	return nil
}

// Stop halts the loop, releases any clamp and unregisters the policy
// callback. It returns the release error, if any.
func (my *Governor) Stop() error {
	my.mu.Lock()
	if !my.started || my.stopped {
		my.mu.Unlock()
		return nil
	}
	my.stopped = true
	my.mu.Unlock()

	my.sched.Stop()

	err := my.limiter.Limit(cpufreq.Unbounded)
	my.mu.Lock()
	if err == nil {
		my.throttling = false
	}
	my.mu.Unlock()

	my.notifier.Unregister()

	if err != nil {
		log.Errorf("Thermal governor stopped, failed to release cpu frequency clamp: %v", err)
		return fmt.Errorf("release clamp: %w", err)
	}
	log.Info("Thermal governor stopped, cpu frequency clamp released")
	return nil
}

// Tick runs one sample/decide/apply step and arms the next one.
func (my *Governor) Tick() {
	r := my.evaluate()
	my.sched.ScheduleAfter(r.NextDelay, my.Tick)
}

func (my *Governor) evaluate() Report {
	r := Report{
		Time:      time.Now(),
		Threshold: my.threshold.Load(),
		Tier:      TierNormal,
		NextDelay: my.ladder.DefaultDelay,
	}

	temp, err := my.sensor.Read()
	if err != nil {
		my.sensorFailures++
		if my.sensorFailures == 1 || my.sensorFailures%sensorLogInterval == 0 {
			log.Warnf("Error reading temperature from %s (%d consecutive), keeping current clamp: %v",
				my.sensor.Name(), my.sensorFailures, err)
		}
		r.SensorErr = err
		return my.record(r)
	}
	if my.sensorFailures > 0 {
		log.Infof("Temperature sensor %s is back after %d failed reads", my.sensor.Name(), my.sensorFailures)
		my.sensorFailures = 0
	}
	r.Temperature = temp

	if my.isThrottling() && distance(r.Threshold, temp) > my.safeDiff {
		if err := my.limiter.Limit(cpufreq.Unbounded); err != nil {
			log.Errorf("Failed to release cpu frequency clamp at %d: %v", temp, err)
			r.LimitErr = err
			return my.record(r)
		}
		my.setThrottling(false)
		r.Released = true
		log.Infof("Temperature %d below %d, cpu frequency clamp released", temp, r.Threshold-my.safeDiff)
		return my.record(r)
	}

	tier, ok := my.ladder.Select(temp, r.Threshold)
	r.Tier = tier.Name
	if !ok {
		return my.record(r)
	}

	prev := my.limiter.LimitedMaxFreq()
	if err := my.limiter.Limit(tier.Cap); err != nil {
		log.Errorf("Failed to limit cpu frequency to %d (%s) at %d: %v", tier.Cap, tier.Name, temp, err)
		r.LimitErr = err
		// some CPUs may hold the cap, keep the episode open so it gets released
		if my.limiter.Dirty() {
			my.setThrottling(true)
		}
		return my.record(r)
	}
	if prev != tier.Cap {
		log.Infof("Temperature %d, threshold %d: %s, cpu max frequency %d", temp, r.Threshold, tier.Name, tier.Cap)
	}
	my.setThrottling(true)
	r.NextDelay = tier.Delay
	return my.record(r)
}

func (my *Governor) isThrottling() bool {
	my.mu.Lock()
	defer my.mu.Unlock()
	return my.throttling
}

func (my *Governor) setThrottling(v bool) {
	my.mu.Lock()
	my.throttling = v
	my.mu.Unlock()
}

// record stores the outcome of a tick and hands it to the observers.
func (my *Governor) record(r Report) Report {
	r.LimitedMaxFreq = my.limiter.LimitedMaxFreq()

	my.mu.Lock()
	my.ticks++
	if r.SensorErr != nil {
		my.sensorErrors++
	} else {
		my.temperature = r.Temperature
		my.tier = r.Tier
	}
	if r.LimitErr != nil {
		my.limitErrors++
	}
	my.nextDelay = r.NextDelay
	r.Throttling = my.throttling
	my.mu.Unlock()

	for _, o := range my.observers {
		o.Observe(r)
	}
	return r
}

func (my *Governor) State() State {
	my.mu.Lock()
	defer my.mu.Unlock()

	return State{
		Running:        my.started && !my.stopped,
		Threshold:      my.threshold.Load(),
		SafeDiff:       my.safeDiff,
		Throttling:     my.throttling,
		LimitedMaxFreq: my.limiter.LimitedMaxFreq(),
		Temperature:    my.temperature,
		Tier:           my.tier,
		NextDelay:      my.nextDelay,
		Ticks:          my.ticks,
		SensorErrors:   my.sensorErrors,
		LimitErrors:    my.limitErrors,
	}
}

func (my *Governor) Ladder() Ladder {
	return my.ladder
}
