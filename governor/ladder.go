package governor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"thermal_governor/device/cpufreq"
)

const (
	TierCritical = "critical"
	TierHigh     = "high"
	TierElevated = "elevated"
	TierWarm     = "warm"
	TierNormal   = "normal"
)

// throttle points in kHz
const (
	FREQ_CRITICAL cpufreq.Frequency = 787200
	FREQ_HIGH     cpufreq.Frequency = 998400
	FREQ_ELEVATED cpufreq.Frequency = 1190400
	FREQ_WARM     cpufreq.Frequency = 1593600
)

// degrees above the threshold
const (
	LEVEL_CRITICAL = 1 << 4
	LEVEL_HIGH     = 1 << 3
	LEVEL_ELEVATED = 1 << 2
)

// how long the governor stays on a level before sampling again
const (
	SAMPLE_TIME_CRITICAL = 5000 * time.Millisecond
	SAMPLE_TIME_HIGH     = 3000 * time.Millisecond
	SAMPLE_TIME_ELEVATED = 2000 * time.Millisecond
	SAMPLE_TIME_DEFAULT  = 500 * time.Millisecond
)

// Tier is one rung of the ladder: at Offset degrees above the threshold the
// CPUs are capped at Cap and the next sample is taken after Delay.
type Tier struct {
	Name   string
	Offset int64
	Cap    cpufreq.Frequency
	Delay  time.Duration
}

// Ladder is checked hottest level first. Readings above the threshold that
// reach no level fall on the warm tier, which resamples at DefaultDelay.
type Ladder struct {
	Levels       []Tier
	WarmCap      cpufreq.Frequency
	DefaultDelay time.Duration
}

func DefaultLadder() Ladder {
	return Ladder{
		Levels: []Tier{
			{Name: TierCritical, Offset: LEVEL_CRITICAL, Cap: FREQ_CRITICAL, Delay: SAMPLE_TIME_CRITICAL},
			{Name: TierHigh, Offset: LEVEL_HIGH, Cap: FREQ_HIGH, Delay: SAMPLE_TIME_HIGH},
			{Name: TierElevated, Offset: LEVEL_ELEVATED, Cap: FREQ_ELEVATED, Delay: SAMPLE_TIME_ELEVATED},
		},
		WarmCap:      FREQ_WARM,
		DefaultDelay: SAMPLE_TIME_DEFAULT,
	}
}

var ErrInvalidLadder = errors.New("invalid tier ladder")

// Validate checks that hotter levels never get a less restrictive cap.
func (l Ladder) Validate() error {
	if l.DefaultDelay <= 0 {
		return fmt.Errorf("%w: default delay must be positive", ErrInvalidLadder)
	}
	if l.WarmCap == 0 || l.WarmCap == cpufreq.Unbounded {
		return fmt.Errorf("%w: warm cap must be a bounded, non-zero frequency", ErrInvalidLadder)
	}

	for i, t := range l.Levels {
		if t.Offset <= 0 {
			return fmt.Errorf("%w: level %d (%s) offset must be positive", ErrInvalidLadder, i, t.Name)
		}
		if t.Cap == 0 || t.Cap > l.WarmCap {
			return fmt.Errorf("%w: level %d (%s) cap %d must be non-zero and not above the warm cap", ErrInvalidLadder, i, t.Name, t.Cap)
		}
		if t.Delay <= 0 {
			return fmt.Errorf("%w: level %d (%s) delay must be positive", ErrInvalidLadder, i, t.Name)
		}
		if i == 0 {
			continue
		}
		prev := l.Levels[i-1]
		if t.Offset >= prev.Offset {
			return fmt.Errorf("%w: level %d (%s) offset must be below the level before it", ErrInvalidLadder, i, t.Name)
		}
		if t.Cap < prev.Cap {
			return fmt.Errorf("%w: level %d (%s) cap must not be below the level before it", ErrInvalidLadder, i, t.Name)
		}
	}
	return nil
}

// Select returns the tier for temp. ok is false when temp is at or below the
// threshold; the returned tier is then the normal tier, which carries no cap.
func (l Ladder) Select(temp int64, threshold int64) (t Tier, ok bool) {
	above := distance(temp, threshold)
	for _, level := range l.Levels {
		if above >= level.Offset {
			return level, true
		}
	}
	if above > 0 {
		return Tier{Name: TierWarm, Cap: l.WarmCap, Delay: l.DefaultDelay}, true
	}
	return Tier{Name: TierNormal, Cap: cpufreq.Unbounded, Delay: l.DefaultDelay}, false
}

// distance returns a-b saturated to the int64 range, so thresholds at the
// extremes compare correctly.
func distance(a, b int64) int64 {
	if b > 0 && a < math.MinInt64+b {
		return math.MinInt64
	}
	if b < 0 && a > math.MaxInt64+b {
		return math.MaxInt64
	}
	return a - b
}
