package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermal_governor/device/cpufreq"
	"thermal_governor/governor"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveThrottlingTick(t *testing.T) {
	m := NewMetrics()
	m.Observe(governor.Report{
		Temperature:    68,
		Threshold:      47,
		Tier:           governor.TierCritical,
		Throttling:     true,
		LimitedMaxFreq: governor.FREQ_CRITICAL,
		NextDelay:      5 * time.Second,
	})

	body := scrape(t, m)
	assert.Contains(t, body, "thermald_temperature_celsius 68")
	assert.Contains(t, body, "thermald_threshold_celsius 47")
	assert.Contains(t, body, "thermald_limited_max_freq_khz 787200")
	assert.Contains(t, body, "thermald_throttling 1")
	assert.Contains(t, body, "thermald_next_sample_delay_seconds 5")
	assert.Contains(t, body, `thermald_tier_selections_total{tier="critical"} 1`)
	assert.Contains(t, body, "thermald_ticks_total 1")
}

func TestObserveReleaseAndErrors(t *testing.T) {
	m := NewMetrics()
	m.Observe(governor.Report{Temperature: 70, Tier: governor.TierCritical, Throttling: true, LimitedMaxFreq: governor.FREQ_CRITICAL})
	m.Observe(governor.Report{SensorErr: errors.New("timeout"), Throttling: true, LimitedMaxFreq: governor.FREQ_CRITICAL})
	m.Observe(governor.Report{Temperature: 30, Released: true, LimitedMaxFreq: cpufreq.Unbounded})
	m.Observe(governor.Report{Temperature: 60, Tier: governor.TierHigh, LimitErr: errors.New("EBUSY"), LimitedMaxFreq: cpufreq.Unbounded})
	m.RecordConfigReload()

	body := scrape(t, m)
	assert.Contains(t, body, "thermald_ticks_total 4")
	assert.Contains(t, body, "thermald_sensor_errors_total 1")
	assert.Contains(t, body, "thermald_limit_errors_total 1")
	assert.Contains(t, body, "thermald_releases_total 1")
	assert.Contains(t, body, "thermald_throttling 0")
	assert.Contains(t, body, "thermald_limited_max_freq_khz 0")
	assert.Contains(t, body, "thermald_temperature_celsius 60")
	assert.Contains(t, body, `thermald_tier_selections_total{tier="critical"} 1`)
	assert.NotContains(t, body, `tier="high"`)
	assert.Contains(t, body, "thermald_config_reloads_total 1")
}
