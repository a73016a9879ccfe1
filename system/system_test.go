package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermal_governor/device/cpufreq"
	"thermal_governor/device/cpufreq/cpufreqtest"
)

func TestGetSystemInfo(t *testing.T) {
	base := cpufreqtest.NewTree(t, 4)
	policies := cpufreq.NewPolicies(base)
	r := NewReader(policies)

	info, err := r.GetSystemInfo()
	require.NoError(t, err)
	assert.Equal(t, 4, info.CPUCount)
	require.Len(t, info.CPUs, 4)
	for i, c := range info.CPUs {
		assert.Equal(t, uint(i), c.CPU)
		assert.Equal(t, cpufreq.Frequency(cpufreqtest.CpuinfoMin), c.CpuinfoMin)
		assert.Equal(t, cpufreq.Frequency(cpufreqtest.CpuinfoMax), c.CpuinfoMax)
		assert.Equal(t, cpufreq.Frequency(cpufreqtest.CpuinfoMax), c.ScalingMax)
		assert.Equal(t, cpufreqtest.Driver, c.ScalingDriver)
	}
}

func TestGetSystemInfoFollowsScalingMax(t *testing.T) {
	base := cpufreqtest.NewTree(t, 2)
	policies := cpufreq.NewPolicies(base)
	limiter := cpufreq.NewLimiter(policies)
	require.NoError(t, policies.Register(limiter.Callback))
	r := NewReader(policies)

	_, err := r.GetSystemInfo()
	require.NoError(t, err)

	require.NoError(t, limiter.Limit(998400))
	info, err := r.GetSystemInfo()
	require.NoError(t, err)
	for _, c := range info.CPUs {
		assert.Equal(t, cpufreq.Frequency(998400), c.ScalingMax)
	}
}

func TestGetSystemInfoMissingTree(t *testing.T) {
	r := NewReader(cpufreq.NewPolicies(t.TempDir()))
	_, err := r.GetSystemInfo()
	assert.Error(t, err)
}
