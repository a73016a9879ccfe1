package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermal_governor/device/cpufreq"
	"thermal_governor/governor"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(47), cfg.Threshold)
	assert.Equal(t, int64(5), cfg.SafeDiff)
	assert.Equal(t, SensorZone, cfg.Sensor.Type)
	assert.Equal(t, cpufreq.DefaultBasePath, cfg.CPUFreqPath)
	assert.Nil(t, cfg.GovernorLadder())
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "thermald.yaml", `
threshold: 60
safe_diff: 3
sensor:
  type: hwmon
  hwmon_name: coretemp
  hwmon_label: Package id 0
indicator:
  type: gpiod
  chip: gpiochip0
  line: 17
ladder:
  warm_cap_khz: 1800000
  default_delay_ms: 250
  tiers:
    - {name: hot, offset: 10, cap_khz: 1000000, delay_ms: 4000}
    - {name: warmish, offset: 5, cap_khz: 1400000, delay_ms: 1000}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(60), cfg.Threshold)
	assert.Equal(t, int64(3), cfg.SafeDiff)
	assert.Equal(t, "coretemp", cfg.Sensor.HwmonName)
	assert.Equal(t, "Package id 0", cfg.Sensor.HwmonLabel)
	assert.Equal(t, 17, cfg.Indicator.ToIndicator().Line)

	l := cfg.GovernorLadder()
	require.NotNil(t, l)
	assert.Equal(t, cpufreq.Frequency(1800000), l.WarmCap)
	assert.Equal(t, 250*time.Millisecond, l.DefaultDelay)
	require.Len(t, l.Levels, 2)
	assert.Equal(t, governor.Tier{Name: "hot", Offset: 10, Cap: 1000000, Delay: 4 * time.Second}, l.Levels[0])
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "thermald.toml", `
threshold = 52
api_addr = "127.0.0.1:9999"

[sensor]
type = "i2c"
bus = 1
addr = 0x48
transport = "periph"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(52), cfg.Threshold)
	assert.Equal(t, int64(DEFAULT_SAFE_DIFF), cfg.SafeDiff, "unset keys keep defaults")
	assert.Equal(t, "127.0.0.1:9999", cfg.APIAddr)
	assert.Equal(t, SensorI2C, cfg.Sensor.Type)
	assert.Equal(t, uint16(0x48), cfg.Sensor.Addr)
	assert.Equal(t, "periph", cfg.Sensor.Transport)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "thermald.json", `{"threshold": 70, "sensor": {"type": "file", "path": "/tmp/temp", "divisor": 1}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(70), cfg.Threshold)
	assert.Equal(t, "/tmp/temp", cfg.Sensor.Path)
	assert.Equal(t, int64(1), cfg.Sensor.Divisor)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "thermald.yaml", "threshold: 60\n")
	t.Setenv(EnvThreshold, "55")
	t.Setenv(EnvSafeDiff, "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(55), cfg.Threshold)
	assert.Equal(t, int64(2), cfg.SafeDiff)

	t.Setenv(EnvThreshold, "hot")
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bad.toml", "threshold = ["))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(c *GovernorConfig){
		"negative safe diff":   func(c *GovernorConfig) { c.SafeDiff = -1 },
		"unknown sensor":       func(c *GovernorConfig) { c.Sensor.Type = "thermocouple" },
		"file without path":    func(c *GovernorConfig) { c.Sensor.Type = SensorFile },
		"hwmon without name":   func(c *GovernorConfig) { c.Sensor.Type = SensorHwmon },
		"i2c address too high": func(c *GovernorConfig) { c.Sensor.Type = SensorI2C; c.Sensor.Addr = 0x90 },
		"i2c transport":        func(c *GovernorConfig) { c.Sensor.Type = SensorI2C; c.Sensor.Transport = "spi" },
		"unknown indicator":    func(c *GovernorConfig) { c.Indicator.Type = "led" },
		"empty cpufreq path":   func(c *GovernorConfig) { c.CPUFreqPath = "" },
		"unknown log level":    func(c *GovernorConfig) { c.LogLevel = "loud" },
		"inverted ladder": func(c *GovernorConfig) {
			c.Ladder = &LadderConfig{
				WarmCap:        1593600,
				DefaultDelayMs: 500,
				Tiers: []TierConfig{
					{Name: "a", Offset: 16, Cap: 1190400, DelayMs: 5000},
					{Name: "b", Offset: 8, Cap: 787200, DelayMs: 3000},
				},
			}
		},
	} {
		cfg := Default()
		mutate(&cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalid, name)
	}
}

func TestThreshold(t *testing.T) {
	th := NewThreshold(47)
	assert.Equal(t, int64(47), th.Load())
	th.Store(60)
	assert.Equal(t, int64(60), th.Load())
}
