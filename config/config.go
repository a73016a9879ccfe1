// Package config loads the daemon configuration from YAML, TOML or JSON and
// applies environment overrides on top of it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"thermal_governor/device/cpufreq"
	"thermal_governor/device/i2c"
	"thermal_governor/device/indicator"
	"thermal_governor/governor"
	log "thermal_governor/log"
)

const (
	DEFAULT_THRESHOLD = 47
	DEFAULT_SAFE_DIFF = governor.DefaultSafeDiff

	DEFAULT_API_ADDR     = "127.0.0.1:4028"
	DEFAULT_METRICS_ADDR = ""
)

const (
	EnvThreshold = "THERMALD_THRESHOLD"
	EnvSafeDiff  = "THERMALD_SAFE_DIFF"
)

const (
	SensorZone  = "zone"
	SensorHwmon = "hwmon"
	SensorI2C   = "i2c"
	SensorFile  = "file"
)

var ErrInvalid = errors.New("invalid configuration")

type SensorConfig struct {
	Type       string `yaml:"type" toml:"type" json:"type"`
	Zone       int    `yaml:"zone" toml:"zone" json:"zone"`
	Path       string `yaml:"path,omitempty" toml:"path" json:"path,omitempty"`
	Divisor    int64  `yaml:"divisor,omitempty" toml:"divisor" json:"divisor,omitempty"`
	HwmonName  string `yaml:"hwmon_name,omitempty" toml:"hwmon_name" json:"hwmon_name,omitempty"`
	HwmonLabel string `yaml:"hwmon_label,omitempty" toml:"hwmon_label" json:"hwmon_label,omitempty"`
	Bus        int    `yaml:"bus" toml:"bus" json:"bus"`
	Addr       uint16 `yaml:"addr,omitempty" toml:"addr" json:"addr,omitempty"`
	Transport  string `yaml:"transport,omitempty" toml:"transport" json:"transport,omitempty"`
}

type TierConfig struct {
	Name    string `yaml:"name" toml:"name" json:"name"`
	Offset  int64  `yaml:"offset" toml:"offset" json:"offset"`
	Cap     uint32 `yaml:"cap_khz" toml:"cap_khz" json:"cap_khz"`
	DelayMs int64  `yaml:"delay_ms" toml:"delay_ms" json:"delay_ms"`
}

// LadderConfig replaces the built-in tier ladder. Tiers are listed hottest
// first.
type LadderConfig struct {
	Tiers          []TierConfig `yaml:"tiers" toml:"tiers" json:"tiers"`
	WarmCap        uint32       `yaml:"warm_cap_khz" toml:"warm_cap_khz" json:"warm_cap_khz"`
	DefaultDelayMs int64        `yaml:"default_delay_ms" toml:"default_delay_ms" json:"default_delay_ms"`
}

type IndicatorConfig struct {
	Type      string `yaml:"type" toml:"type" json:"type"`
	Chip      string `yaml:"chip,omitempty" toml:"chip" json:"chip,omitempty"`
	Line      int    `yaml:"line,omitempty" toml:"line" json:"line,omitempty"`
	Pin       int    `yaml:"pin,omitempty" toml:"pin" json:"pin,omitempty"`
	ActiveLow bool   `yaml:"active_low,omitempty" toml:"active_low" json:"active_low,omitempty"`
}

type GovernorConfig struct {
	Threshold   int64           `yaml:"threshold" toml:"threshold" json:"threshold"`
	SafeDiff    int64           `yaml:"safe_diff" toml:"safe_diff" json:"safe_diff"`
	Sensor      SensorConfig    `yaml:"sensor" toml:"sensor" json:"sensor"`
	Ladder      *LadderConfig   `yaml:"ladder,omitempty" toml:"ladder" json:"ladder,omitempty"`
	Indicator   IndicatorConfig `yaml:"indicator" toml:"indicator" json:"indicator"`
	CPUFreqPath string          `yaml:"cpufreq_path" toml:"cpufreq_path" json:"cpufreq_path"`
	APIAddr     string          `yaml:"api_addr" toml:"api_addr" json:"api_addr"`
	MetricsAddr string          `yaml:"metrics_addr" toml:"metrics_addr" json:"metrics_addr"`
	LogLevel    string          `yaml:"log_level" toml:"log_level" json:"log_level"`
}

func Default() GovernorConfig {
	return GovernorConfig{
		Threshold: DEFAULT_THRESHOLD,
		SafeDiff:  DEFAULT_SAFE_DIFF,
		Sensor: SensorConfig{
			Type:    SensorZone,
			Zone:    0,
			Divisor: 1000,
		},
		Indicator:   IndicatorConfig{Type: indicator.TypeNone},
		CPUFreqPath: cpufreq.DefaultBasePath,
		APIAddr:     DEFAULT_API_ADDR,
		MetricsAddr: DEFAULT_METRICS_ADDR,
		LogLevel:    "info",
	}
}

// Load reads path on top of the defaults, applies the environment and
// validates the result. An empty path yields the defaults.
func Load(path string) (GovernorConfig, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *GovernorConfig) error {
	// #nosec G304 -- path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
				return fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
			}
		}
	}
	return nil
}

func ApplyEnv(cfg *GovernorConfig) error {
	if v, ok := os.LookupEnv(EnvThreshold); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvThreshold, v, err)
		}
		cfg.Threshold = n
	}
	if v, ok := os.LookupEnv(EnvSafeDiff); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvSafeDiff, v, err)
		}
		cfg.SafeDiff = n
	}
	return nil
}

func (my *GovernorConfig) Validate() error {
	if my.SafeDiff < 0 {
		return fmt.Errorf("%w: safe_diff %d is negative", ErrInvalid, my.SafeDiff)
	}

	s := my.Sensor
	switch s.Type {
	case SensorZone:
		if s.Zone < 0 {
			return fmt.Errorf("%w: thermal zone %d", ErrInvalid, s.Zone)
		}
	case SensorFile:
		if s.Path == "" {
			return fmt.Errorf("%w: file sensor needs a path", ErrInvalid)
		}
	case SensorHwmon:
		if s.HwmonName == "" {
			return fmt.Errorf("%w: hwmon sensor needs hwmon_name", ErrInvalid)
		}
	case SensorI2C:
		if s.Bus < 0 {
			return fmt.Errorf("%w: i2c bus %d", ErrInvalid, s.Bus)
		}
		if s.Addr > 0x7f {
			return fmt.Errorf("%w: i2c address 0x%x out of range", ErrInvalid, s.Addr)
		}
		switch s.Transport {
		case "", i2c.TransportDevfs, i2c.TransportPeriph:
		default:
			return fmt.Errorf("%w: unknown i2c transport %q", ErrInvalid, s.Transport)
		}
	default:
		return fmt.Errorf("%w: unknown sensor type %q", ErrInvalid, s.Type)
	}
	if s.Type != SensorI2C && s.Divisor < 0 {
		return fmt.Errorf("%w: sensor divisor %d", ErrInvalid, s.Divisor)
	}

	if my.Ladder != nil {
		l := my.Ladder.ToGovernor()
		if err := l.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	switch my.Indicator.Type {
	case "", indicator.TypeNone, indicator.TypeGpiod, indicator.TypeSysfs:
	default:
		return fmt.Errorf("%w: unknown indicator type %q", ErrInvalid, my.Indicator.Type)
	}

	if my.CPUFreqPath == "" {
		return fmt.Errorf("%w: cpufreq_path is empty", ErrInvalid)
	}
	if _, ok := log.ParseLevel(my.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, my.LogLevel)
	}
	return nil
}

// GovernorLadder returns the configured ladder, or nil for the built-in one.
func (my *GovernorConfig) GovernorLadder() *governor.Ladder {
	if my.Ladder == nil {
		return nil
	}
	l := my.Ladder.ToGovernor()
	return &l
}

func (my *LadderConfig) ToGovernor() governor.Ladder {
	l := governor.Ladder{
		WarmCap:      cpufreq.Frequency(my.WarmCap),
		DefaultDelay: time.Duration(my.DefaultDelayMs) * time.Millisecond,
	}
	for _, t := range my.Tiers {
		l.Levels = append(l.Levels, governor.Tier{
			Name:   t.Name,
			Offset: t.Offset,
			Cap:    cpufreq.Frequency(t.Cap),
			Delay:  time.Duration(t.DelayMs) * time.Millisecond,
		})
	}
	return l
}

func (my *IndicatorConfig) ToIndicator() indicator.Config {
	return indicator.Config{
		Type:      my.Type,
		Chip:      my.Chip,
		Line:      my.Line,
		Pin:       my.Pin,
		ActiveLow: my.ActiveLow,
	}
}

// Threshold is the live trip point shared by the governor, the control API
// and the config watcher.
type Threshold struct {
	v atomic.Int64
}

func NewThreshold(v int64) *Threshold {
	t := &Threshold{}
	t.v.Store(v)
	return t
}

func (my *Threshold) Load() int64 {
	return my.v.Load()
}

func (my *Threshold) Store(v int64) {
	my.v.Store(v)
}
