// Package device opens the hardware the governor runs against: the
// temperature sensor, the cpufreq policies and the optional throttle
// indicator.
package device

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"thermal_governor/config"
	"thermal_governor/device/cpufreq"
	"thermal_governor/device/i2c"
	"thermal_governor/device/indicator"
	"thermal_governor/device/temperature"
	"thermal_governor/governor"
	"thermal_governor/log"
)

var ErrDevNotExist = errors.New("not exist")

type DeviceManager struct {
	Sensor    temperature.Sensor
	Policies  *cpufreq.Policies
	Limiter   *cpufreq.Limiter
	Indicator indicator.Indicator

	mu         sync.Mutex
	indicating bool
}

// OpenSensor builds the temperature source described by cfg.
func OpenSensor(cfg config.SensorConfig) (temperature.Sensor, error) {
	divisor := cfg.Divisor
	if divisor == 0 {
		divisor = temperature.DefaultDivisor
	}

	switch cfg.Type {
	case config.SensorZone:
		s := temperature.NewThermalZone(cfg.Zone)
		s.SetDivisor(divisor)
		return s, nil
	case config.SensorFile:
		return temperature.NewFileSensor(cfg.Path, divisor), nil
	case config.SensorHwmon:
		s, err := temperature.NewHwmonSensor(cfg.HwmonName, cfg.HwmonLabel)
		if err != nil {
			return nil, err
		}
		s.SetDivisor(divisor)
		return s, nil
	case config.SensorI2C:
		addr := cfg.Addr
		if addr == 0 {
			addr = temperature.ADDR_TEMP_SENSOR
		}
		transport := cfg.Transport
		if transport == "" {
			transport = i2c.TransportDevfs
		}
		s, err := temperature.OpenI2CSensor(transport, cfg.Bus, addr)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: sensor type %q", ErrDevNotExist, cfg.Type)
	}
}

// Init opens everything the governor needs. On error whatever was opened is
// closed again.
func (my *DeviceManager) Init(cfg config.GovernorConfig) error {
	sensor, err := OpenSensor(cfg.Sensor)
	if err != nil {
		return fmt.Errorf("temperature sensor: %w", err)
	}
	my.Sensor = sensor

	my.Policies = cpufreq.NewPolicies(cfg.CPUFreqPath)
	if _, err := my.Policies.OnlineCPUs(); err != nil {
		my.Fini()
		return fmt.Errorf("cpufreq: %w", err)
	}
	my.Limiter = cpufreq.NewLimiter(my.Policies)

	ind, err := indicator.New(cfg.Indicator.ToIndicator())
	if err != nil {
		my.Fini()
		return fmt.Errorf("throttle indicator: %w", err)
	}
	my.Indicator = ind

	log.Infof("Devices ready: sensor %s, cpufreq %s, indicator %q",
		sensor.Name(), my.Policies.BasePath(), cfg.Indicator.Type)
	return nil
}

// Observe drives the throttle indicator from the governor's reports.
func (my *DeviceManager) Observe(r governor.Report) {
	if my.Indicator == nil {
		return
	}

	my.mu.Lock()
	defer my.mu.Unlock()
	if r.Throttling == my.indicating {
		return
	}
	if err := my.Indicator.Set(r.Throttling); err != nil {
		log.Warnf("Failed to set throttle indicator: %v", err)
		return
	}
	my.indicating = r.Throttling
}

func (my *DeviceManager) Fini() {
	if my.Indicator != nil {
		if err := my.Indicator.Set(false); err != nil {
			log.Debugf("indicator off: %v", err)
		}
		if err := my.Indicator.Close(); err != nil {
			log.Debugf("indicator close: %v", err)
		}
		my.Indicator = nil
	}
	if c, ok := my.Sensor.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Debugf("sensor close: %v", err)
		}
	}
	my.Sensor = nil
}
