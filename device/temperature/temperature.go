// Package temperature provides the temperature sources a governor samples.
// Readings are whole degrees in the unit the threshold is configured in.
package temperature

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrSensorRead = errors.New("temperature: sensor read failed")

type Sensor interface {
	Read() (int64, error)
	Name() string
}

var (
	ThermalBasePath = "/sys/class/thermal"
	HwmonBasePath   = "/sys/class/hwmon"
)

const (
	DefaultDivisor = 1000 // sysfs reports millidegrees
)

// FileSensor reads a sysfs attribute holding a single integer, such as
// thermal_zoneN/temp or hwmonN/tempM_input.
type FileSensor struct {
	path    string
	divisor int64
}

func NewFileSensor(path string, divisor int64) *FileSensor {
	if divisor <= 0 {
		divisor = 1
	}
	return &FileSensor{path: path, divisor: divisor}
}

func NewThermalZone(zone int) *FileSensor {
	path := filepath.Join(ThermalBasePath, fmt.Sprintf("thermal_zone%d", zone), "temp")
	return NewFileSensor(path, DefaultDivisor)
}

// SetDivisor changes the scale of the raw value, e.g. 1 for a file that
// already holds whole degrees.
func (my *FileSensor) SetDivisor(divisor int64) {
	if divisor <= 0 {
		divisor = 1
	}
	my.divisor = divisor
}

func (my *FileSensor) Name() string {
	return my.path
}

func (my *FileSensor) Read() (int64, error) {
	buf, err := os.ReadFile(my.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSensorRead, my.path, err)
	}

	raw, err := strconv.ParseInt(strings.TrimSpace(string(buf)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSensorRead, my.path, err)
	}
	return floorDiv(raw, my.divisor), nil
}

// floorDiv rounds towards negative infinity so -500 millidegrees reads as -1.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FindHwmon locates the tempN_input file of the hwmon device called name
// whose tempN_label equals label. An empty label picks temp1_input.
func FindHwmon(name string, label string) (string, error) {
	devices, err := filepath.Glob(filepath.Join(HwmonBasePath, "hwmon*"))
	if err != nil {
		return "", err
	}

	for _, dev := range devices {
		devName, err := os.ReadFile(filepath.Join(dev, "name"))
		if err != nil || strings.TrimSpace(string(devName)) != name {
			continue
		}

		if label == "" {
			input := filepath.Join(dev, "temp1_input")
			if _, err := os.Stat(input); err == nil {
				return input, nil
			}
			continue
		}

		labels, _ := filepath.Glob(filepath.Join(dev, "temp*_label"))
		for _, l := range labels {
			v, err := os.ReadFile(l)
			if err != nil || strings.TrimSpace(string(v)) != label {
				continue
			}
			return strings.TrimSuffix(l, "_label") + "_input", nil
		}
	}

	if label == "" {
		return "", fmt.Errorf("hwmon device %q not found", name)
	}
	return "", fmt.Errorf("hwmon device %q with label %q not found", name, label)
}

func NewHwmonSensor(name string, label string) (*FileSensor, error) {
	path, err := FindHwmon(name, label)
	if err != nil {
		return nil, err
	}
	return NewFileSensor(path, DefaultDivisor), nil
}
