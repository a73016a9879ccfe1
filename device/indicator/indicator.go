// Package indicator drives a GPIO line that is asserted while the governor
// holds a frequency clamp.
package indicator

import (
	"fmt"

	"github.com/warthog618/gpiod"
	"gobot.io/x/gobot/sysfs"
)

const (
	TypeNone  = "none"
	TypeGpiod = "gpiod"
	TypeSysfs = "sysfs"
)

const (
	ValueOn  = 1
	ValueOff = 0
)

type Indicator interface {
	Set(on bool) error
	Close() error
}

func level(on bool, activeLow bool) int {
	if on != activeLow {
		return ValueOn
	}
	return ValueOff
}

// LineIndicator uses the GPIO character device.
type LineIndicator struct {
	line      *gpiod.Line
	activeLow bool
}

func NewLineIndicator(chip string, offset int, activeLow bool) (*LineIndicator, error) {
	line, err := gpiod.RequestLine(chip, offset, gpiod.AsOutput(level(false, activeLow)))
	if err != nil {
		return nil, fmt.Errorf("failed to request %s line %d: %w", chip, offset, err)
	}
	return &LineIndicator{line: line, activeLow: activeLow}, nil
}

func (my *LineIndicator) Set(on bool) error {
	return my.line.SetValue(level(on, my.activeLow))
}

func (my *LineIndicator) Close() error {
	_ = my.line.SetValue(level(false, my.activeLow))
	return my.line.Close()
}

// PinIndicator uses the legacy /sys/class/gpio interface.
type PinIndicator struct {
	pin       sysfs.DigitalPinner
	activeLow bool
}

func NewPinIndicator(pin int, activeLow bool) (*PinIndicator, error) {
	p := sysfs.NewDigitalPin(pin)
	if err := p.Export(); err != nil {
		return nil, fmt.Errorf("failed to export gpio %d: %w", pin, err)
	}
	if err := p.Direction(sysfs.OUT); err != nil {
		_ = p.Unexport()
		return nil, fmt.Errorf("failed to set gpio %d direction: %w", pin, err)
	}
	ind := &PinIndicator{pin: p, activeLow: activeLow}
	if err := ind.Set(false); err != nil {
		_ = p.Unexport()
		return nil, err
	}
	return ind, nil
}

func (my *PinIndicator) Set(on bool) error {
	return my.pin.Write(level(on, my.activeLow))
}

func (my *PinIndicator) Close() error {
	_ = my.Set(false)
	return my.pin.Unexport()
}

// Config selects and parameterises an indicator backend.
type Config struct {
	Type      string
	Chip      string
	Line      int
	Pin       int
	ActiveLow bool
}

// New returns nil, nil when no indicator is configured.
func New(cfg Config) (Indicator, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeGpiod:
		l, err := NewLineIndicator(cfg.Chip, cfg.Line, cfg.ActiveLow)
		if err != nil {
			return nil, err
		}
		return l, nil
	case TypeSysfs:
		p, err := NewPinIndicator(cfg.Pin, cfg.ActiveLow)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown indicator type %q", cfg.Type)
	}
}
