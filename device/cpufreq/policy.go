package cpufreq

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const DefaultBasePath = "/sys/devices/system/cpu"

// Policy is the frequency range a CPU is allowed to run in. Callbacks may
// narrow Min/Max; CpuinfoMin/CpuinfoMax are the hardware limits.
type Policy struct {
	CPU        uint
	CpuinfoMin Frequency
	CpuinfoMax Frequency
	Min        Frequency
	Max        Frequency
}

// PolicyCallback adjusts a policy while it is being updated. It runs once per
// online CPU and callbacks for different CPUs may run concurrently.
type PolicyCallback func(p *Policy)

// PolicyNotifier is the registration side of the frequency policy subsystem.
type PolicyNotifier interface {
	Register(cb PolicyCallback) error
	Unregister()
}

// PolicyUpdater re-evaluates the policy of a CPU, running the registered
// callback and committing the result.
type PolicyUpdater interface {
	OnlineCPUs() ([]uint, error)
	UpdatePolicy(cpu uint) error
}

var ErrAlreadyRegistered = errors.New("cpufreq: policy callback already registered")

// VerifyWithinLimits clamps the policy range into [min, max].
func VerifyWithinLimits(p *Policy, min, max Frequency) {
	if p.Min < min {
		p.Min = min
	}
	if p.Max < min {
		p.Max = min
	}
	if p.Min > max {
		p.Min = max
	}
	if p.Max > max {
		p.Max = max
	}
	if p.Min > p.Max {
		p.Min = p.Max
	}
}

// Policies drives cpufreq policies through sysfs.
type Policies struct {
	basePath string

	mu       sync.RWMutex
	callback PolicyCallback
}

func NewPolicies(basePath string) *Policies {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &Policies{basePath: basePath}
}

func (my *Policies) BasePath() string {
	return my.basePath
}

// Register installs the single policy callback. It fails if the cpufreq tree
// is not usable, so a governor never starts against a missing interface.
func (my *Policies) Register(cb PolicyCallback) error {
	if cb == nil {
		return errors.New("cpufreq: nil policy callback")
	}

	cpus, err := my.OnlineCPUs()
	if err != nil {
		return err
	}
	if len(cpus) == 0 {
		return fmt.Errorf("cpufreq: no online cpus under %s", my.basePath)
	}
	if _, err := os.Stat(cpuPath(my.basePath, cpus[0], scalingMaxFile)); err != nil {
		return fmt.Errorf("cpufreq: cpu%d has no scaling interface: %w", cpus[0], err)
	}

	my.mu.Lock()
	defer my.mu.Unlock()
	if my.callback != nil {
		return ErrAlreadyRegistered
	}
	my.callback = cb
	return nil
}

func (my *Policies) Unregister() {
	my.mu.Lock()
	my.callback = nil
	my.mu.Unlock()
}

func (my *Policies) OnlineCPUs() ([]uint, error) {
	data, err := os.ReadFile(filepath.Join(my.basePath, onlineFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read online cpus: %w", err)
	}
	return ParseCPUList(string(data))
}

// CpuinfoRange returns the hardware frequency limits of a CPU.
func (my *Policies) CpuinfoRange(cpu uint) (min Frequency, max Frequency, err error) {
	lo, err := readUint(cpuPath(my.basePath, cpu, cpuinfoMinFile))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cpuinfo_min_freq for cpu %d: %w", cpu, err)
	}
	hi, err := readUint(cpuPath(my.basePath, cpu, cpuinfoMaxFile))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cpuinfo_max_freq for cpu %d: %w", cpu, err)
	}
	return Frequency(lo), Frequency(hi), nil
}

// ScalingMax returns the ceiling currently written for a CPU.
func (my *Policies) ScalingMax(cpu uint) (Frequency, error) {
	v, err := readUint(cpuPath(my.basePath, cpu, scalingMaxFile))
	if err != nil {
		return 0, fmt.Errorf("failed to read scaling_max_freq for cpu %d: %w", cpu, err)
	}
	return Frequency(v), nil
}

func (my *Policies) ScalingDriver(cpu uint) (string, error) {
	data, err := os.ReadFile(cpuPath(my.basePath, cpu, scalingDrvFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// UpdatePolicy rebuilds the policy of one CPU from its hardware limits, lets
// the registered callback narrow it, then writes the resulting ceiling.
func (my *Policies) UpdatePolicy(cpu uint) error {
	min, max, err := my.CpuinfoRange(cpu)
	if err != nil {
		return err
	}

	p := Policy{
		CPU:        cpu,
		CpuinfoMin: min,
		CpuinfoMax: max,
		Min:        min,
		Max:        max,
	}

	my.mu.RLock()
	cb := my.callback
	my.mu.RUnlock()
	if cb != nil {
		cb(&p)
	}

	if err := writeFrequency(cpuPath(my.basePath, cpu, scalingMaxFile), p.Max); err != nil {
		return fmt.Errorf("failed to set max frequency for cpu %d: %w", cpu, err)
	}
	return nil
}

