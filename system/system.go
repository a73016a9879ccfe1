// Package system reports the CPU frequency inventory of the host.
package system

import (
	"fmt"
	"os"
	"sync"

	"thermal_governor/device/cpufreq"
	"thermal_governor/log"
	"thermal_governor/util"
)

// CPUInfo is what cpufreq exposes for one online CPU.
type CPUInfo struct {
	CPU           uint              `json:"cpu"`
	CpuinfoMin    cpufreq.Frequency `json:"cpuinfo_min_khz"`
	CpuinfoMax    cpufreq.Frequency `json:"cpuinfo_max_khz"`
	ScalingMax    cpufreq.Frequency `json:"scaling_max_khz"`
	ScalingDriver string            `json:"scaling_driver"`
}

type SystemInformation struct {
	Hostname  string    `json:"hostname"`
	CPUCount  int       `json:"cpu_count"`
	CPUs      []CPUInfo `json:"cpus"`
	Uptime    string    `json:"uptime"`
	UptimeSec float64   `json:"uptime_sec"`
}

// Reader reads system information from a cpufreq tree. The static part of
// the inventory is cached after the first successful read; scaling_max is
// read fresh every time since the governor moves it.
type Reader struct {
	policies *cpufreq.Policies

	mu     sync.Mutex
	cached []CPUInfo
}

func NewReader(policies *cpufreq.Policies) *Reader {
	return &Reader{policies: policies}
}

func (my *Reader) inventory() ([]CPUInfo, error) {
	my.mu.Lock()
	defer my.mu.Unlock()
	if my.cached != nil {
		return my.cached, nil
	}

	cpus, err := my.policies.OnlineCPUs()
	if err != nil {
		return nil, fmt.Errorf("failed to list online cpus: %w", err)
	}
	inv := make([]CPUInfo, 0, len(cpus))
	for _, cpu := range cpus {
		info := CPUInfo{CPU: cpu}
		info.CpuinfoMin, info.CpuinfoMax, err = my.policies.CpuinfoRange(cpu)
		if err != nil {
			return nil, fmt.Errorf("cpu%d: %w", cpu, err)
		}
		// not every driver exposes it
		if drv, err := my.policies.ScalingDriver(cpu); err == nil {
			info.ScalingDriver = drv
		}
		inv = append(inv, info)
	}
	log.Debugf("cpu inventory: %+v", inv)
	my.cached = inv
	return inv, nil
}

// GetSystemInfo returns the host name, the online CPUs with their
// frequency ranges, and how long the daemon has been up.
func (my *Reader) GetSystemInfo() (*SystemInformation, error) {
	inv, err := my.inventory()
	if err != nil {
		log.Errorf("Failed to read cpu inventory, %v", err)
		return nil, err
	}

	info := SystemInformation{
		CPUCount:  len(inv),
		CPUs:      make([]CPUInfo, len(inv)),
		Uptime:    util.UptimeInString(),
		UptimeSec: util.SystemUptimeInSec(),
	}
	copy(info.CPUs, inv)
	info.Hostname, _ = os.Hostname()

	for i := range info.CPUs {
		max, err := my.policies.ScalingMax(info.CPUs[i].CPU)
		if err != nil {
			log.Debugf("cpu%d scaling_max_freq: %v", info.CPUs[i].CPU, err)
			continue
		}
		info.CPUs[i].ScalingMax = max
	}
	return &info, nil
}
