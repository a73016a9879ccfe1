// Package cpufreq applies upper frequency bounds to the CPUs through the
// Linux cpufreq sysfs interface.
package cpufreq

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Frequency is a CPU frequency in kHz, the unit cpufreq uses.
type Frequency uint32

// Unbounded means no ceiling is imposed.
const Unbounded Frequency = math.MaxUint32

func (f Frequency) String() string {
	if f == Unbounded {
		return "unbounded"
	}
	return strconv.FormatUint(uint64(f), 10)
}

const (
	onlineFile = "online"

	cpuinfoMinFile = "cpufreq/cpuinfo_min_freq"
	cpuinfoMaxFile = "cpufreq/cpuinfo_max_freq"
	scalingMaxFile = "cpufreq/scaling_max_freq"
	scalingDrvFile = "cpufreq/scaling_driver"
)

// MAX_CPUS bounds the ids ParseCPUList accepts; it matches the kernel's
// largest NR_CPUS.
const MAX_CPUS = 8192

var ErrApply = errors.New("cpufreq: apply failed")

func cpuPath(basePath string, cpu uint, resource string) string {
	return filepath.Join(basePath, fmt.Sprint("cpu", cpu), resource)
}

func readUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
}

func writeFrequency(path string, freq Frequency) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(strconv.FormatUint(uint64(freq), 10))
	return err
}

// ParseCPUList parses the kernel cpu list format, e.g. "0-3,6,8-9".
func ParseCPUList(list string) ([]uint, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}

	seen := make(map[uint]struct{})
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list %q: %w", list, err)
		}
		end := start
		if isRange {
			end, err = strconv.ParseUint(hi, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu list %q: %w", list, err)
			}
			if end < start {
				return nil, fmt.Errorf("invalid cpu range %q", part)
			}
		}
		if end >= MAX_CPUS {
			return nil, fmt.Errorf("invalid cpu list %q: cpu %d beyond %d", list, end, MAX_CPUS-1)
		}
		for c := start; c <= end; c++ {
			seen[uint(c)] = struct{}{}
		}
	}

	cpus := make([]uint, 0, len(seen))
	for c := range seen {
		cpus = append(cpus, c)
	}
	sort.Slice(cpus, func(i, j int) bool { return cpus[i] < cpus[j] })
	return cpus, nil
}
