// Package cpufreqtest builds fake cpufreq sysfs trees for tests.
package cpufreqtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	CpuinfoMin = 300000
	CpuinfoMax = 2265600
	Driver     = "msm"
)

func write(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// NewTree creates a tree with cpus 0..n-1 online and returns its base path.
func NewTree(t testing.TB, n int) string {
	t.Helper()
	base := t.TempDir()
	write(t, filepath.Join(base, "online"), fmt.Sprintf("0-%d\n", n-1))
	for cpu := 0; cpu < n; cpu++ {
		dir := filepath.Join(base, fmt.Sprint("cpu", cpu), "cpufreq")
		write(t, filepath.Join(dir, "cpuinfo_min_freq"), fmt.Sprintf("%d\n", CpuinfoMin))
		write(t, filepath.Join(dir, "cpuinfo_max_freq"), fmt.Sprintf("%d\n", CpuinfoMax))
		write(t, filepath.Join(dir, "scaling_max_freq"), fmt.Sprintf("%d\n", CpuinfoMax))
		write(t, filepath.Join(dir, "scaling_driver"), Driver+"\n")
	}
	return base
}

// ScalingMax reads back what was written for cpu.
func ScalingMax(t testing.TB, base string, cpu int) uint64 {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(base, fmt.Sprint("cpu", cpu), "cpufreq", "scaling_max_freq"))
	require.NoError(t, err)
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	require.NoError(t, err)
	return v
}
