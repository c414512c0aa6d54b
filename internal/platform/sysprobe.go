package platform

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// SystemMetrics is a single sample of host resource usage.
type SystemMetrics struct {
	CPUUsagePercent float64
	MemoryUsedMB    float64
	MemoryTotalMB   float64
	DiskUsedGB      float64
	DiskTotalGB     float64
	BatteryPercent  *float64
	IsCharging      *bool
}

// SystemProbe samples host resource and power state. The Scheduler Gate and
// the worker's throttle check both consult it.
type SystemProbe interface {
	GetMetrics() (SystemMetrics, error)
	IsIdle(cpuThreshold float64) (bool, error)
	IsCharging() (bool, error)
}

// LinuxProbe reads /proc/stat for CPU deltas and /sys/class/power_supply for
// charging state, matching the original's Linux branch: no battery sensor
// present means "assume charging" (desktops are always plugged in).
type LinuxProbe struct {
	mu       sync.Mutex
	lastIdle uint64
	lastTot  uint64
	lastPct  float64
	primed   bool
}

func NewLinuxProbe() *LinuxProbe {
	return &LinuxProbe{}
}

func (p *LinuxProbe) GetMetrics() (SystemMetrics, error) {
	pct, err := p.sampleCPU()
	if err != nil {
		return SystemMetrics{}, err
	}
	m := SystemMetrics{CPUUsagePercent: pct}
	if batt, charging, ok := readBattery(); ok {
		m.BatteryPercent = &batt
		m.IsCharging = &charging
	}
	return m, nil
}

func (p *LinuxProbe) IsIdle(cpuThreshold float64) (bool, error) {
	m, err := p.GetMetrics()
	if err != nil {
		return false, err
	}
	return m.CPUUsagePercent < cpuThreshold, nil
}

func (p *LinuxProbe) IsCharging() (bool, error) {
	if _, charging, ok := readBattery(); ok {
		return charging, nil
	}
	// No battery sensor: assume always plugged in (desktop/server).
	return true, nil
}

func (p *LinuxProbe) sampleCPU() (float64, error) {
	idle, total, err := readProcStat()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.primed {
		p.lastIdle, p.lastTot, p.primed = idle, total, true
		return 0, nil
	}
	deltaIdle := float64(idle - p.lastIdle)
	deltaTotal := float64(total - p.lastTot)
	p.lastIdle, p.lastTot = idle, total
	if deltaTotal <= 0 {
		return p.lastPct, nil
	}
	pct := 100.0 * (1.0 - deltaIdle/deltaTotal)
	if pct < 0 {
		pct = 0
	}
	p.lastPct = pct
	return pct, nil
}

func readProcStat() (idle, total uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, fmt.Errorf("platform: empty /proc/stat")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, fmt.Errorf("platform: unexpected /proc/stat format")
	}
	var vals []uint64
	for _, f := range fields[1:] {
		v, convErr := strconv.ParseUint(f, 10, 64)
		if convErr != nil {
			break
		}
		vals = append(vals, v)
	}
	if len(vals) < 4 {
		return 0, 0, fmt.Errorf("platform: too few /proc/stat fields")
	}
	idle = vals[3]
	if len(vals) > 4 {
		idle += vals[4] // iowait
	}
	for _, v := range vals {
		total += v
	}
	return idle, total, nil
}

func readBattery() (percent float64, charging bool, ok bool) {
	entries, err := os.ReadDir("/sys/class/power_supply")
	if err != nil {
		return 0, false, false
	}
	for _, e := range entries {
		base := filepath.Join("/sys/class/power_supply", e.Name())
		typ := readTrimmed(filepath.Join(base, "type"))
		if typ == "Mains" {
			online := readTrimmed(filepath.Join(base, "online"))
			if online == "1" {
				return 0, true, true
			}
			continue
		}
		if typ == "Battery" {
			capStr := readTrimmed(filepath.Join(base, "capacity"))
			cap, convErr := strconv.ParseFloat(capStr, 64)
			if convErr != nil {
				continue
			}
			status := readTrimmed(filepath.Join(base, "status"))
			isCharging := status == "Charging" || status == "Full" || cap >= 80
			return cap, isCharging, true
		}
	}
	return 0, false, false
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// FixedProbe is a deterministic test double.
type FixedProbe struct {
	CPU      float64
	Charging bool
}

func (p *FixedProbe) GetMetrics() (SystemMetrics, error) {
	c := p.Charging
	return SystemMetrics{CPUUsagePercent: p.CPU, IsCharging: &c}, nil
}

func (p *FixedProbe) IsIdle(cpuThreshold float64) (bool, error) {
	return p.CPU < cpuThreshold, nil
}

func (p *FixedProbe) IsCharging() (bool, error) {
	return p.Charging, nil
}
