//go:build linux

package telemetry

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// sampleLocal reads instantaneous CPU and memory utilization from /proc.
// CPU percent is derived from the delta between two /proc/stat reads taken
// samplingInterval apart by the caller's ticker loop — here we just read
// the current cumulative jiffies and let Collector keep the previous
// sample for the delta.
func sampleLocal(prev *cpuJiffies) (cpuPercent, memPercent float64, next *cpuJiffies, err error) {
	cur, err := readCPUJiffies()
	if err != nil {
		return 0, 0, prev, err
	}

	if prev != nil {
		totalDelta := cur.total() - prev.total()
		idleDelta := cur.idle - prev.idle
		if totalDelta > 0 {
			cpuPercent = 100 * (1 - float64(idleDelta)/float64(totalDelta))
		}
	}

	memPercent, err = readMemPercent()
	if err != nil {
		return cpuPercent, 0, cur, err
	}
	return cpuPercent, memPercent, cur, nil
}

type cpuJiffies struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (j *cpuJiffies) total() uint64 {
	return j.user + j.nice + j.system + j.idle + j.iowait + j.irq + j.softirq + j.steal
}

func readCPUJiffies() (*cpuJiffies, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 9 || fields[0] != "cpu" {
			continue
		}
		vals := make([]uint64, 8)
		for i := 0; i < 8; i++ {
			vals[i], _ = strconv.ParseUint(fields[i+1], 10, 64)
		}
		return &cpuJiffies{
			user: vals[0], nice: vals[1], system: vals[2], idle: vals[3],
			iowait: vals[4], irq: vals[5], softirq: vals[6], steal: vals[7],
		}, nil
	}
	return &cpuJiffies{}, scanner.Err()
}

func readMemPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		val, _ := strconv.ParseFloat(fields[1], 64)
		switch fields[0] {
		case "MemTotal:":
			total = val
		case "MemAvailable:":
			available = val
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return 100 * (1 - available/total), nil
}

func readDiskPercent() (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err != nil {
		return 0, err
	}
	if stat.Blocks == 0 {
		return 0, nil
	}
	used := stat.Blocks - stat.Bfree
	return 100 * float64(used) / float64(stat.Blocks), nil
}
