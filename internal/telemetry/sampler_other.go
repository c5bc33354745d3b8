//go:build !linux

package telemetry

// cpuJiffies is unused off Linux; kept so Collector's call sites don't need
// a build-tagged type declaration of their own.
type cpuJiffies struct{}

// sampleLocal has no portable equivalent of /proc on non-Linux platforms
// and reports zero CPU and memory utilization. Those zero samples are
// recorded like any other, so on such hosts the local node's window is
// all zeros and predictions extrapolate from it.
func sampleLocal(prev *cpuJiffies) (cpuPercent, memPercent float64, next *cpuJiffies, err error) {
	return 0, 0, prev, nil
}

func readDiskPercent() (float64, error) {
	return 0, nil
}
