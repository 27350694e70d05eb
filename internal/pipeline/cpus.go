package pipeline

import "runtime"

const (
	// maxCPUs is the upper bound on threads handed to GTDB-Tk.
	maxCPUs = 16

	// reducedCPUs applies when fewer than maxCPUs are available.
	reducedCPUs = 12
)

// SelectCPUs picks the thread count for a machine with detected logical
// cores: min(detected, 16), then min(that, 12) if it is below 16. Hosts
// with 16 or more cores get 16; smaller hosts get at most 12. At least
// one CPU is always returned.
func SelectCPUs(detected int) int {
	cpus := min(detected, maxCPUs)
	if cpus < maxCPUs {
		cpus = min(cpus, reducedCPUs)
	}
	return max(cpus, 1)
}

// DetectCPUs applies SelectCPUs to the logical cores usable by this process.
func DetectCPUs() int {
	return SelectCPUs(runtime.NumCPU())
}
