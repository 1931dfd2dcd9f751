package metrics

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// captureSystemInfo gathers host information. The probes are read-only
// file reads; the fleet runs on Linux containers, so everything else
// falls back to what the Go runtime reports.
func captureSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}

	info.InContainer, info.ContainerRuntime = detectContainer()
	info.OSVersion = getOSVersion()
	info.TotalMemoryMB = getTotalMemory()

	return info
}

// detectContainer checks for the usual container breadcrumbs
func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}

	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}

	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}

	return false, ""
}

// getOSVersion returns the distribution name on Linux and the bare
// GOOS anywhere else
func getOSVersion() string {
	if runtime.GOOS != "linux" {
		return runtime.GOOS
	}

	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "PRETTY_NAME=") {
				return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
			}
		}
	}

	if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		return "Linux " + strings.TrimSpace(string(data))
	}

	return "Linux (unknown)"
}

// getTotalMemory reads MemTotal from /proc/meminfo, in MB
func getTotalMemory() uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if memKB, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return memKB / 1024
			}
		}
	}

	return 0
}
