// Package health reports process-level resource usage (RSS, cgroup memory
// limit) alongside the per-actor service.Health checks, adapted from the
// teacher's cgroup.go and internal/single/core/monitoring_collectors.go.
package health

import (
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/streamcore/overlay-engine/internal/service"
)

// CgroupMemoryLimit returns the container memory limit in bytes, trying
// cgroup v2 then v1, and 0 if neither is present (unconstrained host).
func CgroupMemoryLimit() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			if v, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
				return v
			}
		}
	}
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return v
		}
	}
	return 0
}

// ProcessRSSBytes returns the current process's resident set size.
func ProcessRSSBytes() (int64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return int64(info.RSS), nil
}

// Report is the aggregate health view across every registered actor plus
// process-level resource usage.
type Report struct {
	Services     map[string]service.Health
	RSSBytes     int64
	MemoryLimit  int64
	AllHealthy   bool
}

// Aggregate builds a Report from a name->Service.Service registry (the
// same set wired in cmd/overlaycore/main.go).
func Aggregate(services map[string]service.Service) Report {
	r := Report{Services: make(map[string]service.Health, len(services)), AllHealthy: true}
	for name, s := range services {
		h := s.GetHealth()
		r.Services[name] = h
		if !h.Healthy {
			r.AllHealthy = false
		}
	}
	if rss, err := ProcessRSSBytes(); err == nil {
		r.RSSBytes = rss
	}
	r.MemoryLimit = CgroupMemoryLimit()
	return r
}
