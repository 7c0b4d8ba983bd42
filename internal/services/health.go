package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
)

// degradedThreshold is the usage percentage above which any single resource
// marks the server degraded.
const degradedThreshold = 90.0

type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	CPUUsage  float64       `json:"cpu_usage"`
	MemUsage  float64       `json:"mem_usage"`
	DiskUsage float64       `json:"disk_usage"`
	Uptime    time.Duration `json:"uptime"`
}

// Monitor probes server resource health. It is stateless and side-effect-free
// beyond the remote probe commands themselves.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) Probe(ctx context.Context, mode ExecutionMode) (HealthReport, error) {
	if mode.Simulated() {
		return HealthReport{
			Status:    HealthHealthy,
			CPUUsage:  5.0,
			MemUsage:  20.0,
			DiskUsage: 10.0,
			Uptime:    time.Hour,
		}, nil
	}

	cpu, err := m.probeFloat(ctx, mode.Remote, `top -bn1 | awk '/Cpu\(s\)/ {print 100 - $8}'`)
	if err != nil {
		return HealthReport{}, fmt.Errorf("probe cpu: %w", err)
	}
	mem, err := m.probeFloat(ctx, mode.Remote, `free | awk '/Mem/ {printf "%.1f", $3/$2*100}'`)
	if err != nil {
		return HealthReport{}, fmt.Errorf("probe memory: %w", err)
	}
	disk, err := m.probeFloat(ctx, mode.Remote, `df / | awk 'NR==2 {gsub("%",""); print $5}'`)
	if err != nil {
		return HealthReport{}, fmt.Errorf("probe disk: %w", err)
	}
	uptime, err := m.probeFloat(ctx, mode.Remote, `awk '{print $1}' /proc/uptime`)
	if err != nil {
		return HealthReport{}, fmt.Errorf("probe uptime: %w", err)
	}

	report := HealthReport{
		Status:    HealthHealthy,
		CPUUsage:  cpu,
		MemUsage:  mem,
		DiskUsage: disk,
		Uptime:    time.Duration(uptime) * time.Second,
	}
	if cpu > degradedThreshold || mem > degradedThreshold || disk > degradedThreshold {
		report.Status = HealthDegraded
	}
	return report, nil
}

func (m *Monitor) probeFloat(ctx context.Context, exec Executor, command string) (float64, error) {
	out, err := exec.Run(ctx, command)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected probe output %q: %w", strings.TrimSpace(out), err)
	}
	return v, nil
}
