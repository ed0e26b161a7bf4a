// Package metrics tracks the server's operational counters and renders
// them as Prometheus text exposition (for /api/metrics) and as a JSON
// envelope (for /api/sysinfo), mirroring the original server's util.cpp
// get_total_memory/get_memory_usage /proc readers.
package metrics

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters holds the atomically-updated global counters spec.md §5 names:
// requests_total, total_processing_time, active_threads, connections.
type Counters struct {
	RequestsTotal     atomic.Int64
	TotalProcessingNS atomic.Int64
	ActiveThreads     atomic.Int64
	Connections       atomic.Int64
	PoolSize          int
	StartTime         time.Time
	Pod               string

	registry *prometheus.Registry
}

// New builds Counters, registering the same values with a
// prometheus/client_golang Registry so the server can be scraped by either
// the hand-built exposition text or a standard Prometheus handler.
func New(poolSize int) *Counters {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	c := &Counters{
		PoolSize:  poolSize,
		StartTime: time.Now(),
		Pod:       hostname,
		registry:  prometheus.NewRegistry(),
	}
	c.registerGaugeFunc("cpp_requests_total", func() float64 { return float64(c.RequestsTotal.Load()) })
	c.registerGaugeFunc("cpp_connections_current", func() float64 { return float64(c.Connections.Load()) })
	c.registerGaugeFunc("cpp_active_threads_current", func() float64 { return float64(c.ActiveThreads.Load()) })
	c.registerGaugeFunc("cpp_pool_size", func() float64 { return float64(c.PoolSize) })
	c.registerGaugeFunc("cpp_request_duration_avg_seconds", func() float64 { return c.avgSeconds() })
	return c
}

func (c *Counters) registerGaugeFunc(name string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        name,
		Help:        name + " (see spec diagnostic schema)",
		ConstLabels: prometheus.Labels{"pod": c.Pod},
	}, fn))
}

// Registry exposes the underlying prometheus.Registry, e.g. for wiring a
// standard promhttp handler alongside the hand-built text exposition.
func (c *Counters) Registry() *prometheus.Registry { return c.registry }

func (c *Counters) avgSeconds() float64 {
	n := c.RequestsTotal.Load()
	if n == 0 {
		return 0
	}
	return (float64(c.TotalProcessingNS.Load()) / float64(n)) / float64(time.Second)
}

// RecordRequest adds one completed request's wall-clock duration to the
// accumulated totals (spec.md §4.4 "Timing").
func (c *Counters) RecordRequest(d time.Duration) {
	c.RequestsTotal.Add(1)
	c.TotalProcessingNS.Add(int64(d))
}

// PrometheusText renders the exact metric names and pod label spec.md §6
// requires, independent of the client_golang registry (some scrapers in
// the original deployment expect this literal text format).
func (c *Counters) PrometheusText() string {
	var b strings.Builder
	emit := func(name, help string, value float64) {
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", name)
		fmt.Fprintf(&b, "%s{pod=%q} %v\n", name, c.Pod, value)
	}
	emit("cpp_requests_total", "total requests processed", float64(c.RequestsTotal.Load()))
	emit("cpp_connections_current", "current open connections", float64(c.Connections.Load()))
	emit("cpp_active_threads_current", "current busy worker threads", float64(c.ActiveThreads.Load()))
	emit("cpp_pool_size", "configured worker pool size", float64(c.PoolSize))
	emit("cpp_request_duration_avg_seconds", "average request duration in seconds", c.avgSeconds())
	return b.String()
}

// SysInfo is the JSON envelope /api/sysinfo returns.
type SysInfo struct {
	Pod               string `json:"pod"`
	StartDate         string `json:"startDate"`
	TotalRequests     int64  `json:"totalRequests"`
	AvgTimePerRequest string `json:"avgTimePerRequest"`
	Connections       int64  `json:"connections"`
	ActiveThreads     int64  `json:"activeThreads"`
	PoolSize          int    `json:"poolSize"`
	TotalRam          string `json:"totalRam"`
	MemoryUsage       string `json:"memoryUsage"`
}

// Snapshot builds the current SysInfo envelope.
func (c *Counters) Snapshot() SysInfo {
	return SysInfo{
		Pod:               c.Pod,
		StartDate:         c.StartTime.UTC().Format(time.RFC3339),
		TotalRequests:     c.RequestsTotal.Load(),
		AvgTimePerRequest: fmt.Sprintf("%.6fs", c.avgSeconds()),
		Connections:       c.Connections.Load(),
		ActiveThreads:     c.ActiveThreads.Load(),
		PoolSize:          c.PoolSize,
		TotalRam:          formatBytes(TotalMemory()),
		MemoryUsage:       formatBytes(MemoryUsage()),
	}
}

func formatBytes(b uint64) string {
	const mib = 1024 * 1024
	return fmt.Sprintf("%.1fMB", float64(b)/mib)
}

// TotalMemory reads MemTotal from /proc/meminfo, in bytes.
func TotalMemory() uint64 {
	return readMeminfoField("/proc/meminfo", "MemTotal:")
}

// MemoryUsage reads VmRSS (resident set size) for this process from
// /proc/self/status, in bytes.
func MemoryUsage() uint64 {
	return readMeminfoField("/proc/self/status", "VmRSS:")
}

func readMeminfoField(path, field string) uint64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, field) {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0
		}
		kib, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return 0
		}
		return kib * 1024
	}
	return 0
}
