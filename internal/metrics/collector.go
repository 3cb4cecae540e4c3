// Package metrics provides process and database health metrics for the
// health endpoint.
package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/netwatch-io/presence-mon/internal/store"
)

// Health is the full health report served by the API.
type Health struct {
	Timestamp time.Time      `json:"timestamp"`
	Server    ServerHealth   `json:"server"`
	Database  DatabaseHealth `json:"database"`
}

// ServerHealth describes the server process itself.
type ServerHealth struct {
	Status        string  `json:"status"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// DatabaseHealth describes the connection pool and reachability.
type DatabaseHealth struct {
	Status              string `json:"status"`
	TotalConnections    int32  `json:"total_connections"`
	AcquiredConnections int32  `json:"acquired_connections"`
	IdleConnections     int32  `json:"idle_connections"`
	MaxConnections      int32  `json:"max_connections"`
}

// Collector gathers health metrics with short-lived caching so the health
// endpoint stays cheap under polling.
type Collector struct {
	store     *store.Store
	startTime time.Time

	mu            sync.RWMutex
	cached        *Health
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a new metrics collector.
func NewCollector(st *store.Store) *Collector {
	return &Collector{
		store:         st,
		startTime:     time.Now(),
		cacheDuration: 30 * time.Second,
	}
}

// GetHealth returns current health metrics, cached for 30 seconds.
func (c *Collector) GetHealth(ctx context.Context) (*Health, error) {
	c.mu.RLock()
	if c.cached != nil && time.Now().Before(c.cacheExpiry) {
		health := *c.cached
		c.mu.RUnlock()
		return &health, nil
	}
	c.mu.RUnlock()

	health := &Health{
		Timestamp: time.Now().UTC(),
		Server:    c.collectServerHealth(),
		Database:  c.collectDatabaseHealth(ctx),
	}

	c.mu.Lock()
	c.cached = health
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	return health, nil
}

func (c *Collector) collectServerHealth() ServerHealth {
	health := ServerHealth{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			health.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			health.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
		if memPct, err := proc.MemoryPercent(); err == nil {
			health.MemoryPercent = float64(memPct)
		}
	}

	if health.MemoryPercent > 90 || health.CPUPercent > 90 {
		health.Status = "degraded"
	}

	return health
}

func (c *Collector) collectDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "healthy"}

	stat := c.store.Pool().Stat()
	health.TotalConnections = stat.TotalConns()
	health.AcquiredConnections = stat.AcquiredConns()
	health.IdleConnections = stat.IdleConns()
	health.MaxConnections = stat.MaxConns()

	if err := c.store.Ping(ctx); err != nil {
		health.Status = "error"
	} else if health.AcquiredConnections >= health.MaxConnections-2 {
		health.Status = "degraded"
	}

	return health
}
