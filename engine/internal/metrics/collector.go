package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Pinger reports database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BufferLen reports the metric write buffer length.
type BufferLen interface {
	Len(ctx context.Context) (int64, error)
}

// Health is a snapshot of the engine process and its dependencies.
type Health struct {
	Timestamp     time.Time `json:"timestamp"`
	Status        string    `json:"status"`
	Goroutines    int       `json:"goroutines"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	Database      string    `json:"database"`
	BufferDepth   *int64    `json:"buffer_depth,omitempty"`
}

// Collector gathers engine health with a short-lived cache.
type Collector struct {
	db     Pinger
	buffer BufferLen // nil when the write buffer is disabled

	startTime time.Time

	mu            sync.RWMutex
	cached        *Health
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a health collector. buffer may be nil.
func NewCollector(db Pinger, buffer BufferLen) *Collector {
	return &Collector{
		db:            db,
		buffer:        buffer,
		startTime:     time.Now(),
		cacheDuration: 30 * time.Second,
	}
}

// Health returns the current health snapshot, cached for 30 seconds.
func (c *Collector) Health(ctx context.Context) *Health {
	c.mu.RLock()
	if c.cached != nil && time.Now().Before(c.cacheExpiry) {
		h := *c.cached
		c.mu.RUnlock()
		return &h
	}
	c.mu.RUnlock()

	h := c.collect(ctx)

	c.mu.Lock()
	c.cached = h
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	copied := *h
	return &copied
}

func (c *Collector) collect(ctx context.Context) *Health {
	h := &Health{
		Timestamp:     time.Now(),
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Database:      "healthy",
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			h.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			h.MemoryMB = float64(mem.RSS) / (1024 * 1024)
			if processRSSBytes != nil {
				processRSSBytes.Set(float64(mem.RSS))
			}
		}
		if memPct, err := proc.MemoryPercent(); err == nil {
			h.MemoryPercent = float64(memPct)
		}
	}
	if processCPU != nil {
		processCPU.Set(h.CPUPercent)
	}

	if c.db != nil {
		if err := c.db.Ping(ctx); err != nil {
			h.Database = "error"
			h.Status = "degraded"
		}
	}

	if c.buffer != nil {
		if n, err := c.buffer.Len(ctx); err == nil {
			h.BufferDepth = &n
			SetBufferDepth(n)
		}
	}

	if h.MemoryPercent > 90 || h.CPUPercent > 90 {
		h.Status = "degraded"
	}
	return h
}
