// Package health implements a periodic liveness checker that calls
// RefreshSchema against every Registry-held Pool — the one read-only
// operation guaranteed safe to run out-of-band against a live pool without
// holding a context lock.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quicksqlite/corepool/internal/metrics"
	"github.com/quicksqlite/corepool/internal/registry"
)

// Status represents the health status of a database's pool.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText encodes a Status as its String name, the form JSON clients read.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText is the inverse of MarshalText; other names decode as StatusUnknown.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "healthy":
		*s = StatusHealthy
	case "unhealthy":
		*s = StatusUnhealthy
	default:
		*s = StatusUnknown
	}
	return nil
}

// DatabaseHealth holds health information for one database.
type DatabaseHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic health checks on every database held by a
// Registry.
type Checker struct {
	mu        sync.RWMutex
	databases map[string]*DatabaseHealth
	reg       *registry.Registry
	metrics   *metrics.Collector

	interval         time.Duration
	failureThreshold int
	probeTimeout     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config holds the tunable health-check parameters.
type Config struct {
	Interval         time.Duration
	FailureThreshold int
	ProbeTimeout     time.Duration
}

// NewChecker creates a new health checker with configurable parameters.
func NewChecker(reg *registry.Registry, m *metrics.Collector, cfg Config) *Checker {
	return &Checker{
		databases:        make(map[string]*DatabaseHealth),
		reg:              reg,
		metrics:          m,
		interval:         cfg.Interval,
		failureThreshold: cfg.FailureThreshold,
		probeTimeout:     cfg.ProbeTimeout,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	names := c.reg.Names()

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, name := range names {
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			err := c.probe(name)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.SchemaRefreshObserved(name, elapsed, err)
			}
			c.updateStatus(name, err)
		}()
	}
	wg.Wait()
}

// probe runs RefreshSchema against a database's pool with a bounded timeout.
// RefreshSchema is safe to call without holding any context lock — it posts
// to the write Connection's own FIFO like any other task, and waits its turn
// behind whatever the current tenant has queued.
func (c *Checker) probe(dbName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	defer cancel()
	return c.reg.RefreshSchema(ctx, dbName)
}

func (c *Checker) updateStatus(dbName string, probeErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dh := c.getOrCreate(dbName)
	dh.LastCheck = time.Now()

	if probeErr == nil {
		if dh.ConsecutiveFailures > 0 {
			slog.Info("database recovered", "database", dbName, "failures", dh.ConsecutiveFailures)
		}
		dh.Status = StatusHealthy
		dh.ConsecutiveFailures = 0
		dh.LastError = ""
	} else {
		dh.ConsecutiveFailures++
		dh.LastError = probeErr.Error()
		if dh.ConsecutiveFailures >= c.failureThreshold {
			if dh.Status != StatusUnhealthy {
				slog.Warn("database marked unhealthy", "database", dbName, "failures", dh.ConsecutiveFailures, "error", dh.LastError)
			}
			dh.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetDatabaseHealth(dbName, dh.Status == StatusHealthy)
	}
}

func (c *Checker) getOrCreate(dbName string) *DatabaseHealth {
	dh, ok := c.databases[dbName]
	if !ok {
		dh = &DatabaseHealth{Status: StatusUnknown}
		c.databases[dbName] = dh
	}
	return dh
}

// IsHealthy returns whether a database is healthy (or unknown, which is
// treated as healthy).
func (c *Checker) IsHealthy(dbName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dh, ok := c.databases[dbName]
	if !ok {
		return true
	}
	return dh.Status != StatusUnhealthy
}

// GetStatus returns the health status for a database.
func (c *Checker) GetStatus(dbName string) DatabaseHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dh, ok := c.databases[dbName]
	if !ok {
		return DatabaseHealth{Status: StatusUnknown}
	}
	return *dh
}

// GetAllStatuses returns health statuses for all known databases.
func (c *Checker) GetAllStatuses() map[string]DatabaseHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]DatabaseHealth, len(c.databases))
	for name, dh := range c.databases {
		result[name] = *dh
	}
	return result
}

// OverallHealthy returns true if every known database is healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, dh := range c.databases {
		if dh.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RemoveDatabase removes health state for a database that has been closed.
func (c *Checker) RemoveDatabase(dbName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.databases, dbName)
	if c.metrics != nil {
		c.metrics.RemoveDatabase(dbName)
	}
	slog.Info("removed health state", "database", dbName)
}
