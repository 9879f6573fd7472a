// Package queue provides durable task queue management: submission with
// idempotency, a polling worker pool that executes tasks through registered
// agents, retry with backoff, and zombie task recovery.
package queue

import (
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTasksAvailable indicates no claimable pending tasks exist.
	ErrNoTasksAvailable = errors.New("no tasks available")

	// ErrAtCapacity indicates the concurrent running task limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// Config tunes the worker pool.
type Config struct {
	// WorkerCount is the number of polling workers (default 4).
	WorkerCount int
	// MaxConcurrentTasks caps running tasks across the pool (default WorkerCount).
	MaxConcurrentTasks int
	// PollInterval is the idle poll sleep (default 500ms).
	PollInterval time.Duration
	// PollIntervalJitter randomizes the poll sleep to avoid thundering herds.
	PollIntervalJitter time.Duration
	// TaskTimeout bounds a single task execution (default 5m).
	TaskTimeout time.Duration
	// HeartbeatInterval is how often a worker refreshes a running task's
	// updated_at so the zombie sweep can tell live tasks from dead ones.
	HeartbeatInterval time.Duration
	// ZombieSweepInterval is how often the pool scans for zombie tasks.
	ZombieSweepInterval time.Duration
	// StaleThreshold requeues running tasks with no heartbeat for this long.
	StaleThreshold time.Duration
	// HardThreshold requeues running tasks that started this long ago even if
	// they are still heartbeating.
	HardThreshold time.Duration
	// RetryBase is the initial retry backoff interval (default 2s).
	RetryBase time.Duration
	// DefaultMaxAttempts is applied to submitted tasks that carry none.
	DefaultMaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = c.WorkerCount
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ZombieSweepInterval <= 0 {
		c.ZombieSweepInterval = 30 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 10 * time.Minute
	}
	if c.HardThreshold <= 0 {
		c.HardThreshold = 30 * time.Minute
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	return c
}

// PoolHealth is a point-in-time snapshot of the worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	StoreReachable   bool           `json:"store_reachable"`
	StoreError       string         `json:"store_error,omitempty"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	RunningTasks     int            `json:"running_tasks"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastZombieSweep  time.Time      `json:"last_zombie_sweep"`
	ZombiesRecovered int            `json:"zombies_recovered"`
}

// WorkerHealth is a point-in-time snapshot of a single worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
