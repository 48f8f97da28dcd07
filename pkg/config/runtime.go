package config

import (
	"runtime"
	"time"
)

// RuntimeConfig contains worker pool, dispatcher, and task queue settings.
// These values control how background work is admitted and processed.
type RuntimeConfig struct {
	// WorkerPoolSize caps concurrently running background tasks.
	// 0 means 4 × NumCPU, clamped to WorkerPoolMax.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// WorkerPoolMax is the hard ceiling applied to the derived pool size.
	WorkerPoolMax int `yaml:"worker_pool_max"`

	// DispatcherCount is the number of goroutines consuming the task queue.
	DispatcherCount int `yaml:"dispatcher_count"`

	// QueueSoftCap is the queue depth beyond which info and low priority
	// tasks are shed instead of enqueued.
	QueueSoftCap int `yaml:"queue_soft_cap"`

	// TaskLease is how long a dequeued task may run before it is considered
	// stuck and redelivered.
	TaskLease time.Duration `yaml:"task_lease"`

	// RequestTimeout bounds one user request end-to-end, spawned background
	// work excluded.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// NetworkTimeout is the default deadline for any single network call
	// (LLM, tool server, provider).
	NetworkTimeout time.Duration `yaml:"network_timeout"`

	// HandlerTimeout is how long shutdown waits for a scheduled handler.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight work
	// to drain during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultRuntimeConfig returns the built-in runtime defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		WorkerPoolSize:          0, // derived
		WorkerPoolMax:           64,
		DispatcherCount:         4,
		QueueSoftCap:            10000,
		TaskLease:               5 * time.Minute,
		RequestTimeout:          10 * time.Minute,
		NetworkTimeout:          60 * time.Second,
		HandlerTimeout:          30 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// PoolSize resolves the effective worker pool size.
func (c *RuntimeConfig) PoolSize() int {
	size := c.WorkerPoolSize
	if size <= 0 {
		size = 4 * runtime.NumCPU()
	}
	if c.WorkerPoolMax > 0 && size > c.WorkerPoolMax {
		size = c.WorkerPoolMax
	}
	return size
}
