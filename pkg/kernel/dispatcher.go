package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/taskqueue"
)

// TaskHandler processes one dequeued task. A nil return completes the task;
// an error schedules a retry until the task's attempt budget runs out.
type TaskHandler func(ctx context.Context, task *models.Task) error

const (
	// retryBackoffStep is the delay after the first failed attempt; each
	// further failure doubles it up to retryBackoffMax.
	retryBackoffStep = 30 * time.Second
	retryBackoffMax  = 5 * time.Minute
)

// Dispatcher drains the task queue with a fixed set of consumer goroutines
// and routes each task to the handler registered for its type. While a
// handler runs, the dispatcher heartbeats the task's lease so slow work is
// not redelivered to another consumer.
type Dispatcher struct {
	queue   *taskqueue.Queue
	count   int
	timeout time.Duration
	lease   time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]TaskHandler

	started     bool
	execCtx     context.Context
	stopDequeue context.CancelFunc
	wg          sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher over the queue. Handlers are registered
// with Handle before Start.
func NewDispatcher(cfg *config.RuntimeConfig, queue *taskqueue.Queue) *Dispatcher {
	if cfg == nil {
		cfg = config.DefaultRuntimeConfig()
	}
	return &Dispatcher{
		queue:    queue,
		count:    cfg.DispatcherCount,
		timeout:  cfg.RequestTimeout,
		lease:    cfg.TaskLease,
		handlers: make(map[string]TaskHandler),
		logger:   slog.Default().With("component", "kernel.dispatcher"),
	}
}

// Handle registers the handler for a task type. Registering a type twice is
// a wiring bug and returns an error.
func (d *Dispatcher) Handle(taskType string, handler TaskHandler) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s is nil", taskType)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[taskType]; exists {
		return fmt.Errorf("handler for %s already registered", taskType)
	}
	d.handlers[taskType] = handler
	return nil
}

// Start launches the consumer goroutines. No-op on a running dispatcher.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	// Cancelling dequeueCtx interrupts the blocking Dequeue without
	// cancelling handlers already running; those keep execCtx until they
	// finish or hit the per-task timeout.
	d.execCtx = ctx
	var dequeueCtx context.Context
	dequeueCtx, d.stopDequeue = context.WithCancel(ctx)

	for i := 0; i < d.count; i++ {
		d.wg.Add(1)
		go d.run(dequeueCtx, i)
	}
	d.logger.Info("Dispatcher started", "consumers", d.count)
}

// Stop halts dequeuing and waits up to timeout for in-flight handlers to
// finish. Tasks still running after the wait are abandoned; their lease
// lapses and a later process picks them up, except that this queue is
// in-memory, so they are simply lost with the process.
func (d *Dispatcher) Stop(timeout time.Duration) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	stop := d.stopDequeue
	d.mu.Unlock()

	stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("Dispatcher stopped")
	case <-time.After(timeout):
		d.logger.Warn("Tasks still running at shutdown", "waited", timeout)
	}
}

func (d *Dispatcher) run(dequeueCtx context.Context, id int) {
	defer d.wg.Done()
	log := d.logger.With("consumer", id)
	log.Debug("Consumer started")

	for {
		task, err := d.queue.Dequeue(dequeueCtx)
		if err != nil {
			log.Debug("Consumer stopping")
			return
		}
		d.process(d.execCtx, task)
	}
}

func (d *Dispatcher) process(ctx context.Context, task *models.Task) {
	log := d.logger.With(
		"task_id", task.ID,
		"type", task.Type,
		"priority", task.Priority,
		"attempt", task.Attempts)

	handler := d.handlerFor(task.Type)
	if handler == nil {
		log.Error("No handler registered for task type")
		d.complete(task.ID, models.TaskFailed, log)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	hbCtx, stopHeartbeat := context.WithCancel(taskCtx)
	go d.runHeartbeat(hbCtx, task.ID)

	err := d.invoke(taskCtx, handler, task)
	stopHeartbeat()

	if err == nil {
		d.complete(task.ID, models.TaskCompleted, log)
		d.processed.Add(1)
		return
	}

	d.failed.Add(1)
	d.complete(task.ID, models.TaskFailed, log)
	if task.Attempts >= task.MaxAttempts {
		log.Error("Task failed permanently", "error", err, "attempts", task.Attempts)
		return
	}

	// Requeue the same task object so the attempt count carries over.
	task.VisibleAfter = time.Now().Add(retryDelay(task.Attempts))
	if enqErr := d.queue.Enqueue(task); enqErr != nil {
		log.Error("Failed to requeue task", "error", enqErr)
		return
	}
	log.Warn("Task failed, retry scheduled",
		"error", err,
		"retry_after", task.VisibleAfter,
		"max_attempts", task.MaxAttempts)
}

// invoke runs the handler with panic recovery. A panicking handler fails the
// task instead of killing the consumer.
func (d *Dispatcher) invoke(ctx context.Context, handler TaskHandler, task *models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Task handler panicked",
				"task_id", task.ID,
				"type", task.Type,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, task)
}

// runHeartbeat extends the task's lease while the handler runs. It exits
// when the task leaves the in-flight set or the handler finishes.
func (d *Dispatcher) runHeartbeat(ctx context.Context, taskID string) {
	interval := d.lease / 3
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.queue.ExtendLease(taskID); err != nil {
				if !errors.Is(err, taskqueue.ErrUnknownTask) {
					d.logger.Warn("Lease heartbeat failed", "task_id", taskID, "error", err)
				}
				return
			}
		}
	}
}

func (d *Dispatcher) handlerFor(taskType string) TaskHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[taskType]
}

func (d *Dispatcher) complete(taskID string, status models.TaskStatus, log *slog.Logger) {
	if err := d.queue.Complete(taskID, status); err != nil {
		log.Warn("Failed to complete task", "status", status, "error", err)
	}
}

func retryDelay(attempt int) time.Duration {
	delay := retryBackoffStep
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryBackoffMax {
			return retryBackoffMax
		}
	}
	return delay
}

// DispatcherStats is a point-in-time view for health reporting.
type DispatcherStats struct {
	Consumers int   `json:"consumers"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Stats returns current dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Consumers: d.count,
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
	}
}
