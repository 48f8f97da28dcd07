// Package taskqueue implements the in-process priority queue shared by the
// agents and background workers. Delivery is FIFO within each priority
// class, scheduled tasks stay hidden until their visibility time, and every
// dequeued task carries a lease so work held by a vanished consumer is
// redelivered instead of lost.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrDropped indicates an enqueue was shed by backpressure.
	ErrDropped = errors.New("task dropped: queue over soft cap")

	// ErrUnknownTask indicates a Complete for a task the queue is not holding.
	ErrUnknownTask = errors.New("unknown task")

	// ErrNotTerminal rejects a Complete with a non-terminal status.
	ErrNotTerminal = errors.New("status is not terminal")
)

// maxPollInterval bounds how long a blocked consumer sleeps without a wake
// signal. Lease expiry is therefore checked at least this often.
const maxPollInterval = time.Second

type queued struct {
	task     *models.Task
	seq      uint64
	leasedAt time.Time // zero until dequeued
}

// Queue is the shared task queue. All methods are safe for concurrent use.
type Queue struct {
	softCap int
	lease   time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	wake     chan struct{} // closed and replaced on every enqueue
	seq      uint64
	pending  map[models.TaskPriority][]*queued
	inFlight map[string]*queued

	dropped     int64
	delivered   int64
	redelivered int64
	completed   int64
	failed      int64
	cancelled   int64
}

// New creates an empty queue using the runtime's soft cap and lease.
func New(cfg *config.RuntimeConfig) *Queue {
	softCap := 10000
	lease := 5 * time.Minute
	if cfg != nil {
		if cfg.QueueSoftCap > 0 {
			softCap = cfg.QueueSoftCap
		}
		if cfg.TaskLease > 0 {
			lease = cfg.TaskLease
		}
	}
	return &Queue{
		softCap:  softCap,
		lease:    lease,
		logger:   slog.Default().With("component", "taskqueue"),
		wake:     make(chan struct{}),
		pending:  make(map[models.TaskPriority][]*queued),
		inFlight: make(map[string]*queued),
	}
}

// Enqueue admits a task without blocking. Above the soft cap, low and info
// tasks are shed with ErrDropped; medium and above are always kept.
func (q *Queue) Enqueue(task *models.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.enqueueLocked(task); err != nil {
		return err
	}
	q.wakeLocked()
	return nil
}

// EnqueueBatch admits tasks under a single lock acquisition so a scheduler
// tick is never interleaved with other producers. It returns how many tasks
// were accepted and how many were shed; validation failures abort the rest.
func (q *Queue) EnqueueBatch(tasks []*models.Task) (accepted, shed int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, task := range tasks {
		err = q.enqueueLocked(task)
		if errors.Is(err, ErrDropped) {
			shed++
			err = nil
			continue
		}
		if err != nil {
			break
		}
		accepted++
	}
	if accepted > 0 {
		q.wakeLocked()
	}
	return accepted, shed, err
}

func (q *Queue) enqueueLocked(task *models.Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	if task.Type == "" {
		return errors.New("task type is required")
	}
	if !task.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", task.Priority)
	}
	if q.pendingLocked() >= q.softCap && shedable(task.Priority) {
		q.dropped++
		return fmt.Errorf("%w (%s %s)", ErrDropped, task.Priority, task.Type)
	}
	if task.VisibleAfter.IsZero() {
		task.VisibleAfter = time.Now()
	}
	task.Status = models.TaskPending
	q.seq++
	q.pending[task.Priority] = append(q.pending[task.Priority], &queued{task: task, seq: q.seq})
	return nil
}

func shedable(p models.TaskPriority) bool {
	return p == models.PriorityLow || p == models.PriorityInfo
}

// Dequeue blocks until an eligible task is available or the context ends.
// It returns the highest-priority task whose visibility time has passed,
// FIFO within the class, and starts its lease.
func (q *Queue) Dequeue(ctx context.Context) (*models.Task, error) {
	for {
		now := time.Now()
		q.mu.Lock()
		q.reclaimLocked(now)
		if task := q.takeLocked(now); task != nil {
			q.mu.Unlock()
			return task, nil
		}
		wait := q.nextWakeLocked(now)
		wake := q.wake
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Complete transitions a task to a terminal status and releases its lease.
// A Complete arriving after the lease lapsed still wins: the task is pulled
// back out of pending so the work is not redone.
func (q *Queue) Complete(taskID string, status models.TaskStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, status)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.inFlight[taskID]; ok {
		delete(q.inFlight, taskID)
		item.task.Status = status
		q.countTerminalLocked(status)
		return nil
	}
	for priority, class := range q.pending {
		for i, item := range class {
			if item.task.ID == taskID {
				q.pending[priority] = append(class[:i], class[i+1:]...)
				item.task.Status = status
				q.countTerminalLocked(status)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
}

// ExtendLease restarts the lease clock of an in-flight task. Long handlers
// call this periodically so a slow task is not redelivered mid-run.
func (q *Queue) ExtendLease(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.inFlight[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	item.leasedAt = time.Now()
	return nil
}

// Stats is a point-in-time snapshot of queue health.
type Stats struct {
	Pending     int                         `json:"pending"`
	InFlight    int                         `json:"in_flight"`
	ByPriority  map[models.TaskPriority]int `json:"by_priority"`
	Dropped     int64                       `json:"dropped"`
	Delivered   int64                       `json:"delivered"`
	Redelivered int64                       `json:"redelivered"`
	Completed   int64                       `json:"completed"`
	Failed      int64                       `json:"failed"`
	Cancelled   int64                       `json:"cancelled"`
}

// Stats returns a snapshot of queue depth and lifetime counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byPriority := make(map[models.TaskPriority]int, len(q.pending))
	for priority, class := range q.pending {
		if len(class) > 0 {
			byPriority[priority] = len(class)
		}
	}
	return Stats{
		Pending:     q.pendingLocked(),
		InFlight:    len(q.inFlight),
		ByPriority:  byPriority,
		Dropped:     q.dropped,
		Delivered:   q.delivered,
		Redelivered: q.redelivered,
		Completed:   q.completed,
		Failed:      q.failed,
		Cancelled:   q.cancelled,
	}
}

func (q *Queue) pendingLocked() int {
	total := 0
	for _, class := range q.pending {
		total += len(class)
	}
	return total
}

func (q *Queue) wakeLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *Queue) takeLocked(now time.Time) *models.Task {
	for _, priority := range models.Priorities {
		class := q.pending[priority]
		for i, item := range class {
			if item.task.VisibleAfter.After(now) {
				continue
			}
			q.pending[priority] = append(class[:i], class[i+1:]...)
			item.leasedAt = now
			item.task.Status = models.TaskInFlight
			item.task.Attempts++
			q.inFlight[item.task.ID] = item
			q.delivered++
			return item.task
		}
	}
	return nil
}

// reclaimLocked moves tasks with a lapsed lease back to the front of their
// class, preserving their original enqueue order.
func (q *Queue) reclaimLocked(now time.Time) {
	if len(q.inFlight) == 0 {
		return
	}
	var expired []*queued
	for id, item := range q.inFlight {
		if now.Sub(item.leasedAt) >= q.lease {
			delete(q.inFlight, id)
			expired = append(expired, item)
		}
	}
	if len(expired) == 0 {
		return
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].seq < expired[j].seq })

	byClass := make(map[models.TaskPriority][]*queued)
	for _, item := range expired {
		item.leasedAt = time.Time{}
		item.task.Status = models.TaskPending
		q.redelivered++
		q.logger.Warn("Task lease expired, redelivering",
			"task_id", item.task.ID,
			"type", item.task.Type,
			"attempts", item.task.Attempts)
		byClass[item.task.Priority] = append(byClass[item.task.Priority], item)
	}
	for priority, items := range byClass {
		q.pending[priority] = append(items, q.pending[priority]...)
	}
}

func (q *Queue) nextWakeLocked(now time.Time) time.Duration {
	wait := maxPollInterval
	for _, class := range q.pending {
		for _, item := range class {
			if d := item.task.VisibleAfter.Sub(now); d > 0 && d < wait {
				wait = d
			}
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (q *Queue) countTerminalLocked(status models.TaskStatus) {
	switch status {
	case models.TaskCompleted:
		q.completed++
	case models.TaskFailed:
		q.failed++
	case models.TaskCancelled:
		q.cancelled++
	}
}
