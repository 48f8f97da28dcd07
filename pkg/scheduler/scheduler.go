// Package scheduler runs registered interval handlers and feeds the tasks
// they produce into the queue. One goroutine wakes every second and starts
// due handlers; each handler runs in its own goroutine and is never
// restarted while a previous invocation is still going.
package scheduler

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
	"github.com/famulus-ai/famulus/pkg/taskqueue"
)

// Handler produces zero or more tasks when its interval elapses. The
// returned tasks are enqueued as one batch.
type Handler func(ctx context.Context) ([]*models.Task, error)

type entry struct {
	name     string
	interval time.Duration
	handler  Handler

	mu            sync.Mutex
	lastRun       time.Time
	running       bool
	startedAt     time.Time
	overrunLogged bool
}

// Scheduler owns the registry of periodic producers.
type Scheduler struct {
	queue          *taskqueue.Queue
	logger         *slog.Logger
	handlerTimeout time.Duration
	tick           time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler that enqueues produced tasks into queue.
func New(cfg *config.RuntimeConfig, queue *taskqueue.Queue) *Scheduler {
	handlerTimeout := 30 * time.Second
	if cfg != nil && cfg.HandlerTimeout > 0 {
		handlerTimeout = cfg.HandlerTimeout
	}
	return &Scheduler{
		queue:          queue,
		logger:         slog.Default().With("component", "scheduler"),
		handlerTimeout: handlerTimeout,
		tick:           time.Second,
		entries:        make(map[string]*entry),
	}
}

// Register adds a named handler with its interval. Registered handlers are
// due immediately on the first tick after Start.
func (s *Scheduler) Register(name string, interval time.Duration, handler Handler) error {
	if name == "" {
		return errors.New("handler name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("handler %s: interval must be positive", name)
	}
	if handler == nil {
		return fmt.Errorf("handler %s: handler func is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("handler %s already registered", name)
	}
	s.entries[name] = &entry{name: name, interval: interval, handler: handler}
	return nil
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts the tick loop and waits up to the handler timeout for in-flight
// handlers to return. After Stop, Start may be called again.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(s.handlerTimeout):
		s.logger.Warn("Scheduled handlers still running at shutdown",
			"waited", s.handlerTimeout)
	}

	s.cancel = nil
	s.done = nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now()
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		if e.running {
			if now.Sub(e.startedAt) > 2*e.interval && !e.overrunLogged {
				e.overrunLogged = true
				s.logger.Warn("Scheduled handler overrunning, skipping invocations",
					"handler", e.name,
					"running_for", now.Sub(e.startedAt),
					"interval", e.interval)
			}
			e.mu.Unlock()
			continue
		}
		if !e.lastRun.IsZero() && now.Sub(e.lastRun) < e.interval {
			e.mu.Unlock()
			continue
		}
		e.running = true
		e.startedAt = now
		e.mu.Unlock()

		s.wg.Add(1)
		go s.invoke(ctx, e)
	}
}

func (s *Scheduler) invoke(ctx context.Context, e *entry) {
	defer s.wg.Done()

	tasks, err := e.handler(ctx)

	e.mu.Lock()
	e.running = false
	e.lastRun = time.Now()
	e.overrunLogged = false
	e.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled handler failed", "handler", e.name, "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	accepted, shed, err := s.queue.EnqueueBatch(tasks)
	if err != nil {
		s.logger.Error("Failed to enqueue produced tasks",
			"handler", e.name, "accepted", accepted, "error", err)
		return
	}
	if shed > 0 {
		s.logger.Warn("Produced tasks shed by queue backpressure",
			"handler", e.name, "accepted", accepted, "shed", shed)
	}
}

func (s *Scheduler) snapshotEntries() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// JobStatus describes one registered handler for health reporting.
type JobStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run"`
	Running  bool          `json:"running"`
}

// Jobs returns the registry snapshot, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	entries := s.snapshotEntries()
	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, JobStatus{
			Name:     e.name,
			Interval: e.interval,
			LastRun:  e.lastRun,
			Running:  e.running,
		})
		e.mu.Unlock()
	}
	return out
}
