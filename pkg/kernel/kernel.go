package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/famulus-ai/famulus/pkg/agents"
	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/memory"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/notify"
	"github.com/famulus-ai/famulus/pkg/planner"
	"github.com/famulus-ai/famulus/pkg/pollers"
	"github.com/famulus-ai/famulus/pkg/scheduler"
	"github.com/famulus-ai/famulus/pkg/session"
	"github.com/famulus-ai/famulus/pkg/store"
	"github.com/famulus-ai/famulus/pkg/taskqueue"
	"github.com/famulus-ai/famulus/pkg/tools"
)

// Deps carries everything the kernel does not own: durable stores, the
// session and memory managers, the notification center, the LLM client, and
// the tool surface. The queue, scheduler, dispatcher, and worker pool are
// created by the kernel itself.
type Deps struct {
	Config        *config.Config
	LLM           llm.Client
	Sessions      *session.Manager
	Messages      *store.MessageStore
	Memory        *memory.Manager
	Memories      *store.MemoryStore
	Integrations  *store.IntegrationStore
	Notifications *store.NotificationStore
	Notifier      *notify.Center
	Registry      *tools.Registry
	Invoker       agents.ToolInvoker

	// Checker is optional; without it extracted knowledge is stored
	// unchecked and no contradiction prompts are raised.
	Checker agents.ContradictionChecker

	// Mail and Calendar are optional provider factories. A nil factory
	// disables that poller. Integrations is required when either is set.
	Mail     pollers.MailOpener
	Calendar pollers.CalendarOpener

	// Probes are registered on the scheduler, each on its own interval.
	Probes []pollers.Probe
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("kernel: config is required")
	case d.LLM == nil:
		return errors.New("kernel: llm client is required")
	case d.Sessions == nil:
		return errors.New("kernel: session manager is required")
	case d.Messages == nil:
		return errors.New("kernel: message store is required")
	case d.Memory == nil:
		return errors.New("kernel: memory manager is required")
	case d.Memories == nil:
		return errors.New("kernel: memory store is required")
	case d.Notifications == nil:
		return errors.New("kernel: notification store is required")
	case d.Notifier == nil:
		return errors.New("kernel: notification center is required")
	case d.Registry == nil:
		return errors.New("kernel: tool registry is required")
	case d.Invoker == nil:
		return errors.New("kernel: tool invoker is required")
	}
	if (d.Mail != nil || d.Calendar != nil) && d.Integrations == nil {
		return errors.New("kernel: integration store is required for pollers")
	}
	return nil
}

// Kernel is the assembled runtime: the message graph behind HandleMessage,
// the event graph behind the dispatcher, and the scheduler feeding it.
type Kernel struct {
	sessions      *session.Manager
	messages      *store.MessageStore
	memory        *memory.Manager
	memories      *store.MemoryStore
	integrations  *store.IntegrationStore
	notifications *store.NotificationStore
	notifier      *notify.Center
	toolServers   *config.ToolServerRegistry

	queue      *taskqueue.Queue
	scheduler  *scheduler.Scheduler
	dispatcher *Dispatcher
	pool       *Pool
	warnings   *Warnings
	prober     *pollers.HealthProber

	loader    *agents.ContextLoader
	fanout    *agents.Fanout
	decider   *agents.PlanDecider
	toolLoop  *agents.ToolLoop
	mainAgent *agents.MainAgent
	collector *agents.Collector
	formatter *agents.Formatter
	knowledge *agents.KnowledgeAgent

	messageGraph *graph.Graph
	eventGraph   *graph.Graph

	retention       *config.RetentionConfig
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	shortWindow     int
	logger          *slog.Logger
}

// New assembles the kernel and wires every dispatcher handler and scheduled
// job. Nothing runs until Start.
func New(deps Deps) (*Kernel, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	k := &Kernel{
		sessions:        deps.Sessions,
		messages:        deps.Messages,
		memory:          deps.Memory,
		memories:        deps.Memories,
		integrations:    deps.Integrations,
		notifications:   deps.Notifications,
		notifier:        deps.Notifier,
		toolServers:     cfg.ToolServerRegistry,
		warnings:        NewWarnings(),
		retention:       cfg.Retention,
		requestTimeout:  cfg.Runtime.RequestTimeout,
		shutdownTimeout: cfg.Runtime.GracefulShutdownTimeout,
		shortWindow:     cfg.Memory.ShortWindow,
		logger:          slog.Default().With("component", "kernel"),
	}

	k.queue = taskqueue.New(cfg.Runtime)
	k.scheduler = scheduler.New(cfg.Runtime, k.queue)
	k.dispatcher = NewDispatcher(cfg.Runtime, k.queue)
	k.pool = NewPool(cfg.Runtime)
	k.prober = pollers.NewHealthProber(k.warnings)

	var integrityAgent *agents.IntegrityAgent
	if deps.Checker != nil {
		integrityAgent = agents.NewIntegrityAgent(deps.Checker, k.queue, deps.Notifier)
	}
	k.loader = agents.NewContextLoader(deps.Memory, deps.Messages, cfg.Memory)
	k.knowledge = agents.NewKnowledgeAgent(deps.LLM, cfg, deps.Memory, integrityAgent)
	k.fanout = agents.NewFanout(k.pool, k.knowledge)
	k.decider = agents.NewPlanDecider(planner.New(deps.LLM, cfg, deps.Registry))
	k.toolLoop = agents.NewToolLoop(deps.Invoker, deps.Sessions)
	k.mainAgent = agents.NewMainAgent(deps.LLM, cfg)
	k.collector = agents.NewCollector()
	k.formatter = agents.NewFormatter()

	var err error
	if k.messageGraph, err = k.buildMessageGraph(); err != nil {
		return nil, fmt.Errorf("build message graph: %w", err)
	}
	if k.eventGraph, err = k.buildEventGraph(); err != nil {
		return nil, fmt.Errorf("build event graph: %w", err)
	}

	if err := k.registerHandlers(); err != nil {
		return nil, err
	}
	if err := k.registerJobs(deps); err != nil {
		return nil, err
	}
	return k, nil
}

// registerHandlers binds each task type to its dispatcher handler. Poller and
// integrity tasks all run the event graph; the rest have dedicated handlers.
func (k *Kernel) registerHandlers() error {
	eventTypes := []string{
		models.TaskEmailNotification,
		models.TaskCalendarReminder,
		models.TaskServiceHealthTransition,
		models.TaskResolveContradiction,
	}
	for _, taskType := range eventTypes {
		if err := k.dispatcher.Handle(taskType, k.HandleEvent); err != nil {
			return err
		}
	}
	if err := k.dispatcher.Handle(models.TaskKnowledgeExtraction, k.handleKnowledgeExtraction); err != nil {
		return err
	}
	if err := k.dispatcher.Handle(models.TaskIntegrityCheck, k.handleIntegrityCheck); err != nil {
		return err
	}
	return k.dispatcher.Handle(models.TaskMemoryMaintenance, k.handleMemoryMaintenance)
}

// registerJobs binds scheduled producers: the configured pollers, one job per
// health probe, and the retention sweep.
func (k *Kernel) registerJobs(deps Deps) error {
	cfg := deps.Config

	if deps.Mail != nil {
		poller := pollers.NewEmailPoller(deps.Integrations, deps.Mail)
		if err := k.scheduler.Register("email_poller", cfg.Pollers.EmailInterval, poller.Poll); err != nil {
			return err
		}
	}
	if deps.Calendar != nil {
		watcher := pollers.NewCalendarWatcher(deps.Integrations, deps.Calendar)
		if err := k.scheduler.Register("calendar_watcher", cfg.Pollers.CalendarInterval, watcher.Poll); err != nil {
			return err
		}
	}
	for _, probe := range deps.Probes {
		interval := probe.Interval
		if interval <= 0 {
			interval = cfg.Pollers.HealthInterval
		}
		if err := k.scheduler.Register("health:"+probe.ID, interval, k.prober.HandlerFor(probe)); err != nil {
			return err
		}
	}
	return k.scheduler.Register("retention", cfg.Retention.CleanupInterval, k.scheduleMaintenance)
}

// Start brings the background machinery up: the worker pool first so fanout
// has somewhere to go, then the dispatcher consumers, then the scheduler that
// feeds them.
func (k *Kernel) Start(ctx context.Context) {
	k.pool.Start(ctx)
	k.dispatcher.Start(ctx)
	k.scheduler.Start(ctx)
	k.logger.Info("Kernel started")
}

// Stop shuts down in reverse order: stop producing, drain the consumers,
// then drain detached work. Each draining stage gets the shutdown budget.
func (k *Kernel) Stop() {
	k.scheduler.Stop()
	k.dispatcher.Stop(k.shutdownTimeout)
	k.pool.Stop(k.shutdownTimeout)
	k.logger.Info("Kernel stopped")
}

// Warnings exposes the operator warning registry, also written to by boot
// code outside the kernel.
func (k *Kernel) Warnings() *Warnings {
	return k.warnings
}

// Health aggregates runtime vitals for the health endpoint.
type Health struct {
	Queue      taskqueue.Stats                `json:"queue"`
	Dispatcher DispatcherStats                `json:"dispatcher"`
	Pool       PoolStats                      `json:"pool"`
	Jobs       []scheduler.JobStatus          `json:"jobs"`
	Probes     map[string]pollers.ProbeStatus `json:"probes"`
	Warnings   []Warning                      `json:"warnings"`
}

// Health snapshots queue depth, worker counters, scheduled job state,
// confirmed probe statuses, and active warnings.
func (k *Kernel) Health() Health {
	return Health{
		Queue:      k.queue.Stats(),
		Dispatcher: k.dispatcher.Stats(),
		Pool:       k.pool.Stats(),
		Jobs:       k.scheduler.Jobs(),
		Probes:     k.prober.Statuses(),
		Warnings:   k.warnings.Active(),
	}
}
