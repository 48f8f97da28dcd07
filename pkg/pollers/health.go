package pollers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

// ProbeStatus is a probe's view of its resource.
type ProbeStatus string

const (
	StatusHealthy   ProbeStatus = "healthy"
	StatusDegraded  ProbeStatus = "degraded"
	StatusUnhealthy ProbeStatus = "unhealthy"
)

// rank orders statuses best to worst so transitions know their direction.
func (s ProbeStatus) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// confirmStreak is how many consecutive agreeing observations flip a
// probe's confirmed status. A single blip never reports.
const confirmStreak = 2

// WarningCategoryHealth tags probe warnings in the warnings registry.
const WarningCategoryHealth = "service_health"

// Probe checks one resource on its own schedule. Severity caps the task
// priority of a deterioration. TenantID and UserID name the owner to notify
// for integration-backed resources; system probes leave them empty and stay
// visible through the warnings registry alone.
type Probe struct {
	ID       string
	Resource string
	Interval time.Duration
	Severity models.TaskPriority
	TenantID string
	UserID   string
	Check    func(ctx context.Context) ProbeStatus
}

// WarningSink keeps operator-visible warnings in step with probe state.
// Satisfied by the kernel warnings registry.
type WarningSink interface {
	AddWarning(category, message, details, resource string) string
	ClearByResource(category, resource string) bool
}

// probeState is the debounce ledger for one probe.
type probeState struct {
	confirmed ProbeStatus
	candidate ProbeStatus
	streak    int
}

// HealthProber folds probe observations into confirmed statuses and
// produces a transition task each time a status flip is confirmed.
type HealthProber struct {
	warnings WarningSink
	logger   *slog.Logger

	mu    sync.Mutex
	state map[string]*probeState
}

// NewHealthProber creates a prober reporting into the given warning sink.
// A nil sink disables warning bookkeeping.
func NewHealthProber(warnings WarningSink) *HealthProber {
	return &HealthProber{
		warnings: warnings,
		logger:   slog.Default().With("component", "pollers.health"),
		state:    make(map[string]*probeState),
	}
}

// HandlerFor returns the scheduled handler for one probe. Each probe
// registers on the scheduler under its own interval.
func (h *HealthProber) HandlerFor(probe Probe) func(ctx context.Context) ([]*models.Task, error) {
	return func(ctx context.Context) ([]*models.Task, error) {
		return h.observe(ctx, probe), nil
	}
}

// Statuses returns each probe's confirmed status. Probes never yet observed
// are absent.
func (h *HealthProber) Statuses() map[string]ProbeStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	statuses := make(map[string]ProbeStatus, len(h.state))
	for id, state := range h.state {
		statuses[id] = state.confirmed
	}
	return statuses
}

// observe folds one measurement into the debounce state. It returns a
// transition task only when the observation confirms a flip, which takes
// confirmStreak consecutive agreeing measurements.
func (h *HealthProber) observe(ctx context.Context, probe Probe) []*models.Task {
	status := probe.Check(ctx)

	h.mu.Lock()
	state, ok := h.state[probe.ID]
	if !ok {
		// Resources start out trusted; the first confirmed deterioration
		// is the first report.
		state = &probeState{confirmed: StatusHealthy}
		h.state[probe.ID] = state
	}
	if status == state.confirmed {
		state.candidate = ""
		state.streak = 0
		h.mu.Unlock()
		return nil
	}
	if status != state.candidate {
		state.candidate = status
		state.streak = 1
		h.mu.Unlock()
		return nil
	}
	state.streak++
	if state.streak < confirmStreak {
		h.mu.Unlock()
		return nil
	}
	from := state.confirmed
	state.confirmed = status
	state.candidate = ""
	state.streak = 0
	h.mu.Unlock()

	h.logger.Info("service health transition",
		"probe", probe.ID, "resource", probe.Resource,
		"from", string(from), "to", string(status))
	h.syncWarning(probe, from, status)
	return []*models.Task{h.buildTask(probe, from, status)}
}

func (h *HealthProber) syncWarning(probe Probe, from, to ProbeStatus) {
	if h.warnings == nil {
		return
	}
	if to == StatusHealthy {
		h.warnings.ClearByResource(WarningCategoryHealth, probe.Resource)
		return
	}
	h.warnings.AddWarning(WarningCategoryHealth,
		fmt.Sprintf("%s is %s", probe.Resource, to),
		fmt.Sprintf("transition from %s confirmed by %d consecutive probes", from, confirmStreak),
		probe.Resource)
}

// buildTask carries the probe's severity for deteriorations; recoveries are
// informational.
func (h *HealthProber) buildTask(probe Probe, from, to ProbeStatus) *models.Task {
	priority := probe.Severity
	if to.rank() < from.rank() {
		priority = models.PriorityLow
	}
	task := models.NewTask(models.TaskServiceHealthTransition, priority, probe.TenantID)
	task.UserID = probe.UserID
	task.Payload = map[string]any{
		"probe_id": probe.ID,
		"resource": probe.Resource,
		"from":     string(from),
		"to":       string(to),
	}
	return task
}
