package kernel

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning categories surfaced on the health endpoint.
const (
	// WarningCategoryToolServer marks a configured tool server that failed
	// to connect or dropped its session at runtime.
	WarningCategoryToolServer = "tool_server"

	// WarningCategoryRetention marks a retention sweep that failed.
	WarningCategoryRetention = "retention"
)

// Warning is a non-fatal operational problem. Warnings live in memory only
// and reset on restart; anything that must outlive the process belongs in a
// notification instead.
type Warning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Warnings is the registry of active warnings. Thread-safe. The health
// probes and tool server recovery write into it; the health endpoint reads.
type Warnings struct {
	mu       sync.RWMutex
	warnings map[string]*Warning // warning ID → warning
}

// NewWarnings creates an empty warnings registry.
func NewWarnings() *Warnings {
	return &Warnings{warnings: make(map[string]*Warning)}
}

// AddWarning records a warning and returns its ID. A warning with the same
// category and resource replaces the previous one, so a flapping resource
// never piles up duplicates.
func (w *Warnings) AddWarning(category, message, details, resource string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, existing := range w.warnings {
		if existing.Category == category && existing.Resource == resource {
			delete(w.warnings, id)
			break
		}
	}

	id := uuid.New().String()
	w.warnings[id] = &Warning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		Resource:  resource,
		CreatedAt: time.Now(),
	}
	return id
}

// ClearByResource removes the warning matching category and resource.
// Returns true if one was removed. Recovery paths call this so the health
// endpoint stops reporting a problem that no longer exists.
func (w *Warnings) ClearByResource(category, resource string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, existing := range w.warnings {
		if existing.Category == category && existing.Resource == resource {
			delete(w.warnings, id)
			return true
		}
	}
	return false
}

// Active returns value copies of all warnings, oldest first. Callers may
// read the returned structs without holding any lock.
func (w *Warnings) Active() []Warning {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Warning, 0, len(w.warnings))
	for _, warning := range w.warnings {
		out = append(out, *warning)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
