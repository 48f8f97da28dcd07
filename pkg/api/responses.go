package api

import "github.com/famulus-ai/famulus/pkg/kernel"

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse acknowledges a state-changing operation on one resource.
type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CountResponse reports how many rows a batch operation touched.
type CountResponse struct {
	Updated int64 `json:"updated"`
}

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one named check inside the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the /healthz body: overall status, per-dependency
// checks, and the kernel's runtime vitals.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
	Runtime *kernel.Health         `json:"runtime,omitempty"`
}
