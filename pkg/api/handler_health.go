package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/famulus-ai/famulus/pkg/pollers"
	"github.com/famulus-ai/famulus/pkg/storage"
	"github.com/famulus-ai/famulus/pkg/version"
)

// healthzHandler handles GET /healthz. Database failure is unhealthy (503);
// probe trouble and active warnings only degrade, so an external outage
// never makes an orchestrator restart the process.
func (s *Server) healthzHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := storage.Health(reqCtx, s.db.DB()); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	runtime := s.kernel.Health()
	kernelCheck := HealthCheck{Status: healthStatusHealthy}
	if len(runtime.Warnings) > 0 {
		kernelCheck = HealthCheck{Status: healthStatusDegraded, Message: runtime.Warnings[0].Message}
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
	}
	for id, probe := range runtime.Probes {
		if probe != pollers.StatusHealthy {
			kernelCheck = HealthCheck{Status: healthStatusDegraded, Message: id + " is " + string(probe)}
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
		}
	}
	checks["kernel"] = kernelCheck

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
		Runtime: &runtime,
	})
}
