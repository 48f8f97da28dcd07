package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/famulus-ai/famulus/pkg/models"
)

// listNotificationsHandler handles GET /api/v1/notifications.
func (s *Server) listNotificationsHandler(c *gin.Context) {
	var filters models.NotificationFilters

	filters.SessionID = c.Query("session_id")
	if v := c.Query("priority"); v != "" {
		p := models.TaskPriority(v)
		if !p.Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid priority: must be critical, high, medium, low, or info"})
			return
		}
		filters.Priority = p
	}
	filters.Unread = c.Query("unread") == "true"
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit: must be 1-200"})
			return
		}
		filters.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset: must be >= 0"})
			return
		}
		filters.Offset = n
	}

	items, err := s.notifier.List(c.Request.Context(), tenantOf(c), userOf(c), filters)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// markReadHandler handles POST /api/v1/notifications/read.
func (s *Server) markReadHandler(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ids is required"})
		return
	}

	n, err := s.notifier.MarkRead(c.Request.Context(), tenantOf(c), userOf(c), req.IDs)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Updated: n})
}

// markAllReadHandler handles POST /api/v1/notifications/read_all.
func (s *Server) markAllReadHandler(c *gin.Context) {
	n, err := s.notifier.MarkAllRead(c.Request.Context(), tenantOf(c), userOf(c))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Updated: n})
}

// resolveNotificationHandler handles POST /api/v1/notifications/:id/resolve.
// Contradiction prompts also apply the chosen memory outcome before the row
// is settled.
func (s *Server) resolveNotificationHandler(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Resolution == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "resolution is required"})
		return
	}

	id := c.Param("id")
	if err := s.kernel.ResolveNotification(c.Request.Context(), tenantOf(c), userOf(c), id, req.Resolution); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{ID: id, Status: "resolved"})
}

// deleteNotificationsHandler handles DELETE /api/v1/notifications.
func (s *Server) deleteNotificationsHandler(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ids is required"})
		return
	}

	n, err := s.notifier.Delete(c.Request.Context(), tenantOf(c), userOf(c), req.IDs)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Updated: n})
}
