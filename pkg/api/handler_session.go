package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/famulus-ai/famulus/pkg/models"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Channel == "" {
		req.Channel = "web"
	}

	sess, err := s.sessions.Start(c.Request.Context(), tenantOf(c), userOf(c), req.Channel)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	var filters models.SessionFilters

	if v := c.Query("status"); v != "" {
		switch models.SessionStatus(v) {
		case models.SessionActive, models.SessionArchived:
			filters.Status = models.SessionStatus(v)
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status: must be active or archived"})
			return
		}
	}
	filters.Channel = c.Query("channel")
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit: must be 1-100"})
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
	filters.IncludeArchived = c.Query("include_archived") == "true"

	result, err := s.sessions.List(c.Request.Context(), tenantOf(c), userOf(c), filters)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// archiveSessionHandler handles POST /api/v1/sessions/:id/archive.
func (s *Server) archiveSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.sessions.Archive(c.Request.Context(), tenantOf(c), sessionID); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{ID: sessionID, Status: string(models.SessionArchived)})
}

// listMessagesHandler handles GET /api/v1/sessions/:id/messages.
func (s *Server) listMessagesHandler(c *gin.Context) {
	var afterID int64
	if v := c.Query("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid after_id: must be a non-negative integer"})
			return
		}
		afterID = n
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit: must be 1-500"})
			return
		}
		limit = n
	}

	msgs, err := s.sessions.MessagesSince(c.Request.Context(), tenantOf(c), c.Param("id"), afterID, limit)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}
