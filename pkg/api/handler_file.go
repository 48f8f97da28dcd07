package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/famulus-ai/famulus/pkg/models"
)

// registerFileHandler handles POST /api/v1/files. Byte delivery happens out
// of band; this records the metadata row for a file already sitting at
// storage_path so sessions and tools can reference it.
func (s *Server) registerFileHandler(c *gin.Context) {
	var req RegisterFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return
	}
	if req.StoragePath == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "storage_path is required"})
		return
	}
	if req.SizeBytes < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid size_bytes: must be >= 0"})
		return
	}
	// A pinned session must exist; otherwise the insert would surface a
	// foreign key error as a 500.
	if req.SessionID != "" {
		if _, err := s.sessions.Get(c.Request.Context(), tenantOf(c), req.SessionID); err != nil {
			mapError(c, err)
			return
		}
	}

	file := &models.File{
		ID:          uuid.New().String(),
		TenantID:    tenantOf(c),
		UserID:      userOf(c),
		SessionID:   req.SessionID,
		Name:        req.Name,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		StoragePath: req.StoragePath,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.files.Create(c.Request.Context(), file); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

// listFilesHandler handles GET /api/v1/files.
func (s *Server) listFilesHandler(c *gin.Context) {
	files, err := s.files.ListByUser(c.Request.Context(), tenantOf(c), userOf(c))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, files)
}

// getFileHandler handles GET /api/v1/files/:id.
func (s *Server) getFileHandler(c *gin.Context) {
	file, err := s.files.Get(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// deleteFileHandler handles DELETE /api/v1/files/:id. Only the index row is
// removed; reclaiming the bytes is the storage backend's problem.
func (s *Server) deleteFileHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.files.Delete(c.Request.Context(), tenantOf(c), id); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{ID: id, Status: "deleted"})
}
