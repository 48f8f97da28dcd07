package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/famulus-ai/famulus/pkg/kernel"
)

// maxMessageBytes bounds one user turn. Larger inputs belong in files, which
// arrive through a different surface.
const maxMessageBytes = 64 * 1024

// postMessageHandler handles POST /api/v1/sessions/:id/messages. Blocks for
// the duration of the request critical path and returns the assembled reply.
func (s *Server) postMessageHandler(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.Text) > maxMessageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "message exceeds 64KB"})
		return
	}

	// An empty turn is not rejected: the kernel answers it with a prompt
	// for input without persisting anything.
	reply, err := s.kernel.HandleMessage(c.Request.Context(), kernel.MessageRequest{
		TenantID:       tenantOf(c),
		UserID:         userOf(c),
		SessionID:      c.Param("id"),
		Text:           req.Text,
		ForceWebSearch: req.ForceWebSearch,
	})
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}
