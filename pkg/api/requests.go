package api

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	// Channel names the surface the session belongs to. Defaults to "web".
	Channel string `json:"channel"`
}

// PostMessageRequest is the body of POST /api/v1/sessions/:id/messages.
type PostMessageRequest struct {
	Text string `json:"text"`
	// ForceWebSearch asks the planner to ground the reply in fresh search
	// results.
	ForceWebSearch bool `json:"force_web_search"`
}

// IDsRequest carries the target ids of a batch notification operation.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// ResolveRequest is the body of POST /api/v1/notifications/:id/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

// RegisterFileRequest is the body of POST /api/v1/files.
type RegisterFileRequest struct {
	// SessionID optionally pins the file to one conversation.
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	StoragePath string `json:"storage_path"`
}
