package models

import "time"

// IntegrationStatus is the lifecycle state of a connected external service.
type IntegrationStatus string

const (
	IntegrationEnabled  IntegrationStatus = "enabled"
	IntegrationDisabled IntegrationStatus = "disabled"
	IntegrationError    IntegrationStatus = "error"
)

// Integration connects a user to an external provider (email, calendar, a
// tool server). Credentials are an opaque encrypted blob: the runtime stores
// and forwards them, never decrypts or inspects them.
type Integration struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	// EndpointURL is the normalized server URL for tool-server integrations,
	// empty for providers reached through fixed APIs.
	EndpointURL          string            `json:"endpoint_url,omitempty"`
	Status               IntegrationStatus `json:"status"`
	EncryptedCredentials []byte            `json:"-"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// File is an uploaded attachment. SessionID is empty for files owned by the
// user but detached from any one conversation.
type File struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}
