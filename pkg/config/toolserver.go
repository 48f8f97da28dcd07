package config

import (
	"fmt"
	"sort"
	"sync"
)

// ToolServerConfig defines an external tool server
type ToolServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport"`

	// Owner attributes an http/sse server to one user. Set, startup records
	// the server as that user's integration, deduped by normalized URL.
	// Both fields or neither.
	OwnerTenantID string `yaml:"owner_tenant_id,omitempty"`
	OwnerUserID   string `yaml:"owner_user_id,omitempty"`

	// Instructions shown to the planner when this server's tools are listed
	Instructions string `yaml:"instructions,omitempty"`

	// Tools restricts which served tools are registered; empty = all
	Tools []string `yaml:"tools,omitempty"`

	// IndexWorthy names served tools whose successful output is auto-indexed
	// into long-term memory
	IndexWorthy []string `yaml:"index_worthy,omitempty"`

	// Data masking applied to this server's output before indexing
	DataMasking *MaskingConfig `yaml:"data_masking,omitempty"`
}

// ToolServerRegistry stores tool server configurations in memory with thread-safe access
type ToolServerRegistry struct {
	servers map[string]*ToolServerConfig
	mu      sync.RWMutex
}

// NewToolServerRegistry creates a new tool server registry
func NewToolServerRegistry(servers map[string]*ToolServerConfig) *ToolServerRegistry {
	copied := make(map[string]*ToolServerConfig, len(servers))
	for k, v := range servers {
		copied[k] = v
	}
	return &ToolServerRegistry{
		servers: copied,
	}
}

// Get retrieves a tool server configuration by ID (thread-safe)
func (r *ToolServerRegistry) Get(serverID string) (*ToolServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrToolServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all tool server configurations (thread-safe, returns copy)
func (r *ToolServerRegistry) GetAll() map[string]*ToolServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ToolServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if a tool server exists in the registry (thread-safe)
func (r *ToolServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// Len returns the number of tool servers in the registry (thread-safe)
func (r *ToolServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// ServerIDs returns a sorted list of all configured tool server IDs.
func (r *ToolServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
