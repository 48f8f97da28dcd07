// Package toolserver provides the MCP (Model Context Protocol) client
// infrastructure for connecting to configured external tool servers and
// executing their tools.
//
// Unlike a per-request client, one Client instance is kernel-scoped and
// long-lived: sessions are created lazily on first use, recreated after
// connection-class failures, and the per-server tool cache can be
// invalidated to force a re-probe.
package toolserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/version"
)

// NameSeparator joins a server ID and a served tool name into the registry
// name under which the tool is exposed to the planner.
const NameSeparator = "__"

// NamespacedName returns the registry name for a served tool: "server__tool".
func NamespacedName(serverID, tool string) string {
	return serverID + NameSeparator + tool
}

// SplitName splits a namespaced tool name into server ID and served tool name.
// Returns ok=false for names without a separator (built-in tools).
func SplitName(name string) (serverID, tool string, ok bool) {
	idx := strings.Index(name, NameSeparator)
	if idx <= 0 || idx+len(NameSeparator) >= len(name) {
		return "", "", false
	}
	return name[:idx], name[idx+len(NameSeparator):], true
}

// Client manages MCP SDK sessions for all configured tool servers.
// Thread-safe: sessions may be used from multiple goroutines (planner
// listing tools while the invoker executes calls).
type Client struct {
	registry *config.ToolServerRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession // serverID → session
	clients       map[string]*mcpsdk.Client        // serverID → client (for reconnection)
	failedServers map[string]string                // serverID → error message

	// Tool cache, populated on first ListTools per server. Invalidated on
	// session recreation so a reconnected server is re-probed.
	toolCache   map[string][]*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// Per-server mutex for session (re)creation to prevent thundering herd
	reinitMu sync.Map // serverID → *sync.Mutex

	logger *slog.Logger
}

// NewClient creates a Client over the configured tool server registry.
// No connections are opened; call Initialize for eager startup connects or
// rely on lazy initialization at first use.
func NewClient(registry *config.ToolServerRegistry) *Client {
	return &Client{
		registry:      registry,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		logger:        slog.Default().With("component", "toolserver"),
	}
}

// Initialize connects to every configured tool server.
// Servers that fail to connect are recorded in failedServers and retried
// lazily on first use; startup proceeds with the servers that did connect.
func (c *Client) Initialize(ctx context.Context) error {
	for _, serverID := range c.registry.ServerIDs() {
		if err := c.InitializeServer(ctx, serverID); err != nil {
			c.mu.Lock()
			c.failedServers[serverID] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("tool server failed to initialize",
				"server", serverID, "error", err)
		}
	}
	return nil
}

// InitializeServer connects to a single tool server.
// Returns nil if already connected. Used for lazy initialization and recovery.
// Uses a per-server mutex to prevent concurrent initialization of the same server.
func (c *Client) InitializeServer(ctx context.Context, serverID string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return c.initializeServerLocked(ctx, serverID)
}

// initializeServerLocked performs the actual server initialization.
// Caller must hold the per-server reinitMu lock.
func (c *Client) initializeServerLocked(ctx context.Context, serverID string) error {
	// Check if already connected (under per-server lock, no TOCTOU race)
	c.mu.RLock()
	if _, exists := c.sessions[serverID]; exists {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("server %q not found in registry: %w", serverID, err)
	}

	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it implements io.Closer to avoid leaking
		// resources (e.g., stdio child processes) on failed handshakes.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	c.clients[serverID] = client
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.logger.Info("tool server connected", "server", serverID)
	return nil
}

// session returns the live session for a server, initializing it lazily.
func (c *Client) session(ctx context.Context, serverID string) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if exists {
		return session, nil
	}

	if err := c.InitializeServer(ctx, serverID); err != nil {
		c.mu.Lock()
		c.failedServers[serverID] = err.Error()
		c.mu.Unlock()
		return nil, err
	}

	c.mu.RLock()
	session, exists = c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}
	return session, nil
}

// ListTools returns the served tools for a server, filtered to the subset the
// server config allows (empty allow-list = all). Uses the cache if populated.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	// Lock ordering: never acquire c.mu while holding toolCacheMu.
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverID]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	session, err := c.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	tools := c.filterTools(serverID, result.Tools)

	c.toolCacheMu.Lock()
	c.toolCache[serverID] = tools
	c.toolCacheMu.Unlock()

	return tools, nil
}

// filterTools applies the server config's tool allow-list.
// Always returns a non-nil slice so cache hits never hand nil to callers.
func (c *Client) filterTools(serverID string, tools []*mcpsdk.Tool) []*mcpsdk.Tool {
	serverCfg, err := c.registry.Get(serverID)
	if err != nil || len(serverCfg.Tools) == 0 {
		if tools == nil {
			return []*mcpsdk.Tool{}
		}
		return tools
	}

	allowed := make(map[string]bool, len(serverCfg.Tools))
	for _, name := range serverCfg.Tools {
		allowed[name] = true
	}

	filtered := make([]*mcpsdk.Tool, 0, len(tools))
	for _, tool := range tools {
		if allowed[tool.Name] {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// ListAllTools returns served tools from all configured servers, keyed by
// server ID. Returns partial results if some servers fail (logs errors, does
// not abort). Returns an error only when every server fails.
func (c *Client) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	serverIDs := c.registry.ServerIDs()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, id := range serverIDs {
		tools, err := c.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			c.logger.Warn("failed to list tools from tool server",
				"server", id, "error", err)
			continue
		}
		result[id] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all tool servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes a served tool on the given server. One attempt only:
// retry policy (attempts, backoff) belongs to the invoker above this client.
// On connection-class failures the session is recreated best-effort so the
// caller's next attempt lands on a live transport.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	session, err := c.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err == nil {
		return result, nil
	}

	if ClassifyError(err) == RecreateSession {
		c.logger.Info("tool server call hit connection failure, recreating session",
			"server", serverID, "tool", toolName, "error", err)
		if rerr := c.recreateSession(ctx, serverID); rerr != nil {
			c.logger.Warn("tool server session recreation failed",
				"server", serverID, "error", rerr)
		}
	}
	return nil, err
}

// opContext bounds a single server operation. The invoker owns the per-tool
// deadline; the fallback guard only applies to callers without one.
func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, OperationTimeout)
}

// recreateSession tears down and recreates the session for a server.
// Uses the per-server mutex to prevent concurrent recreation.
//
// Note: if two goroutines race into recreateSession, the second will
// unnecessarily tear down the freshly recreated session and create another.
// A staleness guard (checking if session exists after lock) doesn't work here
// because the first caller also sees the broken session in the map.
// The cost is an extra recreation, which is acceptable for simplicity.
func (c *Client) recreateSession(ctx context.Context, serverID string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, exists := c.sessions[serverID]; exists {
		_ = session.Close()
		delete(c.sessions, serverID)
		delete(c.clients, serverID)
	}
	c.mu.Unlock()

	c.InvalidateToolCache(serverID)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return c.initializeServerLocked(reinitCtx, serverID)
}

// Instructions returns the configured planner instructions for a server,
// empty when the server is unknown.
func (c *Client) Instructions(serverID string) string {
	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		return ""
	}
	return serverCfg.Instructions
}

// Close shuts down all sessions and transports gracefully.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}

	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)

	// Lock ordering note: mu → toolCacheMu is safe here because no other
	// code path holds toolCacheMu while acquiring mu.
	c.toolCacheMu.Lock()
	c.toolCache = make(map[string][]*mcpsdk.Tool)
	c.toolCacheMu.Unlock()

	return firstErr
}

// InvalidateToolCache removes the cached tool list for a server,
// forcing the next ListTools call to re-probe the server.
// Lock ordering: never acquire c.mu while holding toolCacheMu.
func (c *Client) InvalidateToolCache(serverID string) {
	c.toolCacheMu.Lock()
	delete(c.toolCache, serverID)
	c.toolCacheMu.Unlock()
}

// HasSession checks if a server has an active session.
func (c *Client) HasSession(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[serverID]
	return exists
}

// FailedServers returns the map of servers that failed to initialize.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		result[k] = v
	}
	return result
}
