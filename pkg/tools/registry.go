// Package tools implements the tool registry and the invocation pipeline:
// argument validation against the declared schema, per-tool deadlines,
// bounded retries for retriable failures, and best-effort auto-indexing of
// index-worthy results into memory.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/toolserver"
)

// Handler executes one tool call and returns the textual output.
type Handler interface {
	Call(ctx context.Context, inv Invocation) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv Invocation) (string, error)

func (f HandlerFunc) Call(ctx context.Context, inv Invocation) (string, error) {
	return f(ctx, inv)
}

// Invocation carries the caller scope and the validated arguments of one call.
type Invocation struct {
	TenantID  string
	UserID    string
	SessionID string
	Args      map[string]any
}

// Binding couples a tool descriptor with its handler and invocation policy.
type Binding struct {
	Descriptor models.ToolDescriptor
	Handler    Handler

	// Timeout overrides the default per-call deadline; 0 uses the default.
	Timeout time.Duration

	// Masking is applied to output before auto-indexing. Nil applies the
	// default pattern group.
	Masking *config.MaskingConfig

	schema *jsonschema.Schema
}

// ValidateArgs checks an argument object against the tool's declared schema.
func (b *Binding) ValidateArgs(args map[string]any) error {
	if b.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return b.schema.Validate(args)
}

// Registry holds every callable tool: built-ins, integration-backed tools,
// and the tools served by configured tool servers. Thread-safe.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]*Binding),
		logger:   slog.Default().With("component", "tools"),
	}
}

// Register adds a binding. The descriptor schema is compiled once here;
// registering a name twice is an error (use Replace for shadowing).
func (r *Registry) Register(b *Binding) error {
	if b == nil || b.Handler == nil {
		return fmt.Errorf("binding requires a handler")
	}
	name := b.Descriptor.Name
	if name == "" {
		return fmt.Errorf("binding requires a descriptor name")
	}

	schema, err := compileSchema(name, b.Descriptor.Schema)
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", name, err)
	}
	b.schema = schema

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.bindings[name] = b
	return nil
}

// Replace registers a binding, displacing any existing binding of the same
// name. Used for the shadowing rule: a tool server exposing web_search takes
// over the built-in name.
func (r *Registry) Replace(b *Binding) error {
	if b == nil || b.Handler == nil {
		return fmt.Errorf("binding requires a handler")
	}
	name := b.Descriptor.Name
	if name == "" {
		return fmt.Errorf("binding requires a descriptor name")
	}

	schema, err := compileSchema(name, b.Descriptor.Schema)
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", name, err)
	}
	b.schema = schema

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, exists := r.bindings[name]; exists {
		r.logger.Info("tool shadowed",
			"tool", name, "previous_server", prev.Descriptor.Server,
			"server", b.Descriptor.Server)
	}
	r.bindings[name] = b
	return nil
}

// Remove deletes a binding by name. Unknown names are a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, name)
}

// Get returns the binding for a tool name.
func (r *Registry) Get(name string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Descriptors returns every registered descriptor sorted by name, for the
// planner's tool listing.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ToolDescriptor, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// shadowableNames are served tool names that displace a built-in of the same
// name when a tool server exposes them.
var shadowableNames = map[string]bool{
	"web_search": true,
}

// LoadServerTools lists tools from every configured tool server and registers
// them under namespaced names ("server__tool"). A served tool named
// web_search additionally shadows the built-in. Returns the number of tools
// registered; listing failures are partial (logged per server).
func (r *Registry) LoadServerTools(ctx context.Context, client *toolserver.Client, registry *config.ToolServerRegistry) (int, error) {
	byServer, err := client.ListAllTools(ctx)
	if err != nil {
		return 0, err
	}

	registered := 0
	for serverID, served := range byServer {
		serverCfg, cfgErr := registry.Get(serverID)
		if cfgErr != nil {
			continue
		}

		indexWorthy := make(map[string]bool, len(serverCfg.IndexWorthy))
		for _, name := range serverCfg.IndexWorthy {
			indexWorthy[name] = true
		}

		for _, tool := range served {
			schema, schemaErr := decodeServedSchema(tool.InputSchema)
			if schemaErr != nil {
				r.logger.Warn("skipping served tool with undecodable schema",
					"server", serverID, "tool", tool.Name, "error", schemaErr)
				continue
			}

			desc := models.ToolDescriptor{
				Name:        toolserver.NamespacedName(serverID, tool.Name),
				What:        tool.Description,
				WhenToUse:   client.Instructions(serverID),
				Schema:      schema,
				SideEffect:  models.SideEffectExternal,
				IndexWorthy: indexWorthy[tool.Name],
				Server:      serverID,
			}
			binding := &Binding{
				Descriptor: desc,
				Handler:    &serverToolHandler{client: client, serverID: serverID, tool: tool.Name},
				Masking:    serverCfg.DataMasking,
			}
			if err := r.Register(binding); err != nil {
				r.logger.Warn("failed to register served tool",
					"server", serverID, "tool", desc.Name, "error", err)
				continue
			}
			registered++

			if shadowableNames[tool.Name] {
				shadow := *binding
				shadow.Descriptor.Name = tool.Name
				if err := r.Replace(&shadow); err != nil {
					r.logger.Warn("failed to shadow built-in tool",
						"server", serverID, "tool", tool.Name, "error", err)
				}
			}
		}
	}
	return registered, nil
}

// serverToolHandler executes a served tool through the tool server client.
type serverToolHandler struct {
	client   *toolserver.Client
	serverID string
	tool     string
}

func (h *serverToolHandler) Call(ctx context.Context, inv Invocation) (string, error) {
	result, err := h.client.CallTool(ctx, h.serverID, h.tool, inv.Args)
	if err != nil {
		return "", WrapError(toolserver.KindOf(err), fmt.Sprintf("call %s on %s", h.tool, h.serverID), err)
	}
	text := toolserver.ResultText(result)
	if result.IsError {
		// Tool-level errors arrive as content, not transport failures.
		// They are not retriable: the server executed the call.
		return "", NewError(models.ErrKindBadArgs, text)
	}
	return text, nil
}

// decodeServedSchema converts a served tool's input schema to a document.
// The SDK surfaces the schema untyped; whatever shape arrives goes through
// JSON to the map form the compiler takes.
func decodeServedSchema(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object"}, nil
	}
	if doc, ok := schema.(map[string]any); ok {
		if len(doc) == 0 {
			return map[string]any{"type": "object"}, nil
		}
		return doc, nil
	}
	raw, ok := schema.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(schema)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{"type": "object"}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// compileSchema compiles a descriptor schema, closing the argument object so
// unknown fields fail validation. A nil schema accepts any object.
func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	if doc == nil {
		doc = map[string]any{"type": "object"}
	}
	resource := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, closeSchema(doc)); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}

// closeSchema returns a copy with additionalProperties:false. Schemas that
// set the key themselves keep their value; non-object schemas pass through.
func closeSchema(doc map[string]any) map[string]any {
	if _, ok := doc["additionalProperties"]; ok {
		return doc
	}
	if t, _ := doc["type"].(string); t != "" && t != "object" {
		return doc
	}
	copied := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		copied[k] = v
	}
	copied["additionalProperties"] = false
	return copied
}

// mustSchemaDoc parses a JSON Schema literal. Panics on malformed built-in
// schemas, which is a programming error caught at init.
func mustSchemaDoc(raw string) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		panic(fmt.Sprintf("invalid built-in tool schema: %v", err))
	}
	return doc
}
