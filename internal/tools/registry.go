package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skyefall/nanobot/internal/providers"
)

// Tool is the contract every executable capability implements. Name and
// Description feed the LLM's tool-selection prompt; Parameters is a
// JSON-Schema object describing the call signature; Execute performs the
// call and returns a Result.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// AsyncCallback is invoked when a long-running tool finishes out of band
// (e.g. a spawned subagent). ctx carries the original run's trace/session
// values so the callback can route its result back to the right place.
type AsyncCallback func(ctx context.Context, result *Result)

// Registry is a name-indexed collection of tools, safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, overwriting any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name, resolving aliases.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		if canonical, aliased := toolAliases[name]; aliased {
			t, ok = r.tools[canonical]
		}
	}
	return t, ok
}

// List returns the names of every registered tool.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ProviderDefs returns every registered tool as a provider-facing definition,
// suitable for attaching to a ChatRequest unfiltered by policy.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToProviderDef(t))
	}
	return defs
}

// ToProviderDef converts a Tool into the wire shape providers expect.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Execute validates args against the tool's declared schema and dispatches.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	if err := validateArgs(tool.Parameters(), args); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}
	return tool.Execute(ctx, args)
}

// ExecuteWithContext is Execute plus the per-call routing values tools read
// back out via the context-key helpers (channel/chat/peer/session, and an
// optional async callback for tools that finish out of band).
func (r *Registry) ExecuteWithContext(
	ctx context.Context,
	name string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	asyncCB AsyncCallback,
) *Result {
	ctx = WithToolChannel(ctx, channel)
	ctx = WithToolChatID(ctx, chatID)
	ctx = WithToolPeerKind(ctx, peerKind)
	ctx = WithToolSessionKey(ctx, sessionKey)
	if asyncCB != nil {
		ctx = WithToolAsyncCB(ctx, asyncCB)
	}
	return r.Execute(ctx, name, args)
}

// validateArgs runs a minimal JSON-Schema walk: required presence, basic
// type checks, and enum membership. It does not attempt full schema
// validation — only the checks tool authors in this package actually rely on.
func validateArgs(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required field %q", name)
			}
		}
	}

	props, _ := schema["properties"].(map[string]interface{})
	for name, raw := range args {
		propSchema, ok := props[name].(map[string]interface{})
		if !ok {
			continue
		}
		if wantType, ok := propSchema["type"].(string); ok {
			if err := checkType(name, wantType, raw); err != nil {
				return err
			}
		}
		if enum, ok := propSchema["enum"].([]string); ok {
			if err := checkEnum(name, enum, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkType(name, wantType string, v interface{}) error {
	switch wantType {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field %q must be a string", name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean", name)
		}
	case "number", "integer":
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("field %q must be a number", name)
		}
	case "array":
		switch v.(type) {
		case []interface{}, []string:
		default:
			return fmt.Errorf("field %q must be an array", name)
		}
	case "object":
		if _, ok := v.(map[string]interface{}); !ok {
			return fmt.Errorf("field %q must be an object", name)
		}
	}
	return nil
}

func checkEnum(name string, enum []string, v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	for _, allowed := range enum {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("field %q: %q is not one of %v", name, s, enum)
}

// LogRegistration logs the final registered tool set at startup.
func (r *Registry) LogRegistration() {
	slog.Info("tool registry initialized", "tools", r.List())
}
