package fabric

import "context"

// AgentHandle is a snapshot of the catalog at the moment CreateUnifiedAgent
// was called, wrapped as invocables that forward to the owning Fabric's
// ExecuteTool. Later changes to the fabric's catalog never retroactively
// appear on an already-created handle.
type AgentHandle struct {
	Name  string
	tools []UnifiedTool
	f     *Fabric
}

// Tools returns the frozen tool list this handle was created with.
func (h *AgentHandle) Tools() []UnifiedTool {
	out := make([]UnifiedTool, len(h.tools))
	copy(out, h.tools)
	return out
}

// Invoke runs one of this handle's tools by its namespaced key, routed
// through the owning fabric's current adapter set (so reconnects,
// hybrid fallbacks, and circuit breakers since creation still apply).
func (h *AgentHandle) Invoke(ctx context.Context, toolKey string, args map[string]any) (any, error) {
	found := false
	for _, t := range h.tools {
		if t.Key() == toolKey {
			found = true
			break
		}
	}
	if !found {
		return nil, newErr("agent_invoke", "", KindUnknownTool, errNotInHandle(toolKey))
	}
	return h.f.ExecuteTool(ctx, toolKey, args)
}

type errNotInHandle string

func (e errNotInHandle) Error() string { return "tool not in agent snapshot: " + string(e) }

// CreateUnifiedAgent snapshots the current catalog and returns a handle
// whose Invoke forwards every call back through f.ExecuteTool.
func (f *Fabric) CreateUnifiedAgent(name string) *AgentHandle {
	return &AgentHandle{Name: name, tools: f.GetTools(""), f: f}
}
