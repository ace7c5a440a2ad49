package fabric

import (
	"context"
	"fmt"
)

// Extension is an opt-in overlay registered by name and applied against
// a live Fabric. Built-ins are registered automatically by New; callers
// may add their own via RegisterExtension.
type Extension interface {
	Name() string
	Apply(ctx context.Context, f *Fabric, params map[string]any) (map[string]any, error)
}

// RegisterExtension installs ext under ext.Name(), overwriting any
// extension previously registered under that name.
func (f *Fabric) RegisterExtension(ext Extension) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extensions[ext.Name()] = ext
}

// EnableExtension looks up name and applies it, returning UnknownExtension
// if nothing is registered under that name.
func (f *Fabric) EnableExtension(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	f.mu.RLock()
	ext, ok := f.extensions[name]
	f.mu.RUnlock()
	if !ok {
		return nil, newErr("enable_extension", "", KindUnknownExtension, fmt.Errorf("no extension named %q", name))
	}
	return ext.Apply(ctx, f, params)
}

func registerBuiltinExtensions(f *Fabric) {
	f.RegisterExtension(meshNetworkingExtension{})
	f.RegisterExtension(consensusExtension{})
	f.RegisterExtension(reasoningTraceExtension{})
}

// meshNetworkingExtension reports a fully-connected mesh over the given
// agent list; connections = n*(n-1)/2, the count of undirected edges in
// a complete graph over n nodes.
type meshNetworkingExtension struct{}

func (meshNetworkingExtension) Name() string { return "mesh_networking" }

func (meshNetworkingExtension) Apply(_ context.Context, _ *Fabric, params map[string]any) (map[string]any, error) {
	agents, _ := params["agents"].([]string)
	topology, _ := params["topology"].(string)
	if topology == "" {
		topology = "dynamic"
	}
	n := len(agents)
	return map[string]any{
		"status":      "active",
		"agents":      agents,
		"topology":    topology,
		"connections": n * (n - 1) / 2,
	}, nil
}

// CreateMeshNetwork is the spec's named convenience wrapper for enabling
// the mesh_networking extension.
func (f *Fabric) CreateMeshNetwork(ctx context.Context, agents []string, topology string) (map[string]any, error) {
	if topology == "" {
		topology = "dynamic"
	}
	return f.EnableExtension(ctx, "mesh_networking", map[string]any{"agents": agents, "topology": topology})
}

type consensusExtension struct{}

func (consensusExtension) Name() string { return "consensus" }

func (consensusExtension) Apply(_ context.Context, _ *Fabric, params map[string]any) (map[string]any, error) {
	consensusType, _ := params["type"].(string)
	if consensusType == "" {
		consensusType = "byzantine"
	}
	minAgents, ok := params["min_agents"].(int)
	if !ok || minAgents <= 0 {
		minAgents = 3
	}
	return map[string]any{
		"status":     "ready",
		"type":       consensusType,
		"min_agents": minAgents,
	}, nil
}

// EnableConsensus is the spec's named convenience wrapper for enabling
// the consensus extension.
func (f *Fabric) EnableConsensus(ctx context.Context, consensusType string, minAgents int) (map[string]any, error) {
	if consensusType == "" {
		consensusType = "byzantine"
	}
	if minAgents <= 0 {
		minAgents = 3
	}
	return f.EnableExtension(ctx, "consensus", map[string]any{"type": consensusType, "min_agents": minAgents})
}

type reasoningTraceExtension struct{}

func (reasoningTraceExtension) Name() string { return "reasoning_traces" }

func (reasoningTraceExtension) Apply(_ context.Context, _ *Fabric, params map[string]any) (map[string]any, error) {
	level, _ := params["level"].(string)
	if level == "" {
		level = "detailed"
	}
	return map[string]any{
		"collectors": []string{"chain_of_thought", "tree_of_thoughts", "react"},
		"level":      level,
		"status":     "enabled",
	}, nil
}

// EnableReasoningTraces is the spec's named convenience wrapper for
// enabling the reasoning_traces extension.
func (f *Fabric) EnableReasoningTraces(ctx context.Context, level string) (map[string]any, error) {
	if level == "" {
		level = "detailed"
	}
	return f.EnableExtension(ctx, "reasoning_traces", map[string]any{"level": level})
}
