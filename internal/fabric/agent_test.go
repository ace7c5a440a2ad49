package fabric

import (
	"context"
	"errors"
	"testing"
)

func TestAgentHandle_InvokeRoutesThroughFabric(t *testing.T) {
	f := New()
	adapter := &fakeAdapter{protocol: MCP, execResult: "ok", discoverTools: []UnifiedTool{
		{Name: "search", Protocol: MCP},
	}}
	if _, err := registerWithAdapter(t, f, MCP, adapter, ""); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	handle := f.CreateUnifiedAgent("research-agent")
	result, err := handle.Invoke(context.Background(), "mcp:search", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %v", result)
	}
}

func TestAgentHandle_FrozenSnapshotRejectsLaterTools(t *testing.T) {
	f := New()
	adapter := &fakeAdapter{protocol: MCP, discoverTools: []UnifiedTool{
		{Name: "search", Protocol: MCP},
	}}
	if _, err := registerWithAdapter(t, f, MCP, adapter, ""); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	handle := f.CreateUnifiedAgent("frozen-agent")

	// A tool registered after the handle was created must not be
	// invocable through it, even though the fabric itself now knows it.
	adapter2 := &fakeAdapter{protocol: ACP, discoverTools: []UnifiedTool{
		{Name: "lookup", Protocol: ACP},
	}}
	if _, err := registerWithAdapter(t, f, ACP, adapter2, ""); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := handle.Invoke(context.Background(), "acp:lookup", nil)
	if !errors.Is(err, UnknownTool) {
		t.Fatalf("expected UnknownTool for a tool outside the frozen snapshot, got %v", err)
	}

	// The fabric itself can still reach it directly.
	if _, err := f.ExecuteTool(context.Background(), "acp:lookup", nil); err != nil {
		t.Fatalf("unexpected error invoking directly through fabric: %v", err)
	}
}

func TestAgentHandle_ToolsReturnsCopy(t *testing.T) {
	f := New()
	adapter := &fakeAdapter{protocol: MCP, discoverTools: []UnifiedTool{{Name: "search", Protocol: MCP}}}
	if _, err := registerWithAdapter(t, f, MCP, adapter, ""); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	handle := f.CreateUnifiedAgent("agent")

	tools := handle.Tools()
	tools[0].Name = "mutated"

	if handle.Tools()[0].Name != "search" {
		t.Error("expected Tools() to return a defensive copy")
	}
}
