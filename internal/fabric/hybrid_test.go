package fabric

import (
	"context"
	"fmt"
	"testing"
)

type fakeAdapter struct {
	protocol   ProtocolId
	kind       string // arbitrary marker, unused by the interface itself
	connectErr error
	execErr    error
	execResult any
	execCalls  int

	discoverTools []UnifiedTool
	discoverErr   error
	capabilities  []ProtocolCapability
	capsErr       error
	disconnectErr error

	unsupported map[string]bool // features SupportsFeature should report false for
	connected   bool
}

func (f *fakeAdapter) ProtocolType() ProtocolId { return f.protocol }
func (f *fakeAdapter) Connect(ctx context.Context, config map[string]any) error {
	if f.connectErr == nil {
		f.connected = true
	}
	return f.connectErr
}
func (f *fakeAdapter) Disconnect(ctx context.Context) error { return f.disconnectErr }
func (f *fakeAdapter) DiscoverTools(ctx context.Context) ([]UnifiedTool, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return f.discoverTools, nil
}
func (f *fakeAdapter) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	f.execCalls++
	return f.execResult, f.execErr
}
func (f *fakeAdapter) GetCapabilities(ctx context.Context) ([]ProtocolCapability, error) {
	if f.capsErr != nil {
		return nil, f.capsErr
	}
	return f.capabilities, nil
}
func (f *fakeAdapter) SupportsFeature(feature string) bool { return !f.unsupported[feature] }

func TestHybrid_LatchesOnUnsupported(t *testing.T) {
	primary := &fakeAdapter{protocol: MCP, execErr: Unsupported}
	fallback := &fakeAdapter{protocol: MCP, execResult: "fallback result"}
	h := NewHybrid(MCP, primary, fallback)

	result, err := h.ExecuteTool(context.Background(), "tool", nil)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if result != "fallback result" {
		t.Errorf("expected fallback result, got %v", result)
	}
	if !h.UsingFallback() {
		t.Error("expected hybrid to have latched to fallback")
	}

	// Second call must not touch primary again.
	primary.execCalls = 0
	if _, err := h.ExecuteTool(context.Background(), "tool", nil); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if primary.execCalls != 0 {
		t.Errorf("expected primary to not be retried after latch, got %d calls", primary.execCalls)
	}
}

func TestHybrid_NetworkFailureDoesNotLatch(t *testing.T) {
	primary := &fakeAdapter{protocol: ACP, execErr: fmt.Errorf("connection reset")}
	fallback := &fakeAdapter{protocol: ACP}
	h := NewHybrid(ACP, primary, fallback)

	_, err := h.ExecuteTool(context.Background(), "tool", nil)
	if err == nil {
		t.Fatal("expected plain network error to surface, not be swallowed by a fallback attempt")
	}
	if h.UsingFallback() {
		t.Error("plain network failure must not trip the fallback latch")
	}
}

func TestHybrid_RemoteFailureWrappingUnsupportedLatches(t *testing.T) {
	primary := &fakeAdapter{protocol: A2A, execErr: &Error{Op: "execute_tool", Protocol: A2A, Kind: KindRemoteFailure, Err: Unsupported}}
	fallback := &fakeAdapter{protocol: A2A, execResult: "ok"}
	h := NewHybrid(A2A, primary, fallback)

	if _, err := h.ExecuteTool(context.Background(), "tool", nil); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if !h.UsingFallback() {
		t.Error("expected a RemoteFailure wrapping Unsupported to trip the latch")
	}
}

func TestHybrid_GetCapabilitiesConnectsFallbackBeforeFirstUse(t *testing.T) {
	primary := &fakeAdapter{protocol: ANP, capsErr: Unsupported}
	fallback := &fakeAdapter{protocol: ANP, capabilities: []ProtocolCapability{{Name: "identity", Protocol: ANP}}}
	h := NewHybrid(ANP, primary, fallback)
	h.connectCfg = map[string]any{"resolver_url": "https://resolver.example"}

	caps, err := h.GetCapabilities(context.Background())
	if err != nil {
		t.Fatalf("expected fallback capabilities, got %v", err)
	}
	if len(caps) != 1 || caps[0].Name != "identity" {
		t.Errorf("expected fallback's capabilities, got %v", caps)
	}
	if !fallback.connected {
		t.Error("expected GetCapabilities to connect the fallback before the latch's first use, mirroring Connect/DiscoverTools/ExecuteTool")
	}

	// Subsequent ExecuteTool calls must find the fallback already
	// connected instead of reconnecting it a second time.
	if _, err := h.ExecuteTool(context.Background(), "tool", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
