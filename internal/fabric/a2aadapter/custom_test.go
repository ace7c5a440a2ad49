package a2aadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agenticraft/protocolfabric/internal/fabric"
)

func discoveryServer(t *testing.T, invokeHandler http.HandlerFunc) (*httptest.Server, string) {
	mux := http.NewServeMux()
	var peerURL string
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"agents": []map[string]any{
				{"id": "researcher", "endpoint": peerURL, "skills": []string{"search", "summarize"}},
			},
		})
	})
	mux.HandleFunc("/invoke", invokeHandler)
	srv := httptest.NewServer(mux)
	peerURL = srv.URL
	return srv, srv.URL
}

func TestCustom_ConnectDiscoversPeersAndSkills(t *testing.T) {
	srv, url := discoveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	defer srv.Close()

	a := NewCustom()
	if err := a.Connect(context.Background(), map[string]any{"discovery_url": url}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	tools, err := a.DiscoverTools(context.Background())
	if err != nil {
		t.Fatalf("discover tools failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 skills flattened into tools, got %d: %v", len(tools), tools)
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
		if tool.Protocol != fabric.A2A {
			t.Errorf("expected protocol a2a, got %s", tool.Protocol)
		}
	}
	if !names["researcher.search"] || !names["researcher.summarize"] {
		t.Errorf("expected namespaced agent.skill tool names, got %v", names)
	}
}

func TestCustom_DiscoverTools_RequiresConnection(t *testing.T) {
	a := NewCustom()
	if _, err := a.DiscoverTools(context.Background()); err != fabric.NotConnected {
		t.Fatalf("expected NotConnected before Connect, got %v", err)
	}
}

func TestCustom_ExecuteTool_InvalidNameWithoutDot(t *testing.T) {
	a := NewCustom()
	a.Connect(context.Background(), map[string]any{})
	_, err := a.ExecuteTool(context.Background(), "noskillhere", nil)
	fe, ok := err.(*fabric.Error)
	if !ok || fe.Kind != fabric.KindInvalidToolName {
		t.Fatalf("expected KindInvalidToolName, got %v", err)
	}
}

func TestCustom_ExecuteTool_UnknownAgent(t *testing.T) {
	a := NewCustom()
	a.Connect(context.Background(), map[string]any{})
	_, err := a.ExecuteTool(context.Background(), "ghost.search", nil)
	fe, ok := err.(*fabric.Error)
	if !ok || fe.Kind != fabric.KindUnknownAgent {
		t.Fatalf("expected KindUnknownAgent, got %v", err)
	}
}

func TestCustom_ExecuteTool_RoutesToPeerEndpoint(t *testing.T) {
	srv, url := discoveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"echo": body["skill"]})
	})
	defer srv.Close()

	a := NewCustom()
	if err := a.Connect(context.Background(), map[string]any{"discovery_url": url}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := a.DiscoverTools(context.Background()); err != nil {
		t.Fatalf("discover failed: %v", err)
	}

	result, err := a.ExecuteTool(context.Background(), "researcher.search", map[string]any{"q": "go"})
	if err != nil {
		t.Fatalf("execute tool failed: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["echo"] != "search" {
		t.Errorf("expected peer to echo skill name, got %v", result)
	}
}

func TestCustom_Broadcast_CountsSuccessAndFailure(t *testing.T) {
	mux := http.NewServeMux()
	calls := 0
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewCustom()
	a.Connect(context.Background(), map[string]any{
		"peers": []map[string]any{
			{"id": "a1", "endpoint": srv.URL, "skills": []string{}},
			{"id": "a2", "endpoint": srv.URL, "skills": []string{}},
		},
	})

	sent, failed := a.Broadcast(context.Background(), map[string]any{"text": "hi"})
	if sent+failed != 2 {
		t.Fatalf("expected 2 total broadcast attempts, got sent=%d failed=%d", sent, failed)
	}
	if sent == 0 || failed == 0 {
		t.Errorf("expected a mix of success and failure across peers, got sent=%d failed=%d", sent, failed)
	}
}

func TestCustom_GetCapabilities_RequiresConnection(t *testing.T) {
	a := NewCustom()
	if _, err := a.GetCapabilities(context.Background()); err != fabric.NotConnected {
		t.Fatalf("expected NotConnected before Connect, got %v", err)
	}
}
