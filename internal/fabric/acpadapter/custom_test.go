package acpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/agenticraft/protocolfabric/internal/fabric"
)

func newACPServer(t *testing.T, executeHandler http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]any{"session_id": "sess-1"})
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tools": []map[string]any{
				{"name": "analyze", "description": "analyze text", "parameters": map[string]any{}},
			},
		})
	})
	mux.HandleFunc("/messages", executeHandler)
	return httptest.NewServer(mux)
}

func TestCustom_ConnectCreatesSessionAndDiscoversTools(t *testing.T) {
	srv := newACPServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "result": "ok"})
	})
	defer srv.Close()

	c := NewCustom()
	if err := c.Connect(context.Background(), map[string]any{"base_url": srv.URL}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	tools, err := c.DiscoverTools(context.Background())
	if err != nil {
		t.Fatalf("discover tools failed: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "analyze" {
		t.Fatalf("expected one tool named analyze, got %v", tools)
	}
}

func TestCustom_Connect_MissingBaseURL(t *testing.T) {
	c := NewCustom()
	err := c.Connect(context.Background(), map[string]any{})
	fe, ok := err.(*fabric.Error)
	if !ok || fe.Kind != fabric.KindConfigurationBad {
		t.Fatalf("expected KindConfigurationBad, got %v", err)
	}
}

func TestCustom_DiscoverTools_RequiresConnection(t *testing.T) {
	c := NewCustom()
	if _, err := c.DiscoverTools(context.Background()); err != fabric.NotConnected {
		t.Fatalf("expected NotConnected before Connect, got %v", err)
	}
}

func TestCustom_ExecuteTool_ImmediateCompletion(t *testing.T) {
	srv := newACPServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "result": map[string]any{"answer": 42}})
	})
	defer srv.Close()

	c := NewCustom()
	if err := c.Connect(context.Background(), map[string]any{"base_url": srv.URL}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	result, err := c.ExecuteTool(context.Background(), "analyze", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("execute tool failed: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["answer"] != float64(42) {
		t.Errorf("expected immediate result, got %v", result)
	}
}

func TestCustom_ExecuteTool_PollsUntilCompleted(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"session_id": "sess-1"})
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tools": []map[string]any{}})
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "pending", "execution_id": "exec-1"})
	})
	mux.HandleFunc("/executions/exec-1", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 2 {
			json.NewEncoder(w).Encode(map[string]any{"status": "running"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "result": "done"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewCustom()
	if err := c.Connect(context.Background(), map[string]any{"base_url": srv.URL}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	result, err := c.ExecuteTool(context.Background(), "analyze", nil)
	if err != nil {
		t.Fatalf("execute tool failed: %v", err)
	}
	if result != "done" {
		t.Errorf("expected done after polling, got %v", result)
	}
	if calls.Load() < 2 {
		t.Errorf("expected at least 2 poll attempts, got %d", calls.Load())
	}
}

func TestCustom_GetCapabilities_RequiresSession(t *testing.T) {
	c := NewCustom()
	if _, err := c.GetCapabilities(context.Background()); err != fabric.NotConnected {
		t.Fatalf("expected NotConnected before Connect, got %v", err)
	}
}

func TestCustom_Connect_SessionRejectedSurfacesAuthRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewCustom()
	err := c.Connect(context.Background(), map[string]any{"base_url": srv.URL})
	fe, ok := err.(*fabric.Error)
	if !ok || fe.Kind != fabric.KindAuthRejected {
		t.Fatalf("expected KindAuthRejected for a 401 session response, got %v", err)
	}
}

func TestCustom_ExecuteTool_UnreachableServerSurfacesTransportUnavailable(t *testing.T) {
	srv := newACPServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "result": "ok"})
	})
	c := NewCustom()
	if err := c.Connect(context.Background(), map[string]any{"base_url": srv.URL}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	srv.Close() // server now unreachable

	_, err := c.ExecuteTool(context.Background(), "analyze", map[string]any{"text": "hi"})
	fe, ok := err.(*fabric.Error)
	if !ok || fe.Kind != fabric.KindTransportUnavailable {
		t.Fatalf("expected KindTransportUnavailable once the server is unreachable, got %v", err)
	}
}

func TestCustom_SendMessage(t *testing.T) {
	srv := newACPServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	c := NewCustom()
	if err := c.Connect(context.Background(), map[string]any{"base_url": srv.URL}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := c.SendMessage(context.Background(), "peer-agent", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("send message failed: %v", err)
	}
}
