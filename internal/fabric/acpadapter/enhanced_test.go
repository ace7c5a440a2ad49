package acpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agenticraft/protocolfabric/internal/fabric"
)

func TestEnhanced_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"session_id": "sess-1"})
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tools": []map[string]any{}})
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewEnhanced()
	if err := e.Connect(context.Background(), map[string]any{"base_url": srv.URL}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	for i := 0; i < enhancedFailureThreshold; i++ {
		if _, err := e.ExecuteTool(context.Background(), "analyze", nil); err == nil {
			t.Fatal("expected each failing call to return an error")
		}
	}

	_, err := e.ExecuteTool(context.Background(), "analyze", nil)
	fe, ok := err.(*fabric.Error)
	if !ok || fe.Kind != fabric.KindCircuitOpen {
		t.Fatalf("expected circuit to be open after %d consecutive failures, got %v", enhancedFailureThreshold, err)
	}

	metrics := e.Metrics()
	if metrics["errors"] != enhancedFailureThreshold {
		t.Errorf("expected %d recorded errors (the call while open is rejected before recordResult), got %d", enhancedFailureThreshold, metrics["errors"])
	}
}

func TestEnhanced_ReconnectClearsBreaker(t *testing.T) {
	mux := http.NewServeMux()
	failing := true
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"session_id": "sess-1"})
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tools": []map[string]any{}})
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "result": "ok"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewEnhanced()
	if err := e.Connect(context.Background(), map[string]any{"base_url": srv.URL}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	for i := 0; i < enhancedFailureThreshold; i++ {
		e.ExecuteTool(context.Background(), "analyze", nil)
	}
	if !e.isOpen() {
		t.Fatal("expected breaker to be open before reconnect")
	}

	if err := e.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	failing = false
	if err := e.Connect(context.Background(), map[string]any{"base_url": srv.URL}); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if e.isOpen() {
		t.Error("expected a fresh connect to clear the open breaker")
	}

	if _, err := e.ExecuteTool(context.Background(), "analyze", nil); err != nil {
		t.Errorf("expected call to succeed after breaker reset, got %v", err)
	}
}
