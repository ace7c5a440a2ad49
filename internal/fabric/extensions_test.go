package fabric

import (
	"context"
	"errors"
	"testing"
)

func TestMeshNetworking_ConnectionsFormula(t *testing.T) {
	f := New()
	result, err := f.CreateMeshNetwork(context.Background(), []string{"a", "b", "c", "d"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["connections"] != 6 {
		t.Errorf("expected 4*(4-1)/2 = 6 connections, got %v", result["connections"])
	}
	if result["topology"] != "dynamic" {
		t.Errorf("expected default topology dynamic, got %v", result["topology"])
	}
}

func TestConsensus_Defaults(t *testing.T) {
	f := New()
	result, err := f.EnableConsensus(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["type"] != "byzantine" || result["min_agents"] != 3 {
		t.Errorf("expected byzantine/3 defaults, got %v", result)
	}
}

func TestConsensus_CustomParams(t *testing.T) {
	f := New()
	result, err := f.EnableConsensus(context.Background(), "raft", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["type"] != "raft" || result["min_agents"] != 5 {
		t.Errorf("expected custom params preserved, got %v", result)
	}
}

func TestReasoningTraces_Defaults(t *testing.T) {
	f := New()
	result, err := f.EnableReasoningTraces(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["level"] != "detailed" {
		t.Errorf("expected default level detailed, got %v", result)
	}
	collectors, ok := result["collectors"].([]string)
	if !ok || len(collectors) != 3 {
		t.Errorf("expected 3 collectors, got %v", result["collectors"])
	}
}

func TestEnableExtension_Unknown(t *testing.T) {
	f := New()
	_, err := f.EnableExtension(context.Background(), "no_such_extension", nil)
	if !errors.Is(err, UnknownExtension) {
		t.Fatalf("expected UnknownExtension, got %v", err)
	}
}

type fakeExtension struct{ applied bool }

func (e *fakeExtension) Name() string { return "fake_extension" }
func (e *fakeExtension) Apply(_ context.Context, _ *Fabric, params map[string]any) (map[string]any, error) {
	e.applied = true
	return map[string]any{"echo": params["value"]}, nil
}

func TestRegisterExtension_CustomOverridesLookup(t *testing.T) {
	f := New()
	ext := &fakeExtension{}
	f.RegisterExtension(ext)

	result, err := f.EnableExtension(context.Background(), "fake_extension", map[string]any{"value": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ext.applied {
		t.Error("expected custom extension to be applied")
	}
	if result["echo"] != "x" {
		t.Errorf("expected echoed param, got %v", result)
	}
}
