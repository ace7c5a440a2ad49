// Package acpadapter implements the Agent Communication Protocol: a
// session-based REST client with two-phase async tool execution
// (submit, then poll until done), and an enhanced variant adding a
// circuit breaker over repeated failures.
package acpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/agenticraft/protocolfabric/internal/fabric"
)

const (
	pollInterval   = time.Second
	pollMaxAttempt = 30
)

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Custom is the REST-based ACP adapter: a session handshake, a tool
// catalog fetched once per connect/refresh, and the submit-then-poll
// execution protocol.
type Custom struct {
	mu         sync.RWMutex
	baseURL    string
	agentID    string
	httpClient *http.Client
	sessionID  string
	tools      []toolInfo

	sessionGroup singleflight.Group
}

func NewCustom() *Custom { return &Custom{} }

func (c *Custom) ProtocolType() fabric.ProtocolId { return fabric.ACP }

func (c *Custom) Connect(ctx context.Context, config map[string]any) error {
	c.mu.Lock()
	if c.sessionID != "" {
		c.mu.Unlock()
		return fabric.AlreadyConnected
	}
	baseURL, _ := config["base_url"].(string)
	if baseURL == "" {
		c.mu.Unlock()
		return &fabric.Error{Op: "connect", Protocol: fabric.ACP, Kind: fabric.KindConfigurationBad, Err: fmt.Errorf("acp config missing base_url")}
	}
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.agentID, _ = config["agent_id"].(string)
	if c.agentID == "" {
		c.agentID = "protocolfabric"
	}
	c.httpClient = &http.Client{Timeout: 30 * time.Second}
	c.mu.Unlock()

	sessionID, err, _ := c.sessionGroup.Do(c.agentID, func() (any, error) {
		return c.createSession(ctx)
	})
	if err != nil {
		if fe, ok := err.(*fabric.Error); ok {
			return fe
		}
		return &fabric.Error{Op: "connect", Protocol: fabric.ACP, Kind: fabric.KindRemoteFailure, Err: err}
	}

	c.mu.Lock()
	c.sessionID = sessionID.(string)
	c.mu.Unlock()

	return c.refreshTools(ctx)
}

func (c *Custom) createSession(ctx context.Context) (string, error) {
	c.mu.RLock()
	baseURL, agentID, client := c.baseURL, c.agentID, c.httpClient
	c.mu.RUnlock()

	payload, _ := json.Marshal(map[string]any{
		"agent": map[string]any{"id": agentID, "name": agentID, "version": "1.0.0"},
		"config": map[string]any{"timeout": 30, "max_retries": 2},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", agentID)

	resp, err := client.Do(req)
	if err != nil {
		return "", &fabric.Error{Op: "connect", Protocol: fabric.ACP, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &fabric.Error{Op: "connect", Protocol: fabric.ACP, Kind: fabric.KindAuthRejected, Err: fmt.Errorf("create session: http %d: %s", resp.StatusCode, string(raw))}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("create session: http %d: %s", resp.StatusCode, string(raw))
	}
	var parsed struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("create session: decode: %w", err)
	}
	return parsed.SessionID, nil
}

func (c *Custom) refreshTools(ctx context.Context) error {
	c.mu.RLock()
	baseURL, sessionID, client := c.baseURL, c.sessionID, c.httpClient
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/tools", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Session-ID", sessionID)
	resp, err := client.Do(req)
	if err != nil {
		return &fabric.Error{Op: "discover_tools", Protocol: fabric.ACP, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	defer resp.Body.Close()

	var parsed struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &fabric.Error{Op: "discover_tools", Protocol: fabric.ACP, Kind: fabric.KindRemoteFailure, Err: err}
	}

	c.mu.Lock()
	c.tools = parsed.Tools
	c.mu.Unlock()
	return nil
}

func (c *Custom) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	baseURL, sessionID, client := c.baseURL, c.sessionID, c.httpClient
	c.sessionID = ""
	c.tools = nil
	c.mu.Unlock()

	if sessionID == "" || client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		slog.Warn("acp session close failed", "session", sessionID, "error", err)
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("acp session close failed", "session", sessionID, "error", err)
		return nil
	}
	resp.Body.Close()
	return nil
}

func (c *Custom) DiscoverTools(ctx context.Context) ([]fabric.UnifiedTool, error) {
	c.mu.RLock()
	sessionID := c.sessionID
	c.mu.RUnlock()
	if sessionID == "" {
		return nil, fabric.NotConnected
	}
	if err := c.refreshTools(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]fabric.UnifiedTool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, fabric.UnifiedTool{Name: t.Name, Description: t.Description, Protocol: fabric.ACP, Parameters: t.Parameters, Handle: t})
	}
	return out, nil
}

// ExecuteTool submits the call, and if the server reports the execution
// pending, polls /executions/<id> until it completes, fails, or the poll
// budget is exhausted (Timeout).
func (c *Custom) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	return c.executeTool(ctx, name, args)
}

func (c *Custom) executeTool(ctx context.Context, name string, args map[string]any) (any, error) {
	c.mu.RLock()
	baseURL, sessionID, agentID, client := c.baseURL, c.sessionID, c.agentID, c.httpClient
	c.mu.RUnlock()
	if sessionID == "" {
		return nil, fabric.NotConnected
	}

	msg := map[string]any{
		"id":       uuid.NewString(),
		"type":     "tool_call",
		"sender":   agentID,
		"receiver": "system",
		"content": map[string]any{
			"tool":      name,
			"arguments": args,
			"context":   map[string]any{"session_id": sessionID, "timestamp": time.Now().UTC().Format(time.RFC3339)},
		},
	}
	payload, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.ACP, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.ACP, Kind: fabric.KindForHTTPStatus(resp.StatusCode), Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))}
	}

	var parsed struct {
		Status      string `json:"status"`
		Result      any    `json:"result"`
		ExecutionID string `json:"execution_id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.ACP, Kind: fabric.KindRemoteFailure, Err: err}
	}
	if parsed.Status == "pending" {
		return c.pollForResult(ctx, parsed.ExecutionID)
	}
	return parsed.Result, nil
}

func (c *Custom) pollForResult(ctx context.Context, executionID string) (any, error) {
	c.mu.RLock()
	baseURL, sessionID, client := c.baseURL, c.sessionID, c.httpClient
	c.mu.RUnlock()

	for attempt := 0; attempt < pollMaxAttempt; attempt++ {
		select {
		case <-ctx.Done():
			return nil, &fabric.Error{Op: "poll", Protocol: fabric.ACP, Kind: fabric.KindCancelled, Err: ctx.Err()}
		case <-time.After(pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/executions/"+executionID, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Session-ID", sessionID)
		resp, err := client.Do(req)
		if err != nil {
			return nil, &fabric.Error{Op: "poll", Protocol: fabric.ACP, Kind: fabric.KindTransportUnavailable, Err: err}
		}
		var parsed struct {
			Status string `json:"status"`
			Result any    `json:"result"`
		}
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return nil, &fabric.Error{Op: "poll", Protocol: fabric.ACP, Kind: fabric.KindRemoteFailure, Err: err}
		}

		switch parsed.Status {
		case "completed":
			return parsed.Result, nil
		case "failed":
			return nil, &fabric.Error{Op: "poll", Protocol: fabric.ACP, Kind: fabric.KindRemoteFailure, Err: fmt.Errorf("execution %s failed", executionID)}
		}
	}
	return nil, &fabric.Error{Op: "poll", Protocol: fabric.ACP, Kind: fabric.KindTimeout, Err: fmt.Errorf("execution %s: %d poll attempts exhausted", executionID, pollMaxAttempt)}
}

// CreateWorkflow and ExecuteWorkflow are ACP-specific surface methods,
// not part of the generic ProtocolAdapter contract.
func (c *Custom) CreateWorkflow(ctx context.Context, definition map[string]any) (string, error) {
	c.mu.RLock()
	baseURL, sessionID, client := c.baseURL, c.sessionID, c.httpClient
	c.mu.RUnlock()

	payload, _ := json.Marshal(definition)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/workflows", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sessionID)
	resp, err := client.Do(req)
	if err != nil {
		return "", &fabric.Error{Op: "create_workflow", Protocol: fabric.ACP, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", &fabric.Error{Op: "create_workflow", Protocol: fabric.ACP, Kind: fabric.KindRemoteFailure, Err: fmt.Errorf("expected 201, got %d", resp.StatusCode)}
	}
	var parsed struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.WorkflowID, nil
}

func (c *Custom) ExecuteWorkflow(ctx context.Context, workflowID string, inputs map[string]any) (any, error) {
	c.mu.RLock()
	baseURL, sessionID, client := c.baseURL, c.sessionID, c.httpClient
	c.mu.RUnlock()

	payload, _ := json.Marshal(map[string]any{"inputs": inputs})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/workflows/"+workflowID+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sessionID)
	resp, err := client.Do(req)
	if err != nil {
		return nil, &fabric.Error{Op: "execute_workflow", Protocol: fabric.ACP, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Status      string `json:"status"`
		Result      any    `json:"result"`
		ExecutionID string `json:"execution_id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if parsed.Status == "pending" {
		return c.pollForResult(ctx, parsed.ExecutionID)
	}
	return parsed.Result, nil
}

// SendMessage is an ACP-specific surface method for fire-and-forget
// peer messaging outside the tool-call protocol.
func (c *Custom) SendMessage(ctx context.Context, receiver string, content map[string]any) error {
	c.mu.RLock()
	baseURL, sessionID, agentID, client := c.baseURL, c.sessionID, c.agentID, c.httpClient
	c.mu.RUnlock()

	msg := map[string]any{
		"id": uuid.NewString(), "type": "notification",
		"sender": agentID, "receiver": receiver, "content": content,
	}
	payload, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sessionID)
	resp, err := client.Do(req)
	if err != nil {
		return &fabric.Error{Op: "send_message", Protocol: fabric.ACP, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	resp.Body.Close()
	return nil
}

func (c *Custom) GetCapabilities(ctx context.Context) ([]fabric.ProtocolCapability, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sessionID == "" {
		return nil, fabric.NotConnected
	}
	return []fabric.ProtocolCapability{
		{Name: "tools", Protocol: fabric.ACP, Metadata: map[string]any{"tool_count": len(c.tools)}},
		{Name: "messaging", Protocol: fabric.ACP},
		{Name: "workflows", Protocol: fabric.ACP},
		{Name: "sessions", Protocol: fabric.ACP, Metadata: map[string]any{"session_id": c.sessionID}},
		{Name: "async_execution", Protocol: fabric.ACP},
		{Name: "tool_discovery", Protocol: fabric.ACP, Metadata: map[string]any{"tool_count": len(c.tools)}},
	}, nil
}

func (c *Custom) SupportsFeature(feature string) bool {
	switch feature {
	case "tools", "messaging", "workflows", "sessions", "async_execution", "multipart_messages":
		return true
	}
	return false
}
