package mcpadapter

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
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agenticraft/protocolfabric/internal/fabric"
	"github.com/agenticraft/protocolfabric/internal/metrics"
)

// Custom is a from-scratch MCP client speaking JSON-RPC 2.0 directly
// over HTTP (streamable-http style), used wherever the official go-sdk
// adapter is unavailable or has latched a Hybrid to its fallback. It
// does not depend on github.com/modelcontextprotocol/go-sdk at all.
type Custom struct {
	mu         sync.RWMutex
	endpoint   string
	token      string
	authHeader string
	httpClient *http.Client
	connected  bool
	tools      []rawTool

	circuit      circuitState
	reconnectGrp singleflight.Group
	nextID       atomic.Int64
}

type rawTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type circuitState struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

const (
	circuitFailureThreshold = 3
	circuitOpenDuration     = 30 * time.Second
)

func (c *circuitState) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.openUntil.IsZero() && time.Now().Before(c.openUntil)
}

// recordFailure reports whether this failure is the one that just opened
// the breaker, so the caller can fire a trip metric exactly once.
func (c *circuitState) recordFailure() (justTripped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasOpen := !c.openUntil.IsZero() && time.Now().Before(c.openUntil)
	c.failures++
	if c.failures >= circuitFailureThreshold {
		c.openUntil = time.Now().Add(circuitOpenDuration)
	}
	return !wasOpen && !c.openUntil.IsZero() && time.Now().Before(c.openUntil)
}

func (c *circuitState) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.openUntil = time.Time{}
}

func NewCustom() *Custom { return &Custom{} }

func (c *Custom) ProtocolType() fabric.ProtocolId { return fabric.MCP }

func (c *Custom) Connect(ctx context.Context, config map[string]any) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fabric.AlreadyConnected
	}
	endpoint, _ := config["endpoint"].(string)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		c.mu.Unlock()
		return &fabric.Error{Op: "connect", Protocol: fabric.MCP, Kind: fabric.KindUnsupported, Err: fmt.Errorf("custom mcp adapter only speaks http(s) json-rpc, got %q", endpoint)}
	}
	c.endpoint = endpoint
	c.token, _ = config["token"].(string)
	c.authHeader, _ = config["auth_header"].(string)
	c.httpClient = &http.Client{Timeout: 30 * time.Second}
	c.mu.Unlock()

	if _, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "protocolfabric", "version": "1.0.0"},
	}); err != nil {
		if fe, ok := err.(*fabric.Error); ok {
			return fe
		}
		return &fabric.Error{Op: "connect", Protocol: fabric.MCP, Kind: fabric.KindRemoteFailure, Err: err}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return c.refreshTools(ctx)
}

func (c *Custom) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.tools = nil
	c.circuit.reset()
	return nil
}

func (c *Custom) refreshTools(ctx context.Context) error {
	result, err := c.callWithBreaker(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var parsed struct {
		Tools []rawTool `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return &fabric.Error{Op: "discover_tools", Protocol: fabric.MCP, Kind: fabric.KindRemoteFailure, Err: err}
	}
	c.mu.Lock()
	c.tools = parsed.Tools
	c.mu.Unlock()
	return nil
}

func (c *Custom) DiscoverTools(ctx context.Context) ([]fabric.UnifiedTool, error) {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return nil, fabric.NotConnected
	}
	if err := c.refreshTools(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]fabric.UnifiedTool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, fabric.UnifiedTool{
			Name:        t.Name,
			Description: t.Description,
			Protocol:    fabric.MCP,
			Parameters:  t.InputSchema,
			Handle:      t,
		})
	}
	return out, nil
}

func (c *Custom) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return nil, fabric.NotConnected
	}
	result, err := c.callWithBreaker(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return string(result), nil
	}
	for _, c := range parsed.Content {
		if c.Type == "text" {
			return c.Text, nil
		}
	}
	return parsed.Content, nil
}

func (c *Custom) GetCapabilities(ctx context.Context) ([]fabric.ProtocolCapability, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil, fabric.NotConnected
	}
	return []fabric.ProtocolCapability{
		{Name: "tools", Protocol: fabric.MCP, Metadata: map[string]any{"tool_count": len(c.tools)}},
		{Name: "tool_discovery", Protocol: fabric.MCP, Metadata: map[string]any{"tool_count": len(c.tools)}},
	}, nil
}

func (c *Custom) SupportsFeature(feature string) bool {
	switch feature {
	case "tools", "http":
		return true
	}
	return false
}

// callWithBreaker applies the same fail-fast circuit breaker the teacher
// uses for reconnects: if the circuit is open the call is rejected
// without a round trip, and consecutive failures trip it open for
// circuitOpenDuration.
func (c *Custom) callWithBreaker(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.circuit.isOpen() {
		return nil, &fabric.Error{Op: method, Protocol: fabric.MCP, Kind: fabric.KindCircuitOpen, Err: fmt.Errorf("circuit open for mcp custom adapter")}
	}
	// Single-flight concurrent calls with the same method and params so a
	// burst of identical requests (e.g. repeated discovery triggered by retries)
	// coalesces into one round trip, mirroring the teacher's reconnection
	// coalescing via golang.org/x/sync/singleflight.
	key := method
	if p, err := json.Marshal(params); err == nil {
		key += string(p)
	}
	v, err, _ := c.reconnectGrp.Do(key, func() (any, error) {
		return c.call(ctx, method, params)
	})
	if err != nil {
		if c.circuit.recordFailure() {
			metrics.CircuitBreakerTrips.WithLabelValues(string(fabric.MCP)).Inc()
		}
		if fe, ok := err.(*fabric.Error); ok {
			return nil, fe
		}
		return nil, &fabric.Error{Op: method, Protocol: fabric.MCP, Kind: fabric.KindRemoteFailure, Err: err}
	}
	c.circuit.reset()
	return v.(json.RawMessage), nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Custom) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.RLock()
	endpoint, token, authHeader, client := c.endpoint, c.token, c.authHeader, c.httpClient
	c.mu.RUnlock()

	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		if authHeader != "" {
			req.Header.Set(authHeader, token)
		} else {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &fabric.Error{Op: method, Protocol: fabric.MCP, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &fabric.Error{Op: method, Protocol: fabric.MCP, Kind: fabric.KindForHTTPStatus(resp.StatusCode), Err: fmt.Errorf("mcp custom call %s: http %d: %s", method, resp.StatusCode, string(raw))}
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("mcp custom call %s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcp custom call %s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	slog.Debug("mcp custom call", "method", method)
	return rpcResp.Result, nil
}
