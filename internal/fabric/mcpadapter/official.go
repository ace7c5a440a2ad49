// Package mcpadapter implements the Model Context Protocol side of the
// fabric: an official adapter built on the upstream go-sdk and a custom
// hand-rolled JSON-RPC client for when that SDK cannot be used. Both are
// registered with the factory, which wraps them in the generic
// fabric.Hybrid when a hybrid is requested.
package mcpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agenticraft/protocolfabric/internal/fabric"
)

// Official is the MCP adapter variant backed by the real upstream SDK:
// mcp.ClientSession over a stdio or SSE transport, caching tools,
// resources, and prompts the way the session exposes them.
type Official struct {
	mu      sync.RWMutex
	session *mcp.ClientSession
	connCfg map[string]any

	tools     []mcp.Tool
	resources []mcp.Resource
	prompts   []mcp.Prompt

	samplingCallback bool
}

func NewOfficial() *Official { return &Official{} }

func (o *Official) ProtocolType() fabric.ProtocolId { return fabric.MCP }

func (o *Official) Connect(ctx context.Context, config map[string]any) error {
	o.mu.Lock()
	if o.session != nil {
		o.mu.Unlock()
		return fabric.AlreadyConnected
	}
	o.mu.Unlock()

	transport, err := buildTransport(ctx, config)
	if err != nil {
		return &fabric.Error{Op: "connect", Protocol: fabric.MCP, Kind: fabric.KindConfigurationBad, Err: err}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "protocolfabric", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport)
	if err != nil {
		return &fabric.Error{Op: "connect", Protocol: fabric.MCP, Kind: fabric.KindTransportUnavailable, Err: err}
	}

	_, hasCallback := config["sampling_callback"]

	o.mu.Lock()
	o.session = session
	o.connCfg = config
	o.samplingCallback = hasCallback
	o.mu.Unlock()

	return o.refreshCaches(ctx)
}

func (o *Official) refreshCaches(ctx context.Context) error {
	o.mu.RLock()
	session := o.session
	o.mu.RUnlock()
	if session == nil {
		return fabric.NotConnected
	}

	toolsResult, err := session.ListTools(ctx, nil)
	if err != nil {
		return &fabric.Error{Op: "discover_tools", Protocol: fabric.MCP, Kind: fabric.KindRemoteFailure, Err: err}
	}
	resourcesResult, err := session.ListResources(ctx, nil)
	if err != nil {
		slog.Debug("mcp list resources failed", "error", err)
	}
	promptsResult, err := session.ListPrompts(ctx, nil)
	if err != nil {
		slog.Debug("mcp list prompts failed", "error", err)
	}

	o.mu.Lock()
	o.tools = toolsResult.Tools
	if resourcesResult != nil {
		o.resources = resourcesResult.Resources
	}
	if promptsResult != nil {
		o.prompts = promptsResult.Prompts
	}
	o.mu.Unlock()
	return nil
}

func (o *Official) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	// The SDK session has no explicit close; dropping the reference lets
	// the underlying transport be collected, same as the source adapter
	// this is grounded on.
	o.session = nil
	o.tools = nil
	o.resources = nil
	o.prompts = nil
	return nil
}

func (o *Official) DiscoverTools(ctx context.Context) ([]fabric.UnifiedTool, error) {
	if err := o.refreshCaches(ctx); err != nil {
		return nil, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]fabric.UnifiedTool, 0, len(o.tools))
	for _, t := range o.tools {
		out = append(out, fabric.UnifiedTool{
			Name:        t.Name,
			Description: t.Description,
			Protocol:    fabric.MCP,
			Parameters:  schemaToMap(t.InputSchema),
			Handle:      t,
		})
	}
	return out, nil
}

func (o *Official) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	o.mu.RLock()
	session := o.session
	o.mu.RUnlock()
	if session == nil {
		return nil, fabric.NotConnected
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.MCP, Kind: fabric.KindRemoteFailure, Err: err}
	}
	return reduceCallResult(result), nil
}

// reduceCallResult implements the same text-first reduction the source
// adapter uses: the first text content item wins; otherwise the raw
// content is returned.
func reduceCallResult(result *mcp.CallToolResult) any {
	if result == nil {
		return nil
	}
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return result.Content
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	return nil
}

func (o *Official) GetCapabilities(ctx context.Context) ([]fabric.ProtocolCapability, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.session == nil {
		return nil, fabric.NotConnected
	}
	return []fabric.ProtocolCapability{
		{Name: "tools", Protocol: fabric.MCP, Metadata: map[string]any{"tool_count": len(o.tools)}},
		{Name: "resources", Protocol: fabric.MCP, Metadata: map[string]any{"resource_count": len(o.resources)}},
		{Name: "prompts", Protocol: fabric.MCP, Metadata: map[string]any{"prompt_count": len(o.prompts)}},
		{Name: "streaming", Protocol: fabric.MCP, Metadata: map[string]any{"transport": transportKind(o.connCfg)}},
		{Name: "tool_discovery", Protocol: fabric.MCP, Metadata: map[string]any{"tool_count": len(o.tools)}},
	}, nil
}

func (o *Official) SupportsFeature(feature string) bool {
	switch feature {
	case "tools", "resources", "prompts", "streaming", "schema_validation", "stdio", "sse", "http":
		return true
	}
	return false
}

// ReadResource is adapter-local surface, not part of the generic
// ProtocolAdapter contract (spec §4.2).
func (o *Official) ReadResource(ctx context.Context, uri string) (string, error) {
	o.mu.RLock()
	session := o.session
	o.mu.RUnlock()
	if session == nil {
		return "", fabric.NotConnected
	}
	result, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", &fabric.Error{Op: "read_resource", Protocol: fabric.MCP, Kind: fabric.KindRemoteFailure, Err: err}
	}
	var texts []string
	for _, c := range result.Contents {
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// GetPrompt is adapter-local surface, not part of the generic
// ProtocolAdapter contract (spec §4.2).
func (o *Official) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	o.mu.RLock()
	session := o.session
	o.mu.RUnlock()
	if session == nil {
		return "", fabric.NotConnected
	}
	result, err := session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return "", &fabric.Error{Op: "get_prompt", Protocol: fabric.MCP, Kind: fabric.KindRemoteFailure, Err: err}
	}
	var texts []string
	for _, m := range result.Messages {
		if tc, ok := m.Content.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// CreateMessage is the MCP sampling surface. It always fails with
// Unsupported: without a sampling callback in the connection config the
// error says none is configured, and with one it says this transport
// does not implement sampling.
func (o *Official) CreateMessage(ctx context.Context, messages []map[string]any) (map[string]any, error) {
	o.mu.RLock()
	has := o.samplingCallback
	o.mu.RUnlock()
	if !has {
		return nil, &fabric.Error{Op: "create_message", Protocol: fabric.MCP, Kind: fabric.KindUnsupported, Err: fmt.Errorf("no sampling callback configured")}
	}
	return nil, &fabric.Error{Op: "create_message", Protocol: fabric.MCP, Kind: fabric.KindUnsupported, Err: fmt.Errorf("sampling not implemented by this transport")}
}

func transportKind(cfg map[string]any) string {
	if cfg == nil {
		return "unknown"
	}
	if v, ok := cfg["endpoint"].(string); ok {
		switch {
		case strings.HasPrefix(v, "stdio://"):
			return "stdio"
		case strings.HasPrefix(v, "http://"), strings.HasPrefix(v, "https://"):
			return "sse"
		}
	}
	return "unknown"
}

func buildTransport(ctx context.Context, config map[string]any) (mcp.Transport, error) {
	endpoint, _ := config["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("mcp config missing endpoint")
	}
	token, _ := config["token"].(string)
	authHeader, _ := config["auth_header"].(string)
	timeout := 30 * time.Second
	if t, ok := config["timeout"].(time.Duration); ok && t > 0 {
		timeout = t
	}

	switch {
	case strings.HasPrefix(endpoint, "stdio://"):
		return newStdioTransport(ctx, endpoint, token)
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return newSSETransport(endpoint, token, authHeader, timeout)
	default:
		return nil, fmt.Errorf("unsupported mcp endpoint scheme: %s", endpoint)
	}
}

func newStdioTransport(ctx context.Context, endpoint, token string) (mcp.Transport, error) {
	cmdLine := strings.TrimPrefix(endpoint, "stdio://")
	parts := splitWithQuotes(cmdLine)
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid stdio endpoint: %s", endpoint)
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if token != "" {
		cmd.Env = append(cmd.Environ(), "MCP_TOKEN="+token)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func newSSETransport(endpoint, token, authHeader string, timeout time.Duration) (mcp.Transport, error) {
	httpClient := &http.Client{Timeout: timeout}
	if token != "" {
		httpClient.Transport = &tokenRoundTripper{base: http.DefaultTransport, token: token, header: authHeader}
	}
	return &mcp.SSEClientTransport{Endpoint: endpoint, HTTPClient: httpClient}, nil
}

type tokenRoundTripper struct {
	base   http.RoundTripper
	token  string
	header string
}

func (t *tokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.header != "" {
		req.Header.Set(t.header, t.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func splitWithQuotes(s string) []string {
	var args []string
	var current []rune
	inQuote := false
	quoteChar := rune(0)
	for _, c := range s {
		if inQuote {
			if c == quoteChar {
				inQuote = false
			} else {
				current = append(current, c)
			}
			continue
		}
		switch c {
		case '"', '\'':
			inQuote = true
			quoteChar = c
		case ' ', '\t':
			if len(current) > 0 {
				args = append(args, string(current))
				current = nil
			}
		default:
			current = append(current, c)
		}
	}
	if len(current) > 0 {
		args = append(args, string(current))
	}
	return args
}
