// Package a2aadapter implements the Agent-to-Agent protocol: a custom
// HTTP peer-fan-out adapter (the only variant with a real backing
// transport in this ecosystem) and an official-shaped adapter built on
// an AgentCard/TrustStore model for when a verified peer registry is
// configured.
package a2aadapter

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

	"github.com/agenticraft/protocolfabric/internal/fabric"
)

type peer struct {
	ID           string   `json:"id"`
	Endpoint     string   `json:"endpoint"`
	Skills       []string `json:"skills"`
}

// Custom is an HTTP-based A2A adapter: it discovers peers from a
// configured discovery URL (or a static peer list), exposes each peer
// skill as "<agent_id>.<skill_name>", and fans messages out over plain
// POST requests.
type Custom struct {
	mu           sync.RWMutex
	discoveryURL string
	httpClient   *http.Client
	connected    bool
	peers        map[string]peer
}

func NewCustom() *Custom { return &Custom{peers: map[string]peer{}} }

func (a *Custom) ProtocolType() fabric.ProtocolId { return fabric.A2A }

func (a *Custom) Connect(ctx context.Context, config map[string]any) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return fabric.AlreadyConnected
	}
	a.discoveryURL, _ = config["discovery_url"].(string)
	a.httpClient = &http.Client{Timeout: 15 * time.Second}
	a.connected = true
	a.mu.Unlock()

	if staticPeers, ok := config["peers"].([]map[string]any); ok {
		a.mu.Lock()
		for _, p := range staticPeers {
			id, _ := p["id"].(string)
			endpoint, _ := p["endpoint"].(string)
			var skills []string
			if raw, ok := p["skills"].([]string); ok {
				skills = raw
			}
			a.peers[id] = peer{ID: id, Endpoint: endpoint, Skills: skills}
		}
		a.mu.Unlock()
	}

	if a.discoveryURL != "" {
		return a.refreshPeers(ctx)
	}
	return nil
}

func (a *Custom) refreshPeers(ctx context.Context) error {
	a.mu.RLock()
	url, client := a.discoveryURL, a.httpClient
	a.mu.RUnlock()
	if url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/agents", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return &fabric.Error{Op: "discover_peers", Protocol: fabric.A2A, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	defer resp.Body.Close()

	var parsed struct {
		Agents []peer `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &fabric.Error{Op: "discover_peers", Protocol: fabric.A2A, Kind: fabric.KindRemoteFailure, Err: err}
	}

	a.mu.Lock()
	for _, p := range parsed.Agents {
		a.peers[p.ID] = p
	}
	a.mu.Unlock()
	return nil
}

func (a *Custom) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.peers = map[string]peer{}
	return nil
}

func (a *Custom) DiscoverTools(ctx context.Context) ([]fabric.UnifiedTool, error) {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return nil, fabric.NotConnected
	}
	if err := a.refreshPeers(ctx); err != nil {
		slog.Warn("a2a refresh peers failed, serving cached", "error", err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []fabric.UnifiedTool
	for _, p := range a.peers {
		for _, skill := range p.Skills {
			out = append(out, fabric.UnifiedTool{
				Name:     p.ID + "." + skill,
				Protocol: fabric.A2A,
				Handle:   p,
			})
		}
	}
	return out, nil
}

// ExecuteTool parses "<agent_id>.<skill_name>" and POSTs the call to
// that peer's endpoint. A name with no dot is InvalidToolName.
func (a *Custom) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return nil, fabric.NotConnected
	}
	agentID, skill, ok := strings.Cut(name, ".")
	if !ok {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.A2A, Kind: fabric.KindInvalidToolName, Err: fmt.Errorf("expected <agent>.<skill>, got %q", name)}
	}

	a.mu.RLock()
	p, found := a.peers[agentID]
	client := a.httpClient
	a.mu.RUnlock()
	if !found {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.A2A, Kind: fabric.KindUnknownAgent, Err: fmt.Errorf("unknown agent %q", agentID)}
	}

	return a.callPeer(ctx, client, p, skill, args)
}

func (a *Custom) callPeer(ctx context.Context, client *http.Client, p peer, skill string, args map[string]any) (any, error) {
	payload, err := json.Marshal(map[string]any{"skill": skill, "arguments": args})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.Endpoint, "/")+"/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.A2A, Kind: fabric.KindTransportUnavailable, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.A2A, Kind: fabric.KindForHTTPStatus(resp.StatusCode), Err: fmt.Errorf("peer %s: http %d: %s", p.ID, resp.StatusCode, string(raw))}
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return string(raw), nil
	}
	return result, nil
}

// Broadcast fans a message out to every known peer concurrently,
// dropping (and counting) individual failures rather than failing the
// whole call — the Open Question decision recorded in DESIGN.md.
func (a *Custom) Broadcast(ctx context.Context, content map[string]any) (sent, failed int) {
	a.mu.RLock()
	peers := make([]peer, 0, len(a.peers))
	client := a.httpClient
	for _, p := range a.peers {
		peers = append(peers, p)
	}
	a.mu.RUnlock()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p peer) {
			defer wg.Done()
			_, err := a.callPeer(ctx, client, p, "message", content)
			mu.Lock()
			if err != nil {
				slog.Warn("a2a broadcast to peer failed", "peer", p.ID, "error", err)
				failed++
			} else {
				sent++
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return sent, failed
}

func (a *Custom) GetCapabilities(ctx context.Context) ([]fabric.ProtocolCapability, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil, fabric.NotConnected
	}
	return []fabric.ProtocolCapability{
		{Name: "tools", Protocol: fabric.A2A, Metadata: map[string]any{"peer_count": len(a.peers)}},
		{Name: "messaging", Protocol: fabric.A2A},
		{Name: "discovery", Protocol: fabric.A2A, Metadata: map[string]any{"configured": a.discoveryURL != ""}},
	}, nil
}

func (a *Custom) SupportsFeature(feature string) bool {
	switch feature {
	case "tools", "messaging", "discovery":
		return true
	}
	return false
}
