package a2aadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenticraft/protocolfabric/internal/fabric"
)

// agentCard is this node's own published identity, analogous to the
// upstream A2A SDK's AgentCard.
type agentCard struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
}

// Official models the richer, trust-aware A2A flow: a local AgentCard
// built from the connect config, and a set of explicitly trusted peer
// ids. No real upstream A2A Go SDK exists in this ecosystem, so this
// variant is built directly on the same HTTP primitives as Custom and
// adds a trust check: ExecuteTool rejects calls to peers outside the
// trust store with AuthRejected, while DiscoverTools lists every peer's
// skills. The card is kept locally and is not published to any
// discovery service. register.go registers no official builder for A2A,
// so the factory never builds this type; it is reached only by
// constructing it directly with NewOfficial.
type Official struct {
	*Custom
	mu           sync.RWMutex
	card         agentCard
	trustedPeers map[string]bool
	connected    bool
}

func NewOfficial() *Official {
	return &Official{Custom: NewCustom(), trustedPeers: map[string]bool{}}
}

func (o *Official) Connect(ctx context.Context, config map[string]any) error {
	o.mu.Lock()
	if o.connected {
		o.mu.Unlock()
		return fabric.AlreadyConnected
	}
	name, _ := config["name"].(string)
	description, _ := config["description"].(string)
	var caps []string
	if raw, ok := config["capabilities"].([]string); ok {
		caps = raw
	}
	o.card = agentCard{Name: name, Description: description, Capabilities: caps}
	if trusted, ok := config["trusted_agents"].([]string); ok {
		for _, id := range trusted {
			o.trustedPeers[id] = true
		}
	}
	o.connected = true
	o.mu.Unlock()

	return o.Custom.Connect(ctx, config)
}

// Disconnect clears this adapter's own connected flag and trust store as
// well as the embedded Custom state, so a later Connect starts fresh.
func (o *Official) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	o.connected = false
	o.trustedPeers = map[string]bool{}
	o.mu.Unlock()
	return o.Custom.Disconnect(ctx)
}

func (o *Official) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	o.mu.RLock()
	connected := o.connected
	o.mu.RUnlock()
	if !connected {
		return nil, fabric.NotConnected
	}
	agentID, _, found := cutDot(name)
	if found {
		o.mu.RLock()
		trusted := o.trustedPeers[agentID]
		o.mu.RUnlock()
		if !trusted {
			return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.A2A, Kind: fabric.KindAuthRejected, Err: fmt.Errorf("agent %q is not in the trust store", agentID)}
		}
	}
	return o.Custom.ExecuteTool(ctx, name, args)
}

func (o *Official) GetCapabilities(ctx context.Context) ([]fabric.ProtocolCapability, error) {
	caps, err := o.Custom.GetCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append(caps,
		fabric.ProtocolCapability{Name: "trust", Protocol: fabric.A2A, Metadata: map[string]any{"trusted_peers": len(o.trustedPeers)}},
		fabric.ProtocolCapability{Name: "delegation", Protocol: fabric.A2A},
	), nil
}

func (o *Official) SupportsFeature(feature string) bool {
	if feature == "trust" || feature == "delegation" {
		return true
	}
	return o.Custom.SupportsFeature(feature)
}

func cutDot(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
