package fabric

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/agenticraft/protocolfabric/internal/metrics"
)

// Hybrid wraps a primary adapter (normally official-SDK-backed) and a
// fallback (normally custom). It tries the primary first on every call;
// the first time the primary reports Unsupported, or a RemoteFailure
// whose cause is Unsupported, the wrapper permanently latches to the
// fallback and never attempts the primary again, for this instance's
// lifetime. Plain network failures do not trip the latch: a primary that
// is merely unreachable right now is not evidence it is unsupported.
//
// This is deliberately stricter than the source behavior it's grounded
// on (which re-checked the error string on every call): once fallen
// back, always fallen back.
type Hybrid struct {
	Primary    ProtocolAdapter
	Fallback   ProtocolAdapter
	protocol   ProtocolId
	fellBack   atomic.Bool
	connectCfg map[string]any
}

// NewHybrid builds a Hybrid wrapper. protocol is the ProtocolId reported
// by ProtocolType regardless of which side is currently active, so
// callers never see the wrapper's internal switch (N2 in namespacing).
func NewHybrid(protocol ProtocolId, primary, fallback ProtocolAdapter) *Hybrid {
	return &Hybrid{Primary: primary, Fallback: fallback, protocol: protocol}
}

func (h *Hybrid) ProtocolType() ProtocolId { return h.protocol }

func (h *Hybrid) active() ProtocolAdapter {
	if h.fellBack.Load() {
		return h.Fallback
	}
	return h.Primary
}

// fallBackOnce latches to the fallback adapter, incrementing the
// fallback metric exactly once even under concurrent callers.
func (h *Hybrid) fallBackOnce() {
	if h.fellBack.CompareAndSwap(false, true) {
		metrics.HybridFallbacks.WithLabelValues(string(h.protocol)).Inc()
	}
}

func (h *Hybrid) latch(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, Unsupported) {
		return true
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == KindRemoteFailure {
		return errors.Is(fe.Err, Unsupported)
	}
	return false
}

func (h *Hybrid) Connect(ctx context.Context, config map[string]any) error {
	h.connectCfg = config
	if !h.fellBack.Load() {
		err := h.Primary.Connect(ctx, config)
		if err == nil {
			return nil
		}
		if h.latch(err) {
			h.fallBackOnce()
			return h.Fallback.Connect(ctx, config)
		}
		return err
	}
	return h.Fallback.Connect(ctx, config)
}

func (h *Hybrid) Disconnect(ctx context.Context) error {
	return h.active().Disconnect(ctx)
}

func (h *Hybrid) DiscoverTools(ctx context.Context) ([]UnifiedTool, error) {
	if !h.fellBack.Load() {
		tools, err := h.Primary.DiscoverTools(ctx)
		if err == nil {
			return tools, nil
		}
		if h.latch(err) {
			h.fallBackOnce()
			if cerr := h.Fallback.Connect(ctx, h.connectCfg); cerr != nil {
				return nil, cerr
			}
			return h.Fallback.DiscoverTools(ctx)
		}
		return nil, err
	}
	return h.Fallback.DiscoverTools(ctx)
}

func (h *Hybrid) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if !h.fellBack.Load() {
		result, err := h.Primary.ExecuteTool(ctx, name, args)
		if err == nil {
			return result, nil
		}
		if h.latch(err) {
			h.fallBackOnce()
			if cerr := h.Fallback.Connect(ctx, h.connectCfg); cerr != nil {
				return nil, cerr
			}
			return h.Fallback.ExecuteTool(ctx, name, args)
		}
		return nil, err
	}
	return h.Fallback.ExecuteTool(ctx, name, args)
}

func (h *Hybrid) GetCapabilities(ctx context.Context) ([]ProtocolCapability, error) {
	if !h.fellBack.Load() {
		caps, err := h.Primary.GetCapabilities(ctx)
		if err == nil {
			return caps, nil
		}
		if h.latch(err) {
			h.fallBackOnce()
			if cerr := h.Fallback.Connect(ctx, h.connectCfg); cerr != nil {
				return nil, cerr
			}
			return h.Fallback.GetCapabilities(ctx)
		}
		return nil, err
	}
	return h.Fallback.GetCapabilities(ctx)
}

func (h *Hybrid) SupportsFeature(feature string) bool {
	return h.active().SupportsFeature(feature)
}

// UsingFallback reports whether the wrapper has latched to its fallback.
func (h *Hybrid) UsingFallback() bool { return h.fellBack.Load() }
