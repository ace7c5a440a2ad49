package fabric

import (
	"fmt"
	"sync"
)

// AdapterBuilder constructs one variant (official or custom) of a
// protocol's adapter. Registered once per (protocol, official) pair by
// each adapter package's init(), mirroring the source's class-table
// dispatch but resolved at link time instead of import time.
type AdapterBuilder func() ProtocolAdapter

// AvailabilityProbe reports whether an official SDK-backed adapter can
// actually be built right now. Go has no runtime "is this package
// importable" check the way Python's try/except ImportError does, so
// each protocol package registers an explicit probe instead — usually a
// constant, since Go resolves imports at compile time and "available" in
// practice means "this protocol has a real upstream SDK".
type AvailabilityProbe func() bool

type protocolRegistration struct {
	official      AdapterBuilder
	custom        AdapterBuilder
	officialProbe AvailabilityProbe
}

var (
	registryMu sync.RWMutex
	registry   = map[ProtocolId]*protocolRegistration{}
)

// RegisterProtocol installs the builders for one protocol. custom must
// always be supplied; official may be nil when no real SDK backs that
// protocol (A2A, ACP, and ANP have no official Go SDK in this ecosystem,
// matching the source's ADAPTERS[protocol]['official'] = None for ACP/ANP).
func RegisterProtocol(protocol ProtocolId, official, custom AdapterBuilder, officialProbe AvailabilityProbe) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[protocol] = &protocolRegistration{
		official:      official,
		custom:        custom,
		officialProbe: officialProbe,
	}
}

var (
	availabilityOnce  sync.Once
	availabilityCache map[ProtocolId]bool
	availabilityMu    sync.Mutex
)

// sdkAvailable reports, once per process, whether protocol's official
// adapter can be built. Cached the first time it's probed, since the
// probe result cannot change over the life of the process.
func sdkAvailable(protocol ProtocolId) bool {
	availabilityMu.Lock()
	defer availabilityMu.Unlock()
	if availabilityCache == nil {
		availabilityCache = map[ProtocolId]bool{}
	}
	if v, ok := availabilityCache[protocol]; ok {
		return v
	}
	registryMu.RLock()
	reg, ok := registry[protocol]
	registryMu.RUnlock()
	v := false
	if ok && reg.official != nil && reg.officialProbe != nil {
		v = reg.officialProbe()
	}
	availabilityCache[protocol] = v
	return v
}

// AdapterFactory builds ProtocolAdapter instances per a requested
// SDKPreference, applying the decision rules in order:
//  1. CUSTOM always builds the custom adapter.
//  2. OFFICIAL builds the official adapter, or fails with Unsupported
//     (wrapping the unavailable-SDK cause) if none is registered or
//     available.
//  3. HYBRID builds a Hybrid(official, custom) if official is available,
//     else falls straight back to the plain custom adapter.
//  4. AUTO returns the plain official adapter if it's available and
//     supports every feature in requiredFeatures; else behaves like
//     HYBRID if official is available, else CUSTOM.
type AdapterFactory struct{}

func (AdapterFactory) CreateAdapter(protocol ProtocolId, pref SDKPreference, requiredFeatures []string) (ProtocolAdapter, error) {
	registryMu.RLock()
	reg, ok := registry[protocol]
	registryMu.RUnlock()
	if !ok {
		return nil, newErr("create_adapter", protocol, KindUnknownProtocol, fmt.Errorf("no adapter registered for %s", protocol))
	}

	switch pref {
	case PreferCustom, "":
		return reg.custom(), nil

	case PreferOfficial:
		if reg.official == nil || !sdkAvailable(protocol) {
			return nil, newErr("create_adapter", protocol, KindUnsupported, fmt.Errorf("no official sdk available for %s", protocol))
		}
		return reg.official(), nil

	case PreferHybrid:
		if reg.official != nil && sdkAvailable(protocol) {
			return NewHybrid(protocol, reg.official(), reg.custom()), nil
		}
		return reg.custom(), nil

	case PreferAuto:
		if reg.official != nil && sdkAvailable(protocol) {
			official := reg.official()
			if supportsAll(official, requiredFeatures) {
				return official, nil
			}
			return NewHybrid(protocol, official, reg.custom()), nil
		}
		return reg.custom(), nil

	default:
		return nil, newErr("create_adapter", protocol, KindConfigurationBad, fmt.Errorf("unknown sdk preference %q", pref))
	}
}

// supportsAll reports whether adapter supports every named feature. An
// empty requiredFeatures list is trivially satisfied.
func supportsAll(adapter ProtocolAdapter, requiredFeatures []string) bool {
	for _, f := range requiredFeatures {
		if !adapter.SupportsFeature(f) {
			return false
		}
	}
	return true
}

// AvailableAdapters reports, per protocol, whether an official/custom/
// hybrid variant can be built — the Go analogue of the source's
// get_available_adapters().
func (AdapterFactory) AvailableAdapters() map[ProtocolId]map[string]bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[ProtocolId]map[string]bool, len(registry))
	for p, reg := range registry {
		official := reg.official != nil && sdkAvailable(p)
		out[p] = map[string]bool{
			"official": official,
			"custom":   reg.custom != nil,
			"hybrid":   official && reg.custom != nil,
		}
	}
	return out
}
