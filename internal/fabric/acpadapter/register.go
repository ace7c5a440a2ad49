package acpadapter

import "github.com/agenticraft/protocolfabric/internal/fabric"

func init() {
	// No official ACP SDK exists in this ecosystem (mirrors the source's
	// ADAPTERS[ACP]['official'] = None): only a custom builder is
	// registered. Enhanced (the circuit-breaker variant) is reached by
	// constructing it directly and calling Fabric.RegisterAdapter, not
	// through the factory's official/custom/hybrid split.
	fabric.RegisterProtocol(
		fabric.ACP,
		nil,
		func() fabric.ProtocolAdapter { return NewCustom() },
		func() bool { return false },
	)
}
