package a2aadapter

import "github.com/agenticraft/protocolfabric/internal/fabric"

func init() {
	// No official A2A SDK exists in this ecosystem (mirroring the source's
	// ADAPTERS[A2A]['official'] pattern): only a custom builder is
	// registered, so PreferOfficial on A2A always fails with Unsupported
	// and AUTO/HYBRID always degrade to Custom. The richer trust/card-aware
	// Official type in official.go is still available to callers that
	// construct and RegisterAdapter it directly, same as the source keeps
	// A2AOfficialAdapter around for environments that do have the SDK.
	fabric.RegisterProtocol(
		fabric.A2A,
		nil,
		func() fabric.ProtocolAdapter { return NewCustom() },
		func() bool { return false },
	)
}
