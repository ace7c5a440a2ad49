package anpadapter

import "github.com/agenticraft/protocolfabric/internal/fabric"

func init() {
	// No official ANP SDK exists in this ecosystem (mirrors the source's
	// ADAPTERS[ANP]['official'] = None): only a custom builder is
	// registered, so PreferOfficial always fails Unsupported and
	// AUTO/HYBRID always degrade to Custom.
	fabric.RegisterProtocol(
		fabric.ANP,
		nil,
		func() fabric.ProtocolAdapter { return NewCustom() },
		func() bool { return false },
	)
}
