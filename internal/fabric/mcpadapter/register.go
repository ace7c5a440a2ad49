package mcpadapter

import "github.com/agenticraft/protocolfabric/internal/fabric"

func init() {
	fabric.RegisterProtocol(
		fabric.MCP,
		func() fabric.ProtocolAdapter { return NewOfficial() },
		func() fabric.ProtocolAdapter { return NewCustom() },
		// The upstream SDK is a real, always-importable Go module (unlike
		// A2A/ACP/ANP, which have no official SDK in this ecosystem), so
		// availability is a constant true rather than a runtime probe.
		func() bool { return true },
	)
}
