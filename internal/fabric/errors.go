package fabric

import (
	"fmt"
	"net/http"
)

// Kind is the closed set of error conditions the fabric and its adapters
// can raise. Callers should compare with errors.Is against the sentinel
// values below, not against Kind strings.
type Kind string

const (
	KindAlreadyConnected     Kind = "already_connected"
	KindNotConnected         Kind = "not_connected"
	KindUnsupported          Kind = "unsupported"
	KindUnknownTool          Kind = "unknown_tool"
	KindAmbiguousTool        Kind = "ambiguous_tool"
	KindInvalidToolName      Kind = "invalid_tool_name"
	KindUnknownAgent         Kind = "unknown_agent"
	KindUnknownProtocol      Kind = "unknown_protocol"
	KindUnknownServer        Kind = "unknown_server"
	KindUnknownExtension     Kind = "unknown_extension"
	KindRemoteFailure        Kind = "remote_failure"
	KindTimeout              Kind = "timeout"
	KindCircuitOpen          Kind = "circuit_open"
	KindNoAdapterForTool     Kind = "no_adapter_for_tool"
	KindConfigurationBad     Kind = "configuration_bad"
	KindTransportUnavailable Kind = "transport_unavailable"
	KindAuthRejected         Kind = "auth_rejected"
	KindInvalidArgs          Kind = "invalid_args"
	KindCancelled            Kind = "cancelled"
)

// Error wraps an underlying cause with the operation that raised it and
// its closed Kind, so callers can branch on errors.Is(err, fabric.Unsupported)
// while logs still carry Op/protocol context.
type Error struct {
	Op       string
	Protocol ProtocolId
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	if e.Protocol != "" {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Op, e.Protocol, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, KindX) style sentinel comparisons work by kind,
// without requiring callers to type-assert *Error themselves.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	if !ok {
		return false
	}
	return e.Kind == Kind(k)
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// Sentinels for errors.Is comparisons, e.g. errors.Is(err, fabric.Unsupported).
var (
	AlreadyConnected     error = kindSentinel(KindAlreadyConnected)
	NotConnected         error = kindSentinel(KindNotConnected)
	Unsupported          error = kindSentinel(KindUnsupported)
	UnknownTool          error = kindSentinel(KindUnknownTool)
	AmbiguousTool        error = kindSentinel(KindAmbiguousTool)
	InvalidToolName      error = kindSentinel(KindInvalidToolName)
	UnknownAgent         error = kindSentinel(KindUnknownAgent)
	UnknownProtocol      error = kindSentinel(KindUnknownProtocol)
	UnknownServer        error = kindSentinel(KindUnknownServer)
	UnknownExtension     error = kindSentinel(KindUnknownExtension)
	RemoteFailure        error = kindSentinel(KindRemoteFailure)
	Timeout              error = kindSentinel(KindTimeout)
	CircuitOpen          error = kindSentinel(KindCircuitOpen)
	NoAdapterForTool     error = kindSentinel(KindNoAdapterForTool)
	ConfigurationBad     error = kindSentinel(KindConfigurationBad)
	TransportUnavailable error = kindSentinel(KindTransportUnavailable)
	AuthRejected         error = kindSentinel(KindAuthRejected)
	InvalidArgs          error = kindSentinel(KindInvalidArgs)
	Cancelled            error = kindSentinel(KindCancelled)
)

// newErr builds an *Error, the one constructor every adapter and the core
// should use so Kind is never forgotten.
func newErr(op string, protocol ProtocolId, kind Kind, cause error) *Error {
	return &Error{Op: op, Protocol: protocol, Kind: kind, Err: cause}
}

// KindForHTTPStatus classifies a REST adapter's response status into the
// closed Kind taxonomy: 401/403 are AuthRejected, everything else >=400 is
// RemoteFailure. Adapters built on net/http (ACP, A2A, ANP, MCP custom)
// use this instead of hardcoding RemoteFailure for every non-2xx status.
func KindForHTTPStatus(status int) Kind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return KindAuthRejected
	}
	return KindRemoteFailure
}
