// Package protocol defines the wire-level constants shared by the
// downstream SOCKS server half and the upstream SOCKS client half:
// protocol version bytes, command/reply codes, and address types for
// SOCKS4/4a and SOCKS5/5h, plus the default timeouts and tunables the
// rest of the system is built around.
package protocol

// Scheme identifies which SOCKS dialect a proxy descriptor speaks.
type Scheme int

const (
	SOCKS4 Scheme = iota
	SOCKS4A
	SOCKS5
	SOCKS5H
)

// String renders a Scheme the way it appears in a proxy spec URI.
func (s Scheme) String() string {
	switch s {
	case SOCKS4:
		return "socks4"
	case SOCKS4A:
		return "socks4a"
	case SOCKS5:
		return "socks5"
	case SOCKS5H:
		return "socks5h"
	default:
		return "unknown"
	}
}

// SOCKS4/4a wire constants.
const (
	Socks4Version     = 0x04
	Socks4CmdConnect  = 0x01
	Socks4CmdBind     = 0x02
	Socks4ReplyOK     = 0x5A
	Socks4ReplyReject = 0x5B
)

// SOCKS5 wire constants.
const (
	Socks5Version = 0x05

	AuthNoAuth       = 0x00
	AuthUsernamePass = 0x02
	AuthNoAcceptable = 0xFF

	UsernamePassVer  = 0x01
	UsernamePassSucc = 0x00

	Cmd5Connect      = 0x01
	Cmd5Bind         = 0x02
	Cmd5UDPAssociate = 0x03

	Atyp4      = 0x01
	AtypDomain = 0x03
	Atyp6      = 0x04

	Reply5Succeeded   = 0x00
	Reply5GeneralFail = 0x01
	Reply5NotAllowed  = 0x02
	Reply5NetUnreach  = 0x03
	Reply5HostUnreach = 0x04
	Reply5ConnRefused = 0x05
	Reply5TTLExpired  = 0x06
	Reply5CmdNotSupp  = 0x07
	Reply5AtypNotSupp = 0x08
)

// Default timeouts.
const (
	UpstreamHandshakeTimeoutSeconds = 10
	ProbeTimeoutSeconds             = 5
	OptimizerFetchTimeoutSeconds    = 20
)

// Default tunables for pool eligibility, probing, and backoff.
const (
	DefaultFMax               = 3
	DefaultProbeInterval      = 60 // seconds
	DefaultReoptimizeInterval = 10 // minutes
	DefaultMaxAttempts        = 3
	MinBackoffSeconds         = 30
	MaxBackoffSeconds         = 600 // 10 minutes
)

// RelayBufferSize is the fixed buffer size used when splicing bytes
// between a client and an upstream proxy.
const RelayBufferSize = 32 * 1024
