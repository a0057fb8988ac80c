// Package socksserver implements the downstream half of MultiSocks: the
// local-facing SOCKS4/4a/5 handshake a client application speaks to the
// listener before its traffic is relayed upstream. Only CONNECT is
// offered; UDP ASSOCIATE and BIND are rejected. Authentication is
// intentionally limited to no-auth, since this is a local trust-boundary
// proxy, not a gateway exposed to untrusted clients.
package socksserver

import (
	"bufio"
	"fmt"
	"net"

	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/socksclient"
)

// Request is a fully parsed downstream CONNECT request, ready to be
// handed to an upstream dial.
type Request struct {
	Version byte
	Target  socksclient.Target
	Port    uint16
}

// Negotiate reads and validates a client's handshake from r, dispatching
// on the first byte to the SOCKS4/4a or SOCKS5 parser. w is used for any
// protocol messages that must be sent mid-handshake (the SOCKS5 method
// selection reply); the CONNECT outcome reply is sent separately by the
// caller via WriteSuccess/WriteFailure once the upstream result is known.
func Negotiate(r *bufio.Reader, w net.Conn) (*Request, error) {
	versionByte, err := r.Peek(1)
	if err != nil {
		return nil, fmt.Errorf("socksserver: reading version byte: %w", err)
	}

	switch versionByte[0] {
	case protocol.Socks4Version:
		return negotiateSocks4(r)
	case protocol.Socks5Version:
		return negotiateSocks5(r, w)
	default:
		return nil, &UnsupportedVersion{Byte: versionByte[0]}
	}
}
