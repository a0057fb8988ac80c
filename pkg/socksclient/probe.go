package socksclient

import (
	"context"
	"net"
	"strconv"

	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/proxyspec"
)

// Probe performs the pool's background health check against an upstream:
// a TCP connect plus, for SOCKS5/5h, a minimal method-negotiation greeting
// (no full credential exchange). ctx's deadline bounds the whole probe.
func Probe(ctx context.Context, upstream *proxyspec.Descriptor) error {
	addr := net.JoinHostPort(upstream.Host, strconv.Itoa(int(upstream.Port)))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classify("probe dial", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return classify("probe set deadline", err)
		}
	}

	switch upstream.Scheme {
	case protocol.SOCKS4, protocol.SOCKS4A:
		// No greeting phase exists in SOCKS4/4a; a live TCP connect is
		// the strongest signal available short of a full CONNECT.
		return nil
	case protocol.SOCKS5, protocol.SOCKS5H:
		return probeSocks5Greeting(conn, upstream.Credentials)
	default:
		return nil
	}
}

func probeSocks5Greeting(conn net.Conn, creds *proxyspec.Credentials) error {
	methods := []byte{protocol.AuthNoAuth}
	if creds != nil {
		methods = append(methods, protocol.AuthUsernamePass)
	}

	greeting := append([]byte{protocol.Socks5Version, byte(len(methods))}, methods...)
	if err := writeAll(conn, greeting); err != nil {
		return err
	}

	resp := make([]byte, 2)
	if err := readFull(conn, resp); err != nil {
		return err
	}
	if resp[0] != protocol.Socks5Version || resp[1] == protocol.AuthNoAcceptable {
		return &NoAcceptableAuthMethods{}
	}
	return nil
}
