package socksclient

import (
	"context"
	"net"

	"github.com/tboy1337/multisocks/pkg/protocol"
)

// handshakeSocks4 performs the SOCKS4 (withHostname=false) or SOCKS4a
// (withHostname=true) CONNECT handshake against conn.
func handshakeSocks4(ctx context.Context, conn net.Conn, target Target, withHostname bool) error {
	ip := target.IP
	var hostname string

	if !target.IsIP() {
		if withHostname {
			hostname = target.Name
		} else {
			resolved, err := resolveIP(ctx, target.Name)
			if err != nil {
				return &LocalDNSFailed{Err: err}
			}
			ip = resolved
		}
	}

	req := make([]byte, 0, 16)
	req = append(req, protocol.Socks4Version, protocol.Socks4CmdConnect)
	req = append(req, byte(target.Port>>8), byte(target.Port))

	if hostname != "" {
		// SOCKS4a: DSTIP must be 0.0.0.x with x != 0, signalling the
		// proxy to resolve the hostname field itself.
		req = append(req, 0, 0, 0, 1)
	} else {
		v4 := ip.To4()
		if v4 == nil {
			return &LocalDNSFailed{Err: errNoIPv4(target)}
		}
		req = append(req, v4...)
	}

	req = append(req, 0x00) // USERID, empty, NUL-terminated
	if hostname != "" {
		req = append(req, []byte(hostname)...)
		req = append(req, 0x00)
	}

	if err := writeAll(conn, req); err != nil {
		return err
	}

	reply := make([]byte, 8)
	if err := readFull(conn, reply); err != nil {
		return err
	}

	if reply[1] != protocol.Socks4ReplyOK {
		return &UpstreamRejected{Code: int(reply[1])}
	}
	return nil
}
