package socksclient

import (
	"context"
	"net"

	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/proxyspec"
)

// handshakeSocks5 performs the plain SOCKS5 (h=false) or SOCKS5h (h=true,
// no local hostname resolution) CONNECT handshake.
func handshakeSocks5(ctx context.Context, conn net.Conn, target Target, creds *proxyspec.Credentials, h bool) error {
	if err := socks5Greeting(conn, creds); err != nil {
		return err
	}

	atyp, addrBytes, err := socks5AddressField(ctx, target, h)
	if err != nil {
		return err
	}

	req := make([]byte, 0, 8+len(addrBytes))
	req = append(req, protocol.Socks5Version, protocol.Cmd5Connect, 0x00, atyp)
	req = append(req, addrBytes...)
	req = append(req, byte(target.Port>>8), byte(target.Port))

	if err := writeAll(conn, req); err != nil {
		return err
	}

	return socks5ReadReply(conn)
}

func socks5Greeting(conn net.Conn, creds *proxyspec.Credentials) error {
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

	switch resp[1] {
	case protocol.AuthNoAuth:
		return nil
	case protocol.AuthUsernamePass:
		return socks5SubNegotiate(conn, creds)
	case protocol.AuthNoAcceptable:
		return &NoAcceptableAuthMethods{}
	default:
		return &NoAcceptableAuthMethods{}
	}
}

func socks5SubNegotiate(conn net.Conn, creds *proxyspec.Credentials) error {
	if creds == nil {
		return &AuthFailed{}
	}

	req := []byte{protocol.UsernamePassVer, byte(len(creds.Username))}
	req = append(req, []byte(creds.Username)...)
	req = append(req, byte(len(creds.Password)))
	req = append(req, []byte(creds.Password)...)

	if err := writeAll(conn, req); err != nil {
		return err
	}

	resp := make([]byte, 2)
	if err := readFull(conn, resp); err != nil {
		return err
	}
	if resp[1] != protocol.UsernamePassSucc {
		return &AuthFailed{}
	}
	return nil
}

// socks5AddressField computes the ATYP byte and address bytes to send in
// the CONNECT request.
//
// An IP-literal target always sends its native address family, under
// either SOCKS5 or SOCKS5h. A name target is resolved locally first under
// plain SOCKS5 (then sent as an IP), and sent verbatim as ATYP=domain under
// SOCKS5h, with no local resolution at all.
func socks5AddressField(ctx context.Context, target Target, h bool) (atyp byte, addr []byte, err error) {
	if target.IsIP() {
		if v4 := target.IP.To4(); v4 != nil {
			return protocol.Atyp4, v4, nil
		}
		return protocol.Atyp6, target.IP.To16(), nil
	}

	if h {
		name := []byte(target.Name)
		field := append([]byte{byte(len(name))}, name...)
		return protocol.AtypDomain, field, nil
	}

	ip, err := resolveIP(ctx, target.Name)
	if err != nil {
		return 0, nil, &LocalDNSFailed{Err: err}
	}
	if v4 := ip.To4(); v4 != nil {
		return protocol.Atyp4, v4, nil
	}
	return protocol.Atyp6, ip.To16(), nil
}

func socks5ReadReply(conn net.Conn) error {
	header := make([]byte, 4)
	if err := readFull(conn, header); err != nil {
		return err
	}

	rep := header[1]
	atyp := header[3]

	var addrLen int
	switch atyp {
	case protocol.Atyp4:
		addrLen = net.IPv4len
	case protocol.Atyp6:
		addrLen = net.IPv6len
	case protocol.AtypDomain:
		lenBuf := make([]byte, 1)
		if err := readFull(conn, lenBuf); err != nil {
			return err
		}
		addrLen = int(lenBuf[0])
	default:
		addrLen = net.IPv4len
	}

	// Consume the bound address + port field regardless of outcome.
	tail := make([]byte, addrLen+2)
	if err := readFull(conn, tail); err != nil {
		return err
	}

	if rep != protocol.Reply5Succeeded {
		return &UpstreamRejected{Code: int(rep)}
	}
	return nil
}
