package socksserver

import (
	"bufio"
	"fmt"
	"net"

	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/socksclient"
)

// negotiateSocks5 performs the SOCKS5 method-selection greeting (offering
// only no-auth) followed by parsing the CONNECT request.
func negotiateSocks5(r *bufio.Reader, w net.Conn) (*Request, error) {
	header := make([]byte, 2)
	if _, err := readFull(r, header); err != nil {
		return nil, fmt.Errorf("socksserver: reading SOCKS5 greeting: %w", err)
	}

	nmethods := int(header[1])
	methods := make([]byte, nmethods)
	if _, err := readFull(r, methods); err != nil {
		return nil, fmt.Errorf("socksserver: reading SOCKS5 methods: %w", err)
	}

	offered := false
	for _, m := range methods {
		if m == protocol.AuthNoAuth {
			offered = true
			break
		}
	}

	if !offered {
		w.Write([]byte{protocol.Socks5Version, protocol.AuthNoAcceptable})
		return nil, &NoAcceptableMethod{}
	}

	if _, err := w.Write([]byte{protocol.Socks5Version, protocol.AuthNoAuth}); err != nil {
		return nil, fmt.Errorf("socksserver: writing method selection: %w", err)
	}

	return readSocks5Request(r)
}

func readSocks5Request(r *bufio.Reader) (*Request, error) {
	header := make([]byte, 4)
	if _, err := readFull(r, header); err != nil {
		return nil, fmt.Errorf("socksserver: reading SOCKS5 request header: %w", err)
	}

	cmd := header[1]
	atyp := header[3]

	if cmd != protocol.Cmd5Connect {
		return &Request{Version: protocol.Socks5Version}, &UnsupportedCommand{Code: cmd}
	}

	var target socksclient.Target
	switch atyp {
	case protocol.Atyp4:
		addr := make([]byte, net.IPv4len)
		if _, err := readFull(r, addr); err != nil {
			return nil, fmt.Errorf("socksserver: reading IPv4 address: %w", err)
		}
		target = socksclient.Target{IP: net.IP(addr)}
	case protocol.Atyp6:
		addr := make([]byte, net.IPv6len)
		if _, err := readFull(r, addr); err != nil {
			return nil, fmt.Errorf("socksserver: reading IPv6 address: %w", err)
		}
		target = socksclient.Target{IP: net.IP(addr)}
	case protocol.AtypDomain:
		lenBuf := make([]byte, 1)
		if _, err := readFull(r, lenBuf); err != nil {
			return nil, fmt.Errorf("socksserver: reading domain length: %w", err)
		}
		name := make([]byte, int(lenBuf[0]))
		if _, err := readFull(r, name); err != nil {
			return nil, fmt.Errorf("socksserver: reading domain name: %w", err)
		}
		target = socksclient.Target{Name: string(name)}
	default:
		return &Request{Version: protocol.Socks5Version}, &UnsupportedAddressType{Atyp: atyp}
	}

	portBuf := make([]byte, 2)
	if _, err := readFull(r, portBuf); err != nil {
		return nil, fmt.Errorf("socksserver: reading port: %w", err)
	}
	target.Port = uint16(portBuf[0])<<8 | uint16(portBuf[1])

	return &Request{Version: protocol.Socks5Version, Target: target, Port: target.Port}, nil
}
