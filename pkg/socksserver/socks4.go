package socksserver

import (
	"bufio"
	"fmt"
	"net"

	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/socksclient"
)

// negotiateSocks4 parses a SOCKS4 or SOCKS4a CONNECT request:
// VN CD DSTPORT(2) DSTIP(4) USERID\0 [HOSTNAME\0]
// A DSTIP of the form 0.0.0.x (x != 0) signals SOCKS4a: the real target
// is a hostname, sent as a second NUL-terminated field after USERID.
func negotiateSocks4(r *bufio.Reader) (*Request, error) {
	header := make([]byte, 8)
	if _, err := readFull(r, header); err != nil {
		return nil, fmt.Errorf("socksserver: reading SOCKS4 header: %w", err)
	}

	cmd := header[1]
	port := uint16(header[2])<<8 | uint16(header[3])
	ip := net.IPv4(header[4], header[5], header[6], header[7])

	if cmd != protocol.Socks4CmdConnect {
		return &Request{Version: protocol.Socks4Version}, &UnsupportedCommand{Code: cmd}
	}

	if _, err := readUntilNUL(r); err != nil { // USERID
		return nil, fmt.Errorf("socksserver: reading USERID: %w", err)
	}

	isSocks4a := header[4] == 0 && header[5] == 0 && header[6] == 0 && header[7] != 0
	var target socksclient.Target
	if isSocks4a {
		hostname, err := readUntilNUL(r)
		if err != nil {
			return nil, fmt.Errorf("socksserver: reading SOCKS4a hostname: %w", err)
		}
		target = socksclient.Target{Name: hostname, Port: port}
	} else {
		target = socksclient.NewTarget(ip.String(), port)
	}

	return &Request{Version: protocol.Socks4Version, Target: target, Port: port}, nil
}

func readUntilNUL(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0x00)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}
