package socksserver

import (
	"io"
	"net"

	"github.com/tboy1337/multisocks/pkg/protocol"
)

// FailureReason is a version-independent reason code for a rejected
// CONNECT, translated to the wire code that fits the request's version.
type FailureReason int

const (
	GeneralFailure FailureReason = iota
	NetworkUnreachable
	HostUnreachable
	ConnectionRefused
	CommandNotSupported
	AddressTypeNotSupported
)

// WriteSuccess sends the CONNECT-succeeded reply for version, reporting
// bindAddr as the bound local address (the upstream connection's local
// endpoint, from the client's point of view).
func WriteSuccess(w io.Writer, version byte, bindAddr net.Addr) error {
	if version == protocol.Socks4Version {
		_, err := w.Write(socks4Reply(protocol.Socks4ReplyOK))
		return err
	}
	return writeSocks5Reply(w, protocol.Reply5Succeeded, bindAddr)
}

// WriteFailure sends the CONNECT-failed reply for version, with reason
// translated to the appropriate wire code.
func WriteFailure(w io.Writer, version byte, reason FailureReason) error {
	if version == protocol.Socks4Version {
		_, err := w.Write(socks4Reply(protocol.Socks4ReplyReject))
		return err
	}
	return writeSocks5Reply(w, socks5ReplyCode(reason), nil)
}

func socks4Reply(code byte) []byte {
	return []byte{0x00, code, 0, 0, 0, 0, 0, 0}
}

func socks5ReplyCode(reason FailureReason) byte {
	switch reason {
	case NetworkUnreachable:
		return protocol.Reply5NetUnreach
	case HostUnreachable:
		return protocol.Reply5HostUnreach
	case ConnectionRefused:
		return protocol.Reply5ConnRefused
	case CommandNotSupported:
		return protocol.Reply5CmdNotSupp
	case AddressTypeNotSupported:
		return protocol.Reply5AtypNotSupp
	default:
		return protocol.Reply5GeneralFail
	}
}

func writeSocks5Reply(w io.Writer, rep byte, bindAddr net.Addr) error {
	atyp := byte(protocol.Atyp4)
	addr := []byte{0, 0, 0, 0}
	var port uint16

	if tcpAddr, ok := bindAddr.(*net.TCPAddr); ok && tcpAddr != nil {
		if v4 := tcpAddr.IP.To4(); v4 != nil {
			addr = v4
			atyp = protocol.Atyp4
		} else if v6 := tcpAddr.IP.To16(); v6 != nil {
			addr = v6
			atyp = protocol.Atyp6
		}
		port = uint16(tcpAddr.Port)
	}

	reply := make([]byte, 0, 6+len(addr))
	reply = append(reply, protocol.Socks5Version, rep, 0x00, atyp)
	reply = append(reply, addr...)
	reply = append(reply, byte(port>>8), byte(port))

	_, err := w.Write(reply)
	return err
}
