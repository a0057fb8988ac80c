// Package socksclient implements the upstream half of MultiSocks: dialing
// a remote SOCKS4/4a/5/5h proxy and performing its handshake for a given
// target, the way a client library would.
package socksclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/proxyspec"
)

// resolver is swappable in tests to assert on local-resolution behavior
// (e.g. that SOCKS5h never triggers it).
type resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var defaultResolver resolver = net.DefaultResolver

// Connect dials upstream and performs the SOCKS handshake for target,
// dispatched by upstream.Scheme. ctx's deadline (if any) bounds both the
// TCP connect and the handshake. On success the returned net.Conn is a
// ready, transparent byte stream to target; the caller now owns it.
func Connect(ctx context.Context, upstream *proxyspec.Descriptor, target Target) (net.Conn, error) {
	addr := net.JoinHostPort(upstream.Host, strconv.Itoa(int(upstream.Port)))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify("dial", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, classify("set deadline", err)
		}
	}

	switch upstream.Scheme {
	case protocol.SOCKS4:
		err = handshakeSocks4(ctx, conn, target, false)
	case protocol.SOCKS4A:
		err = handshakeSocks4(ctx, conn, target, true)
	case protocol.SOCKS5:
		err = handshakeSocks5(ctx, conn, target, upstream.Credentials, false)
	case protocol.SOCKS5H:
		err = handshakeSocks5(ctx, conn, target, upstream.Credentials, true)
	default:
		conn.Close()
		return nil, fmt.Errorf("socksclient: unsupported scheme %v", upstream.Scheme)
	}

	if err != nil {
		conn.Close()
		return nil, err
	}

	// Handshake complete: clear the deadline so the caller controls
	// lifetime of the data-relay phase.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, classify("clear deadline", err)
	}

	return conn, nil
}

// classify turns a raw I/O error into one of the package's typed errors.
func classify(op string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &Timeout{Op: op}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Timeout{Op: op}
	}
	return &Transport{Op: op, Err: err}
}

// resolveIP resolves a name target to a single IP address, preferring IPv4.
func resolveIP(ctx context.Context, name string) (net.IP, error) {
	addrs, err := defaultResolver.LookupIPAddr(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP, nil
	}
	return nil, fmt.Errorf("no addresses found for %s", name)
}

func readFull(conn net.Conn, buf []byte) error {
	if _, err := io.ReadFull(conn, buf); err != nil {
		return classify("read", err)
	}
	return nil
}

func writeAll(conn net.Conn, buf []byte) error {
	if _, err := conn.Write(buf); err != nil {
		return classify("write", err)
	}
	return nil
}
