package socksclient

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/proxyspec"
)

func listen(t *testing.T) (net.Listener, *proxyspec.Descriptor) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port := mustAtoi(t, portStr)
	d := &proxyspec.Descriptor{Host: host, Port: uint16(port), Weight: 1}
	return ln, d
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("not numeric: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func TestConnectSocks4Success(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS4

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		_ = n
		conn.Write([]byte{0x00, protocol.Socks4ReplyOK, 0, 0, 0, 0, 0, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, d, NewTarget("93.184.216.34", 80))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()
}

func TestConnectSocks4Rejected(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS4

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		conn.Read(buf)
		conn.Write([]byte{0x00, protocol.Socks4ReplyReject, 0, 0, 0, 0, 0, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, d, NewTarget("93.184.216.34", 80))
	if err == nil {
		t.Fatal("expected rejection error")
	}
	var rejected *UpstreamRejected
	if !errorsAsRejected(err, &rejected) {
		t.Fatalf("expected *UpstreamRejected, got %T: %v", err, err)
	}
}

func errorsAsRejected(err error, target **UpstreamRejected) bool {
	if e, ok := err.(*UpstreamRejected); ok {
		*target = e
		return true
	}
	return false
}

func TestConnectSocks4aSendsHostname(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS4A

	gotHostname := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		req := buf[:n]
		// VN CD PORT(2) DSTIP(4) USERID\0 HOSTNAME\0
		nullIdx := 8 // after USERID's leading null terminator position search
		for nullIdx < len(req) && req[nullIdx] != 0x00 {
			nullIdx++
		}
		hostStart := nullIdx + 1
		hostEnd := hostStart
		for hostEnd < len(req) && req[hostEnd] != 0x00 {
			hostEnd++
		}
		gotHostname <- string(req[hostStart:hostEnd])
		conn.Write([]byte{0x00, protocol.Socks4ReplyOK, 0, 0, 0, 0, 0, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, d, NewTarget("example.invalid", 80))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()

	select {
	case h := <-gotHostname:
		if h != "example.invalid" {
			t.Errorf("hostname = %q, want example.invalid", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hostname")
	}
}

func TestConnectSocks5NoAuthSuccess(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS5

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{protocol.Socks5Version, protocol.AuthNoAuth})

		req := make([]byte, 10)
		io.ReadFull(conn, req)
		conn.Write([]byte{protocol.Socks5Version, protocol.Reply5Succeeded, 0, protocol.Atyp4, 0, 0, 0, 0, 0, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, d, NewTarget("93.184.216.34", 443))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()
}

func TestConnectSocks5WithAuth(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS5
	d.Credentials = &proxyspec.Credentials{Username: "alice", Password: "secret"}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		greeting := make([]byte, 4) // ver, n=2, 0x00, 0x02
		io.ReadFull(conn, greeting)
		conn.Write([]byte{protocol.Socks5Version, protocol.AuthUsernamePass})

		authHeader := make([]byte, 2)
		io.ReadFull(conn, authHeader)
		ulen := int(authHeader[1])
		rest := make([]byte, ulen+1)
		io.ReadFull(conn, rest)
		plen := int(rest[ulen])
		pass := make([]byte, plen)
		io.ReadFull(conn, pass)
		conn.Write([]byte{protocol.UsernamePassVer, protocol.UsernamePassSucc})

		req := make([]byte, 10)
		io.ReadFull(conn, req)
		conn.Write([]byte{protocol.Socks5Version, protocol.Reply5Succeeded, 0, protocol.Atyp4, 0, 0, 0, 0, 0, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, d, NewTarget("93.184.216.34", 443))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()
}

func TestConnectSocks5AuthFailed(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS5
	d.Credentials = &proxyspec.Credentials{Username: "alice", Password: "wrong"}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		greeting := make([]byte, 4)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{protocol.Socks5Version, protocol.AuthUsernamePass})

		authHeader := make([]byte, 2)
		io.ReadFull(conn, authHeader)
		ulen := int(authHeader[1])
		rest := make([]byte, ulen+1)
		io.ReadFull(conn, rest)
		plen := int(rest[ulen])
		pass := make([]byte, plen)
		io.ReadFull(conn, pass)
		conn.Write([]byte{protocol.UsernamePassVer, 0x01}) // failure
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, d, NewTarget("93.184.216.34", 443))
	if _, ok := err.(*AuthFailed); !ok {
		t.Fatalf("expected *AuthFailed, got %T: %v", err, err)
	}
}

func TestConnectSocks5NoAcceptableMethods(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS5

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{protocol.Socks5Version, protocol.AuthNoAcceptable})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, d, NewTarget("93.184.216.34", 443))
	if _, ok := err.(*NoAcceptableAuthMethods); !ok {
		t.Fatalf("expected *NoAcceptableAuthMethods, got %T: %v", err, err)
	}
}

// fakeResolver lets tests assert SOCKS5h never triggers local resolution.
type fakeResolver struct {
	calls int
}

func (f *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	f.calls++
	return []net.IPAddr{{IP: net.ParseIP("10.0.0.1")}}, nil
}

func TestConnectSocks5hNoLocalDNS(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS5H

	fr := &fakeResolver{}
	old := defaultResolver
	defaultResolver = fr
	defer func() { defaultResolver = old }()

	gotName := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{protocol.Socks5Version, protocol.AuthNoAuth})

		header := make([]byte, 5) // ver cmd rsv atyp len
		io.ReadFull(conn, header)
		nameLen := int(header[4])
		name := make([]byte, nameLen+2) // name + port
		io.ReadFull(conn, name)
		gotName <- string(name[:nameLen])

		conn.Write([]byte{protocol.Socks5Version, protocol.Reply5Succeeded, 0, protocol.Atyp4, 0, 0, 0, 0, 0, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, d, NewTarget("example.invalid", 80))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()

	select {
	case name := <-gotName:
		if name != "example.invalid" {
			t.Errorf("name = %q, want example.invalid", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for name")
	}

	if fr.calls != 0 {
		t.Errorf("expected 0 local DNS lookups under SOCKS5h, got %d", fr.calls)
	}
}

func TestConnectSocks5IPv6TargetUsesAtyp6(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS5

	gotAtyp := make(chan byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{protocol.Socks5Version, protocol.AuthNoAuth})

		header := make([]byte, 4)
		io.ReadFull(conn, header)
		gotAtyp <- header[3]
		rest := make([]byte, 18)
		io.ReadFull(conn, rest)

		conn.Write([]byte{protocol.Socks5Version, protocol.Reply5Succeeded, 0, protocol.Atyp4, 0, 0, 0, 0, 0, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Connect(ctx, d, NewTarget("2001:db8::1", 443))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()

	select {
	case atyp := <-gotAtyp:
		if atyp != protocol.Atyp6 {
			t.Errorf("atyp = 0x%02x, want 0x%02x", atyp, protocol.Atyp6)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestConnectTimeout(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS5

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Never respond.
		time.Sleep(5 * time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, d, NewTarget("93.184.216.34", 443))
	if _, ok := err.(*Timeout); !ok {
		t.Fatalf("expected *Timeout, got %T: %v", err, err)
	}
}

func TestConnectUnreachableIsTransport(t *testing.T) {
	d := &proxyspec.Descriptor{Host: "127.0.0.1", Port: 1, Scheme: protocol.SOCKS5}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, d, NewTarget("93.184.216.34", 443))
	if err == nil {
		t.Fatal("expected error connecting to closed port")
	}
	if _, ok := err.(*Transport); !ok {
		t.Fatalf("expected *Transport, got %T: %v", err, err)
	}
}

func TestProbeSocks5(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS5

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{protocol.Socks5Version, protocol.AuthNoAuth})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := Probe(ctx, d); err != nil {
		t.Fatalf("Probe: %v", err)
	}
}

func TestProbeSocks4IsJustConnect(t *testing.T) {
	ln, d := listen(t)
	defer ln.Close()
	d.Scheme = protocol.SOCKS4

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := Probe(ctx, d); err != nil {
		t.Fatalf("Probe: %v", err)
	}
}
