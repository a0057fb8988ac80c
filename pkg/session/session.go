// Package session drives a single downstream connection end to end: the
// local SOCKS handshake, upstream acquisition (with retry across the
// pool on failure), the CONNECT reply, and the bidirectional relay.
package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/tboy1337/multisocks/pkg/logging"
	"github.com/tboy1337/multisocks/pkg/pool"
	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/proxyspec"
	"github.com/tboy1337/multisocks/pkg/socksclient"
	"github.com/tboy1337/multisocks/pkg/socksserver"
)

// Config controls per-session timeouts, independent of the pool's own
// tunables.
type Config struct {
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the timeout used when none is supplied.
func DefaultConfig() Config {
	return Config{HandshakeTimeout: protocol.UpstreamHandshakeTimeoutSeconds * time.Second}
}

// Handle drives conn through its full lifecycle: negotiate the
// downstream handshake, acquire an upstream proxy (retrying across the
// pool up to its configured attempt limit), reply, and relay. It always
// closes conn before returning.
func Handle(ctx context.Context, conn net.Conn, p *pool.Pool, cfg Config) {
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)

	req, err := socksserver.Negotiate(r, conn)
	if err != nil {
		logging.Debugf("session: handshake with %s failed: %v", clientAddr, err)
		writeNegotiationFailure(conn, req, err)
		return
	}

	logging.Debugf("session: %s requested CONNECT to %s", clientAddr, req.Target.String())

	upstreamConn, desc, err := acquireUpstream(ctx, p, req, cfg)
	if err != nil {
		logging.Warnf("session: %s: no upstream available for %s: %v", clientAddr, req.Target.String(), err)
		socksserver.WriteFailure(conn, req.Version, socksserver.GeneralFailure)
		return
	}
	defer upstreamConn.Close()

	logging.Infof("session: %s -> %s via proxy %s", clientAddr, req.Target.String(), desc.String())

	if err := socksserver.WriteSuccess(conn, req.Version, upstreamConn.LocalAddr()); err != nil {
		logging.Debugf("session: %s: writing success reply failed: %v", clientAddr, err)
		return
	}

	relay(conn, upstreamConn)
}

// acquireUpstream retries Pick/Connect up to the pool's configured
// attempt limit, excluding proxies that have already failed this
// session so repeated attempts fan out across the pool instead of
// hammering the same dead proxy.
func acquireUpstream(ctx context.Context, p *pool.Pool, req *socksserver.Request, cfg Config) (net.Conn, *proxyspec.Descriptor, error) {
	excluded := make(map[int]bool)
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts(); attempt++ {
		desc, err := p.Pick(excluded)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
		start := time.Now()
		conn, err := socksclient.Connect(dialCtx, desc, req.Target)
		latency := time.Since(start)
		cancel()

		if err != nil {
			p.ReportOutcome(desc.ID, pool.Failure, latency)
			excluded[desc.ID] = true
			lastErr = err
			logging.Debugf("session: attempt %d via %s failed: %v", attempt+1, desc.String(), err)
			continue
		}

		p.ReportOutcome(desc.ID, pool.Success, latency)
		return conn, desc, nil
	}

	return nil, nil, lastErr
}

// writeNegotiationFailure best-efforts a CONNECT-failed reply when the
// downstream handshake itself produced a recognizable request (e.g. an
// unsupported command or address type on an otherwise valid version).
// A completely unparseable handshake gets no reply, matching how a real
// SOCKS implementation has no common framing left to reply within.
func writeNegotiationFailure(conn net.Conn, req *socksserver.Request, err error) {
	if req == nil {
		return
	}
	reason := socksserver.GeneralFailure
	switch err.(type) {
	case *socksserver.UnsupportedCommand:
		reason = socksserver.CommandNotSupported
	case *socksserver.UnsupportedAddressType:
		reason = socksserver.AddressTypeNotSupported
	}
	socksserver.WriteFailure(conn, req.Version, reason)
}

// halfCloser is implemented by *net.TCPConn (and similar), letting relay
// propagate an EOF in one direction as a write-shutdown instead of
// tearing down the whole connection immediately.
type halfCloser interface {
	CloseWrite() error
}

// relay bidirectionally copies bytes between the two ends until both
// directions have finished, propagating EOF on either side as a
// write-half shutdown on the other so in-flight data in the opposite
// direction can still drain.
func relay(client, upstream net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		copyAndShutdown(upstream, client)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		copyAndShutdown(client, upstream)
	}()

	<-done
	<-done
}

func copyAndShutdown(dst, src net.Conn) {
	buf := make([]byte, protocol.RelayBufferSize)
	_, err := io.CopyBuffer(dst, src, buf)
	if err != nil && !isClosedErr(err) {
		logging.Tracef("session: relay %s -> %s ended: %v", src.RemoteAddr(), dst.RemoteAddr(), err)
	}
	if hc, ok := dst.(halfCloser); ok {
		hc.CloseWrite()
	} else {
		dst.Close()
	}
}

func isClosedErr(err error) bool {
	return err == io.EOF || err == net.ErrClosed
}
