// Package listener owns the downstream TCP listener: binding, accepting,
// spawning one session per connection, and a graceful shutdown that gives
// in-flight sessions a grace period to finish before force-closing them.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/tboy1337/multisocks/pkg/logging"
	"github.com/tboy1337/multisocks/pkg/pool"
	"github.com/tboy1337/multisocks/pkg/session"
)

// Listen binds host:port and, if maxConns > 0, wraps the listener with
// netutil.LimitListener so no more than maxConns downstream connections
// are accepted concurrently.
func Listen(host string, port, maxConns int) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: binding %s: %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// Listener accepts downstream connections and hands each to pkg/session.
type Listener struct {
	ln          net.Listener
	pool        *pool.Pool
	sessionCfg  session.Config
	gracePeriod time.Duration

	wg sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New builds a Listener over an already-bound net.Listener.
func New(ln net.Listener, p *pool.Pool, sessionCfg session.Config, gracePeriod time.Duration) *Listener {
	return &Listener{ln: ln, pool: p, sessionCfg: sessionCfg, gracePeriod: gracePeriod, conns: make(map[net.Conn]struct{})}
}

// Serve accepts connections until ctx is canceled, spawning a session
// goroutine per connection. On cancellation it stops accepting, closes
// the listener, and waits up to gracePeriod for in-flight sessions to
// finish on their own; any session still running once the grace period
// elapses has its downstream connection force-closed, which unwinds the
// relay and the upstream connection along with it.
func (l *Listener) Serve(ctx context.Context) error {
	acceptErr := make(chan error, 1)

	go func() {
		acceptErr <- l.acceptLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		l.ln.Close()
		l.waitWithGrace()
		return nil
	case err := <-acceptErr:
		l.waitWithGrace()
		return err
	}
}

func (l *Listener) acceptLoop(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			logging.Warnf("listener: accept error: %v", err)
			continue
		}

		l.trackConn(conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrackConn(conn)
			session.Handle(ctx, conn, l.pool, l.sessionCfg)
		}()
	}
}

// waitWithGrace waits for in-flight sessions to finish, up to gracePeriod;
// any session still running once that elapses has its downstream
// connection force-closed, which tears down the relay and its upstream
// connection with it.
func (l *Listener) waitWithGrace() {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Infof("listener: all sessions drained")
	case <-time.After(l.gracePeriod):
		logging.Warnf("listener: grace period (%s) elapsed, force-closing remaining sessions", l.gracePeriod)
		l.closeRemaining()
		<-done
	}
}

func (l *Listener) trackConn(conn net.Conn) {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	l.conns[conn] = struct{}{}
}

func (l *Listener) untrackConn(conn net.Conn) {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	delete(l.conns, conn)
}

func (l *Listener) closeRemaining() {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	for conn := range l.conns {
		conn.Close()
	}
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
