package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/cyberinferno/snakearena/idgenerator"
	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/safemap"
)

// Listener accepts connections and hands each one to its NetworkAction.
// Accepted connections are tracked until they close.
type Listener struct {
	cfg      Config
	ln       net.Listener
	ids      *idgenerator.IdGenerator
	conns    *safemap.SafeMap[int64, *Conn]
	onAccept NetworkAction
	stopped  atomic.Bool
	done     chan struct{}
	err      atomic.Pointer[error]
}

// Listen binds addr and starts the accept loop. Each accepted connection is
// passed to onAccept with a fresh ID; the loop re-arms itself after every
// accept. If accepting fails for any reason other than Stop, onAccept
// receives one error connection wrapping ErrListenerFatal and the loop ends.
// Connections accepted earlier keep running.
//
// Parameters:
//   - addr: The TCP address to bind, e.g. ":8080"
//   - cfg: Transport tunables; zero fields get defaults
//   - onAccept: Receives every accepted connection
//
// Returns:
//   - The running listener
//   - An error wrapping ErrConnection if addr cannot be bound
func Listen(addr string, cfg Config, onAccept NetworkAction) (*Listener, error) {
	cfg = cfg.withDefaults()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cfg.Logger.Error("Listener failed to start", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "error", Value: err.Error()})
		return nil, fmt.Errorf("%w: listen %s: %v", ErrConnection, addr, err)
	}

	cfg.Logger.Info("Listener started", logger.Field{Key: "addr", Value: ln.Addr().String()})
	return serve(ln, cfg, onAccept), nil
}

func serve(ln net.Listener, cfg Config, onAccept NetworkAction) *Listener {
	l := &Listener{
		cfg:      cfg,
		ln:       ln,
		ids:      idgenerator.NewIdGenerator(1),
		conns:    safemap.NewSafeMap[int64, *Conn](),
		onAccept: onAccept,
		done:     make(chan struct{}),
	}

	go l.acceptLoop()
	return l
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Done is closed when the accept loop has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Err returns the fatal accept error, or nil if the loop is running or was
// stopped.
func (l *Listener) Err() error {
	if p := l.err.Load(); p != nil {
		return *p
	}

	return nil
}

// ConnCount returns the number of open accepted connections.
func (l *Listener) ConnCount() int {
	return l.conns.Len()
}

// Stop closes the listener and every accepted connection. Safe to call
// multiple times.
func (l *Listener) Stop() {
	if !l.stopped.CompareAndSwap(false, true) {
		return
	}

	_ = l.ln.Close()
	<-l.done

	l.conns.Range(func(_ int64, c *Conn) bool {
		_ = c.Close()
		return true
	})

	l.cfg.Logger.Info("Listener stopped", logger.Field{Key: "addr", Value: l.ln.Addr().String()})
}

func (l *Listener) acceptLoop() {
	defer close(l.done)

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if l.stopped.Load() {
				return
			}

			fatal := fmt.Errorf("%w: %v", ErrListenerFatal, err)
			l.err.Store(&fatal)
			_ = l.ln.Close()

			l.cfg.Logger.Error("Accept loop died", logger.Field{Key: "error", Value: err.Error()})
			if l.onAccept != nil {
				l.onAccept(errorConn(fatal))
			}
			return
		}

		c := newConn(l.ids.Id(), nc, l.cfg)
		c.onClose = func(c *Conn) { l.conns.Delete(c.ID) }
		l.conns.Store(c.ID, c)

		if l.onAccept != nil {
			l.onAccept(c)
		}
	}
}

// Connect dials host:port in the background with the configured connect
// timeout and delivers the result to onConnect: either a live connection or
// an error connection wrapping ErrConnection.
//
// Parameters:
//   - host: The server host
//   - port: The server port
//   - cfg: Transport tunables; ConnectTimeout bounds the dial
//   - onConnect: Receives the connection exactly once
func Connect(host string, port int, cfg Config, onConnect NetworkAction) {
	cfg = cfg.withDefaults()

	go func() {
		onConnect(Dial(context.Background(), net.JoinHostPort(host, strconv.Itoa(port)), cfg))
	}()
}

// Dial is the blocking form of Connect. The returned connection carries an
// error wrapping ErrConnection when dialing fails.
//
// Parameters:
//   - ctx: Cancels the dial
//   - addr: The host:port to dial
//   - cfg: Transport tunables; ConnectTimeout bounds the dial
//
// Returns:
//   - A live connection, or an error connection
func Dial(ctx context.Context, addr string, cfg Config) *Conn {
	cfg = cfg.withDefaults()

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Timeout() {
			err = fmt.Errorf("timed out after %s: %w", cfg.ConnectTimeout, err)
		}
		return errorConn(fmt.Errorf("%w: connect %s: %v", ErrConnection, addr, err))
	}

	return newConn(0, nc, cfg)
}
