// Package transport is the arena's callback-driven TCP layer. Connections
// are delivered to a NetworkAction callback; reads are armed one at a time
// with Receive and writes are queued for an ordered per-connection writer so
// Send never blocks the caller.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/protocol"
)

var (
	// ErrConnection wraps every connect, send and receive failure.
	ErrConnection = errors.New("connection error")

	// ErrListenerFatal is reported once when the accept loop dies.
	ErrListenerFatal = errors.New("listener failed")

	// ErrConnectionClosed is reported for operations on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendQueueFull marks a connection whose peer stopped draining writes.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrReceiveBufferFull marks a connection whose peer sent more than
	// MaxBufferedBytes without the owner consuming it.
	ErrReceiveBufferFull = errors.New("receive buffer full")
)

// NetworkAction is invoked when a connection is delivered, when armed data
// arrives, or when an error occurs. It runs on a transport goroutine and
// must not block for long.
type NetworkAction func(c *Conn)

// Config holds tunables shared by Listen and Connect.
type Config struct {
	Logger logger.Logger
	// ReadBufferSize is the size of a single armed read.
	ReadBufferSize int
	// MaxBufferedBytes caps the unconsumed received data.
	MaxBufferedBytes int
	// SendQueueSize bounds the writes waiting for the writer goroutine.
	SendQueueSize int
	// WriteTimeout limits a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ConnectTimeout limits dialing in Connect.
	ConnectTimeout time.Duration
}

// DefaultConfig returns a Config with a 4096 byte read buffer, a 64 KiB
// receive cap, 1024 queued writes, a 5s write timeout and a 3s connect
// timeout.
func DefaultConfig() Config {
	return Config{
		Logger:           logger.NewNopLogger(),
		ReadBufferSize:   4096,
		MaxBufferedBytes: 64 << 10,
		SendQueueSize:    1024,
		WriteTimeout:     5 * time.Second,
		ConnectTimeout:   3 * time.Second,
	}
}

func (cfg Config) withDefaults() Config {
	d := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = d.Logger
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = d.ReadBufferSize
	}
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = d.MaxBufferedBytes
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = d.SendQueueSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}

	return cfg
}

// Conn is one endpoint. Its receive buffer and error state are guarded by a
// per-connection lock.
type Conn struct {
	// ID is unique per listener and stable for the connection's lifetime.
	ID int64
	// OnNetworkAction is the callback invoked by Receive. The owner sets it
	// before arming the first read.
	OnNetworkAction NetworkAction

	nc  net.Conn
	cfg Config

	mu   sync.Mutex
	data []byte
	err  error

	reading atomic.Bool
	rbuf    []byte

	sendq     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Conn)
}

func newConn(id int64, nc net.Conn, cfg Config) *Conn {
	c := &Conn{
		ID:    id,
		nc:    nc,
		cfg:   cfg,
		rbuf:  make([]byte, cfg.ReadBufferSize),
		sendq: make(chan []byte, cfg.SendQueueSize),
		done:  make(chan struct{}),
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	go c.writeLoop()
	return c
}

// errorConn builds a connection that only carries err.
func errorConn(err error) *Conn {
	c := &Conn{err: err, done: make(chan struct{})}
	c.closeOnce.Do(func() { close(c.done) })

	return c
}

// RemoteAddr returns the peer address, or "" for error connections.
func (c *Conn) RemoteAddr() string {
	if c.nc == nil {
		return ""
	}

	return c.nc.RemoteAddr().String()
}

// Data returns a copy of the unconsumed received text.
func (c *Conn) Data() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return string(c.data)
}

// RemoveData discards n bytes of buffered data starting at start. Out of
// range requests are clamped.
//
// Parameters:
//   - start: Offset of the first byte to drop
//   - n: Number of bytes to drop
func (c *Conn) RemoveData(start, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if start < 0 || start >= len(c.data) || n <= 0 {
		return
	}
	end := min(start+n, len(c.data))

	c.data = append(c.data[:start], c.data[end:]...)
}

// TakeLines removes and returns every complete newline-terminated line in
// the buffer, leaving a trailing partial line in place.
func (c *Conn) TakeLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, rest := protocol.SplitLines(string(c.data))
	c.data = append(c.data[:0], rest...)

	return lines
}

// Err returns the first error recorded on the connection.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// ErrorOccurred reports whether an error has been recorded.
func (c *Conn) ErrorOccurred() bool {
	return c.Err() != nil
}

// ErrorMessage returns the recorded error text, or "".
func (c *Conn) ErrorMessage() string {
	if err := c.Err(); err != nil {
		return err.Error()
	}

	return ""
}

// Closed reports whether Close has been called or the connection failed.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close closes the socket and stops the writer. Queued writes that have not
// been flushed are dropped. It is safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.nc != nil {
			err = c.nc.Close()
		}
		if c.onClose != nil {
			c.onClose(c)
		}
	})

	return err
}

// fail records err unless an error is already present, then closes.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	_ = c.Close()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.sendq:
			if b == nil {
				// SendAndClose marker.
				_ = c.Close()
				return
			}

			if c.cfg.WriteTimeout > 0 {
				_ = c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			}
			if _, err := c.nc.Write(b); err != nil {
				c.cfg.Logger.Debug("Write failed",
					logger.Field{Key: "conn", Value: c.ID},
					logger.Field{Key: "error", Value: err.Error()},
				)
				c.fail(fmt.Errorf("%w: send: %v", ErrConnection, err))
				return
			}
		}
	}
}

// Receive arms a single asynchronous read on c. When it completes the bytes
// are appended to the buffer, or the error is recorded, and
// c.OnNetworkAction is invoked exactly once. Callers re-arm from the
// callback to keep reading. Arming a connection with a read outstanding is a
// no-op. A buffer grown past MaxBufferedBytes fails the connection with
// ErrReceiveBufferFull.
//
// Parameters:
//   - c: The connection to read from
func Receive(c *Conn) {
	if c.nc == nil || !c.reading.CompareAndSwap(false, true) {
		return
	}

	go func() {
		n, err := c.nc.Read(c.rbuf)

		c.mu.Lock()
		if n > 0 {
			c.data = append(c.data, c.rbuf[:n]...)
		}
		if err != nil && c.err == nil {
			c.err = fmt.Errorf("%w: receive: %v", ErrConnection, err)
		}
		if c.err == nil && c.cfg.MaxBufferedBytes > 0 && len(c.data) > c.cfg.MaxBufferedBytes {
			c.err = fmt.Errorf("%w: %w", ErrConnection, ErrReceiveBufferFull)
		}
		failed := c.err != nil
		c.mu.Unlock()

		if failed {
			_ = c.Close()
		}

		c.reading.Store(false)
		if cb := c.OnNetworkAction; cb != nil {
			cb(c)
		}
	}()
}

// Send queues text for the writer without blocking.
//
// Parameters:
//   - c: The connection to write to
//   - text: The text to send; empty text only reports whether c is open
//
// Returns:
//   - false if the connection is closed or failed, or if the queue is full;
//     in the latter case the connection is failed with ErrSendQueueFull
func Send(c *Conn, text string) bool {
	if text == "" {
		return !c.Closed()
	}

	return enqueue(c, []byte(text))
}

// SendAndClose queues text and closes the connection once it is written.
//
// Parameters:
//   - c: The connection to write to
//   - text: The final text to send
//
// Returns:
//   - false if nothing could be queued
func SendAndClose(c *Conn, text string) bool {
	if !Send(c, text) {
		return false
	}

	return enqueue(c, nil)
}

func enqueue(c *Conn, b []byte) bool {
	if c.Closed() {
		return false
	}

	select {
	case c.sendq <- b:
		return true
	default:
		c.fail(fmt.Errorf("%w: %w", ErrConnection, ErrSendQueueFull))
		return false
	}
}
