// Package client is a headless arena client. It connects, sends the player
// name, reads the handshake and mirrors the server's world from the
// per-frame records. Events are delivered to registered handlers.
package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cyberinferno/snakearena/config"
	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/protocol"
	"github.com/cyberinferno/snakearena/transport"
	"github.com/cyberinferno/snakearena/world"
)

// ErrNotConnected is returned when sending before the handshake completed.
var ErrNotConnected = errors.New("not connected")

// ConnectionState is the client's lifecycle stage.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Handshaking                         // Name sent, waiting for ID and size
	Playing                             // Receiving frames
	Closed                              // Closed by the caller
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Playing:
		return "Playing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectedHandler is called once the handshake integers have arrived.
type ConnectedHandler func(id int64, size int)

// WorldHandler is called after each batch of records is applied. The world
// lock is held for the duration of the call.
type WorldHandler func(w *world.World)

// ErrorHandler is called for connection failures.
type ErrorHandler func(err error)

// Config holds the client's connection settings.
type Config struct {
	Host      string
	Port      int
	Name      string
	Logger    logger.Logger
	Transport transport.Config
}

// DefaultConfig returns a Config for the given host and player name on the
// default game port.
//
// Parameters:
//   - host: The server host
//   - name: The player name sent in the handshake
//
// Returns:
//   - A Config with default timeouts and a nop logger
func DefaultConfig(host, name string) Config {
	return Config{
		Host:      host,
		Port:      config.DefaultPort,
		Name:      name,
		Logger:    logger.NewNopLogger(),
		Transport: transport.DefaultConfig(),
	}
}

// Client mirrors one player's view of the arena. It is safe for concurrent
// use.
type Client struct {
	cfg Config
	log logger.Logger

	mu          sync.RWMutex
	conn        *transport.Conn
	state       ConnectionState
	id          int64
	size        int
	headerLines int
	world       *world.World

	onConnected ConnectedHandler
	onWorld     WorldHandler
	onError     ErrorHandler
}

// New creates a disconnected client.
//
// Parameters:
//   - cfg: Server address, player name and logger
//
// Returns:
//   - A client in the Disconnected state
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}

	return &Client{
		cfg:   cfg,
		log:   cfg.Logger.With(logger.Field{Key: "player", Value: cfg.Name}),
		state: Disconnected,
	}
}

// OnConnected registers the handshake handler, replacing any previous one.
func (c *Client) OnConnected(h ConnectedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = h
}

// OnWorld registers the world update handler, replacing any previous one.
func (c *Client) OnWorld(h WorldHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWorld = h
}

// OnError registers the error handler, replacing any previous one.
func (c *Client) OnError(h ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = h
}

// Connect starts connecting in the background. Results are reported via the
// handlers.
//
// Returns:
//   - An error if the client is closed or already connected
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return errors.New("client is closed")
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return errors.New("already connected or connecting")
	}
	c.state = Connecting
	c.headerLines = 0
	c.world = nil
	c.mu.Unlock()

	transport.Connect(c.cfg.Host, c.cfg.Port, c.cfg.Transport, c.onConnect)
	return nil
}

func (c *Client) onConnect(conn *transport.Conn) {
	if err := conn.Err(); err != nil {
		c.setState(Disconnected)
		c.emitError(err)
		return
	}

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = Handshaking
	c.mu.Unlock()

	conn.OnNetworkAction = c.onData
	transport.Send(conn, c.cfg.Name+"\n")
	transport.Receive(conn)
}

func (c *Client) onData(conn *transport.Conn) {
	if err := conn.Err(); err != nil {
		c.mu.Lock()
		closed := c.state == Closed
		if !closed {
			c.state = Disconnected
		}
		c.mu.Unlock()

		if !closed {
			c.emitError(err)
		}
		return
	}

	for _, line := range conn.TakeLines() {
		c.handleLine(line)
	}

	c.mu.RLock()
	w, h := c.world, c.onWorld
	c.mu.RUnlock()
	if w != nil && h != nil {
		w.Lock()
		h(w)
		w.Unlock()
	}

	transport.Receive(conn)
}

func (c *Client) handleLine(line string) {
	c.mu.Lock()
	if c.headerLines < 2 {
		n, err := protocol.ParseHandshakeInt(line)
		if err != nil {
			c.mu.Unlock()
			c.log.Debug("Dropped handshake line", logger.Field{Key: "error", Value: err.Error()})
			return
		}

		c.headerLines++
		if c.headerLines == 1 {
			c.id = n
			c.mu.Unlock()
			return
		}

		c.size = int(n)
		c.world = world.New(c.size)
		c.state = Playing
		id, size, h := c.id, c.size, c.onConnected
		c.mu.Unlock()

		if h != nil {
			h(id, size)
		}
		return
	}
	w := c.world
	c.mu.Unlock()

	rec, err := protocol.DecodeRecord(line)
	if err != nil {
		c.log.Debug("Dropped line", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	w.Lock()
	defer w.Unlock()
	apply(w, rec)
}

// apply folds one record into the mirror. Caller holds the world lock.
func apply(w *world.World, rec protocol.Record) {
	switch r := rec.(type) {
	case protocol.WallRecord:
		w.Walls[r.Wall] = &world.Wall{ID: r.Wall, P1: r.P1, P2: r.P2}
	case protocol.SnakeRecord:
		if r.DC {
			delete(w.Snakes, r.Snake)
			return
		}
		if len(r.Body) < 2 {
			return
		}

		s, ok := w.Snakes[r.Snake]
		if !ok {
			s = world.NewSnake(r.Snake, r.Name, r.Body[0], r.Body[len(r.Body)-1], world.DirectionOf(r.Dir))
			w.Snakes[r.Snake] = s
		}
		s.Name = r.Name
		s.SetBody(r.Body)
		s.Dir = world.DirectionOf(r.Dir)
		s.Score = r.Score
		s.Alive = r.Alive
		s.Died = r.Died
		s.Join = r.Join
	case protocol.PowerUpRecord:
		if r.Died {
			delete(w.PowerUps, r.Power)
			return
		}
		w.PowerUps[r.Power] = &world.PowerUp{ID: r.Power, Loc: r.Loc}
	}
}

// SendMove sends a steering command.
//
// Parameters:
//   - d: The requested heading
//
// Returns:
//   - ErrNotConnected before the handshake completes
//   - An error wrapping transport.ErrConnectionClosed if the send fails
func (c *Client) SendMove(d world.Direction) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != Playing || conn == nil {
		return ErrNotConnected
	}
	if !transport.Send(conn, protocol.EncodeCommand(d)) {
		return fmt.Errorf("send move: %w", transport.ErrConnectionClosed)
	}

	return nil
}

// ID returns the player ID assigned by the server, or 0.
func (c *Client) ID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Size returns the world size from the handshake, or 0.
func (c *Client) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// View calls fn with the mirrored world under its lock. fn is not called
// before the handshake completes.
//
// Parameters:
//   - fn: Reader of the locked mirror
func (c *Client) View(fn func(w *world.World)) {
	c.mu.RLock()
	w := c.world
	c.mu.RUnlock()
	if w == nil {
		return
	}

	w.Lock()
	defer w.Unlock()
	fn(w)
}

// Close disconnects and moves the client to Closed. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}

	return nil
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed {
		c.state = s
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	h := c.onError
	c.mu.RUnlock()

	c.log.Debug("Connection error", logger.Field{Key: "error", Value: err.Error()})
	if h != nil {
		h(err)
	}
}
