// Package server accepts game clients, turns each connection into a player
// session and drives that player's frames against the shared engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/cyberinferno/snakearena/cacher"
	"github.com/cyberinferno/snakearena/engine"
	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/metrics"
	"github.com/cyberinferno/snakearena/protocol"
	"github.com/cyberinferno/snakearena/safemap"
	"github.com/cyberinferno/snakearena/transport"
)

var (
	// ErrCapacityExceeded is logged for connections dropped because the
	// arena is full.
	ErrCapacityExceeded = errors.New("server at capacity")

	// ErrServerStopped is returned for work refused during shutdown.
	ErrServerStopped = errors.New("server stopped")

	// ErrSessionTerminated is returned when a session ends while its
	// player is being added.
	ErrSessionTerminated = errors.New("session terminated")
)

// Options configures a Server. Engine is required.
type Options struct {
	// Addr is the listen address, for example ":11000".
	Addr    string
	Engine  *engine.Engine
	Logger  logger.Logger
	Metrics *metrics.Metrics
	// WallCache holds the encoded wall lines sent in every handshake.
	// Defaults to an in-memory cache.
	WallCache cacher.Cacher[[]string]
	Transport transport.Config
}

// Server owns the listener and every live session.
type Server struct {
	addr     string
	engine   *engine.Engine
	log      logger.Logger
	metrics  *metrics.Metrics
	walls    cacher.Cacher[[]string]
	wallsKey string
	tcfg     transport.Config

	listener *transport.Listener
	sessions *safemap.SafeMap[int64, *Session]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// New validates opts and builds a stopped server.
//
// Parameters:
//   - opts: Listen address, engine and optional logger, metrics and wall cache
//
// Returns:
//   - The server, not yet accepting
//   - An error if the engine is missing
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.WallCache == nil {
		opts.WallCache = cacher.NewMemoryCacher[[]string](0)
	}
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     opts.Addr,
		engine:   opts.Engine,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		walls:    opts.WallCache,
		wallsKey: wallsKey(opts.Engine),
		tcfg:     opts.Transport,
		sessions: safemap.NewSafeMap[int64, *Session](),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// wallsKey derives a cache key from the wall layout so servers with
// different layouts can share one Redis.
func wallsKey(e *engine.Engine) string {
	layout := fmt.Sprintf("%d|%v", e.Settings().UniverseSize, e.Walls())

	return cacher.Key("walls", fmt.Sprintf("%016x", xxhash.Sum64String(layout)))
}

// Start binds the listen address and begins accepting players.
//
// Returns:
//   - An error if listening on the address fails
func (s *Server) Start() error {
	l, err := transport.Listen(s.addr, s.tcfg, s.accept)
	if err != nil {
		return err
	}

	s.listener = l
	s.log.Info("Arena server started",
		logger.Field{Key: "addr", Value: l.Addr().String()},
		logger.Field{Key: "max_players", Value: s.engine.Settings().MaxPlayers},
	)

	return nil
}

// Stop closes the listener and every connection, then waits for the frame
// loops to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	s.cancel()
	if s.listener != nil {
		s.listener.Stop()
	}
	s.sessions.Range(func(_ int64, sess *Session) bool {
		sess.terminate(ErrServerStopped)
		return true
	})
	s.wg.Wait()

	s.log.Info("Arena server stopped")
}

// spawn runs fn on a tracked goroutine unless the server is stopping.
func (s *Server) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()

	return true
}

// Addr returns the bound address, or nil before Start.
//
// Returns:
//   - The listener address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// ListenerDone is closed when the accept loop exits. It is nil before Start.
func (s *Server) ListenerDone() <-chan struct{} {
	if s.listener == nil {
		return nil
	}

	return s.listener.Done()
}

// ListenerErr returns the fatal accept error, if the acceptor died.
//
// Returns:
//   - An error wrapping transport.ErrListenerFatal, or nil
func (s *Server) ListenerErr() error {
	if s.listener == nil {
		return nil
	}

	return s.listener.Err()
}

// SessionCount returns the number of sessions that have not terminated.
//
// Returns:
//   - The live session count, including sessions still awaiting a name
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

// Session returns the live session for a connection ID.
//
// Parameters:
//   - id: The connection ID
//
// Returns:
//   - The session and true if it is live, or nil and false otherwise
func (s *Server) Session(id int64) (*Session, bool) {
	return s.sessions.Load(id)
}

// Metrics returns the server's counters.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) accept(c *transport.Conn) {
	if err := c.Err(); err != nil {
		s.log.Error("Acceptor died; existing players keep playing", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		_ = c.Close()
		return
	}

	if s.sessions.Len() >= s.engine.Settings().MaxPlayers {
		s.metrics.ConnectionRejected()
		s.log.Warn("Connection dropped",
			logger.Field{Key: "remote", Value: c.RemoteAddr()},
			logger.Field{Key: "error", Value: ErrCapacityExceeded.Error()},
		)
		_ = c.Close()
		return
	}

	s.metrics.ConnectionAccepted()
	sess := newSession(s, c)
	s.sessions.Store(c.ID, sess)
	sess.log.Debug("Connection accepted")

	sess.begin()
}

// wallLines returns the encoded handshake wall records, one per line.
func (s *Server) wallLines(ctx context.Context) ([]string, error) {
	lines, err := s.walls.GetOrFetch(ctx, s.wallsKey, 0, s.encodeWalls)
	if err == nil {
		return lines, nil
	}

	// Encode directly when the cache is unreachable.
	s.log.Warn("Wall cache unavailable", logger.Field{Key: "error", Value: err.Error()})
	return s.encodeWalls(ctx)
}

func (s *Server) encodeWalls(context.Context) ([]string, error) {
	walls := s.engine.Walls()
	lines := make([]string, 0, len(walls))
	for i := range walls {
		line, err := protocol.EncodeWall(&walls[i])
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	return lines, nil
}
