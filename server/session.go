package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/perfmonitor"
	"github.com/cyberinferno/snakearena/protocol"
	"github.com/cyberinferno/snakearena/transport"
	"github.com/cyberinferno/snakearena/world"
)

// SessionState is the lifecycle stage of a connection.
type SessionState int32

const (
	Accepted SessionState = iota
	AwaitingName
	PlayerActive
	Terminated
)

// String returns a human-readable name for the state.
func (s SessionState) String() string {
	switch s {
	case Accepted:
		return "Accepted"
	case AwaitingName:
		return "AwaitingName"
	case PlayerActive:
		return "PlayerActive"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Session turns one connection into a player: it reads the name, performs
// the handshake, feeds commands to the engine and runs the player's frame
// loop.
type Session struct {
	id   int64
	conn *transport.Conn
	srv  *Server
	log  logger.Logger

	state atomic.Int32
	name  string

	done          chan struct{}
	terminateOnce sync.Once
}

func newSession(srv *Server, c *transport.Conn) *Session {
	sess := &Session{
		id:   c.ID,
		conn: c,
		srv:  srv,
		log:  srv.log.With(logger.Field{Key: "conn", Value: c.ID}, logger.Field{Key: "remote", Value: c.RemoteAddr()}),
		done: make(chan struct{}),
	}
	sess.state.Store(int32(Accepted))

	return sess
}

// ID returns the connection ID, which is also the player's snake ID.
func (sess *Session) ID() int64 { return sess.id }

// Name returns the sanitized player name, or "" before the handshake.
func (sess *Session) Name() string { return sess.name }

// State returns the current lifecycle stage.
func (sess *Session) State() SessionState {
	return SessionState(sess.state.Load())
}

// Done is closed once the session has terminated.
func (sess *Session) Done() <-chan struct{} { return sess.done }

// begin arms the read for the name line.
func (sess *Session) begin() {
	sess.state.Store(int32(AwaitingName))
	sess.conn.OnNetworkAction = sess.onNetworkAction
	transport.Receive(sess.conn)
}

func (sess *Session) onNetworkAction(c *transport.Conn) {
	if err := c.Err(); err != nil {
		sess.terminate(err)
		return
	}

	lines := c.TakeLines()
	if sess.State() == AwaitingName {
		if len(lines) == 0 {
			transport.Receive(c)
			return
		}

		if err := sess.join(protocol.SanitizeName(lines[0])); err != nil {
			sess.terminate(err)
			return
		}
		lines = lines[1:]
	}

	for _, line := range lines {
		sess.handleCommand(line)
	}

	if sess.State() != Terminated {
		transport.Receive(c)
	}
}

func (sess *Session) handleCommand(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	d, err := protocol.ParseCommand(line)
	if err != nil {
		sess.srv.metrics.MalformedLine()
		sess.log.Debug("Dropped malformed line", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	sess.srv.engine.SetCommand(sess.id, d)
}

// join registers the snake and sends the handshake while the world lock is
// held, so no frame can reach the client before its walls.
func (sess *Session) join(name string) error {
	walls, err := sess.srv.wallLines(sess.srv.ctx)
	if err != nil {
		return fmt.Errorf("handshake walls: %w", err)
	}

	sess.name = name
	sent := true
	_, err = sess.srv.engine.AddPlayer(sess.id, name, func(w *world.World, _ *world.Snake) {
		sent = transport.Send(sess.conn, protocol.HandshakeHeader(sess.id, w.Size))
		for _, line := range walls {
			sent = sent && transport.Send(sess.conn, line)
		}
	})
	if err != nil {
		return err
	}

	// A terminate that ran during AddPlayer saw no player to disconnect.
	if !sess.state.CompareAndSwap(int32(AwaitingName), int32(PlayerActive)) {
		sess.srv.engine.Disconnect(sess.id)
		return fmt.Errorf("join: %w", ErrSessionTerminated)
	}
	if !sent {
		return fmt.Errorf("handshake: %w", transport.ErrConnectionClosed)
	}

	sess.log.Info("Player active", logger.Field{Key: "name", Value: name})

	if !sess.srv.spawn(func() { sess.run(sess.srv.ctx) }) {
		sess.srv.engine.Disconnect(sess.id)
		return ErrServerStopped
	}

	return nil
}

// run is the player's frame loop: pace, update, broadcast, purge.
func (sess *Session) run(ctx context.Context) {
	frame := sess.srv.engine.Settings().FrameDuration()
	pacer := NewPacer(frame, DefaultSpinWindow)
	monitor := perfmonitor.NewPerformanceMonitor()

	for {
		if err := pacer.Wait(ctx); err != nil {
			return
		}
		if sess.State() == Terminated {
			return
		}

		monitor.Start()
		if err := sess.srv.engine.Update(sess.id); err != nil {
			sess.terminate(err)
			return
		}

		ok := sess.broadcast()
		sess.srv.engine.PurgeDisconnected()
		monitor.Stop()

		sess.srv.metrics.ObserveTick(monitor.Elapsed(), monitor.Exceeded(frame))
		if monitor.Exceeded(frame) {
			sess.log.Debug("Frame over budget", logger.Field{Key: "ms", Value: monitor.ElapsedMilliseconds()})
		}

		if !ok {
			sess.terminate(fmt.Errorf("broadcast: %w", transport.ErrConnectionClosed))
			return
		}
	}
}

// broadcast sends every snake, then every power-up, as one write. It
// acknowledges the disconnected snakes it delivered.
func (sess *Session) broadcast() bool {
	var (
		frame    string
		departed []int64
		err      error
	)
	sess.srv.engine.View(func(w *world.World) {
		frame, departed, err = protocol.EncodeFrame(w)
	})
	if err != nil {
		sess.log.Warn("Record skipped", logger.Field{Key: "error", Value: err.Error()})
	}

	if !transport.Send(sess.conn, frame) {
		return false
	}

	sess.srv.engine.AckBroadcast(sess.id, departed)
	return true
}

// terminate ends the session once. A joined player's snake is flagged as
// disconnected and left for the other sessions to report.
func (sess *Session) terminate(cause error) {
	sess.terminateOnce.Do(func() {
		joined := sess.State() == PlayerActive
		sess.state.Store(int32(Terminated))

		if joined {
			sess.srv.engine.Disconnect(sess.id)
		}
		sess.srv.sessions.Delete(sess.id)
		_ = sess.conn.Close()
		sess.srv.metrics.SessionEnded()

		fields := []logger.Field{{Key: "joined", Value: joined}}
		if cause != nil && !errors.Is(cause, context.Canceled) {
			fields = append(fields, logger.Field{Key: "cause", Value: cause.Error()})
		}
		sess.log.Info("Session terminated", fields...)

		close(sess.done)
	})
}
