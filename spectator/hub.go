// Package spectator streams the arena to read-only WebSocket viewers. A
// viewer receives the wall records once on join and then one text message
// per frame holding the same snake and power-up lines the game clients get.
package spectator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cyberinferno/snakearena/config"
	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/metrics"
	"github.com/cyberinferno/snakearena/protocol"
	"github.com/cyberinferno/snakearena/safemap"
	"github.com/cyberinferno/snakearena/world"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
)

// ErrNoSource is returned by NewHub when Options.Source is nil.
var ErrNoSource = errors.New("spectator: no world source")

// Source is the read side of the engine the hub streams from.
type Source interface {
	View(fn func(w *world.World))
	Walls() []world.Wall
}

// Options configures a Hub. Only Source is required.
type Options struct {
	Source  Source
	Logger  logger.Logger
	Metrics *metrics.Metrics
	// Period is the frame interval. Defaults to the default settings'
	// frame duration.
	Period time.Duration
	// QueueSize bounds the frames buffered per viewer; a viewer whose
	// queue is full is dropped. Defaults to 16.
	QueueSize   int
	CheckOrigin func(r *http.Request) bool
}

type viewer struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (v *viewer) close() {
	v.closeOnce.Do(func() {
		close(v.done)
		_ = v.conn.Close()
	})
}

// Hub owns the viewer set and the frame ticker.
type Hub struct {
	source    Source
	log       logger.Logger
	metrics   *metrics.Metrics
	period    time.Duration
	queueSize int
	upgrader  websocket.Upgrader

	viewers *safemap.SafeMap[uuid.UUID, *viewer]
	closed  atomic.Bool
}

// NewHub creates a hub. Call Run to start streaming.
//
// Parameters:
//   - opts: The world source plus optional logger, metrics, period, queue size
//     and origin check
//
// Returns:
//   - The hub
//   - ErrNoSource if opts.Source is nil
func NewHub(opts Options) (*Hub, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Period <= 0 {
		opts.Period = config.Default().FrameDuration()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		source:    opts.Source,
		log:       opts.Logger.With(logger.Field{Key: "component", Value: "spectator"}),
		metrics:   opts.Metrics,
		period:    opts.Period,
		queueSize: opts.QueueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		viewers: safemap.NewSafeMap[uuid.UUID, *viewer](),
	}, nil
}

// ServeHTTP upgrades the request and registers the viewer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "spectator feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Upgrade failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	v := &viewer{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, h.queueSize),
		done: make(chan struct{}),
	}

	walls, err := h.wallMessage()
	if err != nil {
		h.log.Warn("Wall record skipped", logger.Field{Key: "error", Value: err.Error()})
	}
	v.send <- walls

	h.viewers.Store(v.id, v)
	h.metrics.ViewerJoined()
	h.log.Info("Viewer joined",
		logger.Field{Key: "viewer", Value: v.id.String()},
		logger.Field{Key: "remote", Value: r.RemoteAddr},
	)

	// A Close racing with the registration above must not leak the viewer.
	if h.closed.Load() {
		h.remove(v, "hub closed")
		return
	}

	go h.writePump(v)
	go h.readPump(v)
}

func (h *Hub) wallMessage() ([]byte, error) {
	var (
		b    strings.Builder
		errs []error
	)
	for _, wall := range h.source.Walls() {
		line, err := protocol.EncodeWall(&wall)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.WriteString(line)
	}

	return []byte(b.String()), errors.Join(errs...)
}

// Run broadcasts a frame every period until ctx is done, then closes the
// hub.
//
// Parameters:
//   - ctx: Stops the broadcast loop
//
// Returns:
//   - nil once ctx is done
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return nil
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) broadcast() {
	if h.viewers.Len() == 0 {
		return
	}

	var (
		frame string
		err   error
	)
	h.source.View(func(w *world.World) {
		frame, _, err = protocol.EncodeFrame(w)
	})
	if err != nil {
		h.log.Warn("Record skipped", logger.Field{Key: "error", Value: err.Error()})
	}
	if frame == "" {
		return
	}

	msg := []byte(frame)
	var targets []*viewer
	h.viewers.Range(func(_ uuid.UUID, v *viewer) bool {
		targets = append(targets, v)
		return true
	})

	for _, v := range targets {
		select {
		case v.send <- msg:
		default:
			h.remove(v, "send queue full")
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return
		case msg := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(v, err.Error())
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(v, err.Error())
				return
			}
		}
	}
}

// readPump discards viewer input; it exists to process control frames and
// notice when the viewer goes away.
func (h *Hub) readPump(v *viewer) {
	v.conn.SetReadLimit(maxMessageSize)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			h.remove(v, err.Error())
			return
		}
	}
}

func (h *Hub) remove(v *viewer, reason string) {
	if _, ok := h.viewers.LoadAndDelete(v.id); !ok {
		v.close()
		return
	}

	v.close()
	h.metrics.ViewerLeft()
	h.log.Info("Viewer left",
		logger.Field{Key: "viewer", Value: v.id.String()},
		logger.Field{Key: "reason", Value: reason},
	)
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	return h.viewers.Len()
}

// Close disconnects every viewer and refuses new ones. Idempotent.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	for _, id := range h.viewers.Keys() {
		if v, ok := h.viewers.Load(id); ok {
			h.remove(v, "hub closed")
		}
	}
}
