package spectator

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/snakearena/config"
	"github.com/cyberinferno/snakearena/engine"
	"github.com/cyberinferno/snakearena/metrics"
	"github.com/cyberinferno/snakearena/protocol"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()

	s := config.Default()
	s.MaxPowerUps = 2
	e, err := engine.New(s, engine.Options{Rand: rand.New(rand.NewSource(5))})
	require.NoError(t, err)

	return e
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		if resp != nil {
			_ = resp.Body.Close()
		}
	})

	return conn
}

func readRecords(t *testing.T, conn *websocket.Conn) []protocol.Record {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	kind, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	lines, rest := protocol.SplitLines(string(payload))
	assert.Empty(t, rest)

	records := make([]protocol.Record, 0, len(lines))
	for _, line := range lines {
		rec, err := protocol.DecodeRecord(line)
		require.NoError(t, err)
		records = append(records, rec)
	}

	return records
}

func TestHub_StreamsFrames(t *testing.T) {
	e := newEngine(t)
	_, err := e.AddPlayer(1, "alice", nil)
	require.NoError(t, err)

	m := metrics.New()
	hub, err := NewHub(Options{Source: e, Metrics: m, Period: 5 * time.Millisecond})
	require.NoError(t, err)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	conn := dial(t, srv)

	t.Run("walls arrive first", func(t *testing.T) {
		records := readRecords(t, conn)
		require.Len(t, records, 4)
		for i, rec := range records {
			wall, ok := rec.(protocol.WallRecord)
			require.True(t, ok)
			assert.Equal(t, i, wall.Wall)
		}
	})

	t.Run("frames carry snakes then power-ups", func(t *testing.T) {
		records := readRecords(t, conn)
		require.Len(t, records, 3)

		snake, ok := records[0].(protocol.SnakeRecord)
		require.True(t, ok)
		assert.Equal(t, int64(1), snake.Snake)
		assert.Equal(t, "alice", snake.Name)
		assert.IsType(t, protocol.PowerUpRecord{}, records[1])
		assert.IsType(t, protocol.PowerUpRecord{}, records[2])
	})

	assert.Equal(t, 1, hub.ViewerCount())
	assert.Equal(t, int64(1), m.Snapshot(0).Viewers)

	t.Run("leaving viewers are unregistered", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
		_ = conn.Close()

		assert.Eventually(t, func() bool {
			return hub.ViewerCount() == 0 && m.Snapshot(0).Viewers == 0
		}, 3*time.Second, 10*time.Millisecond)
	})
}

func TestHub_Close(t *testing.T) {
	hub, err := NewHub(Options{Source: newEngine(t), Period: 5 * time.Millisecond})
	require.NoError(t, err)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ViewerCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Zero(t, hub.ViewerCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	hub.Close()
}

func TestNewHub_RequiresSource(t *testing.T) {
	_, err := NewHub(Options{})
	assert.ErrorIs(t, err, ErrNoSource)
}
