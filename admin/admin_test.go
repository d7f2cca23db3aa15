package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/snakearena/metrics"
)

type fixedPlayers int

func (f fixedPlayers) PlayerCount() int { return int(f) }

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.SnakeDied(1)

	spectated := false
	h := NewHandler(Config{
		Metrics: m,
		Players: fixedPlayers(3),
		Spectate: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			spectated = true
			w.WriteHeader(http.StatusTeapot)
		}),
	})

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var snap metrics.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, 3, snap.Players)
		assert.Equal(t, int64(2), snap.ConnectionsTotal)
		assert.Equal(t, int64(1), snap.Deaths)
	})

	t.Run("metrics rejects writes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("spectate is delegated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/spectate", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.True(t, spectated)
	})
}

func TestHandler_WithoutSpectator(t *testing.T) {
	h := NewHandler(Config{Metrics: metrics.New()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/spectate", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
