// Package metrics keeps lock-free counters for the arena server and renders
// them as a JSON snapshot for the admin endpoint.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics counts server events. The zero value is not usable; call New.
type Metrics struct {
	started time.Time

	accepted      atomic.Int64
	rejected      atomic.Int64
	ended         atomic.Int64
	malformed     atomic.Int64
	ticks         atomic.Int64
	tickNanos     atomic.Int64
	maxTickNanos  atomic.Int64
	overruns      atomic.Int64
	deaths        atomic.Int64
	pickups       atomic.Int64
	spawnFailures atomic.Int64
	viewers       atomic.Int64
}

// New returns zeroed metrics with the uptime clock started.
func New() *Metrics {
	return &Metrics{started: time.Now()}
}

// Connection and session counters.

func (m *Metrics) ConnectionAccepted() { m.accepted.Add(1) }
func (m *Metrics) ConnectionRejected() { m.rejected.Add(1) }
func (m *Metrics) SessionEnded()       { m.ended.Add(1) }
func (m *Metrics) MalformedLine()      { m.malformed.Add(1) }
func (m *Metrics) ViewerJoined()       { m.viewers.Add(1) }
func (m *Metrics) ViewerLeft()         { m.viewers.Add(-1) }

// ObserveTick records one player frame that took d; overrun marks frames
// that exceeded their budget.
func (m *Metrics) ObserveTick(d time.Duration, overrun bool) {
	m.ticks.Add(1)
	m.tickNanos.Add(int64(d))
	if overrun {
		m.overruns.Add(1)
	}

	for {
		cur := m.maxTickNanos.Load()
		if int64(d) <= cur || m.maxTickNanos.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// SnakeDied implements engine.Recorder.
func (m *Metrics) SnakeDied(int64) { m.deaths.Add(1) }

// PowerUpCollected implements engine.Recorder.
func (m *Metrics) PowerUpCollected(int64, int) { m.pickups.Add(1) }

// SpawnFailed implements engine.Recorder.
func (m *Metrics) SpawnFailed() { m.spawnFailures.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	UptimeSeconds      float64 `json:"uptime_seconds"`
	Players            int     `json:"players"`
	Viewers            int64   `json:"viewers"`
	ConnectionsTotal   int64   `json:"connections_total"`
	ConnectionsDropped int64   `json:"connections_rejected"`
	SessionsEnded      int64   `json:"sessions_ended"`
	MalformedLines     int64   `json:"malformed_lines"`
	TickCount          int64   `json:"tick_count"`
	AvgTickMs          float64 `json:"avg_tick_ms"`
	MaxTickMs          float64 `json:"max_tick_ms"`
	FrameOverruns      int64   `json:"frame_overruns"`
	Deaths             int64   `json:"deaths"`
	PowerUpsCollected  int64   `json:"powerups_collected"`
	SpawnFailures      int64   `json:"spawn_failures"`
}

// Snapshot copies the counters. players is the current live player count,
// which the caller reads from the engine.
func (m *Metrics) Snapshot(players int) Snapshot {
	ticks := m.ticks.Load()
	var avg float64
	if ticks > 0 {
		avg = float64(m.tickNanos.Load()) / float64(ticks) / 1e6
	}

	return Snapshot{
		UptimeSeconds:      time.Since(m.started).Seconds(),
		Players:            players,
		Viewers:            m.viewers.Load(),
		ConnectionsTotal:   m.accepted.Load(),
		ConnectionsDropped: m.rejected.Load(),
		SessionsEnded:      m.ended.Load(),
		MalformedLines:     m.malformed.Load(),
		TickCount:          ticks,
		AvgTickMs:          avg,
		MaxTickMs:          float64(m.maxTickNanos.Load()) / 1e6,
		FrameOverruns:      m.overruns.Load(),
		Deaths:             m.deaths.Load(),
		PowerUpsCollected:  m.pickups.Load(),
		SpawnFailures:      m.spawnFailures.Load(),
	}
}
