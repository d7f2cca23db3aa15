package engine

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/snakearena/config"
	"github.com/cyberinferno/snakearena/world"
)

func randomWalls(rng *rand.Rand, size int) []world.Wall {
	half := size / 2
	walls := make([]world.Wall, 0)
	n := rng.Intn(7)
	for id := 0; id < n; id++ {
		x := float64(rng.Intn(size) - half)
		y := float64(rng.Intn(size) - half)
		length := float64(rng.Intn(600))

		w := world.Wall{ID: id, P1: world.Vec2{X: x, Y: y}}
		if rng.Intn(2) == 0 {
			w.P2 = world.Vec2{X: x + length, Y: y}
		} else {
			w.P2 = world.Vec2{X: x, Y: y + length}
		}
		walls = append(walls, w)
	}

	return walls
}

func TestFindSnakeSpawn_Property(t *testing.T) {
	const configs = 1000
	placed := 0

	for cfg := 0; cfg < configs; cfg++ {
		rng := rand.New(rand.NewSource(int64(cfg)))

		s := config.Default()
		s.Walls = randomWalls(rng, s.UniverseSize)
		s.MaxPowerUps = rng.Intn(21)

		e, err := New(s, Options{Rand: rng})
		require.NoError(t, err)

		players := int64(rng.Intn(6))
		for id := int64(0); id < players; id++ {
			_, _ = e.AddPlayer(id, "p", nil)
		}

		tail, head, dir, err := e.findSnakeSpawn(-1)
		if errors.Is(err, ErrNoSpawnPoint) {
			continue
		}
		require.NoError(t, err)
		placed++

		limit := float64(e.spawnLimit())
		for _, v := range []world.Vec2{tail, head} {
			require.LessOrEqual(t, math.Abs(v.X), limit, "config %d", cfg)
			require.LessOrEqual(t, math.Abs(v.Y), limit, "config %d", cfg)
		}
		require.Equal(t, tail.Add(dir.Vec().Scale(s.StartingLength)), head, "config %d", cfg)

		body := SegmentBox(tail, head, 0)
		for _, w := range e.world.Walls {
			require.False(t, WallBox(w).Expand(SpawnPadding).Overlaps(body), "config %d wall %d", cfg, w.ID)
		}
		for _, other := range e.world.Snakes {
			for i := 0; i+1 < len(other.Body); i++ {
				if other.IsGap(i) {
					continue
				}
				seg := SegmentBox(other.Body[i], other.Body[i+1], BodyPadding).Expand(SpawnPadding)
				require.False(t, seg.Overlaps(body), "config %d snake %d", cfg, other.ID)
			}
		}
		for _, p := range e.world.PowerUps {
			if p.Died {
				continue
			}
			require.GreaterOrEqual(t, distToSegment(p.Loc, tail, head), PickupRadius, "config %d power %d", cfg, p.ID)
		}
	}

	assert.Greater(t, placed, configs/2)
}

func TestFindSnakeSpawn_Exhausted(t *testing.T) {
	s := config.Default()
	s.Walls = nil
	s.MaxPowerUps = 0
	s.SpawnAttempts = 50
	// Padded horizontal walls every 200 units cover the whole spawn range.
	for i := 0; i < 9; i++ {
		y := float64(-800 + i*200)
		s.Walls = append(s.Walls, world.Wall{ID: i, P1: world.Vec2{X: -1000, Y: y}, P2: world.Vec2{X: 1000, Y: y}})
	}

	rec := &fakeRecorder{}
	e, err := New(s, Options{Recorder: rec, Rand: rand.New(rand.NewSource(5))})
	require.NoError(t, err)

	_, err = e.AddPlayer(1, "p", nil)
	assert.ErrorIs(t, err, ErrNoSpawnPoint)
	assert.Equal(t, 1, rec.spawnFails)
	assert.Zero(t, e.PlayerCount())
}
