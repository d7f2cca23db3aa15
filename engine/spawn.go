package engine

import (
	"github.com/cyberinferno/snakearena/config"
	"github.com/cyberinferno/snakearena/utils"
	"github.com/cyberinferno/snakearena/world"
)

// spawnLimit is the largest absolute coordinate a spawned entity may use.
func (e *Engine) spawnLimit() int {
	return e.settings.UniverseSize/2 - config.SpawnMargin
}

func (e *Engine) randomPoint(limit int) world.Vec2 {
	return world.Vec2{
		X: float64(e.rng.Intn(2*limit+1) - limit),
		Y: float64(e.rng.Intn(2*limit+1) - limit),
	}
}

// findSnakeSpawn picks a straight body of the starting length, heading away
// from its tail, that stays inside the spawn range and clears walls, other
// snakes and power-ups. selfID is excluded from the snake check so a dead
// snake does not block its own respawn. Caller holds the world lock.
func (e *Engine) findSnakeSpawn(selfID int64) (tail, head world.Vec2, dir world.Direction, err error) {
	limit := e.spawnLimit()
	bound := Box{MinX: float64(-limit), MinY: float64(-limit), MaxX: float64(limit), MaxY: float64(limit)}

	for attempt := 0; attempt < e.settings.SpawnAttempts; attempt++ {
		head = e.randomPoint(limit)
		dir = utils.GetRandomElement(e.rng, world.Directions)
		tail = head.Sub(dir.Vec().Scale(e.settings.StartingLength))

		if !bound.Contains(tail) {
			continue
		}
		if e.snakeSpawnBlocked(selfID, tail, head) {
			continue
		}

		return tail, head, dir, nil
	}

	return world.Vec2{}, world.Vec2{}, world.None, ErrNoSpawnPoint
}

func (e *Engine) snakeSpawnBlocked(selfID int64, tail, head world.Vec2) bool {
	body := SegmentBox(tail, head, 0)

	for _, w := range e.world.Walls {
		if WallBox(w).Expand(SpawnPadding).Overlaps(body) {
			return true
		}
	}

	for id, other := range e.world.Snakes {
		if id == selfID {
			continue
		}
		for i := 0; i+1 < len(other.Body); i++ {
			if other.IsGap(i) {
				continue
			}
			if SegmentBox(other.Body[i], other.Body[i+1], BodyPadding+SpawnPadding).Overlaps(body) {
				return true
			}
		}
	}

	for _, p := range e.world.PowerUps {
		if !p.Died && distToSegment(p.Loc, tail, head) < PickupRadius {
			return true
		}
	}

	return false
}

// findPowerUpSpawn picks a location clear of padded walls and of snake
// bodies. Caller holds the world lock.
func (e *Engine) findPowerUpSpawn() (world.Vec2, error) {
	limit := e.spawnLimit()

	for attempt := 0; attempt < e.settings.SpawnAttempts; attempt++ {
		loc := e.randomPoint(limit)
		if !e.powerUpSpawnBlocked(loc) {
			return loc, nil
		}
	}

	return world.Vec2{}, ErrNoSpawnPoint
}

func (e *Engine) powerUpSpawnBlocked(loc world.Vec2) bool {
	for _, w := range e.world.Walls {
		if WallBox(w).Expand(PowerUpWallPadding).Contains(loc) {
			return true
		}
	}

	for _, s := range e.world.Snakes {
		if s.Disconnected {
			continue
		}
		for i := 0; i+1 < len(s.Body); i++ {
			if s.IsGap(i) {
				continue
			}
			if SegmentBox(s.Body[i], s.Body[i+1], BodyPadding+PickupRadius).Contains(loc) {
				return true
			}
		}
	}

	return false
}
