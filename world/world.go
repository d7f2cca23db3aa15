// Package world holds the shared arena state: snakes, power-ups and walls
// keyed by identity, plus the size of the square toroidal plane they live
// on. A World is guarded by a single coarse lock; every read or write of its
// maps or of the entities inside them must happen while holding it.
package world

import (
	"fmt"
	"sort"
	"sync"
)

// Wall is a static axis-aligned segment.
type Wall struct {
	ID int
	P1 Vec2
	P2 Vec2
}

// Validate reports an error when the endpoints share neither X nor Y.
func (w Wall) Validate() error {
	if w.P1.X != w.P2.X && w.P1.Y != w.P2.Y {
		return fmt.Errorf("wall %d is not axis-aligned: %v-%v", w.ID, w.P1, w.P2)
	}

	return nil
}

// PowerUp is a collectible. Died marks it collected and awaiting respawn.
type PowerUp struct {
	ID   int
	Loc  Vec2
	Died bool
}

// World is the aggregate of all arena entities.
type World struct {
	mu sync.Mutex

	Snakes   map[int64]*Snake
	PowerUps map[int]*PowerUp
	Walls    map[int]*Wall
	Size     int
}

// New creates an empty world of the given side length.
func New(size int) *World {
	return &World{
		Snakes:   make(map[int64]*Snake),
		PowerUps: make(map[int]*PowerUp),
		Walls:    make(map[int]*Wall),
		Size:     size,
	}
}

// Lock acquires the world lock.
func (w *World) Lock() { w.mu.Lock() }

// Unlock releases the world lock.
func (w *World) Unlock() { w.mu.Unlock() }

// Half returns half the side length; the plane spans [-Half, Half) on both
// axes.
func (w *World) Half() float64 { return float64(w.Size) / 2 }

// LivePlayers counts snakes whose owners are still connected. Caller holds
// the lock.
func (w *World) LivePlayers() int {
	n := 0
	for _, s := range w.Snakes {
		if !s.Disconnected {
			n++
		}
	}

	return n
}

// SnakeIDs returns snake IDs in ascending order. Caller holds the lock.
func (w *World) SnakeIDs() []int64 {
	ids := make([]int64, 0, len(w.Snakes))
	for id := range w.Snakes {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PowerUpIDs returns power-up IDs in ascending order. Caller holds the lock.
func (w *World) PowerUpIDs() []int {
	ids := make([]int, 0, len(w.PowerUps))
	for id := range w.PowerUps {
		ids = append(ids, id)
	}

	sort.Ints(ids)
	return ids
}

// WallIDs returns wall IDs in ascending order. Caller holds the lock.
func (w *World) WallIDs() []int {
	ids := make([]int, 0, len(w.Walls))
	for id := range w.Walls {
		ids = append(ids, id)
	}

	sort.Ints(ids)
	return ids
}
