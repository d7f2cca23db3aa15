package engine

import (
	"math"

	"github.com/cyberinferno/snakearena/world"
)

const (
	// WallPadding is the half-thickness of a wall's collision box.
	WallPadding = 25.0
	// BodyPadding is the half-thickness of a snake segment's collision box.
	BodyPadding = 5.0
	// SpawnPadding is added to wall and body boxes when choosing spawn points.
	SpawnPadding = 125.0
	// PickupRadius is the distance under which a head collects a power-up.
	PickupRadius = 15.0
	// PowerUpWallPadding is added to wall boxes when placing power-ups.
	PowerUpWallPadding = 45.0

	// selfCheckVertices is the body size below which a snake cannot hit
	// itself; the newest segments next to the head are never tested.
	selfCheckVertices = 5
)

// Box is an axis-aligned rectangle with inclusive edges.
type Box struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// SegmentBox returns the bounding box of segment a-b grown by pad on every
// side.
//
// Parameters:
//   - a, b: The segment endpoints
//   - pad: The margin added on every side
//
// Returns:
//   - The padded bounding box
func SegmentBox(a, b world.Vec2, pad float64) Box {
	return Box{
		MinX: math.Min(a.X, b.X) - pad,
		MinY: math.Min(a.Y, b.Y) - pad,
		MaxX: math.Max(a.X, b.X) + pad,
		MaxY: math.Max(a.Y, b.Y) + pad,
	}
}

// WallBox returns the collision box of w.
//
// Parameters:
//   - w: The wall
//
// Returns:
//   - The wall segment grown by the wall collision margin
func WallBox(w *world.Wall) Box {
	return SegmentBox(w.P1, w.P2, WallPadding)
}

// Expand returns b grown by pad on every side.
func (b Box) Expand(pad float64) Box {
	return Box{MinX: b.MinX - pad, MinY: b.MinY - pad, MaxX: b.MaxX + pad, MaxY: b.MaxY + pad}
}

// Contains reports whether p lies inside b or on its edge.
func (b Box) Contains(p world.Vec2) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Overlaps reports whether b and o share at least one point.
func (b Box) Overlaps(o Box) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// HitsWall reports whether head is inside the collision box of w.
//
// Parameters:
//   - head: The snake head position
//   - w: The wall to test
//
// Returns:
//   - true on a collision
func HitsWall(head world.Vec2, w *world.Wall) bool {
	return WallBox(w).Contains(head)
}

// HitsSelf reports whether the head of s touches one of its own older
// segments. Bodies shorter than five vertices and the three segments nearest
// the head are never tested.
//
// Parameters:
//   - s: The snake to test
//
// Returns:
//   - true on a self collision
func HitsSelf(s *world.Snake) bool {
	if len(s.Body) < selfCheckVertices {
		return false
	}

	head := s.Head()
	for i := 0; i < len(s.Body)-4; i++ {
		if s.IsGap(i) {
			continue
		}
		if SegmentBox(s.Body[i], s.Body[i+1], BodyPadding).Contains(head) {
			return true
		}
	}

	return false
}

// HitsSnake reports whether head touches any drawn segment of other.
//
// Parameters:
//   - head: The moving snake's head
//   - other: The snake whose body is tested; wrap gaps are skipped
//
// Returns:
//   - true on a collision
func HitsSnake(head world.Vec2, other *world.Snake) bool {
	for i := 0; i+1 < len(other.Body); i++ {
		if other.IsGap(i) {
			continue
		}
		if SegmentBox(other.Body[i], other.Body[i+1], BodyPadding).Contains(head) {
			return true
		}
	}

	return false
}

// TouchesPowerUp reports whether head is close enough to collect p.
//
// Parameters:
//   - head: The snake head position
//   - p: The power-up to test
//
// Returns:
//   - true if the power-up is within pickup range
func TouchesPowerUp(head world.Vec2, p *world.PowerUp) bool {
	return !p.Died && head.Dist(p.Loc) < PickupRadius
}

// distToSegment returns the shortest distance from p to the segment a-b.
func distToSegment(p, a, b world.Vec2) float64 {
	ab := b.Sub(a)
	l2 := ab.X*ab.X + ab.Y*ab.Y
	if l2 == 0 {
		return p.Dist(a)
	}

	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / l2
	t = math.Max(0, math.Min(1, t))
	return p.Dist(a.Add(ab.Scale(t)))
}
