package world

import (
	"fmt"
	"math"
	"strings"
)

// Vec2 is a point or displacement on the plane. Field names are part of the
// wire format ("X", "Y").
type Vec2 struct {
	X float64
	Y float64
}

// Add returns v+o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns v-o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale returns v*k.
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }

// Len returns the Euclidean length of v.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Dist returns the Euclidean distance between v and o.
func (v Vec2) Dist(o Vec2) float64 { return v.Sub(o).Len() }

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return v
	}

	return v.Scale(1 / l)
}

// String implements fmt.Stringer.
func (v Vec2) String() string {
	return fmt.Sprintf("(%g,%g)", v.X, v.Y)
}

// Direction is one of the four axis-aligned headings, or None.
type Direction int

const (
	None Direction = iota
	Up
	Down
	Left
	Right
)

// Directions lists the four cardinal headings.
var Directions = []Direction{Up, Down, Left, Right}

// Vec returns the unit vector for d. Screen coordinates: Up is -Y.
func (d Direction) Vec() Vec2 {
	switch d {
	case Up:
		return Vec2{X: 0, Y: -1}
	case Down:
		return Vec2{X: 0, Y: 1}
	case Left:
		return Vec2{X: -1, Y: 0}
	case Right:
		return Vec2{X: 1, Y: 0}
	default:
		return Vec2{}
	}
}

// Opposite returns the reverse heading. None is its own opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	default:
		return None
	}
}

// Horizontal reports whether d runs along the X axis.
func (d Direction) Horizontal() bool {
	return d == Left || d == Right
}

// String returns the wire name of d.
func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "none"
	}
}

// ParseDirection converts a wire name to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "none":
		return None, nil
	default:
		return None, fmt.Errorf("unknown direction %q", s)
	}
}

// DirectionOf returns the heading whose unit vector is v, or None.
func DirectionOf(v Vec2) Direction {
	for _, d := range Directions {
		if d.Vec() == v {
			return d
		}
	}

	return None
}
