package world

// Snake is a player-controlled polyline. Body[0] is the tail and the last
// vertex is the head; consecutive vertices share X or Y. A segment whose
// start is a boundary vertex and whose end is the mirrored entry vertex is a
// wrap gap: it is not part of the drawn or collidable body.
type Snake struct {
	ID           int64
	Name         string
	Body         []Vec2
	Dir          Direction
	Score        int
	Alive        bool
	Died         bool
	Disconnected bool
	Join         bool

	gaps        []bool
	turned      bool
	growing     bool
	growthTicks int
	frame       int
	diedAt      int
	joinAt      int
}

// NewSnake creates a live snake with a two-vertex body. The join flag stays
// raised through the snake's first frame.
func NewSnake(id int64, name string, tail, head Vec2, dir Direction) *Snake {
	return &Snake{
		ID:     id,
		Name:   name,
		Body:   []Vec2{tail, head},
		gaps:   []bool{false, false},
		Dir:    dir,
		Alive:  true,
		Join:   true,
		joinAt: 1,
	}
}

// Respawn replaces the body and heading, revives the snake and resets its
// score. The join flag is raised for the current frame.
func (s *Snake) Respawn(tail, head Vec2, dir Direction) {
	s.Body = []Vec2{tail, head}
	s.gaps = []bool{false, false}
	s.Dir = dir
	s.Score = 0
	s.Alive = true
	s.Died = false
	s.Join = true
	s.joinAt = s.frame
	s.turned = false
	s.growing = false
	s.growthTicks = 0
}

// SetBody replaces the body with the given vertices and no wrap gaps. The
// slice is copied.
func (s *Snake) SetBody(body []Vec2) {
	s.Body = append([]Vec2(nil), body...)
	s.gaps = make([]bool, len(body))
}

// Head returns the front vertex.
func (s *Snake) Head() Vec2 { return s.Body[len(s.Body)-1] }

// Tail returns the back vertex.
func (s *Snake) Tail() Vec2 { return s.Body[0] }

// IsGap reports whether the segment Body[i]->Body[i+1] is a wrap gap.
func (s *Snake) IsGap(i int) bool {
	return i >= 0 && i < len(s.gaps) && s.gaps[i]
}

// Turning reports whether a direction change is waiting for the next Step.
func (s *Snake) Turning() bool { return s.turned }

// Growing reports whether the tail is currently held in place.
func (s *Snake) Growing() bool { return s.growing }

// SetDirection applies a heading change. Identical and reversing headings
// are rejected.
//
// Returns:
//   - true if the heading changed
func (s *Snake) SetDirection(d Direction) bool {
	if d == None || d == s.Dir || d == s.Dir.Opposite() {
		return false
	}

	s.Dir = d
	s.turned = true
	return true
}

// AddScore records a pickup and (re)opens the growth window.
func (s *Snake) AddScore() {
	s.Score++
	s.growing = true
	s.growthTicks = 0
}

// TickGrowth advances the growth window; the tail resumes once more than
// window frames have elapsed since the pickup frame.
func (s *Snake) TickGrowth(window int) {
	if !s.growing {
		return
	}

	s.growthTicks++
	if s.growthTicks > window {
		s.growing = false
		s.growthTicks = 0
	}
}

// MarkDied kills the snake during the current frame.
func (s *Snake) MarkDied() {
	s.Alive = false
	s.Died = true
	s.diedAt = s.frame
}

// MarkDisconnected flags a snake whose owner left. It is reported as dead
// from now on.
func (s *Snake) MarkDisconnected() {
	s.Disconnected = true
	s.Alive = false
	s.Died = true
}

// BeginFrame starts one of the snake's own frames and lowers the died and
// join event flags raised during an earlier frame.
func (s *Snake) BeginFrame() {
	s.frame++
	if s.Died && !s.Disconnected && s.frame > s.diedAt {
		s.Died = false
	}

	if s.Join && s.frame > s.joinAt {
		s.Join = false
	}
}

// Step moves a live snake by speed along its heading on a plane of the given
// side length. A pending turn first pins the current head as a corner. A
// head reaching the edge is carried to the boundary, a mirrored entry vertex
// is added on the opposite edge, and the head continues from there. The tail
// follows by the same distance unless the snake is growing. Heads stay in
// [-size/2, size/2) on both axes.
func (s *Snake) Step(speed float64, size int) {
	if !s.Alive {
		return
	}

	if s.turned {
		s.appendVertex(s.Head())
		s.turned = false
	}

	last := len(s.Body) - 1
	s.Body[last] = s.Body[last].Add(s.Dir.Vec().Scale(speed))
	s.wrapHead(float64(size) / 2)

	if !s.growing {
		s.advanceTail(speed)
	}
}

func (s *Snake) appendVertex(v Vec2) {
	s.Body = append(s.Body, v)
	s.gaps = append(s.gaps, false)
}

func (s *Snake) wrapHead(half float64) {
	last := len(s.Body) - 1
	head := s.Body[last]

	var boundary, entry, next Vec2
	switch s.Dir {
	case Right:
		if head.X < half {
			return
		}
		boundary, entry = Vec2{X: half, Y: head.Y}, Vec2{X: -half, Y: head.Y}
		next = Vec2{X: -half + (head.X - half), Y: head.Y}
	case Left:
		if head.X >= -half {
			return
		}
		boundary, entry = Vec2{X: -half, Y: head.Y}, Vec2{X: half, Y: head.Y}
		next = Vec2{X: half - (-half - head.X), Y: head.Y}
	case Down:
		if head.Y < half {
			return
		}
		boundary, entry = Vec2{X: head.X, Y: half}, Vec2{X: head.X, Y: -half}
		next = Vec2{X: head.X, Y: -half + (head.Y - half)}
	case Up:
		if head.Y >= -half {
			return
		}
		boundary, entry = Vec2{X: head.X, Y: -half}, Vec2{X: head.X, Y: half}
		next = Vec2{X: head.X, Y: half - (-half - head.Y)}
	default:
		return
	}

	s.Body[last] = boundary
	s.gaps[last] = true
	s.appendVertex(entry)
	s.appendVertex(next)
}

func (s *Snake) advanceTail(dist float64) {
	for dist > 0 && len(s.Body) > 2 {
		if s.gaps[0] {
			s.dropTail()
			continue
		}

		tail, next := s.Body[0], s.Body[1]
		remaining := tail.Dist(next)
		if remaining > dist {
			s.Body[0] = tail.Add(next.Sub(tail).Normalize().Scale(dist))
			return
		}

		dist -= remaining
		s.dropTail()
	}

	if len(s.Body) > 2 && s.gaps[0] {
		s.dropTail()
	}

	if dist > 0 && len(s.Body) == 2 {
		tail, head := s.Body[0], s.Body[1]
		if tail.Dist(head) > dist {
			s.Body[0] = tail.Add(head.Sub(tail).Normalize().Scale(dist))
		} else {
			s.Body[0] = head
		}
	}
}

func (s *Snake) dropTail() {
	s.Body = s.Body[1:]
	s.gaps = s.gaps[1:]
}
