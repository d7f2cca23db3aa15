// Package config loads the arena's game settings. The settings document is
// the XML file the server has always been shipped with; server tunables
// that the document does not carry fall back to defaults.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cyberinferno/snakearena/world"
)

// ErrInvalidSettings is returned by Validate for unusable settings.
var ErrInvalidSettings = errors.New("invalid settings")

// DefaultPort is the TCP port game clients connect to.
const DefaultPort = 11000

// SpawnMargin is the distance kept between spawned entities and the world
// edge.
const SpawnMargin = 50

// Settings is everything the simulation and session layers consume.
type Settings struct {
	UniverseSize  int
	MSPerFrame    int
	FramesPerShot int
	RespawnRate   int
	Walls         []world.Wall

	SnakeSpeed     float64
	StartingLength float64
	SnakeGrowth    int
	MaxPlayers     int
	MaxPowerUps    int
	PowerUpDelay   int
	SpawnAttempts  int
	Port           int
}

// Default returns settings for a 2000x2000 arena with a wall frame around
// the edges.
func Default() Settings {
	s := Settings{
		UniverseSize:  2000,
		MSPerFrame:    34,
		FramesPerShot: 80,
		RespawnRate:   100,
	}
	s.applyTunables()

	const h = 975
	s.Walls = []world.Wall{
		{ID: 0, P1: world.Vec2{X: -h, Y: -h}, P2: world.Vec2{X: h, Y: -h}},
		{ID: 1, P1: world.Vec2{X: h, Y: -h}, P2: world.Vec2{X: h, Y: h}},
		{ID: 2, P1: world.Vec2{X: -h, Y: h}, P2: world.Vec2{X: h, Y: h}},
		{ID: 3, P1: world.Vec2{X: -h, Y: -h}, P2: world.Vec2{X: -h, Y: h}},
	}

	return s
}

func (s *Settings) applyTunables() {
	if s.SnakeSpeed == 0 {
		s.SnakeSpeed = 3
	}
	if s.StartingLength == 0 {
		s.StartingLength = 120
	}
	if s.SnakeGrowth == 0 {
		s.SnakeGrowth = 12
	}
	if s.MaxPlayers == 0 {
		s.MaxPlayers = 50
	}
	if s.MaxPowerUps == 0 {
		s.MaxPowerUps = 20
	}
	if s.PowerUpDelay == 0 {
		s.PowerUpDelay = 200
	}
	if s.SpawnAttempts == 0 {
		s.SpawnAttempts = 1000
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
}

// Validate checks the settings for values the simulation cannot run with.
func (s Settings) Validate() error {
	if s.UniverseSize <= 0 {
		return fmt.Errorf("%w: universe size %d", ErrInvalidSettings, s.UniverseSize)
	}
	if s.MSPerFrame <= 0 {
		return fmt.Errorf("%w: ms per frame %d", ErrInvalidSettings, s.MSPerFrame)
	}
	if s.RespawnRate < 0 {
		return fmt.Errorf("%w: respawn rate %d", ErrInvalidSettings, s.RespawnRate)
	}
	if s.MaxPlayers <= 0 {
		return fmt.Errorf("%w: max players %d", ErrInvalidSettings, s.MaxPlayers)
	}
	if float64(s.UniverseSize)/2-SpawnMargin <= s.StartingLength {
		return fmt.Errorf("%w: universe size %d too small for starting length %g",
			ErrInvalidSettings, s.UniverseSize, s.StartingLength)
	}

	seen := make(map[int]bool, len(s.Walls))
	for _, w := range s.Walls {
		if seen[w.ID] {
			return fmt.Errorf("%w: duplicate wall id %d", ErrInvalidSettings, w.ID)
		}
		seen[w.ID] = true

		if err := w.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}

	return nil
}

type xmlVec struct {
	X float64 `xml:"x"`
	Y float64 `xml:"y"`
}

type xmlWall struct {
	ID int    `xml:"ID"`
	P1 xmlVec `xml:"p1"`
	P2 xmlVec `xml:"p2"`
}

type xmlSettings struct {
	XMLName       xml.Name  `xml:"GameSettings"`
	FramesPerShot int       `xml:"FramesPerShot"`
	MSPerFrame    int       `xml:"MSPerFrame"`
	RespawnRate   int       `xml:"RespawnRate"`
	UniverseSize  int       `xml:"UniverseSize"`
	Walls         []xmlWall `xml:"Walls>Wall"`
}

// Parse decodes a GameSettings XML document and fills in defaults for the
// server tunables.
//
// Returns:
//   - The decoded settings
//   - An error if the document is malformed or fails validation
func Parse(r io.Reader) (Settings, error) {
	var doc xmlSettings
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}

	s := Settings{
		UniverseSize:  doc.UniverseSize,
		MSPerFrame:    doc.MSPerFrame,
		FramesPerShot: doc.FramesPerShot,
		RespawnRate:   doc.RespawnRate,
		Walls:         make([]world.Wall, 0, len(doc.Walls)),
	}
	for _, w := range doc.Walls {
		s.Walls = append(s.Walls, world.Wall{
			ID: w.ID,
			P1: world.Vec2{X: w.P1.X, Y: w.P1.Y},
			P2: world.Vec2{X: w.P2.X, Y: w.P2.Y},
		})
	}
	s.applyTunables()

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// LoadFile reads and parses the settings document at path.
func LoadFile(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("open settings %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	s, err := Parse(f)
	if err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}

	return s, nil
}

// FrameDuration returns the length of one frame.
func (s Settings) FrameDuration() time.Duration {
	return time.Duration(s.MSPerFrame) * time.Millisecond
}
