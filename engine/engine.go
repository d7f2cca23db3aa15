// Package engine runs the arena simulation: movement, wraparound, collisions,
// scoring, and respawning of snakes and power-ups. All state lives in a
// world.World guarded by its lock; every exported method that touches the
// world acquires it.
package engine

import (
	"errors"
	"math/rand"
	"time"

	"github.com/cyberinferno/snakearena/config"
	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/safemap"
	"github.com/cyberinferno/snakearena/safeset"
	"github.com/cyberinferno/snakearena/world"
)

var (
	// ErrNoSpawnPoint is returned when no collision-free location was found
	// within the configured number of attempts.
	ErrNoSpawnPoint = errors.New("no collision-free spawn point")

	// ErrUnknownPlayer is returned for operations on a player that is not in
	// the world.
	ErrUnknownPlayer = errors.New("unknown player")
)

// Recorder receives simulation events, typically for metrics.
type Recorder interface {
	SnakeDied(id int64)
	PowerUpCollected(snakeID int64, powerID int)
	SpawnFailed()
}

type nopRecorder struct{}

func (nopRecorder) SnakeDied(int64)             {}
func (nopRecorder) PowerUpCollected(int64, int) {}
func (nopRecorder) SpawnFailed()                {}

// Options carries the optional collaborators of an Engine.
type Options struct {
	Logger   logger.Logger
	Recorder Recorder
	// Rand is the random source for spawning. Defaults to a time-seeded
	// source.
	Rand *rand.Rand
}

// Engine owns the world and advances it one player frame at a time.
type Engine struct {
	settings config.Settings
	world    *world.World
	log      logger.Logger
	rec      Recorder
	rng      *rand.Rand

	// Fields below are guarded by the world lock unless noted.
	respawnWait map[int64]int
	powerWait   map[int]int

	// commands holds the latest command per player. It is read and written
	// without the world lock.
	commands *safemap.SafeMap[int64, world.Direction]

	// pending maps a disconnected snake to the players that have not yet
	// broadcast it. Sets are updated without the world lock.
	pending *safemap.SafeMap[int64, *safeset.SafeSet[int64]]
}

// New builds a world from settings: walls are loaded as given and every
// power-up slot is placed. A power-up slot that cannot be placed starts
// collected and is retried by later frames.
//
// Parameters:
//   - settings: The arena settings; they are validated first
//   - opts: Logger, Recorder and random source; nil fields get defaults
//
// Returns:
//   - The engine
//   - An error if the settings are invalid
func New(settings config.Settings, opts Options) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		settings:    settings,
		world:       world.New(settings.UniverseSize),
		log:         opts.Logger,
		rec:         opts.Recorder,
		rng:         opts.Rand,
		respawnWait: make(map[int64]int),
		powerWait:   make(map[int]int),
		commands:    safemap.NewSafeMap[int64, world.Direction](),
		pending:     safemap.NewSafeMap[int64, *safeset.SafeSet[int64]](),
	}
	if e.log == nil {
		e.log = logger.NewNopLogger()
	}
	if e.rec == nil {
		e.rec = nopRecorder{}
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	for i := range settings.Walls {
		w := settings.Walls[i]
		e.world.Walls[w.ID] = &w
	}

	for id := 0; id < settings.MaxPowerUps; id++ {
		p := &world.PowerUp{ID: id}
		loc, err := e.findPowerUpSpawn()
		if err != nil {
			p.Died = true
			e.log.Warn("Power-up could not be placed", logger.Field{Key: "power", Value: id})
			e.rec.SpawnFailed()
		}
		p.Loc = loc
		e.world.PowerUps[id] = p
	}

	return e, nil
}

// Settings returns the settings the engine was built with.
//
// Returns:
//   - A copy of the engine's settings
func (e *Engine) Settings() config.Settings {
	return e.settings
}

// AddPlayer spawns a new snake for id and registers it. onJoined, when not
// nil, runs while the world lock is still held so the caller can emit the
// handshake atomically with the registration.
//
// Parameters:
//   - id: The connection ID, which becomes the snake ID
//   - name: The sanitized player name
//   - onJoined: Optional callback run under the world lock after registration
//
// Returns:
//   - The new snake
//   - ErrNoSpawnPoint if the world has no room
func (e *Engine) AddPlayer(id int64, name string, onJoined func(w *world.World, s *world.Snake)) (*world.Snake, error) {
	e.world.Lock()
	defer e.world.Unlock()

	e.purgeLocked()

	tail, head, dir, err := e.findSnakeSpawn(id)
	if err != nil {
		e.rec.SpawnFailed()
		return nil, err
	}

	s := world.NewSnake(id, name, tail, head, dir)
	e.world.Snakes[id] = s
	e.respawnWait[id] = 0
	e.commands.Store(id, dir)

	e.log.Info("Player joined",
		logger.Field{Key: "player", Value: id},
		logger.Field{Key: "name", Value: name},
		logger.Field{Key: "head", Value: head.String()},
		logger.Field{Key: "dir", Value: dir.String()},
	)

	if onJoined != nil {
		onJoined(e.world, s)
	}

	return s, nil
}

// SetCommand records the latest heading requested by id. None never
// overwrites a stored command; later commands replace earlier ones.
//
// Parameters:
//   - id: The player whose command is recorded
//   - d: The requested heading
func (e *Engine) SetCommand(id int64, d world.Direction) {
	if d == world.None {
		return
	}

	e.commands.Store(id, d)
}

// Update advances one frame of the snake owned by id: respawn, heading,
// power-up housekeeping, movement, collisions and growth, in that order.
// Disconnected snakes are left untouched.
//
// Parameters:
//   - id: The player whose frame runs
//
// Returns:
//   - ErrUnknownPlayer if id has no snake
func (e *Engine) Update(id int64) error {
	e.world.Lock()
	defer e.world.Unlock()

	e.purgeLocked()

	s, ok := e.world.Snakes[id]
	if !ok {
		return ErrUnknownPlayer
	}
	if s.Disconnected {
		return nil
	}

	s.BeginFrame()

	if !s.Alive {
		e.respawnWait[id]++
		if e.respawnWait[id] >= e.settings.RespawnRate {
			e.respawnLocked(s)
		}
	}

	if s.Alive {
		if cmd, ok := e.commands.Load(id); ok {
			s.SetDirection(cmd)
		}
	}

	e.tickPowerUpsLocked()

	if !s.Alive {
		return nil
	}

	s.Step(e.settings.SnakeSpeed, e.settings.UniverseSize)
	e.collideLocked(s)
	s.TickGrowth(e.settings.SnakeGrowth)

	return nil
}

func (e *Engine) respawnLocked(s *world.Snake) {
	tail, head, dir, err := e.findSnakeSpawn(s.ID)
	if err != nil {
		e.log.Warn("Respawn deferred", logger.Field{Key: "player", Value: s.ID}, logger.Field{Key: "error", Value: err.Error()})
		e.rec.SpawnFailed()
		return
	}

	s.Respawn(tail, head, dir)
	e.respawnWait[s.ID] = 0
	e.commands.Store(s.ID, dir)
}

func (e *Engine) tickPowerUpsLocked() {
	for id, p := range e.world.PowerUps {
		if !p.Died {
			continue
		}

		e.powerWait[id]++
		if e.powerWait[id] < e.settings.PowerUpDelay {
			continue
		}

		loc, err := e.findPowerUpSpawn()
		if err != nil {
			e.rec.SpawnFailed()
			continue
		}
		p.Loc = loc
		p.Died = false
		e.powerWait[id] = 0
	}
}

func (e *Engine) collideLocked(s *world.Snake) {
	head := s.Head()

	for _, w := range e.world.Walls {
		if HitsWall(head, w) {
			e.killLocked(s, "wall")
			return
		}
	}

	if HitsSelf(s) {
		e.killLocked(s, "self")
		return
	}

	for id, other := range e.world.Snakes {
		if id == s.ID || !other.Alive {
			continue
		}
		if HitsSnake(head, other) {
			e.killLocked(s, "snake")
			return
		}
	}

	for id, p := range e.world.PowerUps {
		if TouchesPowerUp(head, p) {
			s.AddScore()
			p.Died = true
			e.powerWait[id] = 0
			e.rec.PowerUpCollected(s.ID, id)
		}
	}
}

func (e *Engine) killLocked(s *world.Snake, cause string) {
	s.MarkDied()
	e.respawnWait[s.ID] = 0
	e.rec.SnakeDied(s.ID)
	e.log.Debug("Snake died",
		logger.Field{Key: "player", Value: s.ID},
		logger.Field{Key: "cause", Value: cause},
		logger.Field{Key: "score", Value: s.Score},
	)
}

// Disconnect flags the snake owned by id as disconnected. It stays in the
// world until every other connected player has acknowledged broadcasting
// it. Unknown or already disconnected players are ignored.
//
// Parameters:
//   - id: The player that left
func (e *Engine) Disconnect(id int64) {
	e.world.Lock()
	defer e.world.Unlock()

	e.commands.Delete(id)
	delete(e.respawnWait, id)

	// id will never acknowledge anything again.
	e.pending.Range(func(_ int64, observers *safeset.SafeSet[int64]) bool {
		observers.Remove(id)
		return true
	})

	s, ok := e.world.Snakes[id]
	if !ok || s.Disconnected {
		return
	}
	s.MarkDisconnected()

	observers := safeset.NewSafeSet[int64]()
	for otherID, other := range e.world.Snakes {
		if otherID != id && !other.Disconnected {
			observers.Add(otherID)
		}
	}
	e.pending.Store(id, observers)

	e.log.Info("Player disconnected",
		logger.Field{Key: "player", Value: id},
		logger.Field{Key: "observers", Value: observers.Size()},
	)
}

// AckBroadcast records that observer has sent the given snakes to its
// client. It does not take the world lock.
//
// Parameters:
//   - observer: The player whose session sent the frame
//   - ids: The disconnected snakes included in that frame
func (e *Engine) AckBroadcast(observer int64, ids []int64) {
	for _, id := range ids {
		if observers, ok := e.pending.Load(id); ok {
			observers.Remove(observer)
		}
	}
}

// PurgeDisconnected removes disconnected snakes that every observer has
// broadcast.
//
// Returns:
//   - The IDs of the removed snakes
func (e *Engine) PurgeDisconnected() []int64 {
	e.world.Lock()
	defer e.world.Unlock()

	return e.purgeLocked()
}

func (e *Engine) purgeLocked() []int64 {
	var purged []int64
	e.pending.Range(func(id int64, observers *safeset.SafeSet[int64]) bool {
		if observers.Size() == 0 {
			purged = append(purged, id)
		}
		return true
	})

	for _, id := range purged {
		delete(e.world.Snakes, id)
		e.pending.Delete(id)
	}

	return purged
}

// View calls fn with the world while holding the world lock. fn must not
// retain the world or block.
//
// Parameters:
//   - fn: Reader of the locked world
func (e *Engine) View(fn func(w *world.World)) {
	e.world.Lock()
	defer e.world.Unlock()

	fn(e.world)
}

// PlayerCount returns the number of snakes whose owners are connected.
//
// Returns:
//   - The connected player count
func (e *Engine) PlayerCount() int {
	e.world.Lock()
	defer e.world.Unlock()

	return e.world.LivePlayers()
}

// Walls returns the walls in ascending ID order.
//
// Returns:
//   - Copies of the walls
func (e *Engine) Walls() []world.Wall {
	e.world.Lock()
	defer e.world.Unlock()

	walls := make([]world.Wall, 0, len(e.world.Walls))
	for _, id := range e.world.WallIDs() {
		walls = append(walls, *e.world.Walls[id])
	}

	return walls
}
