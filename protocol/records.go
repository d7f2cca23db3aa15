// Package protocol encodes and decodes the arena's newline-delimited wire
// format. Every steady-state line is a JSON object whose tag key (wall,
// snake, power or moving) identifies the record; the two handshake lines
// that precede the walls are bare decimal integers.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cyberinferno/snakearena/world"
)

var (
	// ErrMalformedRecord is returned for lines that are not valid records.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnknownRecord is returned for JSON objects carrying no known tag.
	ErrUnknownRecord = errors.New("unknown record")
)

// Record is one decoded server-to-client line.
type Record interface {
	isRecord()
}

// WallRecord describes a wall; sent once per wall during the handshake.
type WallRecord struct {
	Wall int        `json:"wall"`
	P1   world.Vec2 `json:"p1"`
	P2   world.Vec2 `json:"p2"`
}

// SnakeRecord is the per-frame state of a snake. A body segment whose
// length equals the world size is a wraparound gap and is not drawn.
type SnakeRecord struct {
	Snake int64        `json:"snake"`
	Name  string       `json:"name"`
	Body  []world.Vec2 `json:"body"`
	Dir   world.Vec2   `json:"dir"`
	Score int          `json:"score"`
	Died  bool         `json:"died"`
	Alive bool         `json:"alive"`
	DC    bool         `json:"dc"`
	Join  bool         `json:"join"`
}

// PowerUpRecord is the per-frame state of a power-up.
type PowerUpRecord struct {
	Power int        `json:"power"`
	Loc   world.Vec2 `json:"loc"`
	Died  bool       `json:"died"`
}

// CommandRecord is the client's per-sample steering input.
type CommandRecord struct {
	Moving string `json:"moving"`
}

func (WallRecord) isRecord()    {}
func (SnakeRecord) isRecord()   {}
func (PowerUpRecord) isRecord() {}

// NewWallRecord builds the record for w.
//
// Parameters:
//   - w: The wall
//
// Returns:
//   - The wall record
func NewWallRecord(w *world.Wall) WallRecord {
	return WallRecord{Wall: w.ID, P1: w.P1, P2: w.P2}
}

// NewSnakeRecord builds the record for s. The body is copied.
//
// Parameters:
//   - s: The snake
//
// Returns:
//   - The snake record with its event flags and body
func NewSnakeRecord(s *world.Snake) SnakeRecord {
	return SnakeRecord{
		Snake: s.ID,
		Name:  s.Name,
		Body:  append([]world.Vec2(nil), s.Body...),
		Dir:   s.Dir.Vec(),
		Score: s.Score,
		Died:  s.Died,
		Alive: s.Alive,
		DC:    s.Disconnected,
		Join:  s.Join,
	}
}

// NewPowerUpRecord builds the record for p.
//
// Parameters:
//   - p: The power-up
//
// Returns:
//   - The power-up record
func NewPowerUpRecord(p *world.PowerUp) PowerUpRecord {
	return PowerUpRecord{Power: p.ID, Loc: p.Loc, Died: p.Died}
}

func encodeLine(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	return string(b) + "\n", nil
}

// EncodeWall returns the newline-terminated wall record for w.
//
// Parameters:
//   - w: The wall to encode
//
// Returns:
//   - The JSON line
//   - An error if encoding fails
func EncodeWall(w *world.Wall) (string, error) {
	return encodeLine(NewWallRecord(w))
}

// EncodeSnake returns the newline-terminated snake record for s.
//
// Parameters:
//   - s: The snake to encode
//
// Returns:
//   - The JSON line
//   - An error if encoding fails
func EncodeSnake(s *world.Snake) (string, error) {
	return encodeLine(NewSnakeRecord(s))
}

// EncodePowerUp returns the newline-terminated power-up record for p.
//
// Parameters:
//   - p: The power-up to encode
//
// Returns:
//   - The JSON line
//   - An error if encoding fails
func EncodePowerUp(p *world.PowerUp) (string, error) {
	return encodeLine(NewPowerUpRecord(p))
}

// EncodeFrame renders one broadcast frame: every snake in ascending ID
// order, then every power-up. departed lists the disconnected snakes the
// frame reports. Records that fail to encode are skipped and their errors
// joined. Caller holds the world lock.
//
// Parameters:
//   - w: The locked world
//
// Returns:
//   - The frame text, one record per line
//   - The IDs of the disconnected snakes in the frame
//   - The joined encoding errors, or nil
func EncodeFrame(w *world.World) (frame string, departed []int64, err error) {
	var (
		b    strings.Builder
		errs []error
	)

	for _, id := range w.SnakeIDs() {
		s := w.Snakes[id]
		line, encErr := EncodeSnake(s)
		if encErr != nil {
			errs = append(errs, encErr)
			continue
		}
		b.WriteString(line)
		if s.Disconnected {
			departed = append(departed, id)
		}
	}

	for _, id := range w.PowerUpIDs() {
		line, encErr := EncodePowerUp(w.PowerUps[id])
		if encErr != nil {
			errs = append(errs, encErr)
			continue
		}
		b.WriteString(line)
	}

	return b.String(), departed, errors.Join(errs...)
}

// EncodeCommand returns the newline-terminated command record for d.
//
// Parameters:
//   - d: The heading to request
//
// Returns:
//   - The JSON line
func EncodeCommand(d world.Direction) string {
	// Direction names never need escaping.
	return `{"moving":"` + d.String() + "\"}\n"
}

// HandshakeHeader returns the two bare integer lines that open the
// handshake: the player ID, then the world size.
//
// Parameters:
//   - id: The player ID
//   - size: The world side length
//
// Returns:
//   - Two newline-terminated lines
func HandshakeHeader(id int64, size int) string {
	return strconv.FormatInt(id, 10) + "\n" + strconv.Itoa(size) + "\n"
}

// ParseHandshakeInt parses one of the bare integer handshake lines.
//
// Parameters:
//   - line: The received line, with or without its newline
//
// Returns:
//   - The parsed integer
//   - ErrMalformedRecord if the line is not an integer
func ParseHandshakeInt(line string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: handshake line %q", ErrMalformedRecord, line)
	}

	return n, nil
}

// ParseCommand decodes a client command line.
//
// Parameters:
//   - line: The received line
//
// Returns:
//   - The requested direction; "none" yields world.None
//   - ErrMalformedRecord if the line is not a command record
func ParseCommand(line string) (world.Direction, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return world.None, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	moving, ok := raw["moving"]
	if !ok {
		return world.None, fmt.Errorf("%w: no moving key", ErrMalformedRecord)
	}

	var name string
	if err := json.Unmarshal(moving, &name); err != nil {
		return world.None, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	d, err := world.ParseDirection(name)
	if err != nil {
		return world.None, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	return d, nil
}

// DecodeRecord decodes a server-to-client JSON line. The first tag present
// in the order wall, snake, power selects the record type.
//
// Parameters:
//   - line: The received line
//
// Returns:
//   - A WallRecord, SnakeRecord or PowerUpRecord
//   - ErrMalformedRecord for invalid JSON, ErrUnknownRecord for JSON with no
//     known tag
func DecodeRecord(line string) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	var (
		rec Record
		err error
	)
	switch {
	case has(raw, "wall"):
		var w WallRecord
		err = json.Unmarshal([]byte(line), &w)
		rec = w
	case has(raw, "snake"):
		var s SnakeRecord
		err = json.Unmarshal([]byte(line), &s)
		rec = s
	case has(raw, "power"):
		var p PowerUpRecord
		err = json.Unmarshal([]byte(line), &p)
		rec = p
	default:
		return nil, ErrUnknownRecord
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	return rec, nil
}

func has(raw map[string]json.RawMessage, key string) bool {
	_, ok := raw[key]
	return ok
}

// SplitLines splits buffered text into complete lines and the unterminated
// remainder. Carriage returns before the newline are dropped.
//
// Parameters:
//   - text: The buffered text
//
// Returns:
//   - The complete lines without their terminators
//   - The trailing partial line, or ""
func SplitLines(text string) (lines []string, rest string) {
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			return lines, text
		}

		lines = append(lines, strings.TrimSuffix(text[:i], "\r"))
		text = text[i+1:]
	}
}

// SanitizeName strips control characters and surrounding whitespace from a
// player name.
//
// Parameters:
//   - name: The raw name line
//
// Returns:
//   - The cleaned name, possibly empty
func SanitizeName(name string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name))
}
