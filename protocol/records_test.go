package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/snakearena/world"
)

func TestEncodeSnake(t *testing.T) {
	s := world.NewSnake(4, "alice", world.Vec2{X: -60, Y: 0}, world.Vec2{X: 60, Y: 0}, world.Right)
	s.MarkDisconnected()

	line, err := EncodeSnake(s)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), line[len(line)-1])
	assert.JSONEq(t, `{"snake":4,"name":"alice","body":[{"X":-60,"Y":0},{"X":60,"Y":0}],
		"dir":{"X":1,"Y":0},"score":0,"died":true,"alive":false,"dc":true,"join":true}`, line)
}

func TestEncodeWallAndPowerUp(t *testing.T) {
	line, err := EncodeWall(&world.Wall{ID: 2, P1: world.Vec2{X: 1, Y: 2}, P2: world.Vec2{X: 1, Y: 9}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"wall":2,"p1":{"X":1,"Y":2},"p2":{"X":1,"Y":9}}`, line)

	line, err = EncodePowerUp(&world.PowerUp{ID: 3, Loc: world.Vec2{X: -5, Y: 7.5}, Died: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"power":3,"loc":{"X":-5,"Y":7.5},"died":true}`, line)
}

func TestHandshake(t *testing.T) {
	header := HandshakeHeader(12, 2000)
	assert.Equal(t, "12\n2000\n", header)

	lines, rest := SplitLines(header)
	require.Len(t, lines, 2)
	assert.Empty(t, rest)

	id, err := ParseHandshakeInt(lines[0])
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	_, err = ParseHandshakeInt(`{"wall":1}`)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestParseCommand(t *testing.T) {
	for _, d := range append([]world.Direction{world.None}, world.Directions...) {
		got, err := ParseCommand(EncodeCommand(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	t.Run("malformed lines", func(t *testing.T) {
		for _, line := range []string{
			`{"moving":"up"`,
			`{"moving":"sideways"}`,
			`{"moving":3}`,
			`{"turn":"up"}`,
			`Alice`,
		} {
			_, err := ParseCommand(line)
			assert.ErrorIs(t, err, ErrMalformedRecord, line)
		}
	})
}

func TestDecodeRecord(t *testing.T) {
	t.Run("dispatch by tag", func(t *testing.T) {
		rec, err := DecodeRecord(`{"wall":1,"p1":{"X":0,"Y":0},"p2":{"X":0,"Y":50}}`)
		require.NoError(t, err)
		assert.Equal(t, WallRecord{Wall: 1, P2: world.Vec2{Y: 50}}, rec)

		rec, err = DecodeRecord(`{"power":9,"loc":{"X":3,"Y":4},"died":false}`)
		require.NoError(t, err)
		assert.Equal(t, PowerUpRecord{Power: 9, Loc: world.Vec2{X: 3, Y: 4}}, rec)

		s := world.NewSnake(5, "bob", world.Vec2{}, world.Vec2{Y: -120}, world.Up)
		line, err := EncodeSnake(s)
		require.NoError(t, err)
		rec, err = DecodeRecord(line)
		require.NoError(t, err)
		assert.Equal(t, NewSnakeRecord(s), rec)
	})

	t.Run("wall wins over other tags", func(t *testing.T) {
		rec, err := DecodeRecord(`{"power":1,"snake":2,"wall":3}`)
		require.NoError(t, err)
		assert.IsType(t, WallRecord{}, rec)

		rec, err = DecodeRecord(`{"power":1,"snake":2}`)
		require.NoError(t, err)
		assert.IsType(t, SnakeRecord{}, rec)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := DecodeRecord(`{"moving":"up"}`)
		assert.ErrorIs(t, err, ErrUnknownRecord)

		_, err = DecodeRecord(`{"snake":`)
		assert.ErrorIs(t, err, ErrMalformedRecord)

		_, err = DecodeRecord(`{"snake":"x"}`)
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})
}

func TestSplitLines(t *testing.T) {
	lines, rest := SplitLines("a\r\nb\n\nc")
	assert.Equal(t, []string{"a", "b", ""}, lines)
	assert.Equal(t, "c", rest)

	lines, rest = SplitLines("partial")
	assert.Empty(t, lines)
	assert.Equal(t, "partial", rest)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Alice", SanitizeName(" Al\x00i\tce\r "))
	assert.Equal(t, "Zoë", SanitizeName("Zoë\x7f"))
	assert.Empty(t, SanitizeName("\x01\x02"))
}

func TestCommandRecordShape(t *testing.T) {
	var c CommandRecord
	require.NoError(t, json.Unmarshal([]byte(EncodeCommand(world.Left)), &c))
	assert.Equal(t, "left", c.Moving)
}

func TestEncodeFrame(t *testing.T) {
	w := world.New(2000)
	w.Snakes[9] = world.NewSnake(9, "zed", world.Vec2{X: 0, Y: 0}, world.Vec2{X: 120, Y: 0}, world.Right)
	w.Snakes[2] = world.NewSnake(2, "bo", world.Vec2{X: 0, Y: 50}, world.Vec2{X: 120, Y: 50}, world.Right)
	w.Snakes[2].MarkDisconnected()
	w.PowerUps[1] = &world.PowerUp{ID: 1, Loc: world.Vec2{X: 5, Y: 5}}

	frame, departed, err := EncodeFrame(w)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, departed)

	lines, rest := SplitLines(frame)
	assert.Empty(t, rest)
	require.Len(t, lines, 3)

	first, err := DecodeRecord(lines[0])
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.(SnakeRecord).Snake)
	assert.True(t, first.(SnakeRecord).DC)

	second, err := DecodeRecord(lines[1])
	require.NoError(t, err)
	assert.Equal(t, int64(9), second.(SnakeRecord).Snake)

	third, err := DecodeRecord(lines[2])
	require.NoError(t, err)
	assert.IsType(t, PowerUpRecord{}, third)

	t.Run("empty world", func(t *testing.T) {
		frame, departed, err := EncodeFrame(world.New(100))
		require.NoError(t, err)
		assert.Empty(t, frame)
		assert.Empty(t, departed)
	})
}
