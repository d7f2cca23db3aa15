package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRandomString(t *testing.T) {
	t.Run("length is honoured", func(t *testing.T) {
		assert.Len(t, GenerateRandomString(6), 6)
		assert.Empty(t, GenerateRandomString(0))
	})

	t.Run("alphanumeric only", func(t *testing.T) {
		s := GenerateRandomString(200)
		for _, c := range s {
			ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			assert.True(t, ok, "unexpected rune %q", c)
		}
	})
}
