package safeset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := NewSafeSet[int64]()
		require.NotNil(t, s)
		assert.Equal(t, 0, s.Size())
	})

	t.Run("seeded", func(t *testing.T) {
		s := NewSafeSet[int64](1, 2, 2, 3)
		assert.Equal(t, 3, s.Size())
		assert.True(t, s.Remove(2))
	})
}

func TestSafeSet_AddRemove(t *testing.T) {
	s := NewSafeSet[string]()
	s.Add("a")
	s.Add("a")
	assert.Equal(t, 1, s.Size())

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Equal(t, 0, s.Size())
}

func TestSafeSet_Concurrent(t *testing.T) {
	s := NewSafeSet[int]()
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Add(base*100 + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 2000, s.Size())

	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.True(t, s.Remove(base*100+i))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, s.Size())
}
