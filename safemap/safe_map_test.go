package safemap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[int64, string]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Keys())
}

func TestSafeMap_StoreLoad(t *testing.T) {
	m := NewSafeMap[int64, string]()

	t.Run("store and load", func(t *testing.T) {
		m.Store(1, "up")
		v, ok := m.Load(1)
		assert.True(t, ok)
		assert.Equal(t, "up", v)
	})

	t.Run("last write wins", func(t *testing.T) {
		m.Store(1, "left")
		m.Store(1, "down")
		v, _ := m.Load(1)
		assert.Equal(t, "down", v)
	})

	t.Run("missing key yields zero value", func(t *testing.T) {
		v, ok := m.Load(99)
		assert.False(t, ok)
		assert.Empty(t, v)
	})
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[int64, *int]()
	x := 5
	m.Store(1, &x)

	v, ok := m.LoadAndDelete(1)
	assert.True(t, ok)
	assert.Same(t, &x, v)
	_, ok = m.Load(1)
	assert.False(t, ok)

	v, ok = m.LoadAndDelete(1)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestSafeMap_DeleteLen(t *testing.T) {
	m := NewSafeMap[int64, int]()
	m.Store(1, 1)
	m.Store(2, 2)
	assert.Equal(t, 2, m.Len())
	assert.ElementsMatch(t, []int64{1, 2}, m.Keys())

	m.Delete(1)
	_, ok := m.Load(1)
	assert.False(t, ok)
	_, ok = m.Load(2)
	assert.True(t, ok)
	m.Delete(42)
	assert.Equal(t, 1, m.Len())
}

func TestSafeMap_Range(t *testing.T) {
	m := NewSafeMap[int64, int]()
	for i := int64(0); i < 5; i++ {
		m.Store(i, int(i)*2)
	}

	t.Run("visits every entry", func(t *testing.T) {
		sum := 0
		m.Range(func(k int64, v int) bool {
			sum += v
			return true
		})
		assert.Equal(t, 20, sum)
	})

	t.Run("stops early", func(t *testing.T) {
		calls := 0
		m.Range(func(int64, int) bool {
			calls++
			return calls < 2
		})
		assert.Equal(t, 2, calls)
	})

	t.Run("delete while ranging", func(t *testing.T) {
		m.Range(func(k int64, _ int) bool {
			m.Delete(k)
			return true
		})
		assert.Equal(t, 0, m.Len())
	})
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines, ops = 50, 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				key := id*ops + i
				m.Store(key, key)
				m.Load(key)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*ops, m.Len())

	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				m.Delete(id*ops + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
