package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator_SameMillisecond(t *testing.T) {
	g := NewIDGenerator()
	fixed := time.UnixMilli(1_700_000_000_000)
	g.now = func() time.Time { return fixed }

	a, b, c := g.Next(), g.Next(), g.Next()
	assert.Equal(t, int64(1_700_000_000_000), a)
	assert.Equal(t, a+1, b)
	assert.Equal(t, b+1, c)
}

func TestIDGenerator_ClockStepsBack(t *testing.T) {
	g := NewIDGenerator()
	now := time.UnixMilli(2_000)
	g.now = func() time.Time { return now }

	first := g.Next()
	now = time.UnixMilli(1_000)
	assert.Greater(t, g.Next(), first)
}

func TestIDGenerator_Seed(t *testing.T) {
	g := NewIDGenerator()
	g.now = func() time.Time { return time.UnixMilli(10) }
	g.Seed(500)
	assert.Equal(t, int64(501), g.Next())

	g.Seed(100) // lower seeds are ignored
	assert.Equal(t, int64(502), g.Next())
}

func TestIDGenerator_ConcurrentUnique(t *testing.T) {
	g := NewIDGenerator()
	fixed := time.Now()
	g.now = func() time.Time { return fixed }

	const n = 500
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- g.Next()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
