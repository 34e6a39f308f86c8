package relay

import (
	"sync"
	"time"
)

// IDGenerator issues ticket ids derived from the wall clock in milliseconds.
// Ids are strictly increasing within a process: when two tickets land in the
// same millisecond (or the clock steps back) the previous id plus one is used.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Seed raises the floor so later ids are greater than id. Used at startup
// with the highest id already stored.
func (g *IDGenerator) Seed(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.last {
		g.last = id
	}
}

func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
