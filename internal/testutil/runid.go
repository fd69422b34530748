package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDGenerator hands out run ids "<prefix>-1", "<prefix>-2",
// and so on, so that tailer logs are stable across test runs.
//
// Thread-safety: safe for concurrent use.
type SequentialRunIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialRunIDGenerator returns a generator. An empty prefix
// becomes "test-run".
func NewSequentialRunIDGenerator(prefix string) *SequentialRunIDGenerator {
	if prefix == "" {
		prefix = "test-run"
	}
	return &SequentialRunIDGenerator{prefix: prefix}
}

// Generate returns the next run id.
func (g *SequentialRunIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
