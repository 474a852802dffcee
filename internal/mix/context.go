package mix

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrContextClosed is returned when nodes are connected on a closed context.
var ErrContextClosed = errors.New("audio context closed")

// Buffer is decoded mono PCM audio held in memory.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Node is anything that can be wired into a graph.
type Node interface {
	Name() string
}

type edge struct {
	from string
	to   string
}

// Context is the audio-processing context shared by every graph built
// in this process. It tracks live connections so callers can verify that
// a torn-down session left nothing wired.
type Context struct {
	sampleRate int

	mu     sync.Mutex
	edges  map[edge]int
	closed bool
}

// NewContext creates an audio context running at sampleRate.
func NewContext(sampleRate int) *Context {
	return &Context{
		sampleRate: sampleRate,
		edges:      make(map[edge]int),
	}
}

// SampleRate returns the context sample rate in Hz.
func (c *Context) SampleRate() int {
	return c.sampleRate
}

func (c *Context) connect(from, to Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	c.edges[edge{from: from.Name(), to: to.Name()}]++
	return nil
}

func (c *Context) disconnect(from, to Node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := edge{from: from.Name(), to: to.Name()}
	if c.edges[e] <= 1 {
		delete(c.edges, e)
		return
	}
	c.edges[e]--
}

// ConnectedCount returns the number of live node connections.
func (c *Context) ConnectedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, count := range c.edges {
		n += count
	}
	return n
}

// Close marks the context closed. Closing with live connections is an
// error because it means a graph was never disconnected.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if len(c.edges) > 0 {
		return fmt.Errorf("audio context closed with %d live connections", len(c.edges))
	}
	return nil
}
