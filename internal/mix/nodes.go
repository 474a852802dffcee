package mix

import (
	"math"
	"sync"
	"time"
)

// Source produces samples into buf and returns how many were real signal.
// Any remainder of buf is zeroed.
type Source interface {
	Node
	Read(buf []float32) int
}

// Processor transforms a block of samples in place.
type Processor interface {
	Node
	Process(buf []float32)
}

// MediaSource exposes the most recent live input block (the microphone)
// as a graph source.
type MediaSource struct {
	name  string
	block []float32
}

// NewMediaSource creates a live-input source.
func NewMediaSource(name string) *MediaSource {
	return &MediaSource{name: name}
}

func (s *MediaSource) Name() string { return s.name }

// Feed sets the block returned by the next Read.
func (s *MediaSource) Feed(block []float32) {
	s.block = block
}

func (s *MediaSource) Read(buf []float32) int {
	n := copy(buf, s.block)
	clear(buf[n:])
	s.block = nil
	return n
}

// BufferSource plays a decoded buffer once. It never loops; after the
// last sample it reports ended and stays silent until rewound.
type BufferSource struct {
	name string
	buf  Buffer

	mu      sync.Mutex
	pos     int
	playing bool
	ended   bool
	fired   bool
	pending bool
	onEnded func()
}

// NewBufferSource creates a one-shot source over buf.
func NewBufferSource(name string, buf Buffer) *BufferSource {
	return &BufferSource{name: name, buf: buf}
}

func (s *BufferSource) Name() string { return s.name }

// Start begins playback from the current position.
func (s *BufferSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.playing = true
	}
}

// Stop pauses playback and rewinds to the beginning.
func (s *BufferSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	s.pos = 0
}

// OnEnded registers fn to run once when the buffer plays to its end.
func (s *BufferSource) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// Ended reports whether the source reached its natural end.
func (s *BufferSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Position returns the playback position.
func (s *BufferSource) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Buffer{Samples: s.buf.Samples[:s.pos], SampleRate: s.buf.SampleRate}.Duration()
}

func (s *BufferSource) Read(buf []float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing {
		clear(buf)
		return 0
	}
	n := copy(buf, s.buf.Samples[s.pos:])
	clear(buf[n:])
	s.pos += n
	if s.pos >= len(s.buf.Samples) {
		s.playing = false
		s.ended = true
		if !s.fired {
			s.fired = true
			s.pending = true
		}
	}
	return n
}

// takeEnded returns the ended callback if the end was reached since the
// last call. The callback is handed out at most once.
func (s *BufferSource) takeEnded() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return nil
	}
	s.pending = false
	return s.onEnded
}

// Gain scales samples by a constant factor.
type Gain struct {
	name  string
	value float64
}

// NewGain creates a gain stage.
func NewGain(name string, value float64) *Gain {
	return &Gain{name: name, value: value}
}

func (g *Gain) Name() string { return g.name }

// Value returns the gain factor.
func (g *Gain) Value() float64 { return g.value }

func (g *Gain) Process(buf []float32) {
	v := float32(g.value)
	for i := range buf {
		buf[i] *= v
	}
}

// Biquad is a second-order IIR filter using the RBJ cookbook formulas,
// evaluated in transposed direct form II.
type Biquad struct {
	name               string
	b0, b1, b2, a1, a2 float64
	z1, z2             float64
}

// NewHighPass creates a high-pass filter at cutoff Hz.
func NewHighPass(name string, sampleRate int, cutoff, q float64) *Biquad {
	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	cos, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	a0 := 1 + alpha
	return &Biquad{
		name: name,
		b0:   (1 + cos) / 2 / a0,
		b1:   -(1 + cos) / a0,
		b2:   (1 + cos) / 2 / a0,
		a1:   -2 * cos / a0,
		a2:   (1 - alpha) / a0,
	}
}

// NewPeaking creates a peaking EQ boosting (or cutting) gainDB around freq.
func NewPeaking(name string, sampleRate int, freq, q, gainDB float64) *Biquad {
	w0 := 2 * math.Pi * freq / float64(sampleRate)
	cos, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	a := math.Pow(10, gainDB/40)
	a0 := 1 + alpha/a
	return &Biquad{
		name: name,
		b0:   (1 + alpha*a) / a0,
		b1:   -2 * cos / a0,
		b2:   (1 - alpha*a) / a0,
		a1:   -2 * cos / a0,
		a2:   (1 - alpha/a) / a0,
	}
}

func (f *Biquad) Name() string { return f.name }

func (f *Biquad) Process(buf []float32) {
	for i, s := range buf {
		x := float64(s)
		y := f.b0*x + f.z1
		f.z1 = f.b1*x - f.a1*y + f.z2
		f.z2 = f.b2*x - f.a2*y
		buf[i] = float32(y)
	}
}

// Compressor is a feed-forward peak compressor with separate attack and
// release smoothing of the gain reduction.
type Compressor struct {
	name        string
	thresholdDB float64
	ratio       float64
	attack      float64
	release     float64
	reduction   float64
}

// NewCompressor creates a compressor. Ratio must be > 1 to have any effect.
func NewCompressor(name string, sampleRate int, thresholdDB, ratio float64, attack, release time.Duration) *Compressor {
	return &Compressor{
		name:        name,
		thresholdDB: thresholdDB,
		ratio:       ratio,
		attack:      smoothingCoef(attack, sampleRate),
		release:     smoothingCoef(release, sampleRate),
	}
}

func smoothingCoef(d time.Duration, sampleRate int) float64 {
	if d <= 0 {
		return 0
	}
	return math.Exp(-1 / (d.Seconds() * float64(sampleRate)))
}

func (c *Compressor) Name() string { return c.name }

// Reduction returns the current gain reduction in dB.
func (c *Compressor) Reduction() float64 { return c.reduction }

func (c *Compressor) Process(buf []float32) {
	for i, s := range buf {
		level := math.Abs(float64(s))
		levelDB := 20 * math.Log10(math.Max(level, 1e-9))

		target := 0.0
		if over := levelDB - c.thresholdDB; over > 0 {
			target = over - over/c.ratio
		}
		coef := c.release
		if target > c.reduction {
			coef = c.attack
		}
		c.reduction = coef*c.reduction + (1-coef)*target

		buf[i] = float32(float64(s) * math.Pow(10, -c.reduction/20))
	}
}

// Bus sums its inputs. Its output is hard-limited to [-1, 1].
type Bus struct {
	name   string
	chains []*chain
	out    []float32
}

// NewBus creates an empty summing node.
func NewBus(name string) *Bus {
	return &Bus{name: name}
}

func (b *Bus) Name() string { return b.name }

// Inputs returns the number of chains feeding the bus.
func (b *Bus) Inputs() int { return len(b.chains) }

func (b *Bus) render(n int) []float32 {
	b.out = grow(b.out, n)
	clear(b.out)
	for _, ch := range b.chains {
		for i, s := range ch.render(n) {
			b.out[i] += s
		}
	}
	for i, s := range b.out {
		switch {
		case s > 1:
			b.out[i] = 1
		case s < -1:
			b.out[i] = -1
		}
	}
	return b.out
}

// chain is a source followed by in-place processors, feeding one bus.
type chain struct {
	source  Source
	stages  []Processor
	scratch []float32
}

func (c *chain) nodes() []Node {
	nodes := []Node{c.source}
	for _, st := range c.stages {
		nodes = append(nodes, st)
	}
	return nodes
}

func (c *chain) render(n int) []float32 {
	c.scratch = grow(c.scratch, n)
	c.source.Read(c.scratch)
	for _, st := range c.stages {
		st.Process(c.scratch)
	}
	return c.scratch
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
