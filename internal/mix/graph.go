package mix

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrMicrophoneUnavailable is returned by Build when no live input exists.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// Parameters are the per-session gains and vocal enhancement settings.
type Parameters struct {
	MicrophoneGain   float64
	BackingTrackGain float64
	ReferenceGain    float64

	// Enhancement is optional; nil means the microphone leg is gain only.
	Enhancement *Enhancement
}

// Enhancement tunes the vocal chain. A zero field disables its stage.
type Enhancement struct {
	HighPassCutoffHz      float64
	PresenceBoostHz       float64
	PresenceBoostDb       float64
	PresenceQ             float64
	CompressorThresholdDb float64
	CompressorRatio       float64
	CompressorAttack      time.Duration
	CompressorRelease     time.Duration
}

// DefaultParameters favours the voice: the backing track sits at roughly
// a third of the microphone level.
func DefaultParameters() Parameters {
	return Parameters{
		MicrophoneGain:   1.0,
		BackingTrackGain: 0.35,
		ReferenceGain:    0.8,
		Enhancement:      DefaultEnhancement(),
	}
}

// DefaultEnhancement returns a vocal chain with a fast-attack compressor
// and a narrow presence lift around 2.5 kHz.
func DefaultEnhancement() *Enhancement {
	return &Enhancement{
		HighPassCutoffHz:      100,
		PresenceBoostHz:       2500,
		PresenceBoostDb:       3,
		PresenceQ:             1.2,
		CompressorThresholdDb: -24,
		CompressorRatio:       4,
		CompressorAttack:      3 * time.Millisecond,
		CompressorRelease:     250 * time.Millisecond,
	}
}

// Graph is one session's audio routing. The record bus carries
// microphone and backing track only; the reference track, when present,
// reaches the monitor bus alone.
type Graph struct {
	ctx *Context

	mu        sync.Mutex
	mic       *MediaSource
	backing   *BufferSource
	monitor   *BufferSource
	reference *BufferSource
	record    *Bus
	direct    *Bus
	edges     [][2]Node
	connected bool
}

// Build wires a session graph into ctx.
func Build(ctx *Context, mic *MediaSource, backing Buffer, reference *Buffer, params Parameters) (*Graph, error) {
	if mic == nil {
		return nil, ErrMicrophoneUnavailable
	}
	if len(backing.Samples) == 0 {
		return nil, fmt.Errorf("backing track buffer is empty")
	}

	rate := ctx.SampleRate()
	g := &Graph{
		ctx:     ctx,
		mic:     mic,
		backing: NewBufferSource("backing", backing),
		monitor: NewBufferSource("backing-monitor", backing),
		record:  NewBus("record"),
		direct:  NewBus("monitor"),
	}

	micStages := []Processor{NewGain("mic-gain", params.MicrophoneGain)}
	if e := params.Enhancement; e != nil {
		if e.HighPassCutoffHz > 0 {
			micStages = append(micStages, NewHighPass("mic-highpass", rate, e.HighPassCutoffHz, 0.707))
		}
		if e.PresenceBoostHz > 0 && e.PresenceBoostDb != 0 {
			q := e.PresenceQ
			if q <= 0 {
				q = 1
			}
			micStages = append(micStages, NewPeaking("mic-presence", rate, e.PresenceBoostHz, q, e.PresenceBoostDb))
		}
		if e.CompressorRatio > 1 {
			micStages = append(micStages, NewCompressor("mic-compressor", rate, e.CompressorThresholdDb, e.CompressorRatio, e.CompressorAttack, e.CompressorRelease))
		}
	}

	routes := []route{
		{&chain{source: mic, stages: micStages}, g.record},
		{&chain{source: g.backing, stages: []Processor{NewGain("backing-gain", params.BackingTrackGain)}}, g.record},
		{&chain{source: g.monitor}, g.direct},
	}
	if reference != nil && len(reference.Samples) > 0 {
		g.reference = NewBufferSource("reference", *reference)
		routes = append(routes, route{&chain{source: g.reference, stages: []Processor{NewGain("reference-gain", params.ReferenceGain)}}, g.direct})
	}

	for _, r := range routes {
		if err := g.attach(r.c, r.bus); err != nil {
			g.Disconnect()
			return nil, err
		}
	}
	g.connected = true

	slog.Debug("Mixing graph built",
		"mic_stages", len(micStages),
		"reference", g.reference != nil,
		"connections", ctx.ConnectedCount())
	return g, nil
}

type route struct {
	c   *chain
	bus *Bus
}

func (g *Graph) attach(c *chain, bus *Bus) error {
	nodes := append(c.nodes(), bus)
	for i := 0; i+1 < len(nodes); i++ {
		if err := g.ctx.connect(nodes[i], nodes[i+1]); err != nil {
			return err
		}
		g.edges = append(g.edges, [2]Node{nodes[i], nodes[i+1]})
	}
	bus.chains = append(bus.chains, c)
	return nil
}

// OnBackingEnded registers fn to run once when the backing track reaches
// its natural end. fn runs outside the graph lock.
func (g *Graph) OnBackingEnded(fn func()) {
	g.backing.OnEnded(fn)
}

// Start begins playback of every buffer source.
func (g *Graph) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.backing.Start()
	g.monitor.Start()
	if g.reference != nil {
		g.reference.Start()
	}
}

// Stop pauses and rewinds every buffer source.
func (g *Graph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.backing.Stop()
	g.monitor.Stop()
	if g.reference != nil {
		g.reference.Stop()
	}
}

// Process renders one block. record is the recordable mix of microphone
// and backing track; monitor is the direct-output feed for the performer.
// Both slices are freshly allocated.
func (g *Graph) Process(mic []float32) (record, monitor []float32) {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return nil, nil
	}
	n := len(mic)
	g.mic.Feed(mic)
	record = append([]float32(nil), g.record.render(n)...)
	monitor = append([]float32(nil), g.direct.render(n)...)
	ended := g.backing.takeEnded()
	g.mu.Unlock()

	if ended != nil {
		ended()
	}
	return record, monitor
}

// HasReference reports whether a reference track is routed to the monitor.
func (g *Graph) HasReference() bool {
	return g.reference != nil
}

// RecordInputs returns how many chains feed the record bus.
func (g *Graph) RecordInputs() int {
	return g.record.Inputs()
}

// Connected reports whether the graph still holds context connections.
func (g *Graph) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Disconnect removes every connection this graph made. Safe to call more
// than once.
func (g *Graph) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.edges {
		g.ctx.disconnect(e[0], e[1])
	}
	g.edges = nil
	g.record.chains = nil
	g.direct.chains = nil
	g.connected = false
}
