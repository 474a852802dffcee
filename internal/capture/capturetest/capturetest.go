// Package capturetest provides in-memory devices and a recorder built on
// them for tests of packages above capture.
package capturetest

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/audiolibrelab/singcapture/internal/audio"
	"github.com/audiolibrelab/singcapture/internal/capture"
	"github.com/audiolibrelab/singcapture/internal/config"
	"github.com/audiolibrelab/singcapture/internal/encode"
	"github.com/audiolibrelab/singcapture/internal/mix"
	"github.com/audiolibrelab/singcapture/internal/play"
	"github.com/audiolibrelab/singcapture/internal/track"
)

// SampleRate is the rate of the test configuration.
const SampleRate = 8000

// Microphone delivers blocks pushed with Send.
type Microphone struct {
	mu      sync.Mutex
	blocks  chan []float32
	stopped bool
}

func (m *Microphone) Blocks() <-chan []float32 { return m.blocks }

func (m *Microphone) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stopped
}

func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.blocks)
	}
	return nil
}

// Send queues a block. It reports false once the microphone stopped.
func (m *Microphone) Send(block []float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	m.blocks <- block
	return true
}

// Backend opens Microphones, or fails with OpenErr when set.
type Backend struct {
	mu      sync.Mutex
	OpenErr error
	mics    []*Microphone
}

func (b *Backend) OpenMicrophone(context.Context, audio.MicrophoneOptions) (audio.Microphone, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	m := &Microphone{blocks: make(chan []float32, 64)}
	b.mics = append(b.mics, m)
	return m, nil
}

func (b *Backend) OpenOutput(int, int) (audio.Output, error) { return audio.DiscardOutput{}, nil }
func (b *Backend) ListInputs() ([]audio.Device, error) {
	return []audio.Device{{Name: "Test Microphone", Channels: 1, DefaultSampleRate: SampleRate, Default: true}}, nil
}
func (b *Backend) Type() audio.BackendType { return audio.BackendTypeNull }

// Microphone returns the i-th opened microphone.
func (b *Backend) Microphone(i int) *Microphone {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mics[i]
}

// Loader returns a fixed track set.
type Loader struct {
	Set *track.Set
	Err error
}

func (l Loader) LoadSet(context.Context, track.SetRef) (*track.Set, error) {
	return l.Set, l.Err
}

// Prober supports only the native WAV encoder.
type Prober struct{}

func (Prober) Supports(f encode.Format) bool { return f.Container == encode.WAV.Container }

// Playback ends when stopped.
type Playback struct {
	once sync.Once
	done chan struct{}
}

func (p *Playback) Stop() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *Playback) Done() <-chan struct{} { return p.done }

// Player starts Playbacks without touching any device.
type Player struct {
	mu     sync.Mutex
	starts int
}

// Starts returns how many playbacks were started.
func (p *Player) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

func (p *Player) Start(string, string) (play.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	return &Playback{done: make(chan struct{})}, nil
}

// BackingSet is a sine backing track of the given length.
func BackingSet(duration time.Duration) *track.Set {
	n := int(duration.Seconds() * SampleRate)
	if n > SampleRate {
		n = SampleRate
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.25 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return &track.Set{
		Backing: &track.Asset{
			Name:     "Bohemian Rhapsody (Karaoke)",
			MIME:     "audio/wav",
			Duration: duration,
			Buffer:   mix.Buffer{Samples: samples, SampleRate: SampleRate},
		},
	}
}

// Config is a small, fast configuration recording WAV.
func Config() *config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = SampleRate
	cfg.Audio.BlockSize = 256
	cfg.Video.Width, cfg.Video.Height = 64, 36
	cfg.Recording.StartDelay = 0
	cfg.Recording.AutoStopBuffer = time.Second
	cfg.Recording.Encoders = []string{"wav"}
	cfg.Mix.Enhancement.Enabled = config.FlagPtr(false)
	return cfg
}

// Recorder is a capture recorder over fakes and a mock clock.
type Recorder struct {
	*capture.Recorder
	Clock   *clock.Mock
	Backend *Backend
	Player  *Player
}

// NewRecorder builds a Recorder for cfg loading set. The recorder is
// closed when the test ends unless the caller closes it first.
func NewRecorder(t testing.TB, cfg *config.Config, set *track.Set) *Recorder {
	t.Helper()
	r := &Recorder{Clock: clock.NewMock(), Backend: &Backend{}, Player: &Player{}}
	rec, err := capture.NewRecorder(capture.Options{
		Config:  cfg,
		Backend: r.Backend,
		Loader:  Loader{Set: set},
		Prober:  Prober{},
		Factory: encode.DefaultFactory{},
		Player:  r.Player,
		Clock:   r.Clock,
	})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	r.Recorder = rec
	t.Cleanup(func() { rec.Close() })
	return r
}
