package mix_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/singcapture/internal/mix"
)

func sine(freq float64, amp float32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = amp * float32(math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return s
}

func peak(s []float32) float32 {
	var p float32
	for _, v := range s {
		if a := float32(math.Abs(float64(v))); a > p {
			p = a
		}
	}
	return p
}

func TestHighPass(t *testing.T) {
	tests := []struct {
		description string
		freq        float64
		min, max    float32
	}{
		{description: "rumble is attenuated", freq: 30, min: 0, max: 0.2},
		{description: "voice passes", freq: 1000, min: 0.95, max: 1.05},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			f := mix.NewHighPass("hp", rate, 100, 0.707)
			buf := sine(test.freq, 1, rate)
			f.Process(buf)
			p := peak(buf[rate/2:])
			assert.GreaterOrEqual(t, p, test.min)
			assert.LessOrEqual(t, p, test.max)
		})
	}
}

func TestPeakingBoost(t *testing.T) {
	f := mix.NewPeaking("presence", rate, 2500, 1.2, 3)
	buf := sine(2500, 0.5, rate)
	f.Process(buf)
	// +3 dB is a factor of about 1.41
	assert.InDelta(t, 0.5*1.4125, peak(buf[rate/2:]), 0.02)
}

func TestCompressor(t *testing.T) {
	c := mix.NewCompressor("comp", rate, -24, 4, 3*time.Millisecond, 250*time.Millisecond)

	quiet := sine(440, 0.01, rate/10)
	c.Process(quiet)
	assert.InDelta(t, 0.01, peak(quiet), 0.001)

	loud := make([]float32, rate)
	for i := range loud {
		loud[i] = 1
	}
	c.Process(loud)
	// 24 dB over threshold at 4:1 leaves 6 dB over, an 18 dB reduction
	assert.InDelta(t, 18, c.Reduction(), 0.1)
	assert.InDelta(t, math.Pow(10, -18.0/20), loud[len(loud)-1], 0.01)
}

func TestBusClipsOutput(t *testing.T) {
	ctx := mix.NewContext(rate)
	g, err := mix.Build(ctx, mix.NewMediaSource("mic"), mix.Buffer{Samples: []float32{0.9, -0.9}, SampleRate: rate}, nil, flat())
	require.NoError(t, err)
	defer g.Disconnect()

	g.Start()
	record, _ := g.Process([]float32{0.9, -0.9})
	assert.Equal(t, []float32{1, -1}, record)
}

func TestWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	in := mix.Buffer{Samples: sine(440, 0.5, 44100), SampleRate: 44100}
	require.NoError(t, mix.EncodeWAV(f, in))
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	out, err := mix.DecodeWAV(f, rate)
	require.NoError(t, err)
	assert.Equal(t, rate, out.SampleRate)
	assert.InDelta(t, rate, len(out.Samples), 2)
	assert.InDelta(t, 0.5, peak(out.Samples), 0.01)
	assert.InDelta(t, time.Second, out.Duration(), float64(time.Millisecond))
}

func TestDecodeWAVInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a riff file"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = mix.DecodeWAV(f, rate)
	assert.ErrorIs(t, err, mix.ErrInvalidWAV)
}

func TestResample(t *testing.T) {
	in := mix.Buffer{Samples: []float32{0, 1, 0, -1}, SampleRate: 24000}
	out := mix.Resample(in, 48000)
	require.Len(t, out.Samples, 8)
	assert.Equal(t, float32(0.5), out.Samples[1])
	assert.Equal(t, in.Duration(), out.Duration())
}
