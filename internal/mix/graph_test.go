package mix_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/singcapture/internal/mix"
)

const rate = 48000

func constant(v float32, n int) mix.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return mix.Buffer{Samples: s, SampleRate: rate}
}

func flat() mix.Parameters {
	return mix.Parameters{MicrophoneGain: 1, BackingTrackGain: 1, ReferenceGain: 1}
}

func TestBuildWithoutMicrophone(t *testing.T) {
	ctx := mix.NewContext(rate)
	g, err := mix.Build(ctx, nil, constant(0.1, 100), nil, mix.DefaultParameters())
	assert.ErrorIs(t, err, mix.ErrMicrophoneUnavailable)
	assert.Nil(t, g)
	assert.Equal(t, 0, ctx.ConnectedCount())
}

func TestBuildEmptyBacking(t *testing.T) {
	ctx := mix.NewContext(rate)
	_, err := mix.Build(ctx, mix.NewMediaSource("mic"), mix.Buffer{SampleRate: rate}, nil, flat())
	assert.Error(t, err)
	assert.Equal(t, 0, ctx.ConnectedCount())
}

func TestRecordBusExcludesReference(t *testing.T) {
	ctx := mix.NewContext(rate)
	ref := constant(0.5, 4096)
	g, err := mix.Build(ctx, mix.NewMediaSource("mic"), constant(0.25, 4096), &ref, flat())
	require.NoError(t, err)
	defer g.Disconnect()

	assert.True(t, g.HasReference())
	assert.Equal(t, 2, g.RecordInputs())

	g.Start()
	record, monitor := g.Process(constant(0.125, 256).Samples)
	require.Len(t, record, 256)
	require.Len(t, monitor, 256)
	for i := range record {
		assert.InDelta(t, 0.375, record[i], 1e-6)
		assert.InDelta(t, 0.75, monitor[i], 1e-6)
	}
}

func TestBackingGainApplied(t *testing.T) {
	ctx := mix.NewContext(rate)
	params := mix.Parameters{MicrophoneGain: 1, BackingTrackGain: 0.35}
	g, err := mix.Build(ctx, mix.NewMediaSource("mic"), constant(1, 512), nil, params)
	require.NoError(t, err)
	defer g.Disconnect()

	g.Start()
	record, monitor := g.Process(make([]float32, 128))
	assert.InDelta(t, 0.35, record[0], 1e-6)
	// monitor carries the backing track at full level
	assert.InDelta(t, 1.0, monitor[0], 1e-6)
}

func TestBackingEndedFiresOnce(t *testing.T) {
	ctx := mix.NewContext(rate)
	g, err := mix.Build(ctx, mix.NewMediaSource("mic"), constant(0.1, 100), nil, flat())
	require.NoError(t, err)
	defer g.Disconnect()

	calls := 0
	g.OnBackingEnded(func() { calls++ })
	g.Start()
	for i := 0; i < 4; i++ {
		g.Process(make([]float32, 64))
	}
	assert.Equal(t, 1, calls)

	// Restarting after the natural end does not replay the buffer.
	g.Start()
	record, _ := g.Process(make([]float32, 64))
	assert.Equal(t, float32(0), record[0])
	assert.Equal(t, 1, calls)
}

func TestStopRewinds(t *testing.T) {
	src := mix.NewBufferSource("backing", constant(0.5, 1000))
	buf := make([]float32, 100)

	src.Start()
	assert.Equal(t, 100, src.Read(buf))
	assert.Greater(t, src.Position(), time.Duration(0))

	src.Stop()
	assert.Equal(t, time.Duration(0), src.Position())
	assert.Equal(t, 0, src.Read(buf))
	assert.Equal(t, float32(0), buf[0])
	assert.False(t, src.Ended())
}

func TestDisconnect(t *testing.T) {
	ctx := mix.NewContext(rate)
	ref := constant(0.5, 10)
	g, err := mix.Build(ctx, mix.NewMediaSource("mic"), constant(0.25, 10), &ref, mix.DefaultParameters())
	require.NoError(t, err)
	assert.Equal(t, 10, ctx.ConnectedCount())
	assert.True(t, g.Connected())

	g.Disconnect()
	g.Disconnect()
	assert.False(t, g.Connected())
	assert.Equal(t, 0, ctx.ConnectedCount())

	record, monitor := g.Process(make([]float32, 8))
	assert.Nil(t, record)
	assert.Nil(t, monitor)
	assert.NoError(t, ctx.Close())
}

func TestContextCloseWithLiveGraph(t *testing.T) {
	ctx := mix.NewContext(rate)
	g, err := mix.Build(ctx, mix.NewMediaSource("mic"), constant(0.25, 10), nil, flat())
	require.NoError(t, err)

	assert.Error(t, ctx.Close())
	g.Disconnect()

	_, err = mix.Build(ctx, mix.NewMediaSource("mic"), constant(0.25, 10), nil, flat())
	assert.ErrorIs(t, err, mix.ErrContextClosed)
}

func TestMixdown(t *testing.T) {
	vocal := constant(0.2, 3000)
	backing := constant(0.4, 5000)

	out, err := mix.Mixdown(vocal, backing, flat())
	require.NoError(t, err)
	require.Len(t, out.Samples, 5000)
	assert.Equal(t, rate, out.SampleRate)
	assert.InDelta(t, 0.6, out.Samples[100], 1e-6)
	assert.InDelta(t, 0.4, out.Samples[4000], 1e-6)
}
