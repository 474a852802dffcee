package capture_test

import (
	"context"
	"math/cmplx"
	"testing"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/singcapture/internal/capture"
	"github.com/audiolibrelab/singcapture/internal/mix"
	"github.com/audiolibrelab/singcapture/internal/track"
)

// Frequencies sit exactly on FFT bins for a 4096-point transform at 8 kHz.
const (
	fftSize       = 4096
	voiceHz       = 312.5
	backingHz     = 437.5
	referenceHz   = 1000.0
	binResolution = float64(testRate) / fftSize
)

func magnitude(spectrum []complex128, hz float64) float64 {
	return cmplx.Abs(spectrum[int(hz/binResolution+0.5)])
}

func TestRecordingExcludesReferenceTrack(t *testing.T) {
	set := backingSet(30*time.Second, 4*fftSize)
	set.Reference = &track.Asset{
		Name:     "Bohemian Rhapsody (Original)",
		Duration: 30 * time.Second,
		Buffer:   mix.Buffer{Samples: sine(referenceHz, 4*fftSize), SampleRate: testRate},
	}
	h := newHarness(t, fakeLoader{set: set})

	s, err := h.rec.Start(context.Background(), capture.Request{})
	require.NoError(t, err)

	voice := sine(voiceHz, fftSize)
	mic := h.backend.mic(0)
	for off := 0; off < fftSize; off += 256 {
		require.True(t, mic.send(voice[off:off+256]))
	}
	enc := h.factory.encoder(0)
	require.Eventually(t, func() bool { return len(enc.recorded()) >= fftSize }, time.Second, time.Millisecond)
	require.NoError(t, h.rec.Stop())
	require.Equal(t, capture.StateReady, s.State())

	recorded := enc.recorded()[:fftSize]
	signal := make([]float64, fftSize)
	for i, v := range recorded {
		signal[i] = float64(v)
	}
	spectrum := fft.FFTReal(signal)

	voicePeak := magnitude(spectrum, voiceHz)
	backingPeak := magnitude(spectrum, backingHz)
	referencePeak := magnitude(spectrum, referenceHz)

	assert.Greater(t, voicePeak, 100.0)
	assert.Greater(t, backingPeak, 100.0)
	assert.Less(t, referencePeak, voicePeak/1000, "reference track leaked into the recording")

	// a mix that did include the reference would show it at full strength
	leaky := make([]float64, fftSize)
	ref := sine(referenceHz, fftSize)
	for i := range leaky {
		leaky[i] = signal[i] + float64(ref[i])
	}
	assert.Greater(t, magnitude(fft.FFTReal(leaky), referenceHz), voicePeak/2)
}
