package mix

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when the input is not a readable RIFF/WAVE file.
var ErrInvalidWAV = errors.New("invalid wav file")

// DecodeWAV reads PCM WAV data, downmixes it to mono and resamples it to
// targetRate. A targetRate of 0 keeps the file rate.
func DecodeWAV(r io.ReadSeeker, targetRate int) (Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Buffer{}, ErrInvalidWAV
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to read pcm data: %w", err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels < 1 {
		return Buffer{}, fmt.Errorf("%w: missing format chunk", ErrInvalidWAV)
	}

	depth := int(d.BitDepth)
	if depth == 0 {
		depth = pcm.SourceBitDepth
	}
	if depth < 8 || depth > 32 {
		return Buffer{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, depth)
	}
	scale := float32(int64(1) << (depth - 1))
	offset := 0
	if depth == 8 {
		// 8-bit PCM is unsigned
		offset = 128
	}

	channels := pcm.Format.NumChannels
	frames := len(pcm.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(pcm.Data[i*channels+c]-offset) / scale
		}
		samples[i] = sum / float32(channels)
	}

	b := Buffer{Samples: samples, SampleRate: pcm.Format.SampleRate}
	if targetRate > 0 && targetRate != b.SampleRate {
		b = Resample(b, targetRate)
	}
	return b, nil
}

// EncodeWAV writes b as 16-bit mono PCM.
func EncodeWAV(w io.WriteSeeker, b Buffer) error {
	enc := wav.NewEncoder(w, b.SampleRate, 16, 1, 1)
	data := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: b.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}

// Resample converts b to rate with linear interpolation.
func Resample(b Buffer, rate int) Buffer {
	if b.SampleRate <= 0 || rate <= 0 || b.SampleRate == rate || len(b.Samples) == 0 {
		return Buffer{Samples: b.Samples, SampleRate: rate}
	}
	ratio := float64(b.SampleRate) / float64(rate)
	n := int(float64(len(b.Samples)) / ratio)
	out := make([]float32, n)
	last := len(b.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = b.Samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = b.Samples[j]*(1-frac) + b.Samples[j+1]*frac
	}
	return Buffer{Samples: out, SampleRate: rate}
}
