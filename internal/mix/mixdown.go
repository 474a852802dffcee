package mix

import "fmt"

const mixdownBlock = 1024

// Mixdown renders a dry vocal take against the backing track through the
// same record chain a live session uses. The result is as long as the
// longer of the two inputs, at the vocal's sample rate.
func Mixdown(vocal, backing Buffer, params Parameters) (Buffer, error) {
	if vocal.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("vocal buffer has no sample rate")
	}
	if backing.SampleRate != vocal.SampleRate {
		backing = Resample(backing, vocal.SampleRate)
	}

	ctx := NewContext(vocal.SampleRate)
	mic := NewMediaSource("vocal")
	g, err := Build(ctx, mic, backing, nil, params)
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to build mixdown graph: %w", err)
	}
	g.Start()

	total := max(len(vocal.Samples), len(backing.Samples))
	out := make([]float32, 0, total)
	block := make([]float32, mixdownBlock)
	for pos := 0; pos < total; pos += mixdownBlock {
		n := min(mixdownBlock, total-pos)
		in := block[:n]
		clear(in)
		if pos < len(vocal.Samples) {
			copy(in, vocal.Samples[pos:])
		}
		record, _ := g.Process(in)
		out = append(out, record...)
	}

	g.Stop()
	g.Disconnect()
	if err := ctx.Close(); err != nil {
		return Buffer{}, err
	}
	return Buffer{Samples: out, SampleRate: vocal.SampleRate}, nil
}
