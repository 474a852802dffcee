package track

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/audiolibrelab/singcapture/internal/mix"
)

// FFmpegDecoder decodes compressed audio by piping it through ffmpeg and
// reading mono f32le back.
type FFmpegDecoder struct {
	Path string
}

func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte, mime string, rate int) (mix.Buffer, error) {
	var out, stderr bytes.Buffer
	stream := ffmpeg.Input("pipe:0").
		Output("pipe:1", ffmpeg.KwArgs{
			"f":  "f32le",
			"ac": 1,
			"ar": rate,
		}).
		GlobalArgs("-hide_banner", "-loglevel", "error").
		WithInput(bytes.NewReader(data)).
		WithOutput(&out).
		WithErrorOutput(&stderr)
	if d.Path != "" {
		stream = stream.SetFfmpegPath(d.Path)
	}

	cmd := stream.Compile()
	if err := cmd.Start(); err != nil {
		return mix.Buffer{}, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return mix.Buffer{}, fmt.Errorf("ffmpeg could not decode %s: %w: %s", mime, err, bytes.TrimSpace(stderr.Bytes()))
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return mix.Buffer{}, ctx.Err()
	}

	return mix.Buffer{Samples: fromFloat32LE(out.Bytes()), SampleRate: rate}, nil
}

func fromFloat32LE(b []byte) []float32 {
	samples := make([]float32, len(b)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return samples
}
