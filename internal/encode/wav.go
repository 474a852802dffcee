package encode

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/multierr"
)

// WavEncoder writes audio-only 16-bit PCM. The WAV header needs the final
// length, so samples go to a temp file that is copied into the sink on
// Finish. Video frames are dropped.
type WavEncoder struct {
	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	sink    io.Writer
	closed  bool
	samples int
}

// NewWavEncoder creates a WAV encoder at sampleRate.
func NewWavEncoder(sampleRate int, sink io.Writer) (*WavEncoder, error) {
	f, err := os.CreateTemp("", "singcapture-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp wav: %w", err)
	}
	return &WavEncoder{
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
		sink: sink,
	}, nil
}

func (w *WavEncoder) WriteVideo(*image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrEncoderClosed
	}
	return nil
}

func (w *WavEncoder) WriteAudio(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrEncoderClosed
	}
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		s = max(-1, min(1, s))
		w.buf.Data[i] = int(s * 32767)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	w.samples += len(samples)
	return nil
}

func (w *WavEncoder) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrEncoderClosed
	}
	w.closed = true
	defer w.cleanup()

	// the header is written with the first buffer
	if w.samples == 0 {
		w.buf.Data = w.buf.Data[:0]
		if err := w.enc.Write(w.buf); err != nil {
			return fmt.Errorf("failed to write wav header: %w", err)
		}
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind wav: %w", err)
	}
	n, err := io.Copy(w.sink, w.file)
	if err != nil {
		return fmt.Errorf("failed to deliver wav: %w", err)
	}
	slog.Debug("wav encoder finished", "samples", w.samples, "bytes", n)
	return nil
}

func (w *WavEncoder) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.cleanup()
}

func (w *WavEncoder) cleanup() error {
	return multierr.Append(w.file.Close(), os.Remove(w.file.Name()))
}
