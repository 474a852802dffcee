package encode

import (
	"errors"
	"fmt"
	"image"
	"io"
)

// ErrEncoderClosed is returned when writing to a finished or aborted
// encoder.
var ErrEncoderClosed = errors.New("encoder closed")

// Encoder turns composed frames and mixed audio into container bytes
// delivered to its sink.
type Encoder interface {
	WriteVideo(frame *image.RGBA) error
	WriteAudio(samples []float32) error
	// Finish flushes the encoder and returns once every byte has reached
	// the sink.
	Finish() error
	// Abort discards the recording.
	Abort() error
}

// Spec carries the stream parameters of one session.
type Spec struct {
	Width      int
	Height     int
	FPS        int
	SampleRate int
}

// Factory creates encoders for a negotiated format.
type Factory interface {
	New(f Format, spec Spec, sink io.Writer) (Encoder, error)
}

// DefaultFactory builds ffmpeg encoders for video formats and native WAV
// encoders for the audio-only fallback.
type DefaultFactory struct {
	FFmpegPath string
	// LogWriter receives ffmpeg's stderr. Nil discards it.
	LogWriter io.Writer
	// LogLevel is passed to ffmpeg's -loglevel. Empty means "error".
	LogLevel string
}

func (d DefaultFactory) New(f Format, spec Spec, sink io.Writer) (Encoder, error) {
	if sink == nil {
		return nil, fmt.Errorf("encoder sink is nil")
	}
	if spec.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", spec.SampleRate)
	}
	if f.Container == WAV.Container {
		return NewWavEncoder(spec.SampleRate, sink)
	}
	return NewFFmpegEncoder(f, spec, sink, FFmpegOptions{
		Path:      d.FFmpegPath,
		LogWriter: d.LogWriter,
		LogLevel:  d.LogLevel,
	})
}
