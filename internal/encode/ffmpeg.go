package encode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"
)

// FFmpegOptions configures the ffmpeg child process.
type FFmpegOptions struct {
	Path      string
	LogWriter io.Writer
	LogLevel  string
}

// FFmpegEncoder streams raw RGBA frames on ffmpeg's stdin and mono f32le
// audio on fd 3. The muxed container comes back on stdout into the sink.
type FFmpegEncoder struct {
	format Format
	spec   Spec

	proc    *ffmpegProcess
	videoMu sync.Mutex
	video   *os.File
	audioMu sync.Mutex
	audio   *os.File
	abuf    []byte

	closeOnce sync.Once
	closed    chan struct{}
}

type ffmpegProcess struct {
	wait func() error
	kill func() error
}

// NewFFmpegEncoder starts ffmpeg for format f.
func NewFFmpegEncoder(f Format, spec Spec, sink io.Writer, opts FFmpegOptions) (*FFmpegEncoder, error) {
	if !f.HasVideo() {
		return nil, fmt.Errorf("format %s has no video track", f.Name)
	}
	if spec.Width <= 0 || spec.Height <= 0 || spec.FPS <= 0 {
		return nil, fmt.Errorf("invalid video spec %dx%d@%d", spec.Width, spec.Height, spec.FPS)
	}

	videoR, videoW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create video pipe: %w", err)
	}
	audioR, audioW, err := os.Pipe()
	if err != nil {
		videoR.Close()
		videoW.Close()
		return nil, fmt.Errorf("failed to create audio pipe: %w", err)
	}

	stream := buildStream(f, spec, opts).WithInput(videoR).WithOutput(sink)
	if opts.LogWriter != nil {
		stream = stream.WithErrorOutput(opts.LogWriter)
	}
	cmd := stream.Compile()
	cmd.ExtraFiles = []*os.File{audioR}

	slog.Debug("Starting ffmpeg encoder", "format", f.Name, "args", cmd.Args)
	if err := cmd.Start(); err != nil {
		closeErr := multierr.Combine(videoR.Close(), videoW.Close(), audioR.Close(), audioW.Close())
		return nil, multierr.Append(fmt.Errorf("failed to start ffmpeg: %w", err), closeErr)
	}
	// the child holds its own copies of the read ends
	videoR.Close()
	audioR.Close()

	return &FFmpegEncoder{
		format: f,
		spec:   spec,
		proc: &ffmpegProcess{
			wait: cmd.Wait,
			kill: func() error { return cmd.Process.Kill() },
		},
		video:  videoW,
		audio:  audioW,
		closed: make(chan struct{}),
	}, nil
}

func buildStream(f Format, spec Spec, opts FFmpegOptions) *ffmpeg.Stream {
	video := ffmpeg.Input("pipe:0", ffmpeg.KwArgs{
		"f":       "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"r":       spec.FPS,
	})
	audio := ffmpeg.Input("pipe:3", ffmpeg.KwArgs{
		"f":  "f32le",
		"ar": spec.SampleRate,
		"ac": 1,
	})

	out := ffmpeg.KwArgs{
		"f":       f.Container,
		"c:v":     f.VideoCodec,
		"c:a":     f.AudioCodec,
		"pix_fmt": "yuv420p",
		"r":       spec.FPS,
	}
	switch f.Container {
	case "webm":
		out["deadline"] = "realtime"
		out["cpu-used"] = 8
		out["b:v"] = "2M"
	case "mp4":
		// a pipe cannot be seeked back to write the moov atom
		out["movflags"] = "frag_keyframe+empty_moov"
		out["preset"] = "veryfast"
	}

	level := opts.LogLevel
	if level == "" {
		level = "error"
	}
	stream := ffmpeg.Output([]*ffmpeg.Stream{video, audio}, "pipe:1", out).
		GlobalArgs("-hide_banner", "-loglevel", level).
		OverWriteOutput()
	if opts.Path != "" {
		stream = stream.SetFfmpegPath(opts.Path)
	}
	return stream
}

func (e *FFmpegEncoder) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// WriteVideo sends one frame. Frames must match the negotiated size.
func (e *FFmpegEncoder) WriteVideo(frame *image.RGBA) error {
	e.videoMu.Lock()
	defer e.videoMu.Unlock()

	if e.isClosed() {
		return ErrEncoderClosed
	}
	b := frame.Bounds()
	if b.Dx() != e.spec.Width || b.Dy() != e.spec.Height {
		return fmt.Errorf("frame size %dx%d does not match %dx%d", b.Dx(), b.Dy(), e.spec.Width, e.spec.Height)
	}

	row := b.Dx() * 4
	if frame.Stride == row {
		if _, err := e.video.Write(frame.Pix[:row*b.Dy()]); err != nil {
			return fmt.Errorf("failed to write video frame: %w", err)
		}
		return nil
	}
	for y := 0; y < b.Dy(); y++ {
		off := y * frame.Stride
		if _, err := e.video.Write(frame.Pix[off : off+row]); err != nil {
			return fmt.Errorf("failed to write video frame: %w", err)
		}
	}
	return nil
}

// WriteAudio sends mono samples as little-endian float32.
func (e *FFmpegEncoder) WriteAudio(samples []float32) error {
	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	if e.isClosed() {
		return ErrEncoderClosed
	}
	e.abuf = float32LE(e.abuf, samples)
	if _, err := e.audio.Write(e.abuf); err != nil {
		return fmt.Errorf("failed to write audio block: %w", err)
	}
	return nil
}

func float32LE(buf []byte, samples []float32) []byte {
	n := len(samples) * 4
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

// closeInputs closes both pipes once. In-flight writes finish first.
func (e *FFmpegEncoder) closeInputs() (first bool, err error) {
	e.closeOnce.Do(func() {
		first = true
		close(e.closed)
		e.videoMu.Lock()
		err = multierr.Append(err, e.video.Close())
		e.videoMu.Unlock()
		e.audioMu.Lock()
		err = multierr.Append(err, e.audio.Close())
		e.audioMu.Unlock()
	})
	return first, err
}

// Finish closes the inputs and waits for ffmpeg to flush the container.
func (e *FFmpegEncoder) Finish() error {
	first, err := e.closeInputs()
	if !first {
		return ErrEncoderClosed
	}
	if waitErr := e.proc.wait(); waitErr != nil {
		return multierr.Append(err, fmt.Errorf("ffmpeg %s encode failed: %w", e.format.Name, waitErr))
	}
	slog.Debug("ffmpeg encoder finished", "format", e.format.Name)
	return err
}

// Abort kills ffmpeg. Output already in the sink is left as is.
func (e *FFmpegEncoder) Abort() error {
	first, _ := e.closeInputs()
	if !first {
		return nil
	}
	if err := e.proc.kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill ffmpeg: %w", err)
	}
	// exit status after a kill is expected
	_ = e.proc.wait()
	return nil
}
