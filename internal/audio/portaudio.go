package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/multierr"
)

// initialize is replaced in tests.
var initialize = portaudio.Initialize

// PortAudioBackend captures and plays audio through PortAudio.
type PortAudioBackend struct{}

func (b *PortAudioBackend) Type() BackendType {
	return BackendTypePortAudio
}

// ListInputs returns every device with at least one input channel.
func (b *PortAudioBackend) ListInputs() ([]Device, error) {
	if err := initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var inputs []Device
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		inputs = append(inputs, Device{
			Name:              d.Name,
			Channels:          d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && d.Name == def.Name,
		})
	}
	return inputs, nil
}

func findInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device named %q", name)
}

// classify maps a PortAudio failure onto the microphone error kinds. A
// denied microphone surfaces as a host API error.
func classify(err error) ErrorKind {
	var paErr portaudio.Error
	if errors.As(err, &paErr) && paErr == portaudio.DeviceUnavailable {
		return DeviceBusy
	}
	var hostErr portaudio.UnanticipatedHostError
	if errors.As(err, &hostErr) {
		return PermissionDenied
	}
	return DeviceNotFound
}

// OpenMicrophone opens a mono input stream. PortAudio has no switch for
// echo cancellation, noise suppression or auto gain, so those requests
// are only logged.
func (b *PortAudioBackend) OpenMicrophone(ctx context.Context, opts MicrophoneOptions) (Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := initialize(); err != nil {
		return nil, &MicrophoneError{Kind: DeviceNotFound, Err: err}
	}

	dev, err := findInput(opts.Device)
	if err != nil || dev == nil {
		portaudio.Terminate()
		return nil, &MicrophoneError{Kind: DeviceNotFound, Err: err}
	}

	m := &portAudioMicrophone{
		blocks: make(chan []float32, 16),
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(opts.SampleRate)
	params.FramesPerBuffer = opts.BlockSize

	stream, err := portaudio.OpenStream(params, m.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, &MicrophoneError{Kind: classify(err), Err: fmt.Errorf("failed to open input stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return nil, &MicrophoneError{Kind: classify(err), Err: fmt.Errorf("failed to start input stream: %w", err)}
	}
	m.stream = stream
	m.active.Store(true)

	slog.Info("Microphone opened",
		"device", dev.Name,
		"sample_rate", opts.SampleRate,
		"block_size", opts.BlockSize,
		"echo_cancellation", opts.EchoCancellation,
		"noise_suppression", opts.NoiseSuppression,
		"auto_gain_control", opts.AutoGainControl)
	return m, nil
}

type portAudioMicrophone struct {
	stream  *portaudio.Stream
	blocks  chan []float32
	active  atomic.Bool
	dropped atomic.Int64

	stopOnce sync.Once
	stopErr  error
}

// callback runs on the PortAudio thread and must not block.
func (m *portAudioMicrophone) callback(in []float32) {
	block := make([]float32, len(in))
	copy(block, in)
	select {
	case m.blocks <- block:
	default:
		m.dropped.Add(1)
	}
}

func (m *portAudioMicrophone) Blocks() <-chan []float32 {
	return m.blocks
}

func (m *portAudioMicrophone) Active() bool {
	return m.active.Load()
}

// Stop ends capture and closes Blocks. Safe to call more than once.
func (m *portAudioMicrophone) Stop() error {
	m.stopOnce.Do(func() {
		m.active.Store(false)
		// Stop waits for the callback to return, so closing the channel
		// afterwards cannot race a send.
		m.stopErr = multierr.Combine(m.stream.Stop(), m.stream.Close())
		close(m.blocks)
		m.stopErr = multierr.Append(m.stopErr, portaudio.Terminate())
		if n := m.dropped.Load(); n > 0 {
			slog.Warn("Microphone blocks dropped", "count", n)
		}
		slog.Debug("Microphone stopped")
	})
	return m.stopErr
}

// OpenOutput opens the default output device for monitoring.
func (b *PortAudioBackend) OpenOutput(sampleRate, blockSize int) (Output, error) {
	if err := initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	o := &portAudioOutput{queue: make(chan []float32, 8)}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), blockSize, o.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	o.stream = stream
	return o, nil
}

type portAudioOutput struct {
	stream  *portaudio.Stream
	queue   chan []float32
	pending []float32

	mu     sync.Mutex
	closed bool
}

func (o *portAudioOutput) callback(out []float32) {
	n := 0
	for n < len(out) {
		if len(o.pending) == 0 {
			select {
			case block := <-o.queue:
				o.pending = block
				continue
			default:
			}
			// underrun
			clear(out[n:])
			return
		}
		c := copy(out[n:], o.pending)
		o.pending = o.pending[c:]
		n += c
	}
}

// Write queues a block for playback. When the device falls behind the
// block is dropped rather than stalling the caller.
func (o *portAudioOutput) Write(samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("output closed")
	}
	select {
	case o.queue <- samples:
	default:
	}
	return nil
}

func (o *portAudioOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return multierr.Combine(o.stream.Stop(), o.stream.Close(), portaudio.Terminate())
}
