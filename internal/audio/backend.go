package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeNull      BackendType = "null"
	BackendTypeAuto      BackendType = "auto"
)

// Device describes an input device.
type Device struct {
	Name              string
	Channels          int
	DefaultSampleRate float64
	Default           bool
}

// MicrophoneOptions are the capture constraints for one session.
type MicrophoneOptions struct {
	SampleRate int
	BlockSize  int
	// Device selects an input by name. Empty uses the system default.
	Device string

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Microphone is a live capture stream delivering mono blocks.
type Microphone interface {
	// Blocks is closed when the microphone stops.
	Blocks() <-chan []float32
	Stop() error
	Active() bool
}

// Output plays mono blocks on the performer's direct output.
type Output interface {
	Write(samples []float32) error
	Close() error
}

// Backend defines the interface for audio backend implementations
type Backend interface {
	OpenMicrophone(ctx context.Context, opts MicrophoneOptions) (Microphone, error)
	OpenOutput(sampleRate, blockSize int) (Output, error)
	ListInputs() ([]Device, error)
	Type() BackendType
}

// NewBackend returns the backend named in the configuration. "auto"
// picks portaudio when an input device is present and the null backend
// otherwise.
func NewBackend(name string) (Backend, error) {
	switch BackendType(strings.ToLower(name)) {
	case BackendTypePortAudio:
		return &PortAudioBackend{}, nil
	case BackendTypeNull:
		return NullBackend{}, nil
	case BackendTypeAuto, "":
		pa := &PortAudioBackend{}
		if inputs, err := pa.ListInputs(); err == nil && len(inputs) > 0 {
			return pa, nil
		} else if err != nil {
			slog.Warn("portaudio unavailable, using null audio backend", "error", err)
		} else {
			slog.Warn("No input devices found, using null audio backend")
		}
		return NullBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown audio backend '%s'", name)
	}
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypeNull}
	if _, err := (&PortAudioBackend{}).ListInputs(); err == nil {
		backends = append([]BackendType{BackendTypePortAudio}, backends...)
	}
	return backends
}
