package audio

import (
	"context"
	"errors"
)

// NullBackend has no devices: microphones cannot be opened and output is
// discarded. Used on headless hosts.
type NullBackend struct{}

func (NullBackend) OpenMicrophone(context.Context, MicrophoneOptions) (Microphone, error) {
	return nil, &MicrophoneError{Kind: DeviceNotFound, Err: errors.New("null audio backend has no inputs")}
}

func (NullBackend) OpenOutput(int, int) (Output, error) {
	return DiscardOutput{}, nil
}

func (NullBackend) ListInputs() ([]Device, error) {
	return nil, nil
}

func (NullBackend) Type() BackendType {
	return BackendTypeNull
}

// DiscardOutput drops everything written to it.
type DiscardOutput struct{}

func (DiscardOutput) Write([]float32) error { return nil }
func (DiscardOutput) Close() error          { return nil }
