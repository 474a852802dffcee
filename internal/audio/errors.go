package audio

import "fmt"

// ErrorKind classifies why a microphone could not be opened.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	DeviceNotFound
	DeviceBusy
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission denied"
	case DeviceNotFound:
		return "device not found"
	case DeviceBusy:
		return "device busy"
	default:
		return "unknown"
	}
}

// MicrophoneError is returned by OpenMicrophone. Compare with errors.Is
// against ErrPermissionDenied, ErrDeviceNotFound or ErrDeviceBusy.
type MicrophoneError struct {
	Kind ErrorKind
	Err  error
}

var (
	ErrPermissionDenied = &MicrophoneError{Kind: PermissionDenied}
	ErrDeviceNotFound   = &MicrophoneError{Kind: DeviceNotFound}
	ErrDeviceBusy       = &MicrophoneError{Kind: DeviceBusy}
)

func (e *MicrophoneError) Error() string {
	if e.Err == nil {
		return "microphone: " + e.Kind.String()
	}
	return fmt.Sprintf("microphone: %s: %v", e.Kind, e.Err)
}

func (e *MicrophoneError) Unwrap() error { return e.Err }

func (e *MicrophoneError) Is(target error) bool {
	t, ok := target.(*MicrophoneError)
	return ok && t.Kind == e.Kind
}
