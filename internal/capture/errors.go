package capture

import (
	"errors"
	"fmt"

	"github.com/audiolibrelab/singcapture/internal/audio"
	"github.com/audiolibrelab/singcapture/internal/encode"
	"github.com/audiolibrelab/singcapture/internal/mix"
	"github.com/audiolibrelab/singcapture/internal/track"
)

// ErrClosed is returned by a closed recorder.
var ErrClosed = errors.New("recorder closed")

// Kind is the structured cause of a failed session.
type Kind int

const (
	KindTrackNotFound Kind = iota + 1
	KindUnsupportedTrackFormat
	KindTrackDecodeFailure
	KindMicrophonePermissionDenied
	KindMicrophoneNotFound
	KindMicrophoneBusy
	KindEncoderUnsupported
	KindEncodingFailure
)

func (k Kind) String() string {
	switch k {
	case KindTrackNotFound:
		return "LoadError::NotFound"
	case KindUnsupportedTrackFormat:
		return "LoadError::UnsupportedFormat"
	case KindTrackDecodeFailure:
		return "LoadError::DecodeFailure"
	case KindMicrophonePermissionDenied:
		return "MicrophoneUnavailable::PermissionDenied"
	case KindMicrophoneNotFound:
		return "MicrophoneUnavailable::DeviceNotFound"
	case KindMicrophoneBusy:
		return "MicrophoneUnavailable::DeviceBusy"
	case KindEncoderUnsupported:
		return "EncoderUnsupported"
	case KindEncodingFailure:
		return "EncodingFailure"
	default:
		return "Unknown"
	}
}

// Message is the short status line shown to the performer.
func (k Kind) Message() string {
	switch k {
	case KindTrackNotFound:
		return "backing track not found"
	case KindUnsupportedTrackFormat:
		return "unsupported track format"
	case KindTrackDecodeFailure:
		return "could not decode track"
	case KindMicrophonePermissionDenied:
		return "microphone access required"
	case KindMicrophoneNotFound:
		return "no microphone found"
	case KindMicrophoneBusy:
		return "microphone is busy"
	case KindEncoderUnsupported:
		return "recording format not supported on this device"
	default:
		return "recording failed"
	}
}

// Error is the terminal failure of a session. errors.Is matches any
// *Error of the same Kind.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrTrackNotFound              = &Error{Kind: KindTrackNotFound}
	ErrUnsupportedTrackFormat     = &Error{Kind: KindUnsupportedTrackFormat}
	ErrTrackDecodeFailure         = &Error{Kind: KindTrackDecodeFailure}
	ErrMicrophonePermissionDenied = &Error{Kind: KindMicrophonePermissionDenied}
	ErrMicrophoneNotFound         = &Error{Kind: KindMicrophoneNotFound}
	ErrMicrophoneBusy             = &Error{Kind: KindMicrophoneBusy}
	ErrEncoderUnsupported         = &Error{Kind: KindEncoderUnsupported}
	ErrEncodingFailure            = &Error{Kind: KindEncodingFailure}
)

// classify maps a failure from any stage onto a session error kind.
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	e := &Error{Kind: KindEncodingFailure, Reason: err.Error(), Err: err}

	var le *track.LoadError
	var me *audio.MicrophoneError
	switch {
	case errors.As(err, &le):
		switch le.Kind {
		case track.NotFound:
			e.Kind = KindTrackNotFound
		case track.UnsupportedFormat:
			e.Kind = KindUnsupportedTrackFormat
		default:
			e.Kind = KindTrackDecodeFailure
		}
	case errors.As(err, &me):
		switch me.Kind {
		case audio.PermissionDenied:
			e.Kind = KindMicrophonePermissionDenied
		case audio.DeviceBusy:
			e.Kind = KindMicrophoneBusy
		default:
			e.Kind = KindMicrophoneNotFound
		}
	case errors.Is(err, mix.ErrMicrophoneUnavailable):
		e.Kind = KindMicrophoneNotFound
	case errors.Is(err, encode.ErrNoSupportedFormat):
		e.Kind = KindEncoderUnsupported
	}
	return e
}
