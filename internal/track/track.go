package track

import (
	"fmt"
	"time"

	"github.com/audiolibrelab/singcapture/internal/mix"
)

// Kind classifies a load failure.
type Kind int

const (
	NotFound Kind = iota + 1
	UnsupportedFormat
	DecodeFailure
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case UnsupportedFormat:
		return "unsupported format"
	case DecodeFailure:
		return "decode failure"
	default:
		return "unknown"
	}
}

// LoadError reports why a track or image could not be loaded. Compare
// with errors.Is against ErrNotFound, ErrUnsupportedFormat or
// ErrDecodeFailure.
type LoadError struct {
	Kind  Kind
	Track string
	Err   error
}

var (
	ErrNotFound          = &LoadError{Kind: NotFound}
	ErrUnsupportedFormat = &LoadError{Kind: UnsupportedFormat}
	ErrDecodeFailure     = &LoadError{Kind: DecodeFailure}
)

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("track %q: %s", e.Track, e.Kind)
	}
	return fmt.Sprintf("track %q: %s: %v", e.Track, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is matches any LoadError of the same kind.
func (e *LoadError) Is(target error) bool {
	t, ok := target.(*LoadError)
	return ok && t.Kind == e.Kind
}

func loadErr(kind Kind, name string, err error) *LoadError {
	return &LoadError{Kind: kind, Track: name, Err: err}
}

// Ref identifies an audio asset supplied by the catalog. Exactly one of
// Data or Location is expected; Data wins when both are set.
type Ref struct {
	Name     string
	Location string // file path or http(s) URL
	Data     []byte
	MIME     string
	// Duration is authoritative when positive.
	Duration time.Duration
}

// Asset is a fetched and decoded track. Immutable after Load.
type Asset struct {
	Name     string
	Data     []byte
	MIME     string
	Duration time.Duration
	Buffer   mix.Buffer
}
