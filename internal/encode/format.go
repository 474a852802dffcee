package encode

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoSupportedFormat is returned when no prioritized format is available.
var ErrNoSupportedFormat = errors.New("no supported recording format")

// Format is one output container and codec combination.
type Format struct {
	Name       string
	MIME       string // container type carried by the artifact
	Codecs     string // codecs parameter used when negotiating
	Container  string
	VideoCodec string // empty for audio-only formats
	AudioCodec string
	Extension  string
}

// HasVideo reports whether the format carries a video track.
func (f Format) HasVideo() bool {
	return f.VideoCodec != ""
}

// MIMEType is the full negotiation type including the codecs parameter.
func (f Format) MIMEType() string {
	if f.Codecs == "" {
		return f.MIME
	}
	return f.MIME + ";codecs=" + f.Codecs
}

func (f Format) String() string {
	return f.Name
}

var (
	WebMVP9 = Format{
		Name:       "webm-vp9",
		MIME:       "video/webm",
		Codecs:     "vp9,opus",
		Container:  "webm",
		VideoCodec: "libvpx-vp9",
		AudioCodec: "libopus",
		Extension:  "webm",
	}
	WebMVP8 = Format{
		Name:       "webm-vp8",
		MIME:       "video/webm",
		Codecs:     "vp8,opus",
		Container:  "webm",
		VideoCodec: "libvpx",
		AudioCodec: "libopus",
		Extension:  "webm",
	}
	MP4H264 = Format{
		Name:       "mp4-h264",
		MIME:       "video/mp4",
		Container:  "mp4",
		VideoCodec: "libx264",
		AudioCodec: "aac",
		Extension:  "mp4",
	}
	WAV = Format{
		Name:       "wav",
		MIME:       "audio/wav",
		Container:  "wav",
		AudioCodec: "pcm_s16le",
		Extension:  "wav",
	}
)

var known = []Format{WebMVP9, WebMVP8, MP4H264, WAV}

// DefaultPriority is the preferred format order.
func DefaultPriority() []Format {
	return append([]Format(nil), known...)
}

// Lookup finds a known format by name.
func Lookup(name string) (Format, bool) {
	for _, f := range known {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Format{}, false
}

// FormatsByName resolves a priority list of format names.
func FormatsByName(names []string) ([]Format, error) {
	formats := make([]Format, 0, len(names))
	for _, name := range names {
		f, ok := Lookup(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown recording format '%s'", name)
		}
		formats = append(formats, f)
	}
	return formats, nil
}

// Prober answers whether this host can produce a format.
type Prober interface {
	Supports(f Format) bool
}

// Negotiate returns the first supported format in priority order.
func Negotiate(p Prober, priorities []Format) (Format, error) {
	for _, f := range priorities {
		if p.Supports(f) {
			slog.Debug("Recording format selected", "format", f.Name, "mime", f.MIMEType())
			return f, nil
		}
		slog.Debug("Recording format unavailable", "format", f.Name)
	}
	return Format{}, ErrNoSupportedFormat
}
