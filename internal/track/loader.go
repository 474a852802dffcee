package track

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/singcapture/internal/mix"
)

var supportedAudio = map[string]bool{
	"audio/wav":  true,
	"audio/mpeg": true,
	"audio/ogg":  true,
	"audio/webm": true,
	"audio/mp4":  true,
	"audio/flac": true,
}

// aliases normalizes the MIME spellings browsers and servers use.
var aliases = map[string]string{
	"audio/x-wav":     "audio/wav",
	"audio/wave":      "audio/wav",
	"audio/vnd.wave":  "audio/wav",
	"audio/mp3":       "audio/mpeg",
	"audio/x-m4a":     "audio/mp4",
	"audio/m4a":       "audio/mp4",
	"audio/aac":       "audio/mp4",
	"audio/x-flac":    "audio/flac",
	"application/ogg": "audio/ogg",
	"video/webm":      "audio/webm",
}

var extensions = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".webm": "audio/webm",
	".m4a":  "audio/mp4",
	".aac":  "audio/mp4",
	".mp4":  "audio/mp4",
	".flac": "audio/flac",
}

// Decoder turns encoded audio into mono samples at rate.
type Decoder interface {
	Decode(ctx context.Context, data []byte, mime string, rate int) (mix.Buffer, error)
}

// Loader fetches and decodes tracks for the audio context's sample rate.
type Loader struct {
	SampleRate int
	Client     *http.Client
	// Decoder handles everything except WAV, which is decoded natively.
	Decoder Decoder
}

// NewLoader creates a loader that falls back to ffmpeg for compressed
// formats.
func NewLoader(sampleRate int, ffmpegPath string) *Loader {
	return &Loader{
		SampleRate: sampleRate,
		Client:     http.DefaultClient,
		Decoder:    &FFmpegDecoder{Path: ffmpegPath},
	}
}

// Load fetches, identifies and decodes ref.
func (l *Loader) Load(ctx context.Context, ref Ref) (*Asset, error) {
	name := displayName(ref)
	slog.Debug("Loading track", "track", name, "location", ref.Location)

	data, err := l.fetch(ctx, name, ref.Location, ref.Data)
	if err != nil {
		return nil, err
	}

	mimeType := normalizeMIME(ref.MIME)
	if mimeType == "" {
		mimeType = sniffAudio(ref.Location, data)
	}
	if !supportedAudio[mimeType] {
		return nil, loadErr(UnsupportedFormat, name, fmt.Errorf("mime type %q", mimeType))
	}

	var buf mix.Buffer
	if mimeType == "audio/wav" {
		buf, err = mix.DecodeWAV(bytes.NewReader(data), l.SampleRate)
	} else if l.Decoder != nil {
		buf, err = l.Decoder.Decode(ctx, data, mimeType, l.SampleRate)
	} else {
		err = fmt.Errorf("no decoder for %s", mimeType)
	}
	if err != nil {
		return nil, loadErr(DecodeFailure, name, err)
	}
	if len(buf.Samples) == 0 {
		return nil, loadErr(DecodeFailure, name, errors.New("no audio samples"))
	}

	duration := ref.Duration
	if duration <= 0 {
		duration = buf.Duration()
	}

	slog.Info("Track loaded",
		"track", name,
		"mime", mimeType,
		"duration", duration,
		"samples", len(buf.Samples))

	return &Asset{
		Name:     name,
		Data:     data,
		MIME:     mimeType,
		Duration: duration,
		Buffer:   buf,
	}, nil
}

func displayName(ref Ref) string {
	if ref.Name != "" {
		return ref.Name
	}
	if ref.Location != "" {
		base := filepath.Base(ref.Location)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "track"
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// fetch returns inline data, or reads a file or URL.
func (l *Loader) fetch(ctx context.Context, name, location string, inline []byte) ([]byte, error) {
	if inline != nil {
		return inline, nil
	}
	if location == "" {
		return nil, loadErr(NotFound, name, errors.New("no location"))
	}

	if !isURL(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, loadErr(NotFound, name, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, loadErr(NotFound, name, err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, loadErr(NotFound, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, loadErr(NotFound, name, fmt.Errorf("GET %s: %s", location, resp.Status))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, loadErr(NotFound, name, fmt.Errorf("failed to read response: %w", err))
	}
	return data, nil
}

func normalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if alias, ok := aliases[m]; ok {
		return alias
	}
	return m
}

// sniffAudio guesses the MIME type from the location's extension, then
// from the content itself.
func sniffAudio(location string, data []byte) string {
	if location != "" {
		path := location
		if i := strings.IndexAny(path, "?#"); i >= 0 && isURL(path) {
			path = path[:i]
		}
		if m, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
			return m
		}
	}
	if bytes.HasPrefix(data, []byte("fLaC")) {
		return "audio/flac"
	}
	return normalizeMIME(http.DetectContentType(data))
}
