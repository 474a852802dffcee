package track

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/singcapture/internal/mix"
)

const rate = 48000

func wavFile(t *testing.T, seconds float64, sampleRate int) string {
	t.Helper()
	n := int(seconds * float64(sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	path := filepath.Join(t.TempDir(), "backing.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, mix.EncodeWAV(f, mix.Buffer{Samples: samples, SampleRate: sampleRate}))
	require.NoError(t, f.Close())
	return path
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeDecoder struct {
	mime string
	err  error
}

func (d *fakeDecoder) Decode(_ context.Context, data []byte, mime string, sampleRate int) (mix.Buffer, error) {
	d.mime = mime
	if d.err != nil {
		return mix.Buffer{}, d.err
	}
	return mix.Buffer{Samples: make([]float32, sampleRate/2), SampleRate: sampleRate}, nil
}

func TestLoadWAV(t *testing.T) {
	path := wavFile(t, 0.5, 44100)
	l := NewLoader(rate, "")

	a, err := l.Load(context.Background(), Ref{Location: path})
	require.NoError(t, err)
	assert.Equal(t, "backing", a.Name)
	assert.Equal(t, "audio/wav", a.MIME)
	assert.Equal(t, rate, a.Buffer.SampleRate)
	assert.InDelta(t, 500*time.Millisecond, a.Duration, float64(time.Millisecond))
	assert.InDelta(t, 0.25, a.Buffer.Samples[100], 0.001)
}

func TestLoadAuthoritativeDuration(t *testing.T) {
	path := wavFile(t, 0.5, rate)
	a, err := NewLoader(rate, "").Load(context.Background(), Ref{Name: "Song", Location: path, Duration: 12 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, a.Duration)
	assert.Equal(t, "Song", a.Name)
}

func TestLoadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/text":
			w.Write([]byte("hello, this is not audio at all"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tests := []struct {
		description string
		ref         Ref
		expected    error
	}{
		{description: "missing file", ref: Ref{Location: filepath.Join(t.TempDir(), "nope.wav")}, expected: ErrNotFound},
		{description: "no location", ref: Ref{Name: "empty"}, expected: ErrNotFound},
		{description: "http 404", ref: Ref{Location: srv.URL + "/missing.mp3"}, expected: ErrNotFound},
		{description: "not audio", ref: Ref{Location: srv.URL + "/text"}, expected: ErrUnsupportedFormat},
		{description: "unsupported declared type", ref: Ref{Data: []byte{1, 2, 3}, MIME: "audio/midi"}, expected: ErrUnsupportedFormat},
		{description: "corrupt wav", ref: Ref{Data: []byte("RIFF....garbage"), MIME: "audio/wav"}, expected: ErrDecodeFailure},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			_, err := NewLoader(rate, "").Load(context.Background(), test.ref)
			require.Error(t, err)
			assert.ErrorIs(t, err, test.expected)

			var le *LoadError
			require.True(t, errors.As(err, &le))
			assert.NotEmpty(t, le.Track)
		})
	}
}

func TestLoadCompressedUsesDecoder(t *testing.T) {
	dec := &fakeDecoder{}
	l := &Loader{SampleRate: rate, Decoder: dec}

	a, err := l.Load(context.Background(), Ref{Name: "mp3", Data: []byte("ID3..."), MIME: "audio/mpeg; charset=binary"})
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", dec.mime)
	assert.Equal(t, 500*time.Millisecond, a.Duration)

	dec.err = errors.New("invalid data found when processing input")
	_, err = l.Load(context.Background(), Ref{Name: "bad", Data: []byte("ID3..."), MIME: "audio/mp3"})
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestNormalizeMIME(t *testing.T) {
	tests := map[string]string{
		"audio/x-wav":            "audio/wav",
		"Audio/WAVE":             "audio/wav",
		"audio/webm;codecs=opus": "audio/webm",
		"audio/x-m4a":            "audio/mp4",
		"application/ogg":        "audio/ogg",
		"audio/flac":             "audio/flac",
		"":                       "",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, normalizeMIME(in), in)
	}
}

func TestSniffAudio(t *testing.T) {
	assert.Equal(t, "audio/mpeg", sniffAudio("https://cdn.example.com/a/song.MP3?sig=abc", nil))
	assert.Equal(t, "audio/flac", sniffAudio("", []byte("fLaC\x00\x00\x00\x22")))
	assert.Equal(t, "audio/wav", sniffAudio("", []byte("RIFF\x24\x00\x00\x00WAVEfmt ")))
}

func TestLoadImage(t *testing.T) {
	l := NewLoader(rate, "")
	img, err := l.LoadImage(context.Background(), ImageRef{Name: "bg", Data: pngBytes(t)})
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, err = l.LoadImage(context.Background(), ImageRef{Name: "bg", Data: []byte("plain text")})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = l.LoadImage(context.Background(), ImageRef{Location: "/does/not/exist.png"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSet(t *testing.T) {
	backing := wavFile(t, 0.2, rate)
	l := NewLoader(rate, "")

	set, err := l.LoadSet(context.Background(), SetRef{
		Backing:    Ref{Location: backing},
		Reference:  &Ref{Location: filepath.Join(t.TempDir(), "missing.wav")},
		Background: &ImageRef{Data: pngBytes(t)},
		Watermark:  &ImageRef{Data: []byte("nope")},
	})
	require.NoError(t, err)
	assert.NotNil(t, set.Backing)
	assert.Nil(t, set.Reference)
	assert.NotNil(t, set.Background)
	assert.Nil(t, set.Watermark)

	_, err = l.LoadSet(context.Background(), SetRef{
		Backing:   Ref{Location: filepath.Join(t.TempDir(), "missing.wav")},
		Reference: &Ref{Location: backing},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
