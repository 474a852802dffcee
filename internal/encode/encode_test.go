package encode

import (
	"bytes"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/singcapture/internal/mix"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D libvpx               libvpx VP8 (codec vp8)
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus (codec opus)
`

const muxersOutput = `File formats:
 D. = Demuxing supported
 .E = Muxing supported
 --
  E mp4             MP4 (MPEG-4 Part 14)
  E webm            WebM
 DE wav             WAV / WAVE (Waveform Audio)
`

func fakeProber(encoders, muxers string, err error) *FFmpegProber {
	p := NewFFmpegProber("")
	calls := 0
	p.run = func(path string, args ...string) ([]byte, error) {
		calls++
		if calls > 2 {
			panic("ffmpeg probed more than once")
		}
		if err != nil {
			return nil, err
		}
		if args[len(args)-1] == "-encoders" {
			return []byte(encoders), nil
		}
		return []byte(muxers), nil
	}
	return p
}

func TestParseEncoders(t *testing.T) {
	names := parseEncoders([]byte(encodersOutput))
	assert.True(t, names["libx264"])
	assert.True(t, names["libopus"])
	assert.False(t, names["libvpx-vp9"])
	assert.False(t, names["V....."], "legend lines are not encoders")
}

func TestParseMuxers(t *testing.T) {
	names := parseMuxers([]byte(muxersOutput))
	assert.True(t, names["webm"])
	assert.True(t, names["mp4"])
	assert.True(t, names["wav"])
	assert.False(t, names["D."])
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		description string
		prober      Prober
		priorities  []Format
		expected    Format
		err         error
	}{
		{
			description: "vp9 missing falls through to vp8",
			prober:      fakeProber(encodersOutput, muxersOutput, nil),
			priorities:  DefaultPriority(),
			expected:    WebMVP8,
		},
		{
			description: "configured order wins",
			prober:      fakeProber(encodersOutput, muxersOutput, nil),
			priorities:  []Format{MP4H264, WebMVP8},
			expected:    MP4H264,
		},
		{
			description: "no ffmpeg leaves wav",
			prober:      fakeProber("", "", errors.New("exec: \"ffmpeg\": executable file not found")),
			priorities:  DefaultPriority(),
			expected:    WAV,
		},
		{
			description: "nothing supported",
			prober:      fakeProber("", "", errors.New("no ffmpeg")),
			priorities:  []Format{WebMVP9, MP4H264},
			err:         ErrNoSupportedFormat,
		},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			f, err := Negotiate(test.prober, test.priorities)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, f)
		})
	}
}

func TestFormatsByName(t *testing.T) {
	formats, err := FormatsByName([]string{"mp4-h264", " WAV "})
	require.NoError(t, err)
	assert.Equal(t, []Format{MP4H264, WAV}, formats)

	_, err = FormatsByName([]string{"avi"})
	assert.Error(t, err)
}

func TestChunkQueue(t *testing.T) {
	q := NewChunkQueue()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Write([]byte("ab"))
		}()
	}
	wg.Wait()
	n, err := q.Write(nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = q.Write([]byte("end"))
	require.NoError(t, err)
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 11, q.Size())

	data, err := q.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "ababababend", string(data))

	_, err = q.Bytes()
	assert.ErrorIs(t, err, ErrQueueDrained)
	_, err = q.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrQueueDrained)
}

func TestChunkQueuePreservesOrder(t *testing.T) {
	q := NewChunkQueue()
	buf := []byte("first")
	_, _ = q.Write(buf)
	copy(buf, "XXXXX")
	_, _ = q.Write([]byte("second"))

	data, err := q.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "firstsecond", string(data))
}

func TestWavEncoder(t *testing.T) {
	q := NewChunkQueue()
	enc, err := DefaultFactory{}.New(WAV, Spec{SampleRate: 48000}, q)
	require.NoError(t, err)

	require.NoError(t, enc.WriteVideo(image.NewRGBA(image.Rect(0, 0, 4, 4))))
	block := make([]float32, 480)
	for i := range block {
		block[i] = 0.5
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, enc.WriteAudio(block))
	}
	require.NoError(t, enc.Finish())
	assert.ErrorIs(t, enc.Finish(), ErrEncoderClosed)
	assert.ErrorIs(t, enc.WriteAudio(block), ErrEncoderClosed)
	assert.NoError(t, enc.Abort())

	data, err := q.Bytes()
	require.NoError(t, err)
	decoded, err := mix.DecodeWAV(bytes.NewReader(data), 0)
	require.NoError(t, err)
	assert.Equal(t, 48000, decoded.SampleRate)
	assert.Len(t, decoded.Samples, 48000)
	assert.InDelta(t, 0.5, decoded.Samples[1000], 0.001)
}

func TestWavEncoderWithoutSamples(t *testing.T) {
	q := NewChunkQueue()
	enc, err := NewWavEncoder(48000, q)
	require.NoError(t, err)
	require.NoError(t, enc.Finish())

	data, err := q.Bytes()
	require.NoError(t, err)
	require.Len(t, data, 44)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, []byte{0, 0, 0, 0}, data[40:44])
}

func TestFormatMIME(t *testing.T) {
	assert.Equal(t, "video/webm", WebMVP9.MIME)
	assert.Equal(t, "video/webm;codecs=vp9,opus", WebMVP9.MIMEType())
	assert.Equal(t, "video/webm;codecs=vp8,opus", WebMVP8.MIMEType())
	assert.Equal(t, "audio/wav", WAV.MIMEType())
}

func TestWavEncoderAbort(t *testing.T) {
	q := NewChunkQueue()
	enc, err := NewWavEncoder(48000, q)
	require.NoError(t, err)
	require.NoError(t, enc.WriteAudio([]float32{0.1, 0.2}))
	require.NoError(t, enc.Abort())
	assert.NoError(t, enc.Abort())
	assert.Equal(t, 0, q.Size())
}

func TestFactoryRejectsBadSpec(t *testing.T) {
	_, err := DefaultFactory{}.New(WebMVP8, Spec{SampleRate: 48000}, NewChunkQueue())
	assert.Error(t, err)
	_, err = DefaultFactory{}.New(WAV, Spec{}, NewChunkQueue())
	assert.Error(t, err)
	_, err = DefaultFactory{}.New(WAV, Spec{SampleRate: 48000}, nil)
	assert.Error(t, err)
}

func TestFloat32LE(t *testing.T) {
	buf := float32LE(nil, []float32{1, -2})
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0xc0}, buf)
}
