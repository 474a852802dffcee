package play

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayback struct {
	done    chan struct{}
	once    sync.Once
	stopped int
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }

func (p *fakePlayback) Stop() error {
	p.stopped++
	p.once.Do(func() { close(p.done) })
	return nil
}

type fakePlayer struct {
	started []string
	last    *fakePlayback
	err     error
}

func (f *fakePlayer) Start(path, mime string) (Playback, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.started = append(f.started, string(data))
	f.last = &fakePlayback{done: make(chan struct{})}
	return f.last, nil
}

func media() Media {
	return Media{Data: []byte("webm bytes"), MIME: "video/webm", Filename: "My_Song.webm"}
}

func TestPlayToggles(t *testing.T) {
	player := &fakePlayer{}
	p, err := Present(media(), player, NewRegistry())
	require.NoError(t, err)

	playing, err := p.Play()
	require.NoError(t, err)
	assert.True(t, playing)
	assert.True(t, p.Playing())
	first := player.last

	playing, err = p.Play()
	require.NoError(t, err)
	assert.False(t, playing)
	assert.False(t, p.Playing())
	assert.Equal(t, 1, first.stopped)
	assert.Len(t, player.started, 1)

	playing, err = p.Play()
	require.NoError(t, err)
	assert.True(t, playing)
	assert.Equal(t, []string{"webm bytes", "webm bytes"}, player.started)
	require.NoError(t, p.Release())
}

func TestPlayAfterNaturalEnd(t *testing.T) {
	player := &fakePlayer{}
	p, err := Present(media(), player, NewRegistry())
	require.NoError(t, err)
	defer p.Release()

	_, err = p.Play()
	require.NoError(t, err)
	close(player.last.done)
	assert.False(t, p.Playing())

	playing, err := p.Play()
	require.NoError(t, err)
	assert.True(t, playing, "a finished playback does not count as active")
}

func TestReleaseRevokesOnce(t *testing.T) {
	reg := NewRegistry()
	p, err := Present(media(), &fakePlayer{}, reg)
	require.NoError(t, err)

	url := p.DownloadURL()
	assert.True(t, strings.HasPrefix(url, "blob:"))
	m, ok := reg.Resolve(url)
	require.True(t, ok)
	assert.Equal(t, "My_Song.webm", m.Filename)
	_, ok = reg.Resolve(strings.TrimPrefix(url, "blob:"))
	assert.True(t, ok)

	_, err = p.Play()
	require.NoError(t, err)

	require.NoError(t, p.Release())
	require.NoError(t, p.Release())
	assert.Equal(t, 1, reg.Revoked())
	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.Revoke(url))
	_, ok = reg.Resolve(url)
	assert.False(t, ok)
	assert.False(t, p.Playing())

	_, err = p.Play()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = p.Save(t.TempDir())
	assert.ErrorIs(t, err, ErrReleased)
}

func TestPresentRejectsEmpty(t *testing.T) {
	_, err := Present(Media{Filename: "x.webm"}, nil, NewRegistry())
	assert.Error(t, err)
}

func TestPlayerFailure(t *testing.T) {
	p, err := Present(media(), &fakePlayer{err: errors.New("no media player found")}, NewRegistry())
	require.NoError(t, err)
	defer p.Release()

	playing, err := p.Play()
	assert.Error(t, err)
	assert.False(t, playing)
}

func TestSave(t *testing.T) {
	p, err := Present(media(), nil, NewRegistry())
	require.NoError(t, err)
	defer p.Release()

	dir := filepath.Join(t.TempDir(), "out")
	path, err := p.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "My_Song.webm"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "webm bytes", string(data))
}

func TestFindPlayer(t *testing.T) {
	tests := []struct {
		description string
		installed   []string
		mime        string
		expected    string
	}{
		{description: "vlc preferred", installed: []string{"ffplay", "vlc"}, mime: "video/webm", expected: "vlc"},
		{description: "ffplay fallback", installed: []string{"ffplay"}, mime: "video/mp4", expected: "ffplay"},
		{description: "aplay only for wav", installed: []string{"aplay"}, mime: "audio/wav", expected: "aplay"},
		{description: "aplay cannot play video", installed: []string{"aplay"}, mime: "video/webm"},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			p := &ExecPlayer{lookPath: func(name string) (string, error) {
				for _, n := range test.installed {
					if n == name {
						return "/usr/bin/" + n, nil
					}
				}
				return "", errors.New("not found")
			}}
			player, err := p.findPlayer(test.mime)
			if test.expected == "" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, player)
		})
	}
}

func TestExecPlayerMissingFile(t *testing.T) {
	_, err := NewExecPlayer(nil).Start(filepath.Join(t.TempDir(), "missing.webm"), "video/webm")
	assert.Error(t, err)
}

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"My Song":                "My_Song",
		"  Bohemian Rhapsody!? ": "Bohemian_Rhapsody",
		"AC/DC - T.N.T.":         "ACDC_-_TNT",
		"Été":                    "t",
		"":                       "",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, CleanFileName(in), in)
	}
}
