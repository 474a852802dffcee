package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "singcapture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadWithProfile_BuiltinDefaults(t *testing.T) {
	tests := []struct {
		class      string
		width      int
		height     int
		echoCancel bool
		noiseSupp  bool
	}{
		{class: Desktop, width: 1280, height: 720, echoCancel: true, noiseSupp: true},
		{class: Handheld, width: 720, height: 1280, echoCancel: false, noiseSupp: false},
	}
	for _, test := range tests {
		t.Run(test.class, func(t *testing.T) {
			cfg, err := LoadWithProfile("", test.class)
			require.NoError(t, err)

			assert.Equal(t, test.class, cfg.Class)
			assert.Equal(t, test.width, cfg.Video.Width)
			assert.Equal(t, test.height, cfg.Video.Height)
			assert.Equal(t, 25, cfg.Video.FPS)
			assert.Equal(t, test.echoCancel, Flag(cfg.Microphone.EchoCancellation))
			assert.Equal(t, test.noiseSupp, Flag(cfg.Microphone.NoiseSuppression))
			assert.Equal(t, 1.0, cfg.Mix.MicrophoneGain)
			assert.Equal(t, 0.35, cfg.Mix.BackingTrackGain)
			assert.Equal(t, time.Second, cfg.Recording.AutoStopBuffer)
		})
	}
}

func TestLoadWithProfile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithProfile(filepath.Join(t.TempDir(), "absent.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, Desktop, cfg.Class)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
}

func TestLoadWithProfile_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
mix:
  backing_track_gain: 0.5
recording:
  auto_stop_buffer: 2s
  encoders: [mp4-h264, wav]
output:
  directory: ~/Karaoke
profiles:
  handheld:
    video:
      fps: 30
    microphone:
      auto_gain_control: true
`)

	cfg, err := LoadWithProfile(path, Handheld)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Mix.BackingTrackGain)
	assert.Equal(t, 2*time.Second, cfg.Recording.AutoStopBuffer)
	assert.Equal(t, []string{"mp4-h264", "wav"}, cfg.Recording.Encoders)
	assert.Equal(t, 30, cfg.Video.FPS)
	assert.Equal(t, 720, cfg.Video.Width, "built-in handheld geometry survives a partial file profile")
	assert.True(t, Flag(cfg.Microphone.AutoGainControl))
	assert.False(t, Flag(cfg.Microphone.EchoCancellation))

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "Karaoke"), cfg.Output.Directory)

	assert.Equal(t, profileSpecific, cfg.Inheritance["video.fps"])
	assert.Equal(t, profileSpecific, cfg.Inheritance["video.width"])
	assert.Equal(t, inherited, cfg.Inheritance["mix.backing_track_gain"])

	desktop, err := LoadWithProfile(path, Desktop)
	require.NoError(t, err)
	assert.Equal(t, 25, desktop.Video.FPS)
	assert.Equal(t, 0.5, desktop.Mix.BackingTrackGain)
}

func TestLoadWithProfile_Errors(t *testing.T) {
	tests := []struct {
		description string
		content     string
		class       string
	}{
		{description: "unknown profile", content: "audio:\n  sample_rate: 44100\n", class: "television"},
		{description: "bad backend", content: "audio:\n  backend: jack\n", class: Desktop},
		{description: "fps out of range", content: "video:\n  fps: 240\n", class: Desktop},
		{description: "opacity out of range", content: "video:\n  watermark_opacity: 3\n", class: Desktop},
		{description: "broken yaml", content: "audio: [\n", class: Desktop},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			_, err := LoadWithProfile(writeConfig(t, test.content), test.class)
			assert.Error(t, err)
		})
	}
}

func TestClassForViewport(t *testing.T) {
	tests := []struct {
		width int
		class string
	}{
		{width: 375, class: Handheld},
		{width: 768, class: Handheld},
		{width: 769, class: Desktop},
		{width: 1920, class: Desktop},
		{width: 0, class: Desktop},
	}
	for _, test := range tests {
		assert.Equal(t, test.class, ClassForViewport(test.width), "width %d", test.width)
	}
}

func TestMixParameters(t *testing.T) {
	cfg := Default()
	p := cfg.MixParameters()
	require.NotNil(t, p.Enhancement)
	assert.Equal(t, 3*time.Millisecond, p.Enhancement.CompressorAttack)
	assert.Equal(t, 250*time.Millisecond, p.Enhancement.CompressorRelease)
	assert.Equal(t, 100.0, p.Enhancement.HighPassCutoffHz)

	cfg.Mix.Enhancement.Enabled = FlagPtr(false)
	p = cfg.MixParameters()
	assert.Nil(t, p.Enhancement)
	assert.Equal(t, 0.35, p.BackingTrackGain)
}

func TestMergeConfigs_EmptyProfile(t *testing.T) {
	base := Default()
	result := mergeConfigs(base, &Config{})

	assert.Equal(t, base.Audio, result.Audio)
	assert.Equal(t, base.Video, result.Video)
	for _, key := range result.InheritanceKeys() {
		assert.Equal(t, inherited, result.Inheritance[key], key)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		input    string
		expected string
	}{
		{"~/Videos/SingCapture", filepath.Join(home, "Videos/SingCapture")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, expandPath(test.input))
	}
}
