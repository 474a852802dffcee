package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/singcapture/internal/mix"
	"github.com/audiolibrelab/singcapture/internal/visual"
)

// Device classes. Each class selects a profile of capture parameters.
const (
	Desktop  = "desktop"
	Handheld = "handheld"
)

// HandheldMaxViewport is the widest viewport still treated as handheld.
const HandheldMaxViewport = 768

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
)

// RootConfig is the on-disk layout: top-level defaults plus per-class
// profiles that override them.
type RootConfig struct {
	Config   `mapstructure:",squash" yaml:",inline"`
	Profiles map[string]*Config `mapstructure:"profiles" yaml:"profiles,omitempty"`
}

type Config struct {
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Mix        MixConfig        `mapstructure:"mix" yaml:"mix"`
	Microphone MicrophoneConfig `mapstructure:"microphone" yaml:"microphone"`
	Video      VideoConfig      `mapstructure:"video" yaml:"video"`
	Recording  RecordingConfig  `mapstructure:"recording" yaml:"recording"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Export     ExportConfig     `mapstructure:"export" yaml:"export"`

	// Class is the device class the config was resolved for.
	Class string `mapstructure:"-" yaml:"class,omitempty"`

	// Inheritance records, per setting, whether the profile set it or it
	// fell back to the defaults. Used by the info command.
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	SampleRate   int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Backend      string `mapstructure:"backend" yaml:"backend"` // "portaudio", "null", "auto"
	InputDevice  string `mapstructure:"input_device" yaml:"input_device,omitempty"`
	OutputDevice string `mapstructure:"output_device" yaml:"output_device,omitempty"`
	BlockSize    int    `mapstructure:"block_size" yaml:"block_size"`
}

type MixConfig struct {
	MicrophoneGain   float64           `mapstructure:"microphone_gain" yaml:"microphone_gain"`
	BackingTrackGain float64           `mapstructure:"backing_track_gain" yaml:"backing_track_gain"`
	ReferenceGain    float64           `mapstructure:"reference_gain" yaml:"reference_gain"`
	Enhancement      EnhancementConfig `mapstructure:"enhancement" yaml:"enhancement"`
}

type EnhancementConfig struct {
	Enabled               *bool   `mapstructure:"enabled" yaml:"enabled,omitempty"`
	HighPassCutoffHz      float64 `mapstructure:"high_pass_cutoff_hz" yaml:"high_pass_cutoff_hz"`
	PresenceBoostHz       float64 `mapstructure:"presence_boost_hz" yaml:"presence_boost_hz"`
	PresenceBoostDb       float64 `mapstructure:"presence_boost_db" yaml:"presence_boost_db"`
	PresenceQ             float64 `mapstructure:"presence_q" yaml:"presence_q"`
	CompressorThresholdDb float64 `mapstructure:"compressor_threshold_db" yaml:"compressor_threshold_db"`
	CompressorRatio       float64 `mapstructure:"compressor_ratio" yaml:"compressor_ratio"`
	CompressorAttackMs    float64 `mapstructure:"compressor_attack_ms" yaml:"compressor_attack_ms"`
	CompressorReleaseMs   float64 `mapstructure:"compressor_release_ms" yaml:"compressor_release_ms"`
}

// MicrophoneConfig holds capture processing requests. Pointers so a
// profile can switch a default off.
type MicrophoneConfig struct {
	EchoCancellation *bool `mapstructure:"echo_cancellation" yaml:"echo_cancellation,omitempty"`
	NoiseSuppression *bool `mapstructure:"noise_suppression" yaml:"noise_suppression,omitempty"`
	AutoGainControl  *bool `mapstructure:"auto_gain_control" yaml:"auto_gain_control,omitempty"`
}

type VideoConfig struct {
	Width            int     `mapstructure:"width" yaml:"width"`
	Height           int     `mapstructure:"height" yaml:"height"`
	FPS              int     `mapstructure:"fps" yaml:"fps"`
	Background       string  `mapstructure:"background" yaml:"background,omitempty"`
	Watermark        string  `mapstructure:"watermark" yaml:"watermark,omitempty"`
	WatermarkWidth   int     `mapstructure:"watermark_width" yaml:"watermark_width"`
	WatermarkMargin  int     `mapstructure:"watermark_margin" yaml:"watermark_margin"`
	WatermarkOpacity float64 `mapstructure:"watermark_opacity" yaml:"watermark_opacity"`
}

type RecordingConfig struct {
	AutoStopBuffer time.Duration `mapstructure:"auto_stop_buffer" yaml:"auto_stop_buffer"`
	StartDelay     time.Duration `mapstructure:"start_delay" yaml:"start_delay"`
	Encoders       []string      `mapstructure:"encoders" yaml:"encoders,omitempty"`
	FFmpegPath     string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path,omitempty"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

type ExportConfig struct {
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

type S3Config struct {
	Bucket          string        `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region          string        `mapstructure:"region" yaml:"region,omitempty"`
	Prefix          string        `mapstructure:"prefix" yaml:"prefix,omitempty"`
	AccessKeyID     string        `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string        `mapstructure:"secret_access_key" yaml:"-"`
	URLTTL          time.Duration `mapstructure:"url_ttl" yaml:"url_ttl"`
	AutoPublish     bool          `mapstructure:"auto_publish" yaml:"auto_publish"`
}

// Enabled reports whether publication is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// FlagPtr returns a pointer to b for the optional boolean settings.
func FlagPtr(b bool) *bool { return &b }

// Default returns the built-in top-level configuration, used when no
// config file exists.
func Default() *Config {
	e := mix.DefaultEnhancement()
	return &Config{
		Audio: AudioConfig{
			SampleRate: 48000,
			Backend:    "auto",
			BlockSize:  1024,
		},
		Mix: MixConfig{
			MicrophoneGain:   1.0,
			BackingTrackGain: 0.35,
			ReferenceGain:    0.8,
			Enhancement: EnhancementConfig{
				Enabled:               FlagPtr(true),
				HighPassCutoffHz:      e.HighPassCutoffHz,
				PresenceBoostHz:       e.PresenceBoostHz,
				PresenceBoostDb:       e.PresenceBoostDb,
				PresenceQ:             e.PresenceQ,
				CompressorThresholdDb: e.CompressorThresholdDb,
				CompressorRatio:       e.CompressorRatio,
				CompressorAttackMs:    float64(e.CompressorAttack) / float64(time.Millisecond),
				CompressorReleaseMs:   float64(e.CompressorRelease) / float64(time.Millisecond),
			},
		},
		Microphone: MicrophoneConfig{
			EchoCancellation: FlagPtr(true),
			NoiseSuppression: FlagPtr(true),
			AutoGainControl:  FlagPtr(false),
		},
		Video: VideoConfig{
			Width:            visual.PresetLandscape.Width,
			Height:           visual.PresetLandscape.Height,
			FPS:              25,
			WatermarkWidth:   100,
			WatermarkMargin:  20,
			WatermarkOpacity: 0.7,
		},
		Recording: RecordingConfig{
			AutoStopBuffer: time.Second,
			StartDelay:     150 * time.Millisecond,
			Encoders:       []string{"webm-vp9", "webm-vp8", "mp4-h264", "wav"},
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Videos", "SingCapture"),
		},
		Server: ServerConfig{Port: 8080},
		Export: ExportConfig{
			S3: S3Config{Prefix: "recordings", URLTTL: 10 * time.Minute},
		},
	}
}

// DefaultProfiles returns the built-in device-class profiles. Handheld
// devices record portrait video and skip the microphone processing that
// fights with on-device speakers.
func DefaultProfiles() map[string]*Config {
	return map[string]*Config{
		Desktop: {},
		Handheld: {
			Microphone: MicrophoneConfig{
				EchoCancellation: FlagPtr(false),
				NoiseSuppression: FlagPtr(false),
			},
			Video: VideoConfig{
				Width:  visual.PresetPortrait.Width,
				Height: visual.PresetPortrait.Height,
			},
		},
	}
}

// ClassForViewport maps a viewport width in CSS pixels to a device class.
func ClassForViewport(width int) string {
	if width > 0 && width <= HandheldMaxViewport {
		return Handheld
	}
	return Desktop
}

// LoadWithProfile resolves the configuration for a device class. An empty
// configFile, or one that does not exist, yields the built-in defaults.
func LoadWithProfile(configFile, class string) (*Config, error) {
	if class == "" {
		class = Desktop
	}

	root := &RootConfig{Config: *Default(), Profiles: DefaultProfiles()}
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileRoot, err := readRoot(configFile)
			if err != nil {
				return nil, err
			}
			root.Config = *mergeConfigs(&root.Config, &fileRoot.Config)
			for name, p := range fileRoot.Profiles {
				if builtin, ok := root.Profiles[name]; ok {
					p = mergeConfigs(builtin, p)
				}
				root.Profiles[name] = p
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	profile, ok := root.Profiles[class]
	if !ok {
		return nil, fmt.Errorf("configuration profile '%s' not found", class)
	}

	cfg := mergeConfigs(&root.Config, profile)
	cfg.Class = class
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Video.Background = expandPath(cfg.Video.Background)
	cfg.Video.Watermark = expandPath(cfg.Video.Watermark)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func readRoot(configFile string) (*RootConfig, error) {
	// Separate viper instance so the global one stays free for WatchConfig.
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configFile, err)
	}
	return &root, nil
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	var problems []string
	if c.Audio.SampleRate < 8000 {
		problems = append(problems, fmt.Sprintf("audio.sample_rate %d is too low", c.Audio.SampleRate))
	}
	if c.Audio.BlockSize <= 0 {
		problems = append(problems, "audio.block_size must be positive")
	}
	switch c.Audio.Backend {
	case "auto", "portaudio", "null":
	default:
		problems = append(problems, fmt.Sprintf("audio.backend '%s' is not one of auto, portaudio, null", c.Audio.Backend))
	}
	if c.Mix.MicrophoneGain < 0 || c.Mix.BackingTrackGain < 0 || c.Mix.ReferenceGain < 0 {
		problems = append(problems, "mix gains must not be negative")
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		problems = append(problems, fmt.Sprintf("video size %dx%d is invalid", c.Video.Width, c.Video.Height))
	}
	if c.Video.FPS < 1 || c.Video.FPS > 60 {
		problems = append(problems, fmt.Sprintf("video.fps %d is out of range", c.Video.FPS))
	}
	if c.Video.WatermarkOpacity < 0 || c.Video.WatermarkOpacity > 1 {
		problems = append(problems, "video.watermark_opacity must be between 0 and 1")
	}
	if c.Recording.AutoStopBuffer < 0 {
		problems = append(problems, "recording.auto_stop_buffer must not be negative")
	}
	if len(c.Recording.Encoders) == 0 {
		problems = append(problems, "recording.encoders must list at least one format")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// MixParameters converts the mix section into graph parameters.
func (c *Config) MixParameters() mix.Parameters {
	p := mix.Parameters{
		MicrophoneGain:   c.Mix.MicrophoneGain,
		BackingTrackGain: c.Mix.BackingTrackGain,
		ReferenceGain:    c.Mix.ReferenceGain,
	}
	e := c.Mix.Enhancement
	if e.Enabled != nil && !*e.Enabled {
		return p
	}
	p.Enhancement = &mix.Enhancement{
		HighPassCutoffHz:      e.HighPassCutoffHz,
		PresenceBoostHz:       e.PresenceBoostHz,
		PresenceBoostDb:       e.PresenceBoostDb,
		PresenceQ:             e.PresenceQ,
		CompressorThresholdDb: e.CompressorThresholdDb,
		CompressorRatio:       e.CompressorRatio,
		CompressorAttack:      time.Duration(e.CompressorAttackMs * float64(time.Millisecond)),
		CompressorRelease:     time.Duration(e.CompressorReleaseMs * float64(time.Millisecond)),
	}
	return p
}

// InheritanceKeys returns the tracked settings in stable order.
func (c *Config) InheritanceKeys() []string {
	keys := make([]string, 0, len(c.Inheritance))
	for k := range c.Inheritance {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeConfigs applies the "profile value or fallback" rule: every
// non-zero profile setting wins, everything else comes from base.
func mergeConfigs(base, profile *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if profile == nil {
		profile = &Config{}
	}
	inh := make(map[string]string)
	r := &Config{}

	r.Audio.SampleRate = pick(inh, "audio.sample_rate", base.Audio.SampleRate, profile.Audio.SampleRate)
	r.Audio.Backend = pick(inh, "audio.backend", base.Audio.Backend, profile.Audio.Backend)
	r.Audio.InputDevice = pick(inh, "audio.input_device", base.Audio.InputDevice, profile.Audio.InputDevice)
	r.Audio.OutputDevice = pick(inh, "audio.output_device", base.Audio.OutputDevice, profile.Audio.OutputDevice)
	r.Audio.BlockSize = pick(inh, "audio.block_size", base.Audio.BlockSize, profile.Audio.BlockSize)

	r.Mix.MicrophoneGain = pick(inh, "mix.microphone_gain", base.Mix.MicrophoneGain, profile.Mix.MicrophoneGain)
	r.Mix.BackingTrackGain = pick(inh, "mix.backing_track_gain", base.Mix.BackingTrackGain, profile.Mix.BackingTrackGain)
	r.Mix.ReferenceGain = pick(inh, "mix.reference_gain", base.Mix.ReferenceGain, profile.Mix.ReferenceGain)

	be, pe := base.Mix.Enhancement, profile.Mix.Enhancement
	r.Mix.Enhancement = EnhancementConfig{
		Enabled:               pickBool(inh, "mix.enhancement.enabled", be.Enabled, pe.Enabled),
		HighPassCutoffHz:      pick(inh, "mix.enhancement.high_pass_cutoff_hz", be.HighPassCutoffHz, pe.HighPassCutoffHz),
		PresenceBoostHz:       pick(inh, "mix.enhancement.presence_boost_hz", be.PresenceBoostHz, pe.PresenceBoostHz),
		PresenceBoostDb:       pick(inh, "mix.enhancement.presence_boost_db", be.PresenceBoostDb, pe.PresenceBoostDb),
		PresenceQ:             pick(inh, "mix.enhancement.presence_q", be.PresenceQ, pe.PresenceQ),
		CompressorThresholdDb: pick(inh, "mix.enhancement.compressor_threshold_db", be.CompressorThresholdDb, pe.CompressorThresholdDb),
		CompressorRatio:       pick(inh, "mix.enhancement.compressor_ratio", be.CompressorRatio, pe.CompressorRatio),
		CompressorAttackMs:    pick(inh, "mix.enhancement.compressor_attack_ms", be.CompressorAttackMs, pe.CompressorAttackMs),
		CompressorReleaseMs:   pick(inh, "mix.enhancement.compressor_release_ms", be.CompressorReleaseMs, pe.CompressorReleaseMs),
	}

	r.Microphone.EchoCancellation = pickBool(inh, "microphone.echo_cancellation", base.Microphone.EchoCancellation, profile.Microphone.EchoCancellation)
	r.Microphone.NoiseSuppression = pickBool(inh, "microphone.noise_suppression", base.Microphone.NoiseSuppression, profile.Microphone.NoiseSuppression)
	r.Microphone.AutoGainControl = pickBool(inh, "microphone.auto_gain_control", base.Microphone.AutoGainControl, profile.Microphone.AutoGainControl)

	r.Video.Width = pick(inh, "video.width", base.Video.Width, profile.Video.Width)
	r.Video.Height = pick(inh, "video.height", base.Video.Height, profile.Video.Height)
	r.Video.FPS = pick(inh, "video.fps", base.Video.FPS, profile.Video.FPS)
	r.Video.Background = pick(inh, "video.background", base.Video.Background, profile.Video.Background)
	r.Video.Watermark = pick(inh, "video.watermark", base.Video.Watermark, profile.Video.Watermark)
	r.Video.WatermarkWidth = pick(inh, "video.watermark_width", base.Video.WatermarkWidth, profile.Video.WatermarkWidth)
	r.Video.WatermarkMargin = pick(inh, "video.watermark_margin", base.Video.WatermarkMargin, profile.Video.WatermarkMargin)
	r.Video.WatermarkOpacity = pick(inh, "video.watermark_opacity", base.Video.WatermarkOpacity, profile.Video.WatermarkOpacity)

	r.Recording.AutoStopBuffer = pick(inh, "recording.auto_stop_buffer", base.Recording.AutoStopBuffer, profile.Recording.AutoStopBuffer)
	r.Recording.StartDelay = pick(inh, "recording.start_delay", base.Recording.StartDelay, profile.Recording.StartDelay)
	r.Recording.FFmpegPath = pick(inh, "recording.ffmpeg_path", base.Recording.FFmpegPath, profile.Recording.FFmpegPath)
	r.Recording.Encoders = base.Recording.Encoders
	inh["recording.encoders"] = inherited
	if len(profile.Recording.Encoders) > 0 {
		r.Recording.Encoders = profile.Recording.Encoders
		inh["recording.encoders"] = profileSpecific
	}

	r.Output.Directory = pick(inh, "output.directory", base.Output.Directory, profile.Output.Directory)
	r.Server.Port = pick(inh, "server.port", base.Server.Port, profile.Server.Port)

	bs, ps := base.Export.S3, profile.Export.S3
	r.Export.S3 = S3Config{
		Bucket:          pick(inh, "export.s3.bucket", bs.Bucket, ps.Bucket),
		Endpoint:        pick(inh, "export.s3.endpoint", bs.Endpoint, ps.Endpoint),
		Region:          pick(inh, "export.s3.region", bs.Region, ps.Region),
		Prefix:          pick(inh, "export.s3.prefix", bs.Prefix, ps.Prefix),
		AccessKeyID:     pick(inh, "export.s3.access_key_id", bs.AccessKeyID, ps.AccessKeyID),
		SecretAccessKey: pick(inh, "export.s3.secret_access_key", bs.SecretAccessKey, ps.SecretAccessKey),
		URLTTL:          pick(inh, "export.s3.url_ttl", bs.URLTTL, ps.URLTTL),
		AutoPublish:     bs.AutoPublish || ps.AutoPublish,
	}

	r.Inheritance = inh
	return r
}

func pick[T comparable](inh map[string]string, key string, base, profile T) T {
	var zero T
	if profile != zero {
		inh[key] = profileSpecific
		return profile
	}
	inh[key] = inherited
	return base
}

func pickBool(inh map[string]string, key string, base, profile *bool) *bool {
	if profile != nil {
		inh[key] = profileSpecific
		v := *profile
		return &v
	}
	inh[key] = inherited
	if base == nil {
		return nil
	}
	v := *base
	return &v
}

// Flag dereferences an optional boolean setting.
func Flag(b *bool) bool {
	return b != nil && *b
}

// expandPath expands ~ to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
