package encode

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// FFmpegProber inspects the local ffmpeg build once and answers from the
// cached encoder and muxer lists.
type FFmpegProber struct {
	path string
	run  func(path string, args ...string) ([]byte, error)

	once     sync.Once
	encoders map[string]bool
	muxers   map[string]bool
	err      error
}

// NewFFmpegProber creates a prober for the ffmpeg binary at path, or the
// one on PATH when path is empty.
func NewFFmpegProber(path string) *FFmpegProber {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegProber{path: path, run: runCommand}
}

func runCommand(path string, args ...string) ([]byte, error) {
	return exec.Command(path, args...).Output()
}

// Supports reports whether f can be produced. WAV is written natively and
// is always available.
func (p *FFmpegProber) Supports(f Format) bool {
	if f.Container == WAV.Container {
		return true
	}

	p.once.Do(p.load)
	if p.err != nil {
		return false
	}
	if !p.muxers[f.Container] || !p.encoders[f.AudioCodec] {
		return false
	}
	return !f.HasVideo() || p.encoders[f.VideoCodec]
}

// Err returns the probe failure, if ffmpeg could not be inspected.
func (p *FFmpegProber) Err() error {
	p.once.Do(p.load)
	return p.err
}

func (p *FFmpegProber) load() {
	encOut, err := p.run(p.path, "-hide_banner", "-encoders")
	if err != nil {
		p.err = fmt.Errorf("failed to list ffmpeg encoders: %w", err)
		slog.Warn("ffmpeg unavailable, only wav recording possible", "error", err)
		return
	}
	muxOut, err := p.run(p.path, "-hide_banner", "-muxers")
	if err != nil {
		p.err = fmt.Errorf("failed to list ffmpeg muxers: %w", err)
		slog.Warn("ffmpeg unavailable, only wav recording possible", "error", err)
		return
	}
	p.encoders = parseEncoders(encOut)
	p.muxers = parseMuxers(muxOut)
	slog.Debug("ffmpeg capabilities probed", "encoders", len(p.encoders), "muxers", len(p.muxers))
}

// parseEncoders reads `ffmpeg -encoders` output:
//
//	V....D libvpx-vp9           libvpx VP9 (codec vp9)
func parseEncoders(out []byte) map[string]bool {
	names := make(map[string]bool)
	listing := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(fields[0], "---") {
			listing = true
			continue
		}
		if !listing || len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// parseMuxers reads `ffmpeg -muxers` output:
//
//	E webm            WebM
func parseMuxers(out []byte) map[string]bool {
	names := make(map[string]bool)
	listing := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(fields[0], "--") {
			listing = true
			continue
		}
		if !listing || len(fields) < 2 || !strings.Contains(fields[0], "E") {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			names[name] = true
		}
	}
	return names
}
