package play

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
)

// ErrReleased is returned by a presentation after Release.
var ErrReleased = errors.New("presentation released")

// Presentation exposes one finished recording: toggle playback, a
// download URL and a suggested filename.
type Presentation struct {
	media    Media
	player   Player
	registry *Registry
	url      string

	mu       sync.Mutex
	playback Playback
	tempDir  string
	released bool
}

// Present registers m for download and prepares it for playback.
func Present(m Media, player Player, registry *Registry) (*Presentation, error) {
	if len(m.Data) == 0 {
		return nil, errors.New("nothing to present: empty recording")
	}
	if registry == nil {
		return nil, errors.New("no object URL registry")
	}
	p := &Presentation{
		media:    m,
		player:   player,
		registry: registry,
		url:      registry.Create(m),
	}
	slog.Debug("Recording presented", "url", p.url, "filename", m.Filename, "bytes", len(m.Data))
	return p, nil
}

// DownloadURL returns the transient object URL.
func (p *Presentation) DownloadURL() string {
	return p.url
}

// SuggestedFilename returns the filename to save the recording under.
func (p *Presentation) SuggestedFilename() string {
	return p.media.Filename
}

// Play toggles playback. It starts playback when idle and stops the
// current one otherwise; the result reports whether playback is running.
func (p *Presentation) Play() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return false, ErrReleased
	}
	if p.activeLocked() {
		err := p.playback.Stop()
		p.playback = nil
		return false, err
	}
	if p.player == nil {
		return false, errors.New("no player available")
	}

	path, err := p.tempFileLocked()
	if err != nil {
		return false, err
	}
	pb, err := p.player.Start(path, p.media.MIME)
	if err != nil {
		return false, fmt.Errorf("failed to start playback: %w", err)
	}
	p.playback = pb
	return true, nil
}

// Playing reports whether playback is running.
func (p *Presentation) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

func (p *Presentation) activeLocked() bool {
	if p.playback == nil {
		return false
	}
	select {
	case <-p.playback.Done():
		p.playback = nil
		return false
	default:
		return true
	}
}

// Stop ends playback if running.
func (p *Presentation) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Presentation) stopLocked() error {
	if p.playback == nil {
		return nil
	}
	err := p.playback.Stop()
	p.playback = nil
	return err
}

func (p *Presentation) tempFileLocked() (string, error) {
	if p.tempDir == "" {
		dir, err := os.MkdirTemp("", "singcapture-play-")
		if err != nil {
			return "", fmt.Errorf("failed to create temp dir: %w", err)
		}
		p.tempDir = dir
	}
	path := filepath.Join(p.tempDir, p.media.Filename)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, p.media.Data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write playback file: %w", err)
	}
	return path, nil
}

// Save writes the recording into dir and returns its path.
func (p *Presentation) Save(dir string) (string, error) {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return "", ErrReleased
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, p.media.Filename)
	if err := os.WriteFile(path, p.media.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save recording: %w", err)
	}
	slog.Info("Recording saved", "file", path, "bytes", len(p.media.Data))
	return path, nil
}

// Release stops playback, revokes the download URL and removes temp
// files. Only the first call has any effect.
func (p *Presentation) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return nil
	}
	p.released = true

	err := p.stopLocked()
	if !p.registry.Revoke(p.url) {
		err = multierr.Append(err, fmt.Errorf("object URL %s was already revoked", p.url))
	}
	if p.tempDir != "" {
		err = multierr.Append(err, os.RemoveAll(p.tempDir))
	}
	slog.Debug("Presentation released", "url", p.url)
	return err
}
