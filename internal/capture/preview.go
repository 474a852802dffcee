package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/audiolibrelab/singcapture/internal/encode"
	"github.com/audiolibrelab/singcapture/internal/mix"
	"github.com/audiolibrelab/singcapture/internal/play"
	"github.com/audiolibrelab/singcapture/internal/track"
)

// ErrPreviewUnavailable is returned when a preview is requested while a
// session exists.
var ErrPreviewUnavailable = errors.New("preview is only available before recording")

// preview is a song played back before recording starts.
type preview struct {
	playback play.Playback
	dir      string
}

func (p *preview) active() bool {
	select {
	case <-p.playback.Done():
		return false
	default:
		return true
	}
}

func (p *preview) stop() error {
	return multierr.Append(p.playback.Stop(), os.RemoveAll(p.dir))
}

// TogglePreview plays the reference track of ref, or its backing track
// when there is none, so the song can be heard before recording. A
// running preview is stopped instead. Starting a session stops it too.
func (r *Recorder) TogglePreview(ctx context.Context, ref track.SetRef) (bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, ErrClosed
	}
	if r.previewingLocked() {
		err := r.stopPreviewLocked()
		r.mu.Unlock()
		return false, err
	}
	if r.session != nil {
		r.mu.Unlock()
		return false, ErrPreviewUnavailable
	}
	cfg := r.cfg
	loader := r.loader
	r.mu.Unlock()

	if loader == nil {
		loader = track.NewLoader(cfg.Audio.SampleRate, cfg.Recording.FFmpegPath)
	}
	set, err := loader.LoadSet(ctx, track.SetRef{Backing: ref.Backing, Reference: ref.Reference})
	if err != nil {
		return false, classify(err)
	}
	asset := set.Backing
	if set.Reference != nil {
		asset = set.Reference
	}
	if asset == nil {
		return false, classify(&track.LoadError{Kind: track.NotFound, Track: ref.Backing.Name})
	}

	dir, path, err := writePreview(asset.Buffer)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.session != nil || r.previewingLocked() {
		_ = os.RemoveAll(dir)
		return false, ErrPreviewUnavailable
	}
	pb, err := r.player.Start(path, encode.WAV.MIME)
	if err != nil {
		_ = os.RemoveAll(dir)
		return false, fmt.Errorf("failed to start preview: %w", err)
	}
	r.preview = &preview{playback: pb, dir: dir}
	slog.Info("Preview started", "track", asset.Name, "duration", asset.Duration)
	return true, nil
}

// Previewing reports whether a preview is playing.
func (r *Recorder) Previewing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previewingLocked()
}

// previewingLocked clears a preview that ended on its own.
func (r *Recorder) previewingLocked() bool {
	if r.preview == nil {
		return false
	}
	if r.preview.active() {
		return true
	}
	if err := r.stopPreviewLocked(); err != nil {
		slog.Debug("Preview cleanup failed", "error", err)
	}
	return false
}

func (r *Recorder) stopPreviewLocked() error {
	if r.preview == nil {
		return nil
	}
	err := r.preview.stop()
	r.preview = nil
	slog.Debug("Preview stopped")
	return err
}

func writePreview(b mix.Buffer) (string, string, error) {
	dir, err := os.MkdirTemp("", "singcapture-preview-")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	path := filepath.Join(dir, "preview.wav")
	f, err := os.Create(path)
	if err == nil {
		err = multierr.Append(mix.EncodeWAV(f, b), f.Close())
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("failed to write preview: %w", err)
	}
	return dir, path, nil
}
