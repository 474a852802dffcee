package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/audiolibrelab/singcapture/internal/audio"
	"github.com/audiolibrelab/singcapture/internal/capture"
	"github.com/audiolibrelab/singcapture/internal/config"
	"github.com/audiolibrelab/singcapture/internal/encode"
	"github.com/audiolibrelab/singcapture/internal/export"
	"github.com/audiolibrelab/singcapture/internal/play"
	"github.com/audiolibrelab/singcapture/internal/track"
)

// ErrNoRecording is returned when an operation needs a finished recording.
var ErrNoRecording = errors.New("no finished recording")

// ErrExportDisabled is returned by Publish when no bucket is configured.
var ErrExportDisabled = errors.New("export is not configured")

// ErrPreviewUnavailable is returned by TogglePreview once a recording exists.
var ErrPreviewUnavailable = capture.ErrPreviewUnavailable

// Publisher uploads finished recordings.
type Publisher interface {
	Publish(ctx context.Context, a *capture.Artifact) (export.Publication, error)
}

// Inputs are the collaborator-supplied assets of one performance.
type Inputs struct {
	Backing    track.Ref
	Reference  *track.Ref
	Background *track.ImageRef
	Watermark  *track.ImageRef
	Title      string
	// ViewportWidth selects the device class. Zero keeps the configured one.
	ViewportWidth int
}

// Status is a snapshot for display.
type Status struct {
	State     string       `json:"state"`
	Message   string       `json:"message"`
	Class     string       `json:"class"`
	Preview   bool         `json:"previewing"`
	Session   *SessionInfo `json:"session,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// SessionInfo describes the current session.
type SessionInfo struct {
	ID              string  `json:"id"`
	Format          string  `json:"format,omitempty"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	TrackSeconds    float64 `json:"track_seconds"`
	StopReason      string  `json:"stop_reason,omitempty"`
	ErrorKind       string  `json:"error_kind,omitempty"`
	DownloadURL     string  `json:"download_url,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	Bytes           int     `json:"bytes,omitempty"`
	Playing         bool    `json:"playing"`
	PublishedURL    string  `json:"published_url,omitempty"`
	PublishedExpiry string  `json:"published_expires_at,omitempty"`
}

// Service ties configuration, the recorder, playback and export together
// for the CLI and the web server.
type Service struct {
	configFile string
	recorder   *capture.Recorder
	watchDone  chan struct{}
	publishing sync.WaitGroup

	mu          sync.RWMutex
	cfg         *config.Config
	publisher   Publisher
	publication *export.Publication
	lastError   string
}

// New creates a service with the production device, encoder and export
// stack for cfg.
func New(cfg *config.Config, configFile string, logWriter io.Writer) (*Service, error) {
	if logWriter == nil {
		logWriter = io.Discard
	}
	backend, err := audio.NewBackend(cfg.Audio.Backend)
	if err != nil {
		return nil, err
	}
	rec, err := capture.NewRecorder(capture.Options{
		Config:  cfg,
		Backend: backend,
		Factory: encode.DefaultFactory{
			FFmpegPath: cfg.Recording.FFmpegPath,
			LogWriter:  logWriter,
			LogLevel:   os.Getenv("FFMPEG_LOGLEVEL"),
		},
		Player: play.NewExecPlayer(logWriter),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}
	return NewWithRecorder(cfg, configFile, rec, newPublisher(cfg)), nil
}

func newPublisher(cfg *config.Config) Publisher {
	if !cfg.Export.S3.Enabled() {
		return nil
	}
	p, err := export.NewS3Publisher(context.Background(), cfg.Export.S3)
	if err != nil {
		slog.Warn("Export disabled", "error", err)
		return nil
	}
	return p
}

// NewWithRecorder creates a service over an existing recorder. pub may be
// nil to disable export.
func NewWithRecorder(cfg *config.Config, configFile string, rec *capture.Recorder, pub Publisher) *Service {
	s := &Service{
		configFile: configFile,
		recorder:   rec,
		watchDone:  make(chan struct{}),
		cfg:        cfg,
		publisher:  pub,
	}
	go s.watch(rec.Subscribe())
	return s
}

// watch follows recorder transitions to record failures and auto-publish
// finished recordings. It ends when the recorder closes.
func (s *Service) watch(events <-chan capture.Transition) {
	defer close(s.watchDone)
	for t := range events {
		switch t.To {
		case capture.StateError:
			if sess := s.recorder.Session(); sess != nil && sess.ID() == t.SessionID {
				if e := sess.Err(); e != nil {
					s.setLastError(fmt.Sprintf("Recording failed: %s", e.Kind.Message()))
				}
			}
		case capture.StateReady:
			s.clearLastError()
			s.mu.RLock()
			auto := s.cfg.Export.S3.AutoPublish && s.publisher != nil
			s.mu.RUnlock()
			if auto {
				t := t
				s.publishing.Add(1)
				go func() {
					defer s.publishing.Done()
					if _, err := s.Publish(context.Background()); err != nil {
						slog.Warn("Auto-publish failed", "session_id", t.SessionID, "error", err)
					}
				}()
			}
		}
	}
}

// Config returns the configuration for the next session.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ConfigFile returns the path the configuration was loaded from.
func (s *Service) ConfigFile() string {
	return s.configFile
}

// ReloadConfig applies cfg to the next session. The running session, if
// any, keeps its configuration.
func (s *Service) ReloadConfig(cfg *config.Config) error {
	if err := s.recorder.SetConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if old.Export.S3 != cfg.Export.S3 {
		pub := newPublisher(cfg)
		s.mu.Lock()
		s.publisher = pub
		s.mu.Unlock()
	}
	slog.Info("Configuration reloaded", "class", cfg.Class)
	return nil
}

// configFor resolves the configuration for a viewport width.
func (s *Service) configFor(width int) (*config.Config, error) {
	cfg := s.Config()
	if width <= 0 {
		return cfg, nil
	}
	class := config.ClassForViewport(width)
	if class == cfg.Class {
		return cfg, nil
	}
	resolved, err := config.LoadWithProfile(s.configFile, class)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile '%s': %w", class, err)
	}
	return resolved, nil
}

// StartRecording starts a session for in. It returns the current session
// unchanged while one is in progress.
func (s *Service) StartRecording(ctx context.Context, in Inputs) (*capture.Session, error) {
	slog.Debug("Service.StartRecording called", "track", in.Backing.Name, "viewport_width", in.ViewportWidth)
	s.clearLastError()

	cfg, err := s.configFor(in.ViewportWidth)
	if err != nil {
		s.setLastError(err.Error())
		return nil, err
	}

	ref := track.SetRef{
		Backing:    in.Backing,
		Reference:  in.Reference,
		Background: in.Background,
		Watermark:  in.Watermark,
	}
	if ref.Background == nil && cfg.Video.Background != "" {
		ref.Background = &track.ImageRef{Name: "background", Location: cfg.Video.Background}
	}
	if ref.Watermark == nil && cfg.Video.Watermark != "" {
		ref.Watermark = &track.ImageRef{Name: "watermark", Location: cfg.Video.Watermark}
	}

	s.mu.Lock()
	s.publication = nil
	s.mu.Unlock()

	sess, err := s.recorder.Start(ctx, capture.Request{Tracks: ref, Title: in.Title, Config: cfg})
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %s", message(err)))
		return sess, err
	}
	return sess, nil
}

// TogglePreview plays the song before recording, or stops the running
// preview. It reports whether a preview is now playing.
func (s *Service) TogglePreview(ctx context.Context, in Inputs) (bool, error) {
	playing, err := s.recorder.TogglePreview(ctx, track.SetRef{Backing: in.Backing, Reference: in.Reference})
	if err != nil {
		s.setLastError(fmt.Sprintf("Preview failed: %s", message(err)))
		return false, err
	}
	return playing, nil
}

// Previewing reports whether a preview is playing.
func (s *Service) Previewing() bool {
	return s.recorder.Previewing()
}

// Subscribe returns a channel of recorder state transitions. It is closed
// by Close.
func (s *Service) Subscribe() <-chan capture.Transition {
	return s.recorder.Subscribe()
}

// message returns the display text for err.
func message(err error) string {
	var ce *capture.Error
	if errors.As(err, &ce) {
		return ce.Kind.Message()
	}
	return err.Error()
}

// StopRecording stops the current recording.
func (s *Service) StopRecording() error {
	if err := s.recorder.Stop(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %s", message(err)))
		return err
	}
	s.clearLastError()
	return nil
}

// NewRecording discards the finished recording and returns to idle.
func (s *Service) NewRecording() error {
	if err := s.recorder.NewRecording(); err != nil {
		s.setLastError(err.Error())
		return err
	}
	s.mu.Lock()
	s.publication = nil
	s.mu.Unlock()
	s.clearLastError()
	return nil
}

// Status returns the current state for display.
func (s *Service) Status() Status {
	cfg := s.Config()
	st := Status{
		State:     capture.StateIdle.String(),
		Message:   s.recorder.Status(),
		Class:     cfg.Class,
		Preview:   s.recorder.Previewing(),
		LastError: s.LastError(),
	}
	sess := s.recorder.Session()
	if sess == nil {
		return st
	}

	state := sess.State()
	st.State = state.String()
	info := &SessionInfo{
		ID:             sess.ID(),
		Format:         sess.Format().Name,
		ElapsedSeconds: sess.Elapsed().Seconds(),
		TrackSeconds:   sess.TrackDuration().Seconds(),
		StopReason:     string(sess.StopReason()),
	}
	if e := sess.Err(); e != nil {
		info.ErrorKind = e.Kind.String()
	}
	if a := sess.Artifact(); a != nil {
		info.Filename = a.Filename
		info.Bytes = len(a.Data)
	}
	if p := sess.Presentation(); p != nil {
		info.DownloadURL = p.DownloadURL()
		info.Playing = p.Playing()
	}
	s.mu.RLock()
	if pub := s.publication; pub != nil {
		info.PublishedURL = pub.URL
		info.PublishedExpiry = pub.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	s.mu.RUnlock()
	st.Session = info
	return st
}

func (s *Service) ready() (*capture.Session, error) {
	sess := s.recorder.Session()
	if sess == nil || sess.State() != capture.StateReady {
		return nil, ErrNoRecording
	}
	return sess, nil
}

// Artifact returns the finished recording.
func (s *Service) Artifact() (*capture.Artifact, error) {
	sess, err := s.ready()
	if err != nil {
		return nil, err
	}
	return sess.Artifact(), nil
}

// TogglePlayback starts playback of the finished recording, or stops it
// when already playing. It reports whether playback is now running.
func (s *Service) TogglePlayback() (bool, error) {
	sess, err := s.ready()
	if err != nil {
		return false, err
	}
	playing, err := sess.Presentation().Play()
	if err != nil {
		s.setLastError(fmt.Sprintf("Playback failed: %v", err))
		return false, err
	}
	return playing, nil
}

// SaveArtifact writes the recording and its metadata sidecar into the
// output directory and returns the recording path.
func (s *Service) SaveArtifact() (string, error) {
	sess, err := s.ready()
	if err != nil {
		return "", err
	}
	path, err := sess.Presentation().Save(s.Config().Output.Directory)
	if err != nil {
		s.setLastError(err.Error())
		return "", err
	}
	meta, err := sess.Artifact().Metadata()
	if err == nil {
		err = os.WriteFile(path+".yaml", meta, 0o644)
	}
	if err != nil {
		slog.Warn("Metadata sidecar not written", "file", path, "error", err)
	}
	return path, nil
}

// Publish uploads the finished recording to the configured bucket.
func (s *Service) Publish(ctx context.Context) (export.Publication, error) {
	s.mu.RLock()
	pub := s.publisher
	s.mu.RUnlock()
	if pub == nil {
		return export.Publication{}, ErrExportDisabled
	}
	a, err := s.Artifact()
	if err != nil {
		return export.Publication{}, err
	}
	p, err := pub.Publish(ctx, a)
	if err != nil {
		s.setLastError(fmt.Sprintf("Publish failed: %v", err))
		return export.Publication{}, err
	}
	s.mu.Lock()
	s.publication = &p
	s.mu.Unlock()
	return p, nil
}

// Resolve looks up an object URL handed out for a finished recording.
func (s *Service) Resolve(url string) (play.Media, bool) {
	return s.recorder.Registry().Resolve(url)
}

// Close tears down the recorder and waits for background work.
func (s *Service) Close() error {
	err := s.recorder.Close()
	<-s.watchDone
	s.publishing.Wait()
	return err
}

// LastError returns the last error message.
func (s *Service) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Service) setLastError(err string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

func (s *Service) clearLastError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = ""
}
