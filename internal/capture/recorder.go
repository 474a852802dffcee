package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/singcapture/internal/audio"
	"github.com/audiolibrelab/singcapture/internal/config"
	"github.com/audiolibrelab/singcapture/internal/encode"
	"github.com/audiolibrelab/singcapture/internal/mix"
	"github.com/audiolibrelab/singcapture/internal/play"
	"github.com/audiolibrelab/singcapture/internal/track"
	"github.com/audiolibrelab/singcapture/internal/visual"
)

// TrackLoader loads the inputs of a session.
type TrackLoader interface {
	LoadSet(ctx context.Context, ref track.SetRef) (*track.Set, error)
}

// Options wires a Recorder. Backend is required; every other nil field
// gets the production implementation.
type Options struct {
	Config   *config.Config
	Backend  audio.Backend
	Loader   TrackLoader
	Prober   encode.Prober
	Factory  encode.Factory
	Player   play.Player
	Registry *play.Registry
	Clock    clock.Clock
}

// Request starts a session.
type Request struct {
	Tracks track.SetRef
	// Preloaded skips loading when set.
	Preloaded *track.Set
	// Title names the artifact. Empty uses the backing track name.
	Title string
	// Config replaces the recorder configuration for this session only.
	Config *config.Config
}

// Recorder owns the process-wide capture resources (audio context,
// canvas, monitor output) and at most one session at a time.
type Recorder struct {
	backend  audio.Backend
	loader   TrackLoader
	prober   encode.Prober
	factory  encode.Factory
	player   play.Player
	registry *play.Registry
	clock    clock.Clock
	canvas   *visual.Canvas

	mu         sync.Mutex
	cfg        *config.Config
	audioCtx   *mix.Context
	output     audio.Output
	outputRate int
	session    *Session
	preview    *preview
	subs       []chan Transition
	closed     bool
}

// NewRecorder creates a recorder.
func NewRecorder(opts Options) (*Recorder, error) {
	if opts.Backend == nil {
		return nil, errors.New("no audio backend")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		backend:  opts.Backend,
		loader:   opts.Loader,
		prober:   opts.Prober,
		factory:  opts.Factory,
		player:   opts.Player,
		registry: opts.Registry,
		clock:    opts.Clock,
		canvas:   visual.NewCanvas(),
		cfg:      cfg,
	}
	if r.prober == nil {
		r.prober = encode.NewFFmpegProber(cfg.Recording.FFmpegPath)
	}
	if r.factory == nil {
		r.factory = encode.DefaultFactory{FFmpegPath: cfg.Recording.FFmpegPath}
	}
	if r.player == nil {
		r.player = play.NewExecPlayer(nil)
	}
	if r.registry == nil {
		r.registry = play.NewRegistry()
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	return r, nil
}

// SetConfig replaces the configuration used by the next session. A
// running session keeps the one it started with.
func (r *Recorder) SetConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	return nil
}

// Config returns the configuration for the next session.
func (r *Recorder) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Registry returns the object URL registry artifacts are presented in.
func (r *Recorder) Registry() *play.Registry {
	return r.registry
}

// Session returns the current session, nil when idle.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Status returns the display text for the current state.
func (r *Recorder) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return statusText(StateIdle, nil)
	}
	return statusText(r.session.state, r.session.err)
}

// ConnectedCount reports the live node connections in the audio context.
func (r *Recorder) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioCtx == nil {
		return 0
	}
	return r.audioCtx.ConnectedCount()
}

// Subscribe returns a channel of state transitions. It is closed by
// Close. Slow subscribers miss transitions rather than block the
// recorder.
func (r *Recorder) Subscribe() <-chan Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Transition, 32)
	if r.closed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

func (r *Recorder) transitionLocked(s *Session, to State, reason string) {
	t := Transition{SessionID: s.id, From: s.state, To: to, Reason: reason, At: r.clock.Now()}
	s.state = to

	slog.Info("Capture state changed",
		"session_id", s.id,
		"from", t.From.String(),
		"state", to.String(),
		"reason", reason)

	for _, ch := range r.subs {
		select {
		case ch <- t:
		default:
			slog.Warn("Transition dropped for slow subscriber", "session_id", s.id, "state", to.String())
		}
	}
}

// Start begins a session. While a session is preparing, recording or
// finalizing it is returned unchanged. A finished session is discarded
// first, as NewRecording would.
func (r *Recorder) Start(ctx context.Context, req Request) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if err := r.stopPreviewLocked(); err != nil {
		slog.Warn("Preview not fully stopped", "error", err)
	}
	if cur := r.session; cur != nil {
		if cur.state.Busy() {
			r.mu.Unlock()
			slog.Debug("Start ignored, session in progress", "session_id", cur.id, "state", cur.state.String())
			return cur, nil
		}
		if err := r.discardLocked(cur); err != nil {
			slog.Warn("Previous recording not fully released", "session_id", cur.id, "error", err)
		}
	}

	cfg := req.Config
	if cfg == nil {
		cfg = r.cfg
	}
	s := &Session{
		rec:       r,
		id:        uuid.NewString(),
		cfg:       cfg,
		state:     StateIdle,
		createdAt: r.clock.Now(),
	}
	r.session = s
	r.transitionLocked(s, StatePreparing, "start")
	r.mu.Unlock()

	res, set, err := r.prepare(ctx, s, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != s || s.state != StatePreparing {
		if res != nil {
			_ = res.release()
		}
		return s, ErrClosed
	}
	if err != nil {
		r.failLocked(s, err)
		return s, s.err
	}
	if err := r.beginLocked(s, res, set, req.Title); err != nil {
		s.res = res
		r.failLocked(s, err)
		return s, s.err
	}
	return s, nil
}

// prepare negotiates the format and acquires everything the session
// needs. Nothing is started. On error every acquired part is released.
func (r *Recorder) prepare(ctx context.Context, s *Session, req Request) (*resources, *track.Set, error) {
	cfg := s.cfg

	formats, err := encode.FormatsByName(cfg.Recording.Encoders)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", encode.ErrNoSupportedFormat, err)
	}
	format, err := encode.Negotiate(r.prober, formats)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	s.format = format
	r.mu.Unlock()

	set := req.Preloaded
	if set == nil {
		loader := r.loader
		if loader == nil {
			loader = track.NewLoader(cfg.Audio.SampleRate, cfg.Recording.FFmpegPath)
		}
		if set, err = loader.LoadSet(ctx, req.Tracks); err != nil {
			return nil, nil, err
		}
	}
	if set.Backing == nil {
		return nil, nil, &track.LoadError{Kind: track.NotFound, Track: req.Tracks.Backing.Name}
	}

	res := &resources{}
	ok := false
	defer func() {
		if !ok {
			_ = res.release()
		}
	}()

	res.mic, err = r.backend.OpenMicrophone(ctx, audio.MicrophoneOptions{
		SampleRate:       cfg.Audio.SampleRate,
		BlockSize:        cfg.Audio.BlockSize,
		Device:           cfg.Audio.InputDevice,
		EchoCancellation: config.Flag(cfg.Microphone.EchoCancellation),
		NoiseSuppression: config.Flag(cfg.Microphone.NoiseSuppression),
		AutoGainControl:  config.Flag(cfg.Microphone.AutoGainControl),
	})
	if err != nil {
		return nil, nil, err
	}

	var reference *mix.Buffer
	if set.Reference != nil {
		reference = &set.Reference.Buffer
	}
	res.graph, err = mix.Build(r.audioContext(cfg.Audio.SampleRate), mix.NewMediaSource("microphone"), set.Backing.Buffer, reference, cfg.MixParameters())
	if err != nil {
		return nil, nil, err
	}

	res.frame, err = r.canvas.Acquire(visual.Size{Width: cfg.Video.Width, Height: cfg.Video.Height})
	if err != nil {
		return nil, nil, err
	}
	res.canvas = r.canvas

	res.queue = encode.NewChunkQueue()
	res.enc, err = r.factory.New(format, encode.Spec{
		Width:      cfg.Video.Width,
		Height:     cfg.Video.Height,
		FPS:        cfg.Video.FPS,
		SampleRate: cfg.Audio.SampleRate,
	}, res.queue)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s encoder: %w", format.Name, err)
	}

	if d := cfg.Recording.StartDelay; d > 0 {
		select {
		case <-r.clock.After(d):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	slog.Debug("Session prepared",
		"session_id", s.id,
		"format", format.Name,
		"track", set.Backing.Name,
		"duration", set.Backing.Duration,
		"reference", set.Reference != nil)
	ok = true
	return res, set, nil
}

func (r *Recorder) audioContext(rate int) *mix.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioCtx != nil && r.audioCtx.SampleRate() != rate && r.audioCtx.ConnectedCount() == 0 {
		_ = r.audioCtx.Close()
		r.audioCtx = nil
	}
	if r.audioCtx == nil {
		r.audioCtx = mix.NewContext(rate)
	}
	return r.audioCtx
}

func (r *Recorder) monitorLocked(cfg *config.Config) audio.Output {
	rate := cfg.Audio.SampleRate
	if r.output != nil && r.outputRate == rate {
		return r.output
	}
	if r.output != nil {
		_ = r.output.Close()
	}
	out, err := r.backend.OpenOutput(rate, cfg.Audio.BlockSize)
	if err != nil {
		slog.Warn("Monitor output unavailable, performing without playback", "error", err)
		out = audio.DiscardOutput{}
	}
	r.output, r.outputRate = out, rate
	return out
}

// beginLocked starts the prepared session: render loop, playback, the
// audio pump and the auto-stop timer.
func (r *Recorder) beginLocked(s *Session, res *resources, set *track.Set, title string) error {
	cfg := s.cfg
	out := r.monitorLocked(cfg)

	loop, err := visual.StartLoop(visual.FrameSource{
		Background:       set.Background,
		Watermark:        set.Watermark,
		Size:             visual.Size{Width: cfg.Video.Width, Height: cfg.Video.Height},
		FPS:              cfg.Video.FPS,
		WatermarkWidth:   cfg.Video.WatermarkWidth,
		WatermarkMargin:  cfg.Video.WatermarkMargin,
		WatermarkOpacity: cfg.Video.WatermarkOpacity,
	}, res.frame, res.enc, r.clock)
	if err != nil {
		return err
	}
	res.loop = loop
	go r.watchLoop(s, loop)

	res.graph.OnBackingEnded(func() {
		go func() { _ = r.stop(s, StopTrackEnded) }()
	})
	res.graph.Start()

	res.pumpStop = make(chan struct{})
	res.pumpDone = make(chan struct{})
	go r.pump(s, res, out)

	d := set.Backing.Duration + cfg.Recording.AutoStopBuffer
	res.timer = r.clock.AfterFunc(d, func() { _ = r.stop(s, StopTimer) })

	if title == "" {
		title = set.Backing.Name
	}
	s.res = res
	s.title = title
	s.trackDuration = set.Backing.Duration
	s.startedAt = r.clock.Now()
	r.transitionLocked(s, StateRecording, "started")
	slog.Debug("Auto-stop armed", "session_id", s.id, "after", d)
	return nil
}

// watchLoop fails the session when the render loop ends on a sink error.
func (r *Recorder) watchLoop(s *Session, loop *visual.Loop) {
	<-loop.Done()
	if err := loop.Err(); err != nil {
		r.fail(s, fmt.Errorf("failed to encode video: %w", err))
	}
}

// pump moves microphone blocks through the graph into the encoder and
// the monitor output until the session stops.
func (r *Recorder) pump(s *Session, res *resources, out audio.Output) {
	defer close(res.pumpDone)

	blocks := res.mic.Blocks()
	for {
		select {
		case <-res.pumpStop:
			return
		case block, ok := <-blocks:
			if !ok {
				slog.Debug("Microphone stream closed", "session_id", s.id)
				return
			}
			record, monitor := res.graph.Process(block)
			if record == nil {
				continue
			}
			if err := res.enc.WriteAudio(record); err != nil {
				go r.fail(s, fmt.Errorf("failed to encode audio: %w", err))
				return
			}
			if err := out.Write(monitor); err != nil {
				slog.Debug("Monitor write failed", "error", err)
			}
		}
	}
}

// Stop ends the current recording. Only the first stop of a session has
// any effect, whichever of user stop, auto-stop or track end it is.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return r.stop(s, StopRequested)
}

func (r *Recorder) stop(s *Session, reason StopReason) error {
	r.mu.Lock()
	if r.session != s || s.state != StateRecording {
		r.mu.Unlock()
		return nil
	}
	s.stopReason = reason
	s.stoppedAt = r.clock.Now()
	res := s.res
	r.transitionLocked(s, StateFinalizing, string(reason))
	r.mu.Unlock()

	art, err := r.finalize(s, res)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != s || s.state != StateFinalizing {
		return nil
	}
	if err != nil {
		r.failLocked(s, err)
		return s.err
	}
	pres, err := play.Present(art.Media(), r.player, r.registry)
	if err != nil {
		r.failLocked(s, err)
		return s.err
	}
	s.artifact = art
	s.presentation = pres
	r.transitionLocked(s, StateReady, string(reason))
	slog.Info("Recording ready",
		"session_id", s.id,
		"file", art.Filename,
		"bytes", len(art.Data),
		"duration", art.Duration)
	return nil
}

func (r *Recorder) finalize(s *Session, res *resources) (*Artifact, error) {
	if err := res.teardown(); err != nil {
		slog.Warn("Device release incomplete", "session_id", s.id, "error", err)
	}
	if err := res.loop.Err(); err != nil {
		_ = res.closeEncoder(false)
		return nil, err
	}
	if err := res.closeEncoder(true); err != nil {
		return nil, fmt.Errorf("failed to finish encoder: %w", err)
	}
	data, err := res.queue.Bytes()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("encoder produced no data")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return &Artifact{
		Data:       data,
		MIME:       s.format.MIME,
		Container:  s.format.Container,
		Format:     s.format.Name,
		Filename:   artifactFilename(s.title, s.format),
		Track:      s.title,
		Duration:   s.stoppedAt.Sub(s.startedAt),
		StopReason: s.stopReason,
		SessionID:  s.id,
		CreatedAt:  r.clock.Now(),
	}, nil
}

func (r *Recorder) fail(s *Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != s || !s.state.Busy() {
		return
	}
	r.failLocked(s, err)
}

func (r *Recorder) failLocked(s *Session, err error) {
	e := classify(err)
	s.err = e
	if s.res != nil {
		_ = s.res.release()
	}
	slog.Error("Recording failed", "session_id", s.id, "kind", e.Kind.String(), "error", err)
	r.transitionLocked(s, StateError, e.Kind.String())
}

// NewRecording discards a finished or failed session: its download URL
// is revoked and the recorder returns to idle.
func (r *Recorder) NewRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session
	if s == nil {
		return nil
	}
	if s.state.Busy() {
		return fmt.Errorf("cannot start a new recording while %s", s.state)
	}
	return r.discardLocked(s)
}

func (r *Recorder) discardLocked(s *Session) error {
	var err error
	if s.presentation != nil {
		err = s.presentation.Release()
	}
	if s.res != nil {
		err = multierr.Append(err, s.res.release())
	}
	r.transitionLocked(s, StateIdle, "new recording")
	r.session = nil
	return err
}

// Close tears down whatever session exists and releases the process-wide
// resources. Later calls are no-ops.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.stopPreviewLocked()
	if s := r.session; s != nil {
		if s.res != nil {
			err = multierr.Append(err, s.res.release())
		}
		if s.presentation != nil {
			err = multierr.Append(err, s.presentation.Release())
		}
		r.transitionLocked(s, StateIdle, "closed")
		r.session = nil
	}
	if r.output != nil {
		err = multierr.Append(err, r.output.Close())
		r.output = nil
	}
	if r.audioCtx != nil {
		err = multierr.Append(err, r.audioCtx.Close())
	}
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	slog.Debug("Recorder closed")
	return err
}
