package capture

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/singcapture/internal/audio"
	"github.com/audiolibrelab/singcapture/internal/config"
	"github.com/audiolibrelab/singcapture/internal/encode"
	"github.com/audiolibrelab/singcapture/internal/mix"
	"github.com/audiolibrelab/singcapture/internal/play"
	"github.com/audiolibrelab/singcapture/internal/visual"
)

// Session is one pass through the capture lifecycle. Its fields are
// guarded by the owning Recorder's lock.
type Session struct {
	rec *Recorder
	id  string
	cfg *config.Config

	state         State
	format        encode.Format
	title         string
	trackDuration time.Duration
	createdAt     time.Time
	startedAt     time.Time
	stoppedAt     time.Time
	stopReason    StopReason
	res           *resources
	artifact      *Artifact
	presentation  *play.Presentation
	err           *Error
}

func (s *Session) ID() string {
	return s.id
}

// Config returns the configuration the session was started with.
func (s *Session) Config() *config.Config {
	return s.cfg
}

func (s *Session) State() State {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.state
}

// Status returns the display text for the session state.
func (s *Session) Status() string {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return statusText(s.state, s.err)
}

// Format returns the negotiated recording format. Zero until negotiated.
func (s *Session) Format() encode.Format {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.format
}

// TrackDuration is the backing track length the auto-stop is armed for.
func (s *Session) TrackDuration() time.Duration {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.trackDuration
}

// StopReason reports what ended the recording, empty while recording.
func (s *Session) StopReason() StopReason {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.stopReason
}

// Elapsed is the time spent recording so far, or in total once stopped.
func (s *Session) Elapsed() time.Duration {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	switch {
	case s.startedAt.IsZero():
		return 0
	case s.stoppedAt.IsZero():
		return s.rec.clock.Since(s.startedAt)
	default:
		return s.stoppedAt.Sub(s.startedAt)
	}
}

// Artifact returns the finished recording once Ready.
func (s *Session) Artifact() *Artifact {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.artifact
}

// Presentation returns the playback facade once Ready.
func (s *Session) Presentation() *play.Presentation {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.presentation
}

// Err returns the failure that put the session in the Error state.
func (s *Session) Err() *Error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.err
}

// resources is everything a session acquires. Fields are set while
// preparing and never change once the session is recording.
type resources struct {
	mic    audio.Microphone
	graph  *mix.Graph
	canvas *visual.Canvas
	frame  *image.RGBA
	loop   *visual.Loop
	enc    encode.Encoder
	queue  *encode.ChunkQueue
	timer  *clock.Timer

	pumpStop chan struct{}
	pumpDone chan struct{}

	teardownOnce sync.Once
	teardownErr  error
	encoderOnce  sync.Once
	encoderErr   error
}

// teardown stops every live part of the session except the encoder, in
// dependency order. Concurrent callers wait for the first to finish.
func (res *resources) teardown() error {
	res.teardownOnce.Do(func() {
		var err error
		if res.timer != nil {
			res.timer.Stop()
		}
		if res.loop != nil {
			res.loop.Stop()
		}
		if res.pumpStop != nil {
			close(res.pumpStop)
			<-res.pumpDone
		}
		if res.graph != nil {
			res.graph.Stop()
		}
		if res.mic != nil {
			err = multierr.Append(err, res.mic.Stop())
		}
		if res.graph != nil {
			res.graph.Disconnect()
		}
		if res.canvas != nil {
			res.canvas.Release()
		}
		res.teardownErr = err
	})
	return res.teardownErr
}

// closeEncoder finishes or aborts the encoder. Only the first call acts.
func (res *resources) closeEncoder(finish bool) error {
	res.encoderOnce.Do(func() {
		if res.enc == nil {
			return
		}
		if finish {
			res.encoderErr = res.enc.Finish()
		} else {
			res.encoderErr = res.enc.Abort()
		}
	})
	return res.encoderErr
}

// release is the cleanup shared by every exit path. Safe to call any
// number of times.
func (res *resources) release() error {
	err := multierr.Append(res.teardown(), res.closeEncoder(false))
	if err != nil {
		slog.Warn("Session cleanup incomplete", "error", err)
	}
	return err
}
