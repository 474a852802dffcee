package play

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Player starts playback of a media file.
type Player interface {
	Start(path, mime string) (Playback, error)
}

// Playback is one running playback.
type Playback interface {
	Stop() error
	// Done is closed when playback ends on its own or is stopped.
	Done() <-chan struct{}
}

// ExecPlayer plays files with the first media player found on PATH.
type ExecPlayer struct {
	// LogWriter receives the player's output. Nil discards it.
	LogWriter io.Writer
	lookPath  func(string) (string, error)
}

// NewExecPlayer creates a player using the system PATH.
func NewExecPlayer(logWriter io.Writer) *ExecPlayer {
	return &ExecPlayer{LogWriter: logWriter, lookPath: exec.LookPath}
}

func (p *ExecPlayer) findPlayer(mime string) (string, error) {
	// List of preferred players in order of preference
	players := []string{"vlc", "mpv", "ffplay"}
	if strings.HasPrefix(mime, "audio/wav") {
		players = append(players, "aplay")
	}

	lookPath := p.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, player := range players {
		if _, err := lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no media player found (tried: %s)", strings.Join(players, ", "))
}

func playerArgs(player, path string) []string {
	switch player {
	case "vlc":
		return []string{"--play-and-exit", path}
	case "mpv":
		return []string{"--really-quiet", path}
	case "ffplay":
		return []string{"-autoexit", "-loglevel", "error", path}
	default:
		return []string{path}
	}
}

func (p *ExecPlayer) Start(path, mime string) (Playback, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("media file not found: %s", path)
	}
	player, err := p.findPlayer(mime)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(player, playerArgs(player, path)...)
	out := p.LogWriter
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", player, err)
	}
	slog.Info("Playback started", "player", player, "file", path)

	pb := &execPlayback{cmd: cmd, done: make(chan struct{})}
	go func() {
		pb.waitErr = cmd.Wait()
		close(pb.done)
		slog.Debug("Playback ended", "player", player)
	}()
	return pb, nil
}

type execPlayback struct {
	cmd      *exec.Cmd
	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
	stopErr  error
}

func (p *execPlayback) Done() <-chan struct{} {
	return p.done
}

func (p *execPlayback) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.stopErr = fmt.Errorf("failed to stop player: %w", err)
		}
		<-p.done
	})
	return p.stopErr
}

// CleanFileName keeps letters, numbers, spaces, hyphens and underscores,
// then replaces spaces with underscores.
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
