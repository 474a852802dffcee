package capture

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/singcapture/internal/encode"
	"github.com/audiolibrelab/singcapture/internal/play"
)

// Artifact is a finished recording. Immutable.
type Artifact struct {
	Data       []byte
	MIME       string
	Container  string
	Format     string
	Filename   string
	Track      string
	Duration   time.Duration
	StopReason StopReason
	SessionID  string
	CreatedAt  time.Time
}

// Media returns the artifact in the form the playback facade serves.
func (a *Artifact) Media() play.Media {
	return play.Media{Data: a.Data, MIME: a.MIME, Filename: a.Filename}
}

type artifactMetadata struct {
	Session    string    `yaml:"session"`
	Track      string    `yaml:"track"`
	Filename   string    `yaml:"filename"`
	Format     string    `yaml:"format"`
	MIME       string    `yaml:"mime"`
	Duration   string    `yaml:"duration"`
	Bytes      int       `yaml:"bytes"`
	StopReason string    `yaml:"stop_reason"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// Metadata renders the YAML sidecar written next to saved recordings.
func (a *Artifact) Metadata() ([]byte, error) {
	out, err := yaml.Marshal(artifactMetadata{
		Session:    a.SessionID,
		Track:      a.Track,
		Filename:   a.Filename,
		Format:     a.Format,
		MIME:       a.MIME,
		Duration:   a.Duration.Round(time.Millisecond).String(),
		Bytes:      len(a.Data),
		StopReason: string(a.StopReason),
		CreatedAt:  a.CreatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render metadata: %w", err)
	}
	return out, nil
}

// artifactFilename derives a safe filename from the track title.
func artifactFilename(title string, f encode.Format) string {
	name := play.CleanFileName(title)
	if name == "" {
		name = "recording"
	}
	return name + "." + f.Extension
}
