package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Stage is one unit of pipeline work applied to an artifact.
type Stage string

const (
	StageDownload   Stage = "download"
	StageTranscribe Stage = "transcribe"
	StageStore      Stage = "store"
	StageEmbed      Stage = "embed"
	StageAnalyze    Stage = "analyze"
)

// Stages returns all stages in pipeline order.
func Stages() []Stage {
	return []Stage{StageDownload, StageTranscribe, StageStore, StageEmbed, StageAnalyze}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageDownload, StageTranscribe, StageStore, StageEmbed, StageAnalyze:
		return true
	}
	return false
}

// State is the explicit processing state of an artifact. It is tracked by the
// coordinator and never inferred from file extensions or naming.
type State int

const (
	StateDiscovered State = iota
	StateTranscribed
	StateStored
	StateEmbedded
	StateAnalyzed
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateTranscribed:
		return "transcribed"
	case StateStored:
		return "stored"
	case StateEmbedded:
		return "embedded"
	case StateAnalyzed:
		return "analyzed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Artifact is a single downloaded audio recording awaiting processing.
// ID is the filename without its extension, unique within a run; it is the
// key used across ledgers and the datastore.
type Artifact struct {
	ID           string
	Path         string
	DiscoveredAt time.Time
}

var audioExtensions = map[string]bool{
	".aac": true,
	".wav": true,
	".mp4": true,
	".mp3": true,
}

// Discover scans dir for audio recordings and returns them sorted by name.
// Non-audio files are ignored. A missing directory is not an error; the
// scraper may simply not have delivered anything yet.
func Discover(dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact directory: %w", err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !audioExtensions[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		artifacts = append(artifacts, Artifact{
			ID:           strings.TrimSuffix(name, filepath.Ext(name)),
			Path:         filepath.Join(dir, name),
			DiscoveredAt: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ID < artifacts[j].ID
	})
	return artifacts, nil
}
