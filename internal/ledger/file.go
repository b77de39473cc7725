package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/callops/callsight/internal/artifact"
)

// Stage journals keep the original plain-text formats so they stay
// human-inspectable and re-readable across restarts:
//
//	downloaded_files.txt     filename per line
//	transcription_log.txt    filename,timestamp,success|failed
//	store_log.txt            filename,timestamp,success|failed
//	embeddings_log.txt       filename,insertedId,timestamp ("failed" in the
//	                         id column marks a terminal failure)
//	processed_llm_files.txt  filename per line; a ",failed" suffix marks a
//	                         terminal failure
var stageFiles = map[artifact.Stage]string{
	artifact.StageDownload:   "downloaded_files.txt",
	artifact.StageTranscribe: "transcription_log.txt",
	artifact.StageStore:      "store_log.txt",
	artifact.StageEmbed:      "embeddings_log.txt",
	artifact.StageAnalyze:    "processed_llm_files.txt",
}

// FileLedger is a Ledger backed by one append-only text file per stage.
// A crash mid-write loses at most the in-flight line; prior lines are never
// touched. Entries are cached in memory at open and on every append.
type FileLedger struct {
	dir string

	mu      sync.Mutex
	entries map[artifact.Stage]map[string]Entry
}

// Open creates dir if needed, reads any existing stage files, and returns a
// ready ledger.
func Open(dir string) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	l := &FileLedger{
		dir:     dir,
		entries: make(map[artifact.Stage]map[string]Entry, len(stageFiles)),
	}
	for stage := range stageFiles {
		l.entries[stage] = make(map[string]Entry)
		if err := l.load(stage); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *FileLedger) path(stage artifact.Stage) string {
	return filepath.Join(l.dir, stageFiles[stage])
}

func (l *FileLedger) load(stage artifact.Stage) error {
	f, err := os.Open(l.path(stage))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s journal: %w", stage, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, ok := parseLine(stage, line)
		if !ok {
			// Torn line from a crash mid-write; the entry it would have
			// recorded was never durable, so skip it.
			continue
		}
		// First terminal entry keeps precedence.
		if _, exists := l.entries[stage][e.ArtifactID]; !exists {
			l.entries[stage][e.ArtifactID] = e
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s journal: %w", stage, err)
	}
	return nil
}

func parseLine(stage artifact.Stage, line string) (Entry, bool) {
	switch stage {
	case artifact.StageDownload:
		return Entry{ArtifactID: line, Stage: stage, Outcome: Success}, true

	case artifact.StageAnalyze:
		parts := strings.Split(line, ",")
		switch len(parts) {
		case 1:
			return Entry{ArtifactID: parts[0], Stage: stage, Outcome: Success}, true
		case 2:
			if Outcome(parts[1]) != Failed {
				return Entry{}, false
			}
			return Entry{ArtifactID: parts[0], Stage: stage, Outcome: Failed}, true
		}
		return Entry{}, false

	case artifact.StageTranscribe, artifact.StageStore:
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return Entry{}, false
		}
		outcome := Outcome(parts[2])
		if outcome != Success && outcome != Failed {
			return Entry{}, false
		}
		at, _ := time.Parse(time.RFC3339, parts[1])
		return Entry{ArtifactID: parts[0], Stage: stage, Outcome: outcome, At: at}, true

	case artifact.StageEmbed:
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return Entry{}, false
		}
		at, _ := time.Parse(time.RFC3339, parts[2])
		e := Entry{ArtifactID: parts[0], Stage: stage, Outcome: Success, Detail: parts[1], At: at}
		if parts[1] == string(Failed) {
			e.Outcome = Failed
			e.Detail = ""
		}
		return e, true
	}
	return Entry{}, false
}

func formatLine(e Entry) string {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	switch e.Stage {
	case artifact.StageDownload:
		return e.ArtifactID
	case artifact.StageAnalyze:
		if e.Outcome == Failed {
			return e.ArtifactID + "," + string(Failed)
		}
		return e.ArtifactID
	case artifact.StageTranscribe, artifact.StageStore:
		return fmt.Sprintf("%s,%s,%s", e.ArtifactID, at.UTC().Format(time.RFC3339), e.Outcome)
	case artifact.StageEmbed:
		detail := e.Detail
		if e.Outcome == Failed {
			detail = string(Failed)
		}
		return fmt.Sprintf("%s,%s,%s", e.ArtifactID, detail, at.UTC().Format(time.RFC3339))
	}
	return ""
}

// Attempt returns the terminal entry for (artifactID, stage), or nil.
func (l *FileLedger) Attempt(artifactID string, stage artifact.Stage) (*Entry, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[stage][artifactID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Record appends the entry to its stage file, fsyncs, and updates the cache.
func (l *FileLedger) Record(e Entry) error {
	if !e.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.ArtifactID == "" {
		return fmt.Errorf("empty artifact id")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path(e.Stage), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s journal: %w", e.Stage, err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(e) + "\n"); err != nil {
		return fmt.Errorf("appending to %s journal: %w", e.Stage, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s journal: %w", e.Stage, err)
	}

	if _, exists := l.entries[e.Stage][e.ArtifactID]; !exists {
		l.entries[e.Stage][e.ArtifactID] = e
	}
	return nil
}

// Reset truncates one stage's journal, resetting that stage's idempotence
// for every artifact.
func (l *FileLedger) Reset(stage artifact.Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("unknown stage %q", stage)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.WriteFile(l.path(stage), nil, 0o644); err != nil {
		return fmt.Errorf("truncating %s journal: %w", stage, err)
	}
	l.entries[stage] = make(map[string]Entry)
	return nil
}

// StageCounts reports terminal outcomes recorded for a stage.
func (l *FileLedger) StageCounts(stage artifact.Stage) (Counts, error) {
	if !stage.Valid() {
		return Counts{}, fmt.Errorf("unknown stage %q", stage)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var c Counts
	for _, e := range l.entries[stage] {
		if e.Outcome == Failed {
			c.Failed++
		} else {
			c.Success++
		}
	}
	return c, nil
}
