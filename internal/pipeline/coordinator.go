package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/callops/callsight/internal/artifact"
	"github.com/callops/callsight/internal/ledger"
	"github.com/callops/callsight/internal/storage"
)

// Transcriber turns an audio file into text. The production implementation
// already carries the stage's bounded retry, so a returned error is final
// for this run.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Embedder generates the fixed-dimension vector for a transcript.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Matcher resolves an artifact ID to its call record.
type Matcher interface {
	Resolve(artifactID string) (storage.CallRecord, error)
}

// Datastore is the slice of the document store the pipeline drives.
type Datastore interface {
	SaveTranscript(t storage.Transcript) error
	GetTranscript(filename string) (storage.Transcript, error)
	DeleteTranscript(filename string) error
	SetTranscription(id, filename, text string) error
	HasEmbedding(filename string) (bool, error)
	SaveEmbedding(e storage.Embedding) error
	UpsertAnalysis(id, filename string, a storage.AnalysisUpdate) error
	ListPendingAnalysis() ([]storage.CallRecord, error)
}

// Progress is the outcome of driving one artifact through the per-artifact
// stages.
type Progress struct {
	Artifact    artifact.Artifact
	State       artifact.State
	FailedStage artifact.Stage
	Err         error
}

// Coordinator drives a single artifact through transcribe → store → embed,
// consulting the checkpoint ledger before each stage and recording every
// terminal outcome immediately on return — before any downstream effect —
// so a crash between stages is recoverable by re-entering the coordinator.
type Coordinator struct {
	ledger      ledger.Ledger
	store       Datastore
	matcher     Matcher
	transcriber Transcriber
	embedder    Embedder
	logger      *slog.Logger
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(l ledger.Ledger, store Datastore, m Matcher, t Transcriber, e Embedder) *Coordinator {
	return &Coordinator{
		ledger:      l,
		store:       store,
		matcher:     m,
		transcriber: t,
		embedder:    e,
		logger:      slog.Default(),
	}
}

// Run advances one artifact as far as it can go this run. Stage order is
// strict; an attempted stage is skipped on prior success and halts the
// artifact on prior terminal failure. The audio file is never deleted here:
// terminal cleanup belongs to the analyze pass.
func (c *Coordinator) Run(ctx context.Context, a artifact.Artifact) Progress {
	p := Progress{Artifact: a, State: artifact.StateDiscovered}

	if err := c.ensureDownloaded(a); err != nil {
		return c.fail(p, artifact.StageDownload, err)
	}

	// --- Transcribe ---
	prior, err := c.ledger.Attempt(a.ID, artifact.StageTranscribe)
	if err != nil {
		return c.fail(p, artifact.StageTranscribe, fmt.Errorf("%w: %v", ErrResourceExhausted, err))
	}
	switch {
	case prior != nil && prior.Outcome == ledger.Failed:
		return c.halt(p, artifact.StageTranscribe)
	case prior == nil:
		text, err := c.transcriber.Transcribe(ctx, a.Path)
		if err != nil {
			// Retries are exhausted: terminal. The audio stays on disk for
			// an operator to inspect.
			if recErr := c.record(a.ID, artifact.StageTranscribe, ledger.Failed, ""); recErr != nil {
				return c.fail(p, artifact.StageTranscribe, recErr)
			}
			return c.fail(p, artifact.StageTranscribe, external("transcription", err))
		}
		// Stage the transcript before declaring success so the store stage
		// has an input after a restart.
		staged := storage.Transcript{Filename: a.ID, Text: text, CreatedAt: time.Now()}
		if err := c.store.SaveTranscript(staged); err != nil {
			return c.fail(p, artifact.StageTranscribe, external("datastore", err))
		}
		if err := c.record(a.ID, artifact.StageTranscribe, ledger.Success, ""); err != nil {
			return c.fail(p, artifact.StageTranscribe, err)
		}
	}
	p.State = artifact.StateTranscribed

	// --- Store ---
	prior, err = c.ledger.Attempt(a.ID, artifact.StageStore)
	if err != nil {
		return c.fail(p, artifact.StageStore, fmt.Errorf("%w: %v", ErrResourceExhausted, err))
	}
	switch {
	case prior != nil && prior.Outcome == ledger.Failed:
		return c.halt(p, artifact.StageStore)
	case prior == nil:
		if err := c.runStore(a); err != nil {
			// No terminal entry: an unmatched or transiently failing store
			// is retried on the next run once the record shows up.
			return c.fail(p, artifact.StageStore, err)
		}
		if err := c.record(a.ID, artifact.StageStore, ledger.Success, ""); err != nil {
			return c.fail(p, artifact.StageStore, err)
		}
	}
	p.State = artifact.StateStored

	// --- Embed ---
	prior, err = c.ledger.Attempt(a.ID, artifact.StageEmbed)
	if err != nil {
		return c.fail(p, artifact.StageEmbed, fmt.Errorf("%w: %v", ErrResourceExhausted, err))
	}
	switch {
	case prior != nil && prior.Outcome == ledger.Failed:
		return c.halt(p, artifact.StageEmbed)
	case prior == nil:
		if err := c.runEmbed(ctx, a); err != nil {
			return c.fail(p, artifact.StageEmbed, err)
		}
	}
	p.State = artifact.StateEmbedded

	return p
}

// ensureDownloaded self-heals the download journal for artifacts found on
// disk that the scraper never registered.
func (c *Coordinator) ensureDownloaded(a artifact.Artifact) error {
	prior, err := c.ledger.Attempt(a.ID, artifact.StageDownload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	if prior != nil {
		return nil
	}
	return c.record(a.ID, artifact.StageDownload, ledger.Success, "")
}

func (c *Coordinator) runStore(a artifact.Artifact) error {
	staged, err := c.store.GetTranscript(a.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("transcript staging missing for %s: %w", a.ID, err)
	}
	if err != nil {
		return external("datastore", err)
	}

	rec, err := c.matcher.Resolve(a.ID)
	if errors.Is(err, artifact.ErrNoMatch) {
		c.logger.Warn("no matching call record", "artifact", a.ID, "stage", artifact.StageStore)
		return err
	}
	if err != nil {
		return external("datastore", err)
	}

	if err := c.store.SetTranscription(rec.ID, a.ID, staged.Text); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return artifact.ErrNoMatch
		}
		return external("datastore", err)
	}
	return nil
}

func (c *Coordinator) runEmbed(ctx context.Context, a artifact.Artifact) error {
	// Existence check independent of the ledger: a cleared journal must not
	// produce duplicate embeddings.
	exists, err := c.store.HasEmbedding(a.ID)
	if err != nil {
		return external("datastore", err)
	}
	if exists {
		return c.record(a.ID, artifact.StageEmbed, ledger.Success, "existing")
	}

	staged, err := c.store.GetTranscript(a.ID)
	if err != nil {
		return external("datastore", err)
	}

	vec, err := c.embedder.Embed(ctx, staged.Text)
	if err != nil {
		if recErr := c.record(a.ID, artifact.StageEmbed, ledger.Failed, ""); recErr != nil {
			return recErr
		}
		return external("embeddings", err)
	}

	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encoding vector: %w", err)
	}
	emb := storage.Embedding{
		ID:            uuid.New().String(),
		Filename:      a.ID,
		VectorJSON:    string(vecJSON),
		DateProcessed: time.Now().Format("02-01-2006"),
		CreatedAt:     time.Now(),
	}
	if err := c.store.SaveEmbedding(emb); err != nil {
		return external("datastore", err)
	}
	return c.record(a.ID, artifact.StageEmbed, ledger.Success, emb.ID)
}

func (c *Coordinator) record(id string, stage artifact.Stage, outcome ledger.Outcome, detail string) error {
	err := c.ledger.Record(ledger.Entry{
		ArtifactID: id,
		Stage:      stage,
		Outcome:    outcome,
		Detail:     detail,
		At:         time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: recording %s outcome: %v", ErrResourceExhausted, stage, err)
	}
	return nil
}

func (c *Coordinator) fail(p Progress, stage artifact.Stage, err error) Progress {
	p.State = artifact.StateFailed
	p.FailedStage = stage
	p.Err = err
	c.logger.Warn("stage failed", "artifact", p.Artifact.ID, "stage", stage, "error", err)
	return p
}

// halt marks an artifact stopped at a stage that already failed terminally
// in an earlier run. Nothing is logged at warn level: the terminal entry
// was logged when it happened.
func (c *Coordinator) halt(p Progress, stage artifact.Stage) Progress {
	p.State = artifact.StateFailed
	p.FailedStage = stage
	c.logger.Debug("artifact halted at failed stage", "artifact", p.Artifact.ID, "stage", stage)
	return p
}
