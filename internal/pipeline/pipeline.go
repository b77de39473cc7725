// Package pipeline drives discovered audio artifacts through the
// transcribe → store → embed → analyze stages with at-most-once semantics
// per artifact and stage, checkpointed in an append-only ledger.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/callops/callsight/internal/artifact"
	"github.com/callops/callsight/internal/ledger"
)

// Summary reports one full pipeline pass.
type Summary struct {
	Discovered int `json:"discovered"`
	Processed  int `json:"processed"`
	Analyzed   int `json:"analyzed"`
	Cleaned    int `json:"cleaned"`
}

// Pipeline composes discovery, the per-artifact executor, the analyze batch,
// and terminal cleanup into one pass.
type Pipeline struct {
	dataDir  string
	ledger   ledger.Ledger
	store    Datastore
	executor *Executor
	analyzer *Analyzer
	logger   *slog.Logger
}

// New wires a Pipeline over an artifact directory.
func New(dataDir string, l ledger.Ledger, store Datastore, ex *Executor, an *Analyzer) *Pipeline {
	return &Pipeline{
		dataDir:  dataDir,
		ledger:   l,
		store:    store,
		executor: ex,
		analyzer: an,
		logger:   slog.Default(),
	}
}

// Run executes one full pass: scan the artifact directory, fan the batch
// over the executor, run the analyze batch, then delete source audio for
// artifacts whose whole chain has succeeded. Running a second time over an
// unchanged artifact set is a no-op.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	artifacts, err := artifact.Discover(p.dataDir)
	if err != nil {
		return sum, err
	}
	sum.Discovered = len(artifacts)
	if len(artifacts) == 0 {
		p.logger.Info("no audio artifacts found", "dir", p.dataDir)
	} else {
		p.logger.Info("processing artifacts", "count", len(artifacts))
		sum.Processed = p.executor.Run(ctx, artifacts)
	}

	analyzed, err := p.analyzer.Run(ctx)
	if err != nil {
		return sum, err
	}
	sum.Analyzed = analyzed

	cleaned, err := p.cleanup(artifacts)
	if err != nil {
		return sum, err
	}
	sum.Cleaned = cleaned

	p.logger.Info("pipeline pass complete",
		"discovered", sum.Discovered,
		"processed", sum.Processed,
		"analyzed", sum.Analyzed,
		"cleaned", sum.Cleaned,
	)
	return sum, nil
}

// cleanup deletes the source audio and staged transcript for every artifact
// whose full chain — transcribe, store, embed, analyze — has succeeded.
// Partial pipelines always leave the artifact recoverable on disk.
func (p *Pipeline) cleanup(artifacts []artifact.Artifact) (int, error) {
	cleaned := 0
	for _, a := range artifacts {
		done, err := p.isDone(a.ID)
		if err != nil {
			return cleaned, err
		}
		if !done {
			continue
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("removing processed audio failed", "artifact", a.ID, "error", err)
			continue
		}
		if err := p.store.DeleteTranscript(a.ID); err != nil {
			p.logger.Warn("removing staged transcript failed", "artifact", a.ID, "error", err)
		}
		p.logger.Info("artifact fully processed, source removed", "artifact", a.ID)
		cleaned++
	}
	return cleaned, nil
}

func (p *Pipeline) isDone(artifactID string) (bool, error) {
	for _, stage := range []artifact.Stage{
		artifact.StageTranscribe,
		artifact.StageStore,
		artifact.StageEmbed,
		artifact.StageAnalyze,
	} {
		e, err := p.ledger.Attempt(artifactID, stage)
		if err != nil {
			return false, err
		}
		if e == nil || e.Outcome != ledger.Success {
			return false, nil
		}
	}
	return true, nil
}
