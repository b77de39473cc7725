package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/callops/callsight/internal/analyze"
	"github.com/callops/callsight/internal/artifact"
	"github.com/callops/callsight/internal/ledger"
	"github.com/callops/callsight/internal/storage"
)

type pipeFixture struct {
	dataDir     string
	ledgerDir   string
	ledger      *ledger.FileLedger
	store       *fakeStore
	transcriber *fakeTranscriber
	llm         *fakeLLM
	pipe        *Pipeline
}

func newPipeFixture(t *testing.T) *pipeFixture {
	t.Helper()
	dataDir := t.TempDir()
	ledgerDir := t.TempDir()
	led, err := ledger.Open(ledgerDir)
	if err != nil {
		t.Fatal(err)
	}
	store := newFakeStore()
	tr := &fakeTranscriber{failOn: map[string]error{}, silentOn: map[string]bool{}}
	em := &fakeEmbedder{}
	llm := &fakeLLM{errFor: map[string]error{}}

	coord := NewCoordinator(led, store, artifact.NewMatcher(store), tr, em)
	ex := NewExecutor(coord, 2)
	an := NewAnalyzer(led, store, llm, 2)
	return &pipeFixture{
		dataDir:     dataDir,
		ledgerDir:   ledgerDir,
		ledger:      led,
		store:       store,
		transcriber: tr,
		llm:         llm,
		pipe:        New(dataDir, led, store, ex, an),
	}
}

// reopen simulates a restart: the journals are re-read from disk while the
// store and audio directory carry over.
func (f *pipeFixture) reopen(t *testing.T) *pipeFixture {
	t.Helper()
	led, err := ledger.Open(f.ledgerDir)
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTranscriber{failOn: map[string]error{}, silentOn: map[string]bool{}}
	em := &fakeEmbedder{}
	llm := &fakeLLM{errFor: map[string]error{}}

	coord := NewCoordinator(led, f.store, artifact.NewMatcher(f.store), tr, em)
	ex := NewExecutor(coord, 2)
	an := NewAnalyzer(led, f.store, llm, 2)
	return &pipeFixture{
		dataDir:     f.dataDir,
		ledgerDir:   f.ledgerDir,
		ledger:      led,
		store:       f.store,
		transcriber: tr,
		llm:         llm,
		pipe:        New(f.dataDir, led, f.store, ex, an),
	}
}

func (f *pipeFixture) writeAudio(t *testing.T, id string) string {
	t.Helper()
	path := filepath.Join(f.dataDir, id+".aac")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPipelineFullPass(t *testing.T) {
	f := newPipeFixture(t)
	path := f.writeAudio(t, testArtifactID)
	f.store.addRecord(storage.CallRecord{ID: "r1", PhoneNumber: "9876543210", CallTime: "14:30"})

	sum, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := Summary{Discovered: 1, Processed: 1, Analyzed: 1, Cleaned: 1}
	if sum != want {
		t.Errorf("Summary = %+v, want %+v", sum, want)
	}

	// Source audio and staged transcript removed after the full chain.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("source audio not removed after full processing")
	}
	if _, err := f.store.GetTranscript(testArtifactID); err == nil {
		t.Error("staged transcript not removed after full processing")
	}

	rec, err := f.store.CallRecordByFilename(testArtifactID)
	if err != nil {
		t.Fatalf("enriched record missing: %v", err)
	}
	if rec.Transcription == "" || rec.Sentiment == "" {
		t.Errorf("record not fully enriched: %+v", rec)
	}
}

func TestPipelineSecondPassIsNoOp(t *testing.T) {
	f := newPipeFixture(t)
	f.writeAudio(t, testArtifactID)
	f.store.addRecord(storage.CallRecord{ID: "r1", PhoneNumber: "9876543210", CallTime: "14:30"})

	if _, err := f.pipe.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	transcribes, analyses := f.transcriber.callCount(), f.llm.callCount()

	sum, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if sum != (Summary{}) {
		t.Errorf("second pass Summary = %+v, want zero", sum)
	}
	if f.transcriber.callCount() != transcribes || f.llm.callCount() != analyses {
		t.Error("external services re-invoked on an unchanged artifact set")
	}
}

func TestPipelineKeepsUnmatchedAudio(t *testing.T) {
	f := newPipeFixture(t)
	path := f.writeAudio(t, testArtifactID)
	// No call record scraped yet.

	sum, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 0 || sum.Cleaned != 0 {
		t.Errorf("Summary = %+v, want nothing processed or cleaned", sum)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("unmatched audio must stay on disk for a later run")
	}

	// Scrape arrives; the artifact completes on the next pass without
	// re-transcribing.
	f.store.addRecord(storage.CallRecord{ID: "r1", PhoneNumber: "9876543210", CallTime: "14:30"})
	calls := f.transcriber.callCount()
	sum, err = f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if sum.Processed != 1 || sum.Analyzed != 1 || sum.Cleaned != 1 {
		t.Errorf("second pass Summary = %+v", sum)
	}
	if f.transcriber.callCount() != calls {
		t.Error("transcription repeated across runs")
	}
}

// A recording with no speech transcribes to empty text; that is still a
// completed call, so it must flow through analysis and be cleaned up rather
// than sit in the audio directory forever.
func TestPipelineSilentRecordingCompletes(t *testing.T) {
	f := newPipeFixture(t)
	path := f.writeAudio(t, testArtifactID)
	f.store.addRecord(storage.CallRecord{ID: "r1", PhoneNumber: "9876543210", CallTime: "14:30"})
	f.transcriber.silentOn[testArtifactID+".aac"] = true

	sum, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := Summary{Discovered: 1, Processed: 1, Analyzed: 1, Cleaned: 1}
	if sum != want {
		t.Errorf("Summary = %+v, want %+v", sum, want)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("silent recording's audio not removed after full processing")
	}
	rec, err := f.store.CallRecordByFilename(testArtifactID)
	if err != nil {
		t.Fatalf("record not bound to filename: %v", err)
	}
	if rec.Transcription != "" || rec.Sentiment == "" {
		t.Errorf("record = %+v, want empty transcription with analysis applied", rec)
	}
}

// A terminal analyze failure must survive a restart as a failure: the audio
// stays on disk and the LLM is not asked again.
func TestPipelineAnalyzeFailureHoldsAcrossRestart(t *testing.T) {
	f := newPipeFixture(t)
	path := f.writeAudio(t, testArtifactID)
	f.store.addRecord(storage.CallRecord{ID: "r1", PhoneNumber: "9876543210", CallTime: "14:30"})
	f.llm.errFor[testArtifactID] = fmt.Errorf("%w: bad braces", analyze.ErrNoJSON)

	sum, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Analyzed != 0 || sum.Cleaned != 0 {
		t.Errorf("Summary = %+v, want nothing analyzed or cleaned", sum)
	}

	g := f.reopen(t)
	e, err := g.ledger.Attempt(testArtifactID, artifact.StageAnalyze)
	if err != nil || e == nil || e.Outcome != ledger.Failed {
		t.Fatalf("analyze journal after restart = %+v, %v, want terminal failure", e, err)
	}

	sum, err = g.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() after restart error = %v", err)
	}
	if sum.Analyzed != 0 || sum.Cleaned != 0 {
		t.Errorf("restart Summary = %+v, want nothing analyzed or cleaned", sum)
	}
	if g.llm.callCount() != 0 {
		t.Error("LLM re-invoked for a terminally failed record")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("audio of a terminally failed artifact removed by cleanup")
	}
}

func TestPipelineEmptyDirectory(t *testing.T) {
	f := newPipeFixture(t)
	sum, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum != (Summary{}) {
		t.Errorf("Summary = %+v, want zero", sum)
	}
}
