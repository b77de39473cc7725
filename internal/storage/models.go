package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CallRecord is the call-metadata record an artifact enriches. Records are
// created when the scraper registers a dashboard row and are unique per
// (PhoneNumber, CallTime); Filename stays empty until an artifact is matched.
type CallRecord struct {
	ID               string
	PhoneNumber      string
	CallTime         string // canonical 24-hour "HH:MM"
	Filename         string
	Transcription    string
	Sentiment        string
	CustomerInterest string
	Summary          string
	EntitiesJSON     string // JSON object stored as text
	DateProcessed    string // "DD-MM-YYYY"
	CreatedAt        time.Time
}

// AnalysisUpdate holds the LLM-derived fields flushed onto a call record.
type AnalysisUpdate struct {
	Sentiment        string
	CustomerInterest string
	Summary          string
	EntitiesJSON     string
	DateProcessed    string
}

// Transcript is a staged raw transcription, persisted by the transcribe
// stage so the store and embed stages survive a crash in between.
type Transcript struct {
	Filename  string
	Text      string
	CreatedAt time.Time
}

// Embedding is the derived vector for one artifact's transcription.
type Embedding struct {
	ID            string
	Filename      string
	VectorJSON    string // JSON array stored as text
	DateProcessed string
	CreatedAt     time.Time
}
