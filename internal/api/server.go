// Package api exposes the scraper handoff and operational status over HTTP.
// The scraper is untrusted input: everything it delivers is deduplicated by
// the core's own ledger and record keys, never by the scraper's say-so.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/callops/callsight/internal/artifact"
	"github.com/callops/callsight/internal/ledger"
	"github.com/callops/callsight/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// RecordStore is the slice of the datastore the API writes to.
type RecordStore interface {
	InsertCallRecord(rec storage.CallRecord) (bool, error)
	CountCallRecords() (int, error)
	CountEmbeddings() (int, error)
}

// Deps carries the handler's collaborators.
type Deps struct {
	Store  RecordStore
	Ledger ledger.Ledger
	Token  string
}

// NewHandler builds the HTTP surface: scraper ingest endpoints and status
// behind bearer auth, health open.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/ingest/calls", handleIngestCalls(deps))
		r.Post("/ingest/recordings", handleIngestRecordings(deps))
		r.Get("/status", handleStatus(deps))
	})

	return r
}

// CallRow is one dashboard row delivered by the scraper.
type CallRow struct {
	PhoneNumber string `json:"phone_number"`
	CallTime    string `json:"call_time"`
	Timestamp   string `json:"timestamp"`
	Filename    string `json:"filename,omitempty"`
}

type ingestCallsRequest struct {
	Records []CallRow `json:"records"`
}

func handleIngestCalls(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ingestCallsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Records) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "records is required and must not be empty")
			return
		}

		inserted := 0
		for _, row := range req.Records {
			if row.PhoneNumber == "" || row.CallTime == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "phone_number and call_time are required")
				return
			}
			callTime, err := artifact.NormalizeClock(row.CallTime)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid call_time %q: %v", row.CallTime, err)
				return
			}

			rec := storage.CallRecord{
				ID:          uuid.New().String(),
				PhoneNumber: row.PhoneNumber,
				CallTime:    callTime,
				Filename:    stripExtension(row.Filename),
				CreatedAt:   time.Now(),
			}
			ok, err := deps.Store.InsertCallRecord(rec)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to store call record: %v", err)
				return
			}
			if ok {
				inserted++
			} else {
				slog.Debug("skipping duplicate call record", "phone", row.PhoneNumber, "call_time", callTime)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"received": len(req.Records),
			"inserted": inserted,
		})
	}
}

// Recording is one downloaded audio file announced by the scraper.
type Recording struct {
	Filename string `json:"filename"`
}

type ingestRecordingsRequest struct {
	Recordings []Recording `json:"recordings"`
}

func handleIngestRecordings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ingestRecordingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Recordings) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "recordings is required and must not be empty")
			return
		}

		recorded := 0
		for _, rec := range req.Recordings {
			if rec.Filename == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
				return
			}
			id := stripExtension(rec.Filename)

			prior, err := deps.Ledger.Attempt(id, artifact.StageDownload)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to read download journal: %v", err)
				return
			}
			if prior != nil {
				continue
			}
			err = deps.Ledger.Record(ledger.Entry{
				ArtifactID: id,
				Stage:      artifact.StageDownload,
				Outcome:    ledger.Success,
				At:         time.Now(),
			})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to journal download: %v", err)
				return
			}
			recorded++
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"received": len(req.Recordings),
			"recorded": recorded,
		})
	}
}

// StageStatus reports one stage's terminal outcomes.
type StageStatus struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Status is the operational snapshot served by GET /status.
type Status struct {
	Stages      map[string]StageStatus `json:"stages"`
	CallRecords int                    `json:"call_records"`
	Embeddings  int                    `json:"embeddings"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := Status{Stages: make(map[string]StageStatus, len(artifact.Stages()))}
		for _, stage := range artifact.Stages() {
			c, err := deps.Ledger.StageCounts(stage)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to read %s journal: %v", stage, err)
				return
			}
			status.Stages[string(stage)] = StageStatus{Success: c.Success, Failed: c.Failed}
		}

		var err error
		if status.CallRecords, err = deps.Store.CountCallRecords(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count call records: %v", err)
			return
		}
		if status.Embeddings, err = deps.Store.CountEmbeddings(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count embeddings: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

func stripExtension(filename string) string {
	if filename == "" {
		return ""
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
