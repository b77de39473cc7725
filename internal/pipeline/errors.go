package pipeline

import (
	"errors"
	"fmt"
)

// Failure taxonomy:
//
//   - ExternalError — a network/service failure from a collaborator
//     (transcription, embeddings, LLM, datastore). Transient by assumption;
//     retried within the bounded policy of the failing stage, or on the next
//     run when no terminal entry was recorded.
//   - artifact.ErrNoMatch — structural mismatch between artifact and record.
//     Logged as a stage failure, never terminal: the record may be scraped
//     later, so the artifact stays eligible on future runs.
//   - analyze.ErrNoJSON — unparsable LLM output. Surfaced, the record is
//     skipped and marked so it is not retried automatically.
//   - ErrResourceExhausted — local disk/journal limits. Aborts the affected
//     artifact only and propagates to the batch caller.
//
// Failures are contained per artifact: one artifact's failure never aborts
// the batch or any other artifact's pipeline.

// ErrResourceExhausted marks local resource failures, e.g. an unwritable
// checkpoint journal.
var ErrResourceExhausted = errors.New("resource exhausted")

// ExternalError wraps a failure from an external collaborator, keeping the
// service name for logs and operator re-runs.
type ExternalError struct {
	Service string
	Err     error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

func external(service string, err error) error {
	return &ExternalError{Service: service, Err: err}
}
