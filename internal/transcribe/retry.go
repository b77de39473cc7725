package transcribe

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// A broken recording gets exactly two tries; after that the artifact is
	// kept on disk for an operator and never retried automatically.
	defaultMaxAttempts = 2
	defaultRetryDelay  = time.Second
)

// Transcriber is anything that turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Policy wraps a Transcriber with the stage's bounded retry: a fixed number
// of attempts with a short constant delay between them.
type Policy struct {
	inner       Transcriber
	maxAttempts uint64
	delay       time.Duration
}

// NewPolicy wraps inner. Non-positive maxAttempts or delay fall back to the
// defaults (2 attempts, 1s apart).
func NewPolicy(inner Transcriber, maxAttempts int, delay time.Duration) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return &Policy{inner: inner, maxAttempts: uint64(maxAttempts), delay: delay}
}

// Transcribe retries the wrapped call up to the configured attempt count.
// The error from the final attempt is returned on exhaustion.
func (p *Policy) Transcribe(ctx context.Context, path string) (string, error) {
	var text string
	op := func() error {
		t, err := p.inner.Transcribe(ctx, path)
		if err != nil {
			return err
		}
		text = t
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), p.maxAttempts-1),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return text, nil
}
