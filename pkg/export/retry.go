package export

import (
	"time"

	"duplexscan/pkg/log"
	"duplexscan/pkg/scanerr"

	"golang.org/x/xerrors"
)

// RetryPolicy is a bounded retry with a fixed delay and no jitter.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	// Sleep replaces time.Sleep, for tests.
	Sleep func(time.Duration)
}

// WriterRetry bounds document writer acquisition.
var WriterRetry = RetryPolicy{Attempts: 6, Delay: 250 * time.Millisecond}

// Do calls op until it succeeds or the attempts are exhausted, sleeping
// Delay between attempts. Exhaustion returns ErrWriterUnavailable carrying
// the last failure's message.
func (p RetryPolicy) Do(op func(attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		log.Debug("Attempt %d/%d failed: %v", attempt, attempts, err)
		if attempt < attempts {
			sleep(p.Delay)
		}
	}
	return xerrors.Errorf("%d attempts, last: %v: %w", attempts, err, scanerr.ErrWriterUnavailable)
}
