package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"net"

	"github.com/skald-labs/skald/pkg/whisper"
)

// ErrAlreadyCompleted means another worker committed this activity's
// output for the run first. The losing worker's transaction was rolled
// back; there is nothing to retry.
var ErrAlreadyCompleted = errors.New("activity already completed for run")

// retryable classifies an activity error. Transient conditions (service
// overload, network trouble, attempt timeout) are retried within the
// activity's budget; configuration problems and client-side rejections
// fail the job immediately.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	var se *whisper.ServiceError
	if errors.As(err, &se) {
		return se.Retryable()
	}

	if errors.Is(err, whisper.ErrDisabled) {
		return false
	}

	// The audio file is gone; no number of retries brings it back.
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}

	// The per-attempt timeout expiring is worth another try; the next
	// attempt gets a fresh budget.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	// Unknown errors default to retryable so a transient database or
	// provider hiccup doesn't permanently fail a job.
	return true
}
