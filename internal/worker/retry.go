// Package worker implements the three consumer-side pipeline stages: the
// audio worker (transcribe + score + translate), the translation worker
// (translate only), and the packaging worker (adaptive-batch package
// writer). All three share the retry, drop-and-commit, and status-guard
// discipline described here.
package worker

import "context"

// MaxAttempts is the retry ceiling applied to a worker's per-message
// processing function. Individual external engine calls inside that
// function are not separately retried — nesting two independent 3-attempt
// retries around the same unit of work (as the original implementation did)
// produces up to 9 effective attempts on a permanent failure, which is
// more a surprise than a safety margin. This implementation has one retry
// boundary per stage: the work+persist+publish unit (stage.process) and the
// package+persist unit (PackagingWorker.packageTask).
const MaxAttempts = 3

// Retry calls fn up to MaxAttempts times with no delay between attempts,
// stopping early if ctx is cancelled. It returns the last error if every
// attempt fails.
func Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
