package multipart

import (
	"context"
	"fmt"
	"time"
)

// uploadWithRetry uploads one part, retrying failed transfers while the failure pool has room.
// The caller holds the part's chunk permit for the whole call.
func (u *Uploader) uploadWithRetry(ctx context.Context, task ChunkTask, limits Limits, failures *resourcePool) (Headers, int64, error) {
	attempts := 1
	headers, size, err := u.attempt(ctx, task, attempts, limits)

	for retry := 0; err != nil; retry++ {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("part %d upload cancelled: %w", task.PartNumber, ctx.Err())
		}

		u.logger.Warnf("Part %d attempt %d failed: %s", task.PartNumber, attempts, err)

		if !isRetryable(err) || failures.Size() == 0 {
			return nil, 0, newChunkError(task, attempts, kindOf(err), err)
		}

		if !failures.TryAcquire() {
			return nil, 0, newChunkError(task, attempts, ErrFailureConcurrencyExceeded,
				fmt.Errorf("%d parts are already retrying: %w", failures.Size(), err))
		}

		if retry >= limits.MaxRetriesPerChunk {
			failures.Release()
			return nil, 0, newChunkError(task, attempts, ErrRetriesExhausted,
				fmt.Errorf("max retries (%d) reached: %w", limits.MaxRetriesPerChunk, err))
		}

		wait := u.config.Backoff.Wait(retry)
		u.logger.Debugf("Retrying part %d in %s", task.PartNumber, wait)
		sleepErr := u.sleep(ctx, wait)
		failures.Release()
		if sleepErr != nil {
			return nil, 0, fmt.Errorf("part %d upload cancelled: %w", task.PartNumber, sleepErr)
		}

		u.stats.recordRetry()
		attempts++
		headers, size, err = u.attempt(ctx, task, attempts, limits)
	}

	return headers, size, nil
}

func (u *Uploader) attempt(ctx context.Context, task ChunkTask, attempt int, limits Limits) (Headers, int64, error) {
	u.logger.Debugf("Uploading part %d (attempt %d/%d) [finished=%d] [avg=%v]",
		task.PartNumber, attempt, limits.MaxRetriesPerChunk+1,
		u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))
	u.stats.recordAttempt()
	return u.transferChunk(ctx, task)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
