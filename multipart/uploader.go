package multipart

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"
)

// Uploader handles parallel part uploads with bounded retries.
type Uploader struct {
	config     Config
	httpClient *http.Client
	logger     log.Logger
	stats      *Stats
	sleep      func(context.Context, time.Duration) error
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Uploader{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		stats:      NewStats(),
		sleep:      sleepContext,
	}
}

// Upload uploads every part of the plan in parallel.
// It returns the response headers of each part in part order, or the first part failure.
// On failure the remaining parts are cancelled and waited for before Upload returns.
func (u *Uploader) Upload(ctx context.Context, plan Plan) ([]Headers, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if err := checkPartition(plan); err != nil {
		return nil, err
	}

	tasks := plan.Tasks()
	if len(tasks) == 0 {
		return []Headers{}, nil
	}

	chunks := newResourcePool("chunks", plan.MaxConcurrentChunks)
	failures := newResourcePool("failures", plan.MaxConcurrentFailures)
	defer func() {
		u.stats.observePeakChunks(chunks.Peak())
	}()

	u.logger.Debugf("Uploading %d parts of %s, %d bytes each (max parallel: %d, max parallel failures: %d, max retries: %d)",
		len(tasks), plan.FilePath, plan.ChunkSize, plan.MaxConcurrentChunks, plan.MaxConcurrentFailures, plan.MaxRetriesPerChunk)

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan chunkResult, len(tasks))

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return u.runChunk(gctx, task, plan.Limits, chunks, failures, results)
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(results)
	}()

	set := newResultSet(len(tasks))
	set.collect(results)

	if err := <-done; err != nil {
		u.logger.Errorf("Upload of %s failed: %s", plan.FilePath, err)
		return nil, err
	}

	return set.headers()
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (u *Uploader) CloseIdleConnections() {
	u.httpClient.CloseIdleConnections()
}

func (u *Uploader) runChunk(ctx context.Context, task ChunkTask, limits Limits, chunks, failures *resourcePool, results chan<- chunkResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newChunkError(task, 0, ErrTaskFailure, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := chunks.Acquire(ctx); err != nil {
		return fmt.Errorf("part %d: acquire %s permit: %w", task.PartNumber, chunks.name, err)
	}
	defer chunks.Release()

	start := time.Now()
	headers, size, err := u.uploadWithRetry(ctx, task, limits, failures)
	if err != nil {
		return err
	}

	took := time.Since(start)
	u.stats.Update(took, size)
	u.logger.Debugf("Part %d uploaded in %v, %d bytes", task.PartNumber, took.Round(time.Millisecond), size)

	results <- chunkResult{part: task.PartNumber, headers: headers}
	return nil
}

// checkPartition rejects plans whose last part would start beyond the end of the file.
func checkPartition(plan Plan) error {
	info, err := os.Stat(plan.FilePath)
	if err != nil {
		return fmt.Errorf("%w: stat file: %w", ErrIO, err)
	}
	if len(plan.PartURLs) == 0 {
		return nil
	}

	lastOffset := int64(len(plan.PartURLs)-1) * plan.ChunkSize
	if lastOffset > info.Size() {
		return fmt.Errorf("%w: %d parts of %d bytes do not fit a %d byte file", ErrInvalidPlan, len(plan.PartURLs), plan.ChunkSize, info.Size())
	}
	return nil
}
