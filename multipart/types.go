// Package multipart uploads a local file to a list of pre-signed part URLs in parallel.
// Each part is a fixed-size byte range of the file, PUT independently, retried under a
// bounded failure policy. The upload succeeds only if every part succeeds.
package multipart

import (
	"fmt"
)

// Headers holds the response headers of a successful part upload, keyed by lower-cased header name.
type Headers map[string]string

// Limits bounds the concurrency and retry activity of a single upload.
type Limits struct {
	// MaxConcurrentChunks is the maximum number of parts in flight, retries and backoff waits included.
	MaxConcurrentChunks int

	// MaxConcurrentFailures is the maximum number of parts that may be backing off at the same time.
	// Zero disables retries.
	MaxConcurrentFailures int

	// MaxRetriesPerChunk is the maximum number of retries of a single part.
	MaxRetriesPerChunk int
}

// DefaultLimits returns the limits used when the caller has no preference.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentChunks:   128,
		MaxConcurrentFailures: 63,
		MaxRetriesPerChunk:    1,
	}
}

// Plan describes one upload. The index of a URL in PartURLs is its part number.
type Plan struct {
	FilePath  string
	PartURLs  []string
	ChunkSize int64
	Limits
}

// ChunkTask is the unit of work for one part.
type ChunkTask struct {
	PartNumber int
	URL        string
	FilePath   string
	Offset     int64
	ChunkSize  int64
}

// Validate checks the plan's static fields. It does not look at the file.
func (p Plan) Validate() error {
	if p.FilePath == "" {
		return fmt.Errorf("%w: file path must not be empty", ErrInvalidPlan)
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidPlan, p.ChunkSize)
	}
	if p.MaxConcurrentChunks <= 0 {
		return fmt.Errorf("%w: max concurrent chunks must be positive, got %d", ErrInvalidPlan, p.MaxConcurrentChunks)
	}
	if p.MaxConcurrentFailures < 0 {
		return fmt.Errorf("%w: max concurrent failures must not be negative, got %d", ErrInvalidPlan, p.MaxConcurrentFailures)
	}
	if p.MaxRetriesPerChunk < 0 {
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidPlan, p.MaxRetriesPerChunk)
	}
	return nil
}

// Tasks returns one task per part URL, in part order.
func (p Plan) Tasks() []ChunkTask {
	tasks := make([]ChunkTask, len(p.PartURLs))
	for i, url := range p.PartURLs {
		tasks[i] = ChunkTask{
			PartNumber: i,
			URL:        url,
			FilePath:   p.FilePath,
			Offset:     int64(i) * p.ChunkSize,
			ChunkSize:  p.ChunkSize,
		}
	}
	return tasks
}

// PartCount returns the number of parts needed to cover fileSize bytes with chunkSize-byte parts.
func PartCount(fileSize, chunkSize int64) int {
	if chunkSize <= 0 || fileSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// ETags returns the etag header of every part, in part order.
// It fails if any part response is missing one.
func ETags(headers []Headers) ([]string, error) {
	etags := make([]string, len(headers))
	for i, h := range headers {
		etag := h["etag"]
		if etag == "" {
			return nil, fmt.Errorf("%w: part %d", ErrMissingETag, i)
		}
		etags[i] = etag
	}
	return etags, nil
}

type chunkResult struct {
	part    int
	headers Headers
}
