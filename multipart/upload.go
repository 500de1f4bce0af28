package multipart

import (
	"context"
)

// MultipartUpload uploads filePath to partsURLs, one chunkSize-byte part per URL.
// maxFiles bounds the parts in flight, parallelFailures bounds the parts retrying at once (0 disables retries)
// and maxRetries caps the retries of a single part.
// The result holds the response headers of every part in part order.
func MultipartUpload(
	ctx context.Context,
	filePath string,
	partsURLs []string,
	chunkSize int64,
	maxFiles int,
	parallelFailures int,
	maxRetries int,
) ([]Headers, error) {
	uploader := New(DefaultConfig(), nil)
	defer uploader.CloseIdleConnections()

	return uploader.Upload(ctx, Plan{
		FilePath:  filePath,
		PartURLs:  partsURLs,
		ChunkSize: chunkSize,
		Limits: Limits{
			MaxConcurrentChunks:   maxFiles,
			MaxConcurrentFailures: parallelFailures,
			MaxRetriesPerChunk:    maxRetries,
		},
	})
}
