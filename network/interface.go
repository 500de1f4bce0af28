package network

import (
	"context"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader ...
type Uploader interface {
	Upload(context.Context, UploadParams, log.Logger) (UploadResult, error)
}

// APIUploader uploads files through the upload API.
type APIUploader struct{}

// Upload ...
func (APIUploader) Upload(ctx context.Context, params UploadParams, logger log.Logger) (UploadResult, error) {
	return Upload(ctx, params, logger)
}
