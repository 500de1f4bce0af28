package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-multipart-uploader/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/gabriel-vasile/mimetype"
)

// UploadParams ...
type UploadParams struct {
	APIBaseURL string
	Token      string
	FilePath   string
	Key        string
	Limits     multipart.Limits
}

// UploadResult ...
type UploadResult struct {
	UploadID string
	Headers  []multipart.Headers
	Etags    []string
}

// Upload a file through the upload API: the API hands out pre-signed part URLs,
// the parts are uploaded in parallel and the outcome is acknowledged with the part ETags.
func Upload(ctx context.Context, params UploadParams, logger log.Logger) (UploadResult, error) {
	if params.APIBaseURL == "" {
		return UploadResult{}, fmt.Errorf("API base URL is empty")
	}
	if params.Token == "" {
		return UploadResult{}, fmt.Errorf("API token is empty")
	}

	validatedKey, err := validateKey(params.Key, logger)
	if err != nil {
		return UploadResult{}, err
	}

	info, err := os.Stat(params.FilePath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("stat file: %w", err)
	}

	client := newAPIClient(retryhttp.NewClient(logger), params.APIBaseURL, params.Token, logger)

	logger.Debugf("Get upload URLs")
	resp, err := client.prepareUpload(ctx, prepareUploadRequest{
		Key:             validatedKey,
		FileName:        filepath.Base(params.FilePath),
		FileContentType: detectContentType(params.FilePath, logger),
		FileSizeInBytes: info.Size(),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to get upload URLs: %w", err)
	}
	logger.Debugf("Upload ID: %s", resp.ID)

	plan, err := planFromResponse(resp, params.FilePath, info.Size(), params.Limits)
	if err != nil {
		acknowledgeFailure(ctx, client, resp.ID, logger)
		return UploadResult{}, err
	}

	logger.Debugf("")
	logger.Debugf("Upload %d parts, %d bytes each", len(plan.PartURLs), plan.ChunkSize)
	uploader := multipart.New(multipart.DefaultConfig(), logger)
	defer uploader.CloseIdleConnections()

	headers, err := uploader.Upload(ctx, plan)
	if err != nil {
		acknowledgeFailure(ctx, client, resp.ID, logger)
		return UploadResult{}, fmt.Errorf("failed to upload file: %w", err)
	}

	etags, err := multipart.ETags(headers)
	if err != nil {
		acknowledgeFailure(ctx, client, resp.ID, logger)
		return UploadResult{}, fmt.Errorf("failed to upload file: %w", err)
	}

	logger.Debugf("")
	logger.Debugf("Acknowledge upload")
	response, err := client.acknowledgeUpload(ctx, true, resp.ID, etags)
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to finalize upload: %w", err)
	}

	logger.Debugf("Upload acknowledged")
	logResponseMessage(response, logger)

	return UploadResult{UploadID: resp.ID, Headers: headers, Etags: etags}, nil
}

// planFromResponse turns the part URLs handed out by the API into an upload plan.
func planFromResponse(resp prepareUploadResponse, filePath string, fileSize int64, limits multipart.Limits) (multipart.Plan, error) {
	if len(resp.UploadURLs) == 0 {
		return multipart.Plan{}, errors.New("no upload URLs received")
	}
	if resp.ChunkCount != 0 && resp.ChunkCount != len(resp.UploadURLs) {
		return multipart.Plan{}, fmt.Errorf("chunk count (%d) does not match the number of upload URLs (%d)", resp.ChunkCount, len(resp.UploadURLs))
	}

	chunkSize := resp.ChunkSizeBytes
	if chunkSize <= 0 {
		if len(resp.UploadURLs) != 1 {
			return multipart.Plan{}, fmt.Errorf("invalid chunk size: %d", chunkSize)
		}
		chunkSize = fileSize
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	urls := make([]string, len(resp.UploadURLs))
	for i, u := range resp.UploadURLs {
		if u.Method != "" && !strings.EqualFold(u.Method, http.MethodPut) {
			return multipart.Plan{}, fmt.Errorf("unsupported upload method for part %d: %s", i, u.Method)
		}
		urls[i] = u.URL
	}

	if limits == (multipart.Limits{}) {
		limits = multipart.DefaultLimits()
	}

	return multipart.Plan{
		FilePath:  filePath,
		PartURLs:  urls,
		ChunkSize: chunkSize,
		Limits:    limits,
	}, nil
}

func acknowledgeFailure(ctx context.Context, client apiClient, uploadID string, logger log.Logger) {
	if _, err := client.acknowledgeUpload(context.WithoutCancel(ctx), false, uploadID, nil); err != nil {
		logger.Warnf("Failed to acknowledge unsuccessful upload: %s", err)
	}
}

func detectContentType(path string, logger log.Logger) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		logger.Warnf("Failed to detect content type of %s: %s", path, err)
		return "application/octet-stream"
	}
	return mtype.String()
}

func validateKey(key string, logger log.Logger) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, ",") {
		return "", fmt.Errorf("commas are not allowed in key")
	}

	if len(key) > maxKeyLength {
		logger.Warnf("Key is too long, truncating it to the first %d characters", maxKeyLength)
		return key[:maxKeyLength], nil
	}
	return key, nil
}

func logResponseMessage(response acknowledgeResponse, logger log.Logger) {
	if response.Message == "" || response.Severity == "" {
		return
	}

	var loggerFn func(format string, v ...interface{})
	switch response.Severity {
	case "debug":
		loggerFn = logger.Debugf
	case "info":
		loggerFn = logger.Infof
	case "warning":
		loggerFn = logger.Warnf
	case "error":
		loggerFn = logger.Errorf
	default:
		loggerFn = logger.Printf
	}

	loggerFn("\n%s\n", response.Message)
}
