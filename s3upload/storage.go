// Package s3upload uploads files to S3 with the multipart engine: it opens a multipart upload,
// pre-signs one URL per part, uploads the parts in parallel and completes the upload with the part ETags.
package s3upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-multipart-uploader/multipart"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// File is one local file to upload.
type File struct {
	Path string
	// Key is the object key. A random key keeping the file extension is used when empty.
	Key string
}

// Result describes a completed upload.
type Result struct {
	Key       string
	UploadID  string
	Size      int64
	PartCount int
	Headers   []multipart.Headers
}

// Storage uploads files to a single bucket.
type Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	uploader  *multipart.Uploader
	params    Params
	logger    log.Logger
	retryWait time.Duration
	fileCount atomic.Int64
}

// New creates a Storage for params.Bucket.
func New(ctx context.Context, params Params, logger log.Logger) (*Storage, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	params = params.withDefaults()
	if params.ChunkSize < params.MinChunkSize {
		return nil, fmt.Errorf("chunk size (%s) is below the minimum part size (%s)",
			units.BytesSize(float64(params.ChunkSize)), units.BytesSize(float64(params.MinChunkSize)))
	}

	region, err := resolveRegion(ctx, params, logger)
	if err != nil {
		return nil, err
	}

	cfg, err := loadAWSConfig(ctx, region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := newS3Client(*cfg, params.Endpoint)

	return &Storage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		uploader:  multipart.New(multipart.DefaultConfig(), logger),
		params:    params,
		logger:    logger,
		retryWait: 5 * time.Second,
	}, nil
}

// FileCount returns the number of files uploaded successfully.
func (s *Storage) FileCount() int64 {
	return s.fileCount.Load()
}

// Stats returns the part upload statistics of every file uploaded by s.
func (s *Storage) Stats() *multipart.Stats {
	return s.uploader.Stats()
}

// UploadFiles uploads the files concurrently and returns their results in input order.
// The first failure cancels the remaining uploads.
func (s *Storage) UploadFiles(ctx context.Context, files []File) ([]Result, error) {
	results := make([]Result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.MaxConcurrentFiles)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			result, err := s.UploadFile(gctx, file)
			if err != nil {
				return fmt.Errorf("upload %s: %w", file.Path, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// UploadFile uploads a single file as a multipart upload.
// The multipart upload is aborted if any step after its creation fails.
func (s *Storage) UploadFile(ctx context.Context, file File) (Result, error) {
	info, err := os.Stat(file.Path)
	if err != nil {
		return Result{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%s is a directory", file.Path)
	}

	key := file.Key
	if key == "" {
		key = uuid.NewString() + filepath.Ext(file.Path)
	}

	chunkSize := chunkSizeFor(info.Size(), s.params.ChunkSize)
	partCount := multipart.PartCount(info.Size(), chunkSize)
	if partCount == 0 {
		// an empty file is uploaded as a single empty part
		partCount = 1
	}

	uploadID, err := s.createMultipartUpload(ctx, key, detectContentType(file.Path, s.logger))
	if err != nil {
		return Result{}, fmt.Errorf("create multipart upload: %w", err)
	}
	s.logger.Debugf("Multipart upload %s created for %s", uploadID, key)

	headers, err := s.uploadParts(ctx, file.Path, key, uploadID, chunkSize, partCount)
	if err == nil {
		err = s.completeMultipartUpload(ctx, key, uploadID, headers)
	}
	if err != nil {
		if abortErr := s.abortMultipartUpload(context.WithoutCancel(ctx), key, uploadID); abortErr != nil {
			s.logger.Warnf("Failed to abort multipart upload %s: %s", uploadID, abortErr)
		}
		return Result{}, err
	}

	s.fileCount.Add(1)
	s.logger.Infof("Uploaded %s to s3://%s/%s (%d parts)", file.Path, s.params.Bucket, key, partCount)

	return Result{
		Key:       key,
		UploadID:  uploadID,
		Size:      info.Size(),
		PartCount: partCount,
		Headers:   headers,
	}, nil
}

func (s *Storage) uploadParts(ctx context.Context, path, key, uploadID string, chunkSize int64, partCount int) ([]multipart.Headers, error) {
	urls := make([]string, partCount)
	for i := range urls {
		request, err := s.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.params.Bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(i + 1)),
		}, func(opts *s3.PresignOptions) {
			opts.Expires = s.params.URLExpiry
		})
		if err != nil {
			return nil, fmt.Errorf("presign part %d: %w", i+1, err)
		}
		urls[i] = request.URL
	}

	headers, err := s.uploader.Upload(ctx, multipart.Plan{
		FilePath:  path,
		PartURLs:  urls,
		ChunkSize: chunkSize,
		Limits:    s.params.Limits,
	})
	if err != nil {
		return nil, fmt.Errorf("upload parts: %w", err)
	}
	return headers, nil
}

func (s *Storage) createMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	var uploadID string
	err := retry.Times(numControlRetries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		output, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(s.params.Bucket),
			Key:         aws.String(key),
			ACL:         types.ObjectCannedACLBucketOwnerFullControl,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return err, isPermanent(ctx, err)
		}
		if output.UploadId == nil || *output.UploadId == "" {
			return errors.New("no upload id in response"), true
		}
		uploadID = *output.UploadId
		return nil, true
	})
	return uploadID, err
}

func (s *Storage) completeMultipartUpload(ctx context.Context, key, uploadID string, headers []multipart.Headers) error {
	parts, err := completedParts(headers)
	if err != nil {
		return err
	}

	return retry.Times(numControlRetries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.params.Bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		if err != nil {
			return fmt.Errorf("complete multipart upload: %w", err), isPermanent(ctx, err)
		}
		return nil, true
	})
}

func (s *Storage) abortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return retry.Times(numControlRetries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.params.Bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		if err != nil {
			var noSuchUpload *types.NoSuchUpload
			if errors.As(err, &noSuchUpload) {
				return nil, true
			}
			return err, isPermanent(ctx, err)
		}
		return nil, true
	})
}

// completedParts pairs the ETag of every part with its 1 based S3 part number.
func completedParts(headers []multipart.Headers) ([]types.CompletedPart, error) {
	etags, err := multipart.ETags(headers)
	if err != nil {
		return nil, err
	}

	parts := make([]types.CompletedPart, len(etags))
	for i, etag := range etags {
		parts[i] = types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int32(int32(i + 1)),
		}
	}
	return parts, nil
}

// isPermanent reports whether retrying err is pointless.
func isPermanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		return apiError.ErrorFault() == smithy.FaultClient
	}
	return false
}

func detectContentType(path string, logger log.Logger) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		logger.Warnf("Failed to detect content type of %s: %s", path, err)
		return "application/octet-stream"
	}
	return mtype.String()
}
