package s3upload

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-multipart-uploader/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

const (
	// DefaultChunkSize is the part size used when Params.ChunkSize is not set.
	DefaultChunkSize = 10 * units.MiB
	// MinChunkSize is the smallest size S3 accepts for every part but the last.
	MinChunkSize = 5 * units.MiB
	// DefaultURLExpiry is the validity of the pre-signed part URLs.
	DefaultURLExpiry = 24 * time.Hour
	// DefaultMaxConcurrentFiles bounds the files uploaded at once by UploadFiles.
	DefaultMaxConcurrentFiles = 4

	maxPartCount      = 10000
	fallbackRegion    = "us-east-1"
	numControlRetries = 3
)

// Params ...
type Params struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, for S3 compatible storages. Path style addressing is used with it.
	Endpoint string

	ChunkSize int64
	// MinChunkSize defaults to the S3 limit. S3 compatible storages with a lower limit may set it lower.
	MinChunkSize       int64
	URLExpiry          time.Duration
	MaxConcurrentFiles int
	Limits             multipart.Limits
}

func (p Params) withDefaults() Params {
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if p.MinChunkSize <= 0 {
		p.MinChunkSize = MinChunkSize
	}
	if p.URLExpiry <= 0 {
		p.URLExpiry = DefaultURLExpiry
	}
	if p.MaxConcurrentFiles <= 0 {
		p.MaxConcurrentFiles = DefaultMaxConcurrentFiles
	}
	if p.Limits == (multipart.Limits{}) {
		p.Limits = multipart.DefaultLimits()
	}
	return p
}

func loadAWSConfig(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %w", err)
	}

	return &cfg, nil
}

func newS3Client(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// resolveRegion returns the region of the bucket, looking it up when not configured.
func resolveRegion(ctx context.Context, params Params, logger log.Logger) (string, error) {
	if params.Region != "" {
		return params.Region, nil
	}
	if params.Endpoint != "" {
		return fallbackRegion, nil
	}

	cfg, err := loadAWSConfig(ctx, fallbackRegion, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return "", err
	}

	region, err := manager.GetBucketRegion(ctx, newS3Client(*cfg, ""), params.Bucket)
	if err != nil {
		return "", fmt.Errorf("get region of bucket %s: %w", params.Bucket, err)
	}
	logger.Debugf("Bucket %s is in region %s", params.Bucket, region)
	return region, nil
}

// chunkSizeFor raises chunkSize so that fileSize fits in the maximum number of parts.
func chunkSizeFor(fileSize, chunkSize int64) int64 {
	if multipart.PartCount(fileSize, chunkSize) <= maxPartCount {
		return chunkSize
	}
	return (fileSize + maxPartCount - 1) / maxPartCount
}
