package commands

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-multipart-uploader/s3upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/urfave/cli/v2"
)

// S3Command uploads local files matching glob patterns to an S3 bucket.
func S3Command() *cli.Command {
	return &cli.Command{
		Name:      "s3",
		Usage:     "Upload files matching the given patterns to an S3 bucket",
		ArgsUsage: "<path or pattern>...",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "bucket",
				Usage:    "Target bucket",
				Required: true,
				EnvVars:  []string{"S3_BUCKET"},
			},
			&cli.StringFlag{
				Name:    "prefix",
				Usage:   "Key prefix of the uploaded objects",
				EnvVars: []string{"S3_PREFIX"},
			},
			&cli.StringFlag{
				Name:    "region",
				Usage:   "Bucket region, looked up when empty",
				EnvVars: []string{"AWS_REGION", "AWS_DEFAULT_REGION"},
			},
			&cli.StringFlag{
				Name:    "access-key-id",
				EnvVars: []string{"AWS_ACCESS_KEY_ID"},
			},
			&cli.StringFlag{
				Name:    "secret-access-key",
				EnvVars: []string{"AWS_SECRET_ACCESS_KEY"},
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "Custom endpoint of an S3 compatible storage",
				EnvVars: []string{"S3_ENDPOINT"},
			},
			&cli.IntFlag{
				Name:  "max-concurrent-files",
				Usage: "Maximum number of files uploaded at once",
				Value: s3upload.DefaultMaxConcurrentFiles,
			},
			chunkSizeFlag(),
			outputFlag(),
		}, limitFlags()...),
		Action: s3Action,
	}
}

type s3Result struct {
	Path      string `json:"path"`
	Key       string `json:"key"`
	UploadID  string `json:"upload_id"`
	Size      int64  `json:"size"`
	PartCount int    `json:"part_count"`
}

func s3Action(c *cli.Context) error {
	logger := newLogger(c)

	if c.NArg() == 0 {
		return cli.Exit("at least one path or pattern is required", 2)
	}

	chunkSize, err := chunkSizeFromFlags(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	paths, err := expandPaths(c.Args().Slice(), pathutil.NewPathModifier(), logger)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if len(paths) == 0 {
		return cli.Exit("no files matched the given patterns", 2)
	}

	storage, err := s3upload.New(c.Context, s3upload.Params{
		Region:             c.String("region"),
		Bucket:             c.String("bucket"),
		AccessKeyID:        c.String("access-key-id"),
		SecretAccessKey:    c.String("secret-access-key"),
		Endpoint:           c.String("endpoint"),
		ChunkSize:          chunkSize,
		MaxConcurrentFiles: c.Int("max-concurrent-files"),
		Limits:             limitsFromFlags(c),
	}, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	files := make([]s3upload.File, len(paths))
	for i, p := range paths {
		files[i] = s3upload.File{Path: p, Key: objectKey(c.String("prefix"), p)}
	}

	start := time.Now()
	results, err := storage.UploadFiles(c.Context, files)
	if err != nil {
		return cli.Exit(fmt.Sprintf("upload failed: %s", err), 1)
	}
	logStats(logger, storage.Stats(), time.Since(start))
	logger.Donef("Uploaded %d files to %s", storage.FileCount(), c.String("bucket"))

	output := make([]s3Result, len(results))
	for i, r := range results {
		output[i] = s3Result{
			Path:      files[i].Path,
			Key:       r.Key,
			UploadID:  r.UploadID,
			Size:      r.Size,
			PartCount: r.PartCount,
		}
	}
	return writeResult(c, output)
}

// expandPaths resolves the glob patterns to regular files. Plain paths are kept as they are.
func expandPaths(patterns []string, pathModifier pathutil.PathModifier, logger log.Logger) ([]string, error) {
	var paths []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			absPath, err := pathModifier.AbsPath(pattern)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", pattern, err)
			}
			info, err := os.Stat(absPath)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", pattern, err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%s is a directory", pattern)
			}
			add(absPath)
			continue
		}

		base, rest := doublestar.SplitPattern(pattern)
		absBase, err := pathModifier.AbsPath(base)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", base, err)
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), rest, doublestar.WithNoFollow())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
		}
		if len(matches) == 0 {
			logger.Warnf("No match for pattern: %s", pattern)
			continue
		}

		for _, match := range matches {
			p := filepath.Join(absBase, match)
			info, err := os.Stat(p)
			if err != nil || info.IsDir() {
				continue
			}
			add(p)
		}
	}

	return paths, nil
}

func objectKey(prefix, p string) string {
	if prefix == "" {
		return ""
	}
	return path.Join(prefix, filepath.Base(p))
}
