// Package commands provides the commands of the multipart-upload binary.
package commands

import (
	"fmt"

	"github.com/bitrise-io/go-multipart-uploader/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"
)

const (
	debugFlagName            = "debug"
	outputFlagName           = "output"
	chunkSizeFlagName        = "chunk-size"
	maxFilesFlagName         = "max-files"
	parallelFailuresFlagName = "parallel-failures"
	maxRetriesFlagName       = "max-retries"
)

// Flags are created per command: urfave/cli keeps the parse state on the flag value.

func debugFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    debugFlagName,
		Usage:   "Enable debug logging",
		EnvVars: []string{"MULTIPART_UPLOAD_DEBUG"},
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    outputFlagName,
		Aliases: []string{"o"},
		Usage:   "Write the JSON result to this file instead of stdout",
	}
}

func chunkSizeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    chunkSizeFlagName,
		Usage:   "Size of a part, like 10MiB",
		Value:   "10MiB",
		EnvVars: []string{"MULTIPART_UPLOAD_CHUNK_SIZE"},
	}
}

func limitFlags() []cli.Flag {
	defaults := multipart.DefaultLimits()
	return []cli.Flag{
		&cli.IntFlag{
			Name:    maxFilesFlagName,
			Usage:   "Maximum number of parts uploaded at once",
			Value:   defaults.MaxConcurrentChunks,
			EnvVars: []string{"MULTIPART_UPLOAD_MAX_FILES"},
		},
		&cli.IntFlag{
			Name:    parallelFailuresFlagName,
			Usage:   "Maximum number of parts retrying at once, 0 disables retries",
			Value:   defaults.MaxConcurrentFailures,
			EnvVars: []string{"MULTIPART_UPLOAD_PARALLEL_FAILURES"},
		},
		&cli.IntFlag{
			Name:    maxRetriesFlagName,
			Usage:   "Maximum number of retries of a single part",
			Value:   defaults.MaxRetriesPerChunk,
			EnvVars: []string{"MULTIPART_UPLOAD_MAX_RETRIES"},
		},
	}
}

func limitsFromFlags(c *cli.Context) multipart.Limits {
	return multipart.Limits{
		MaxConcurrentChunks:   c.Int(maxFilesFlagName),
		MaxConcurrentFailures: c.Int(parallelFailuresFlagName),
		MaxRetriesPerChunk:    c.Int(maxRetriesFlagName),
	}
}

// overrideLimits replaces the limits set explicitly on the command line.
func overrideLimits(c *cli.Context, limits multipart.Limits) multipart.Limits {
	if c.IsSet(maxFilesFlagName) {
		limits.MaxConcurrentChunks = c.Int(maxFilesFlagName)
	}
	if c.IsSet(parallelFailuresFlagName) {
		limits.MaxConcurrentFailures = c.Int(parallelFailuresFlagName)
	}
	if c.IsSet(maxRetriesFlagName) {
		limits.MaxRetriesPerChunk = c.Int(maxRetriesFlagName)
	}
	return limits
}

func chunkSizeFromFlags(c *cli.Context) (int64, error) {
	size, err := units.RAMInBytes(c.String(chunkSizeFlagName))
	if err != nil {
		return 0, fmt.Errorf("invalid chunk size: %w", err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("chunk size must be positive")
	}
	return size, nil
}

func newLogger(c *cli.Context) log.Logger {
	logger := log.NewLogger()
	logger.EnableDebugLog(c.Bool(debugFlagName))
	return logger
}
