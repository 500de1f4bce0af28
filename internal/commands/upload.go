package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-multipart-uploader/internal/planfile"
	"github.com/bitrise-io/go-multipart-uploader/multipart"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/urfave/cli/v2"
)

// UploadCommand uploads a file to pre-signed part URLs, described by a plan file or by flags.
func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a file to pre-signed part URLs",
		ArgsUsage: " ",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "plan",
				Aliases: []string{"p"},
				Usage:   "YAML plan file describing the upload",
				EnvVars: []string{"MULTIPART_UPLOAD_PLAN"},
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "File to upload, when no plan file is given",
			},
			&cli.StringSliceFlag{
				Name:  "url",
				Usage: "Pre-signed part URL, in part order, when no plan file is given",
			},
			chunkSizeFlag(),
			outputFlag(),
		}, limitFlags()...),
		Action: uploadAction,
	}
}

func uploadAction(c *cli.Context) error {
	logger := newLogger(c)

	plan, err := planFromContext(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	uploader := multipart.New(multipart.DefaultConfig(), logger)
	defer uploader.CloseIdleConnections()

	start := time.Now()
	headers, err := uploader.Upload(c.Context, plan)
	if err != nil {
		return cli.Exit(fmt.Sprintf("upload failed: %s", err), 1)
	}
	logStats(logger, uploader.Stats(), time.Since(start))

	return writeResult(c, headers)
}

func planFromContext(c *cli.Context) (multipart.Plan, error) {
	if path := c.String("plan"); path != "" {
		file, err := planfile.Load(path, env.NewRepository())
		if err != nil {
			return multipart.Plan{}, err
		}
		plan := file.Plan()
		plan.Limits = overrideLimits(c, plan.Limits)
		return plan, nil
	}

	if c.String("file") == "" {
		return multipart.Plan{}, errors.New("either --plan or --file is required")
	}

	chunkSize, err := chunkSizeFromFlags(c)
	if err != nil {
		return multipart.Plan{}, err
	}

	return multipart.Plan{
		FilePath:  c.String("file"),
		PartURLs:  c.StringSlice("url"),
		ChunkSize: chunkSize,
		Limits:    limitsFromFlags(c),
	}, nil
}
