package commands

import (
	"fmt"

	"github.com/bitrise-io/go-multipart-uploader/network"
	"github.com/urfave/cli/v2"
)

// APICommand uploads a file through the upload API.
func APICommand(uploader network.Uploader) *cli.Command {
	return &cli.Command{
		Name:      "api",
		Usage:     "Upload a file through the upload API",
		ArgsUsage: "<file>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "base-url",
				Usage:    "Base URL of the upload API",
				Required: true,
				EnvVars:  []string{"MULTIPART_UPLOAD_API_URL"},
			},
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Access token of the upload API",
				Required: true,
				EnvVars:  []string{"MULTIPART_UPLOAD_API_TOKEN"},
			},
			&cli.StringFlag{
				Name:     "key",
				Usage:    "Key the file is stored under",
				Required: true,
			},
			outputFlag(),
		}, limitFlags()...),
		Action: func(c *cli.Context) error {
			return apiAction(c, uploader)
		},
	}
}

type apiResult struct {
	UploadID string   `json:"upload_id"`
	Etags    []string `json:"etags"`
}

func apiAction(c *cli.Context, uploader network.Uploader) error {
	logger := newLogger(c)

	if c.NArg() != 1 {
		return cli.Exit("exactly one file is required", 2)
	}

	result, err := uploader.Upload(c.Context, network.UploadParams{
		APIBaseURL: c.String("base-url"),
		Token:      c.String("token"),
		FilePath:   c.Args().First(),
		Key:        c.String("key"),
		Limits:     limitsFromFlags(c),
	}, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("upload failed: %s", err), 1)
	}
	logger.Donef("Upload %s acknowledged", result.UploadID)

	return writeResult(c, apiResult{UploadID: result.UploadID, Etags: result.Etags})
}
