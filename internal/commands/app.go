package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/bitrise-io/go-multipart-uploader/network"
	"github.com/urfave/cli/v2"
)

// NewApp returns the multipart-upload application.
func NewApp(version string) *cli.App {
	return &cli.App{
		Name:           "multipart-upload",
		Usage:          "Upload large files in parallel parts to pre-signed URLs",
		Version:        version,
		Flags:          []cli.Flag{debugFlag()},
		ExitErrHandler: exitErrHandler,

		// pre-signed URLs may contain commas
		DisableSliceFlagSeparator: true,

		Commands: []*cli.Command{
			UploadCommand(),
			S3Command(),
			APICommand(network.APIUploader{}),
		},
	}
}

// exitErrHandler prints the error and exits with the code carried by cli.Exit errors.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
