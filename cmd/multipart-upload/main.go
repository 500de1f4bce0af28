// Package main provides the multipart-upload CLI entrypoint.
//
// Usage:
//
//	multipart-upload [--debug] <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: upload failure
//   - 2: invalid arguments
package main

import (
	"os"

	"github.com/bitrise-io/go-multipart-uploader/internal/commands"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	if err := commands.NewApp(version).Run(os.Args); err != nil {
		os.Exit(1)
	}
}
