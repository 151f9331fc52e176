// hfbackup uploads and downloads backups to a model hub, S3 or Azure Blob.
package main

import (
	"os"

	"github.com/earthanddusk/hfbackup/internal/cli"
	"github.com/earthanddusk/hfbackup/internal/version"
)

// Version information, overridden with -ldflags "-X main.Version=...".
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
