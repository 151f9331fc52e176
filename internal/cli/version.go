package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (built %s, %s %s/%s)\n",
				constants.AppName, version.Version, version.BuildTime,
				runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
