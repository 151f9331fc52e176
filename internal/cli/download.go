package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/pathutil"
	"github.com/earthanddusk/hfbackup/internal/transfer"
)

// newDownloadCmd creates the 'download' command.
func newDownloadCmd() *cobra.Command {
	var (
		outDir   string
		revision string
		subPath  string
	)

	cmd := &cobra.Command{
		Use:   "download <source>...",
		Short: "Download repositories, buckets or containers",
		Long: `Download every file of one or more sources into a local directory.

Each source is one task. Files keep their repository paths below the target
directory; partial files are written with an .incomplete suffix and renamed
once complete.

Examples:
  hfbackup download acme/widgets --to ./restore
  hfbackup download https://huggingface.co/acme/widgets/tree/v2/checkpoints
  hfbackup download s3://backups/daily az://models/run-7 --to ./restore`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			target, err := pathutil.ResolveAbsolutePath(outDir)
			if err != nil {
				return fmt.Errorf("failed to resolve target directory: %w", err)
			}
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create target directory: %w", err)
			}

			params := make([]transfer.Params, 0, len(args))
			for _, src := range args {
				params = append(params, transfer.Download(transfer.DownloadParams{
					Source:    src,
					TargetDir: target,
					Revision:  revision,
					SubPath:   subPath,
				}))
			}

			return runBatch(cmd.Context(), a, batch{
				queue:  config.QueueDownload,
				kind:   transfer.KindDownload,
				verb:   "Downloading",
				params: params,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outDir, "to", "o", "", "Target directory (default current directory)")
	cmd.Flags().StringVar(&revision, "revision", "", "Revision to download (overrides the source URL)")
	cmd.Flags().StringVarP(&subPath, "path", "p", "", "Only download files at or below this path")

	return cmd
}
