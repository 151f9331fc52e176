// Package cli provides the command-line interface for hfbackup.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/logging"
	"github.com/earthanddusk/hfbackup/internal/version"
)

var (
	// Global flags
	cfgFile        string
	tokenFlag      string
	verbose        bool
	logFile        string
	maxConcurrency int
	progressFlag   string

	// Global logger
	logger *logging.Logger
)

// ExitError carries a process exit status out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute onto a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Back up files to Hugging Face, S3 or Azure Blob and restore them",
		Long: constants.AppName + ` ` + version.Version + ` - Built: ` + version.BuildTime + `
Queue uploads and downloads against a Hugging Face hub, an S3 bucket or an
Azure Blob container, a bounded number at a time.

Destinations and sources:
  owner/repo                               Hugging Face model repository
  https://huggingface.co/datasets/o/r      dataset (also spaces/)
  https://huggingface.co/o/r/tree/dev/sub  revision and sub-path
  s3://bucket/prefix                       S3
  az://container/prefix                    Azure Blob`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewLogger(logging.Options{File: logFile})
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Hugging Face API token (overrides HF_API_TOKEN and the config file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().IntVar(&maxConcurrency, "max-concurrency", 0, "Concurrent transfers for this run (0 = use config)")
	rootCmd.PersistentFlags().StringVar(&progressFlag, "progress", "auto", "Progress display: auto, bars, simple, lines or none")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.ExecuteContext(context.Background())

	// A bare ExitError means the batch summary was already printed.
	var ee *ExitError
	if err != nil && !(errors.As(err, &ee) && ee.Err == nil) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}
