package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/credentials"
	"github.com/earthanddusk/hfbackup/internal/progress"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage hfbackup configuration",
		Long: `Configuration management commands for hfbackup.

Commands:
  init  - Create a configuration file
  show  - Display current configuration
  get   - Print one setting
  set   - Change one setting
  path  - Show configuration file path

Keys are written Section.key, for example UploadQueue.max_concurrent_upload_jobs.`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigGetCmd())
	configCmd.AddCommand(newConfigSetCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		token string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with defaults",
		Long: `Write a configuration file with default settings.

The token is taken from --token, or asked for when stdin is a terminal.
Use --force to overwrite an existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := config.NewStore(config.NewConfig(), cfgFile)
			path := store.Path()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			if token == "" && progress.IsTerminal(os.Stdin) {
				token = promptLine(cmd.InOrStdin(), out, "Hugging Face API token (Enter to skip): ")
			}
			if token != "" {
				if err := store.Set("HuggingFace.api_token", token); err != nil {
					return err
				}
			}

			if err := store.Save(); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	cmd.Flags().StringVar(&token, "token", "", "Hugging Face API token to store")

	return cmd
}

func promptLine(in io.Reader, out io.Writer, prompt string) string {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line)
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display every setting. Secrets are masked.

The hub token is looked up in this order: --token, HF_API_TOKEN, HF_TOKEN,
then HuggingFace.api_token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			cfg := store.Snapshot()
			out := cmd.OutOrStdout()

			section := ""
			for _, name := range config.Keys() {
				sec, key, _ := strings.Cut(name, ".")
				if sec != section {
					if section != "" {
						fmt.Fprintln(out)
					}
					fmt.Fprintf(out, "[%s]\n", sec)
					section = sec
				}
				value, _ := cfg.Get(name)
				if config.IsSecret(name) {
					value = credentials.Mask(value)
				}
				fmt.Fprintf(out, "  %s = %s\n", key, value)
			}
			fmt.Fprintln(out)

			if _, ok := credentials.Default(tokenFlag, store).Token(cmd.Context()); ok {
				fmt.Fprintln(out, "Hub token: set")
			} else {
				fmt.Fprintln(out, "Hub token: <not set> (downloads are anonymous, uploads will fail)")
			}
			for _, q := range []string{config.QueueUpload, config.QueueDownload} {
				for _, w := range cfg.QueueSettings(q).Warnings {
					fmt.Fprintf(out, "Warning: %s\n", w)
				}
			}

			fmt.Fprintf(out, "Configuration file: %s\n", store.Path())
			if _, err := os.Stat(store.Path()); os.IsNotExist(err) {
				fmt.Fprintln(out, "  (file does not exist - using defaults)")
			}
			return nil
		},
	}

	return cmd
}

// newConfigGetCmd creates the 'config get' command.
func newConfigGetCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <Section.key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			cfg := store.Snapshot()
			value, err := cfg.Get(args[0])
			if err != nil {
				return keyError(err)
			}
			if config.IsSecret(args[0]) && !reveal {
				value = credentials.Mask(value)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secrets unmasked")

	return cmd
}

// newConfigSetCmd creates the 'config set' command.
func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <Section.key> <value>",
		Short: "Change one setting and save",
		Long: `Change one setting and save the configuration file.

Queue settings are read before each task starts, so a running invocation keeps
its current limits; the next one uses the new values.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], args[1]); err != nil {
				return keyError(err)
			}
			if err := store.Save(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, q := range []string{config.QueueUpload, config.QueueDownload} {
				for _, w := range store.QueueSettings(q).Warnings {
					if strings.EqualFold(w.Key, args[0]) {
						fmt.Fprintf(out, "Warning: %s\n", w)
					}
				}
			}
			fmt.Fprintf(out, "✓ %s updated in %s\n", args[0], store.Path())
			return nil
		},
	}

	return cmd
}

func keyError(err error) error {
	if errors.Is(err, config.ErrUnknownKey) {
		return fmt.Errorf("%w (known keys: %s)", err, strings.Join(config.Keys(), ", "))
	}
	return err
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := config.NewStore(nil, cfgFile)
			fmt.Fprintln(cmd.OutOrStdout(), store.Path())
			return nil
		},
	}

	return cmd
}
