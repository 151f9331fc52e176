package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/remote"
	"github.com/earthanddusk/hfbackup/internal/transfer"
)

// uploadFile is one local file and its path relative to the upload root.
type uploadFile struct {
	local string
	rel   string // slash separated
}

// newUploadCmd creates the 'upload' command.
func newUploadCmd() *cobra.Command {
	var (
		dest       string
		repoType   string
		folder     string
		revision   string
		message    string
		exts       string
		createPR   bool
		createRepo bool
		private    bool
	)

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files or directories",
		Long: `Upload files to a repository, bucket or container.

Directories are walked recursively and keep their structure below the
destination folder. Glob patterns are expanded even when quoted.

Examples:
  hfbackup upload model.safetensors --repo acme/widgets
  hfbackup upload ./checkpoints --repo acme/widgets --folder run-7 --ext safetensors,bin
  hfbackup upload "*.tar" --repo s3://backups/daily
  hfbackup upload notes.md --repo https://huggingface.co/datasets/acme/corpus --create-pr`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			repo, prefix, rev, err := resolveDestination(dest, repoType, a.store.Snapshot())
			if err != nil {
				return err
			}
			if revision != "" {
				rev = revision
			}

			paths, err := expandGlobPatterns(args)
			if err != nil {
				return err
			}
			files, err := collectUploads(paths, parseExtensions(exts))
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no files processed")
				return nil
			}

			if createRepo {
				if err := ensureRepo(cmd.Context(), a, repo, private); err != nil {
					return err
				}
			}

			params := make([]transfer.Params, 0, len(files))
			for _, f := range files {
				params = append(params, transfer.Upload(transfer.UploadParams{
					LocalPath:     f.local,
					Repo:          repo,
					RepoFolder:    path.Join(prefix, filepath.ToSlash(folder)),
					PathInRepo:    f.rel,
					Revision:      rev,
					CommitMessage: message,
					CreatePR:      createPR,
				}))
			}
			a.logger.Info().Str("repo", repo.String()).Int("files", len(params)).Msg("queueing uploads")

			return runBatch(cmd.Context(), a, batch{
				queue:  config.QueueUpload,
				kind:   transfer.KindUpload,
				verb:   "Uploading",
				params: params,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&dest, "repo", "r", "", "Destination: owner/repo, hub URL, s3://bucket/prefix or az://container/prefix (default HuggingFace.org/repo)")
	cmd.Flags().StringVar(&repoType, "repo-type", "", "Hub repository type: model, dataset or space")
	cmd.Flags().StringVarP(&folder, "folder", "f", "", "Folder inside the repository")
	cmd.Flags().StringVar(&revision, "revision", "", "Branch to commit to (hub only)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message (default \""+constants.DefaultCommitMessage+"\")")
	cmd.Flags().StringVar(&exts, "ext", "", "Only upload files with these extensions, comma separated (e.g. safetensors,bin)")
	cmd.Flags().BoolVar(&createPR, "create-pr", false, "Open a pull request instead of committing to the branch (hub only)")
	cmd.Flags().BoolVar(&createRepo, "create-repo", false, "Create the repository first if it does not exist (hub only)")
	cmd.Flags().BoolVar(&private, "private", false, "Make a repository created by --create-repo private")

	return cmd
}

// resolveDestination parses the --repo value, falling back to the configured
// org and repo. It returns the repository, the folder implied by the value
// and the revision.
func resolveDestination(dest, repoType string, cfg config.Config) (remote.Repo, string, string, error) {
	if dest == "" {
		if cfg.HuggingFace.Org == "" || cfg.HuggingFace.Repo == "" {
			return remote.Repo{}, "", "", fmt.Errorf("no destination: pass --repo or set HuggingFace.org and HuggingFace.repo")
		}
		dest = cfg.HuggingFace.Org + "/" + cfg.HuggingFace.Repo
	}

	src, err := transfer.ParseSource(dest)
	if err != nil {
		return remote.Repo{}, "", "", err
	}
	if repoType != "" {
		if src.Repo.Backend != remote.BackendHub {
			return remote.Repo{}, "", "", fmt.Errorf("--repo-type only applies to hub repositories")
		}
		t, err := remote.ParseRepoType(repoType)
		if err != nil {
			return remote.Repo{}, "", "", err
		}
		src.Repo.Type = t
	}
	return src.Repo, src.SubPath, src.Revision, nil
}

func ensureRepo(ctx context.Context, a *app, repo remote.Repo, private bool) error {
	if tok, ok := a.creds.Token(ctx); ok {
		ctx = remote.WithToken(ctx, tok)
	}
	ctx, cancel := context.WithTimeout(ctx, constants.APIContextTimeout)
	defer cancel()
	if err := a.router.EnsureRepo(ctx, repo, private); err != nil {
		return fmt.Errorf("failed to create %s: %w", repo, err)
	}
	a.logger.Info().Str("repo", repo.String()).Msg("repository ready")
	return nil
}

// expandGlobPatterns expands glob patterns like *.zip, even when quoted.
// Returns a deduplicated list of absolute paths.
func expandGlobPatterns(patterns []string) ([]string, error) {
	var expanded []string
	seen := make(map[string]bool)

	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", p, err)
		}
		if !seen[abs] {
			expanded = append(expanded, abs)
			seen[abs] = true
		}
		return nil
	}

	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[]") {
			if err := add(pattern); err != nil {
				return nil, err
			}
			continue
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match pattern: %s", pattern)
		}
		for _, match := range matches {
			if err := add(match); err != nil {
				return nil, err
			}
		}
	}

	return expanded, nil
}

// parseExtensions turns "safetensors, .BIN" into {".safetensors", ".bin"}.
// Nil means no filter.
func parseExtensions(raw string) map[string]bool {
	var exts map[string]bool
	for _, e := range strings.Split(raw, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if exts == nil {
			exts = make(map[string]bool)
		}
		exts[e] = true
	}
	return exts
}

// collectUploads expands directories into their regular files. Files given
// directly are named by their base name; files found under a directory keep
// their path relative to it.
func collectUploads(paths []string, exts map[string]bool) ([]uploadFile, error) {
	keep := func(p string) bool {
		return exts == nil || exts[strings.ToLower(filepath.Ext(p))]
	}

	var files []uploadFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("file not found: %s", p)
			}
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if !info.IsDir() {
			if keep(p) {
				files = append(files, uploadFile{local: p, rel: filepath.Base(p)})
			}
			continue
		}

		var found []uploadFile
		err = filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !keep(fp) {
				return nil
			}
			rel, err := filepath.Rel(p, fp)
			if err != nil {
				return err
			}
			found = append(found, uploadFile{local: fp, rel: filepath.ToSlash(rel)})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
		sort.Slice(found, func(i, j int) bool { return found[i].rel < found[j].rel })
		files = append(files, found...)
	}
	return files, nil
}
