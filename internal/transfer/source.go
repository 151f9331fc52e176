package transfer

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/remote"
	"github.com/earthanddusk/hfbackup/internal/validation"
)

// Source is a parsed download source.
type Source struct {
	Repo     remote.Repo
	Revision string
	SubPath  string
}

// ParseSource understands:
//
//	owner/repo
//	https://huggingface.co/owner/repo[/tree/<rev>[/<path>]]
//	https://huggingface.co/datasets/owner/repo/...   (also spaces/)
//	s3://bucket[/prefix]
//	az://container[/prefix]
//	https://<account>.blob.core.windows.net/<container>[/prefix]
//
// Hub sources default to revision "main". Extra path segments after the repo
// name that do not start a tree/<rev> form are ignored.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, &ValidationError{Field: "source", Message: "is required"}
	}

	if !strings.Contains(raw, "://") {
		return parseHubPath(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Source{}, &ValidationError{Field: "source", Message: fmt.Sprintf("invalid URL: %v", err)}
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		return objectSource(remote.BackendS3, "", u.Host, u.Path)
	case "az", "azure":
		return objectSource(remote.BackendAzure, "", u.Host, u.Path)
	case "http", "https":
		if account, ok := strings.CutSuffix(strings.ToLower(u.Hostname()), ".blob.core.windows.net"); ok {
			container, rest, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
			return objectSource(remote.BackendAzure, account, container, rest)
		}
		return parseHubPath(u.Path)
	}
	return Source{}, &ValidationError{Field: "source", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
}

func parseHubPath(p string) (Source, error) {
	var parts []string
	for _, s := range strings.Split(strings.Trim(p, "/"), "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}

	repoType := remote.RepoModel
	if len(parts) > 0 {
		switch parts[0] {
		case "datasets":
			repoType = remote.RepoDataset
			parts = parts[1:]
		case "spaces":
			repoType = remote.RepoSpace
			parts = parts[1:]
		}
	}
	if len(parts) < 2 {
		return Source{}, &ValidationError{Field: "source", Message: fmt.Sprintf("%q does not name an owner and a repository", p)}
	}

	src := Source{
		Repo:     remote.Repo{Backend: remote.BackendHub, ID: parts[0] + "/" + parts[1], Type: repoType},
		Revision: constants.DefaultRevision,
	}
	if len(parts) > 3 && parts[2] == "tree" {
		src.Revision = parts[3]
		src.SubPath = strings.Join(parts[4:], "/")
	}
	return src, nil
}

func objectSource(backend remote.Backend, account, bucket, prefix string) (Source, error) {
	bucket = strings.Trim(bucket, "/")
	if bucket == "" {
		return Source{}, &ValidationError{Field: "source", Message: "missing bucket or container name"}
	}
	id := bucket
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		id += "/" + prefix
	}
	return Source{Repo: remote.Repo{Backend: backend, ID: id, Account: account}}, nil
}

// resolveSource parses d.Source and applies the explicit overrides.
func resolveSource(d DownloadParams) (Source, error) {
	src, err := ParseSource(d.Source)
	if err != nil {
		return Source{}, err
	}
	if d.Revision != "" {
		src.Revision = d.Revision
	}
	if d.SubPath != "" {
		src.SubPath = d.SubPath
	}
	src.SubPath = normalizeSubPath(src.SubPath)
	return src, nil
}

func normalizeSubPath(p string) string {
	return strings.Trim(filepath.ToSlash(strings.TrimSpace(p)), "/")
}

// filterFiles keeps files equal to subPath or below it.
func filterFiles(files []remote.FileInfo, subPath string) []remote.FileInfo {
	subPath = normalizeSubPath(subPath)
	if subPath == "" {
		return files
	}
	var out []remote.FileInfo
	for _, f := range files {
		if f.Path == subPath || strings.HasPrefix(f.Path, subPath+"/") {
			out = append(out, f)
		}
	}
	return out
}

// localPath joins a listing entry under dir, rejecting entries that would
// land outside it.
func localPath(dir, name string) (string, error) {
	if err := validation.ValidateRemotePath(name); err != nil {
		return "", &ValidationError{Field: "path", Message: err.Error()}
	}
	joined := filepath.Join(dir, filepath.FromSlash(name))
	if err := validation.ValidatePathInDirectory(joined, dir); err != nil {
		return "", &ValidationError{Field: "path", Message: fmt.Sprintf("remote path %q escapes the target directory", name)}
	}
	return joined, nil
}
