// Package remote defines the contract between the transfer queue and the
// storage backends it moves files to and from.
package remote

import (
	"context"
	"fmt"
	"io"
)

// Backend names a storage service.
type Backend string

const (
	BackendHub   Backend = "hub"
	BackendS3    Backend = "s3"
	BackendAzure Backend = "azure"
)

// RepoType is the hub repository kind. Object-storage backends ignore it.
type RepoType string

const (
	RepoModel   RepoType = "model"
	RepoDataset RepoType = "dataset"
	RepoSpace   RepoType = "space"
)

// ParseRepoType accepts "model", "dataset", "space" and their plurals.
func ParseRepoType(s string) (RepoType, error) {
	switch s {
	case "", "model", "models":
		return RepoModel, nil
	case "dataset", "datasets":
		return RepoDataset, nil
	case "space", "spaces":
		return RepoSpace, nil
	}
	return "", fmt.Errorf("unknown repo type %q (want model, dataset or space)", s)
}

// Repo identifies a remote location.
//
// For the hub, ID is "owner/name". For S3, ID is "bucket" or "bucket/prefix".
// For Azure, ID is "container" or "container/prefix", optionally qualified by
// Account.
type Repo struct {
	Backend Backend
	ID      string
	Type    RepoType
	Account string // Azure storage account; empty means the configured one
}

func (r Repo) String() string {
	switch r.Backend {
	case BackendS3:
		return "s3://" + r.ID
	case BackendAzure:
		return "az://" + r.ID
	}
	if r.Type == RepoDataset || r.Type == RepoSpace {
		return string(r.Type) + "s/" + r.ID
	}
	return r.ID
}

// FileInfo is one entry of a listing. Size is -1 when the backend did not
// report it.
type FileInfo struct {
	Path string
	Size int64
}

// Stream is an open download. Size is -1 when unknown. The caller closes Body.
type Stream struct {
	Body io.ReadCloser
	Size int64
}

// ProgressFunc receives bytes sent so far and the total. It may be called
// again from zero if the transport retries.
type ProgressFunc func(sent, total int64)

// UploadRequest describes one file upload.
type UploadRequest struct {
	LocalPath     string
	PathInRepo    string
	Repo          Repo
	Revision      string
	CommitMessage string
	CreatePR      bool
}

// UploadResult reports where an upload landed.
type UploadResult struct {
	CommitURL      string
	PullRequestURL string
}

// Client moves files between local disk and a backend. Implementations are
// safe for concurrent use.
type Client interface {
	Upload(ctx context.Context, req UploadRequest, progress ProgressFunc) (UploadResult, error)
	ListFiles(ctx context.Context, repo Repo, revision string) ([]FileInfo, error)
	DownloadStream(ctx context.Context, repo Repo, revision, path string) (*Stream, error)
}

// RepoEnsurer is implemented by backends that can create a repository.
// Creating a repository that already exists is not an error.
type RepoEnsurer interface {
	EnsureRepo(ctx context.Context, repo Repo, private bool) error
}

type tokenKey struct{}

// WithToken attaches a hub API token to ctx. Workers resolve the token once at
// start and pass it down this way.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the token attached by WithToken.
func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}
