// Package azure implements remote.Client over Azure Blob Storage. A repository
// is a container plus an optional blob name prefix.
package azure

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/earthanddusk/hfbackup/internal/logging"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

// Options configures a Client. ConnectionString wins over AccountKey; with
// neither, requests are anonymous (public containers or a SAS in ServiceURL).
type Options struct {
	AccountName      string
	AccountKey       string
	ConnectionString string
	// ServiceURL overrides https://<account>.blob.core.windows.net/ (Azurite).
	ServiceURL string
	HTTPClient *nethttp.Client
	Logger     *logging.Logger
}

// Client wraps an azblob service client for one storage account.
type Client struct {
	client *azblob.Client
	logger *logging.Logger
}

// ServiceURL returns the blob endpoint for an account.
func ServiceURL(account string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}

// New builds a client from opts.
func New(opts Options) (*Client, error) {
	clientOpts := &azblob.ClientOptions{}
	if opts.HTTPClient != nil {
		// Reuse the proxy-aware transport for every blob call.
		clientOpts.ClientOptions = azcore.ClientOptions{Transport: opts.HTTPClient}
	}

	serviceURL := opts.ServiceURL
	if serviceURL == "" && opts.AccountName != "" {
		serviceURL = ServiceURL(opts.AccountName)
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case opts.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(opts.ConnectionString, clientOpts)
	case opts.AccountKey != "":
		if opts.AccountName == "" {
			return nil, fmt.Errorf("azure account name is required with an account key")
		}
		cred, credErr := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("invalid azure account key: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, clientOpts)
	case serviceURL != "":
		client, err = azblob.NewClientWithNoCredential(serviceURL, clientOpts)
	default:
		return nil, fmt.Errorf("azure account name or connection string is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{client: client, logger: logger}, nil
}

func splitRepo(repo remote.Repo) (string, string, error) {
	container, prefix, _ := strings.Cut(strings.Trim(repo.ID, "/"), "/")
	if container == "" {
		return "", "", fmt.Errorf("missing container in %q", repo.ID)
	}
	return container, strings.Trim(prefix, "/"), nil
}

func blobName(prefix, p string) string {
	if prefix == "" {
		return strings.TrimLeft(p, "/")
	}
	return path.Join(prefix, p)
}

// ListFiles lists blobs under the repo prefix. The revision is ignored.
func (c *Client) ListFiles(ctx context.Context, repo remote.Repo, revision string) ([]remote.FileInfo, error) {
	container, prefix, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	opts := &azblob.ListBlobsFlatOptions{}
	if listPrefix != "" {
		opts.Prefix = &listPrefix
	}

	var files []remote.FileInfo
	pager := c.client.NewListBlobsFlatPager(container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", repo, mapError(err, repo, ""))
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || strings.HasSuffix(*item.Name, "/") {
				continue
			}
			size := int64(-1)
			if item.Properties != nil && item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			files = append(files, remote.FileInfo{Path: strings.TrimPrefix(*item.Name, listPrefix), Size: size})
		}
	}

	c.logger.Debug().Str("repo", repo.String()).Int("files", len(files)).Msg("listed container")
	return files, nil
}

// DownloadStream opens one blob.
func (c *Client) DownloadStream(ctx context.Context, repo remote.Repo, revision, p string) (*remote.Stream, error) {
	container, prefix, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.DownloadStream(ctx, container, blobName(prefix, p), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", p, mapError(err, repo, p))
	}
	size := int64(-1)
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return &remote.Stream{Body: resp.Body, Size: size}, nil
}

// Upload writes one block blob. The SDK splits large files into blocks and
// reports cumulative progress.
func (c *Client) Upload(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	container, prefix, err := splitRepo(req.Repo)
	if err != nil {
		return remote.UploadResult{}, err
	}
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return remote.UploadResult{}, fmt.Errorf("failed to open %s: %w", req.LocalPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return remote.UploadResult{}, fmt.Errorf("failed to stat %s: %w", req.LocalPath, err)
	}

	name := blobName(prefix, req.PathInRepo)
	opts := &azblob.UploadFileOptions{}
	if progress != nil {
		total := info.Size()
		opts.Progress = func(sent int64) { progress(sent, total) }
	}
	if req.CommitMessage != "" {
		msg := metadataValue(req.CommitMessage)
		opts.Metadata = map[string]*string{"commitmessage": &msg}
	}

	if _, err := c.client.UploadFile(ctx, container, name, f, opts); err != nil {
		return remote.UploadResult{}, fmt.Errorf("failed to upload %s: %w", name, mapError(err, req.Repo, ""))
	}
	return remote.UploadResult{CommitURL: c.client.URL() + container + "/" + name}, nil
}

// metadataValue keeps printable ASCII; blob metadata travels as headers.
func metadataValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// mapError converts SDK errors into the remote error types.
func mapError(err error, repo remote.Repo, p string) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return &remote.NotFoundError{Repo: repo, Path: p}
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case nethttp.StatusNotFound:
			return &remote.NotFoundError{Repo: repo, Path: p}
		case nethttp.StatusUnauthorized, nethttp.StatusForbidden:
			return &remote.AuthError{StatusCode: respErr.StatusCode, Message: respErr.ErrorCode}
		}
		return &remote.HTTPError{StatusCode: respErr.StatusCode, Method: "AZURE", URL: repo.String(), Message: respErr.ErrorCode}
	}
	return err
}

var _ remote.Client = (*Client)(nil)
