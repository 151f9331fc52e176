package hub

import (
	"context"
	"fmt"
	"net/url"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

// DownloadStream opens path at revision. The size comes from Content-Length
// and is -1 when the server streams without one.
func (c *Client) DownloadStream(ctx context.Context, repo remote.Repo, revision, path string) (*remote.Stream, error) {
	if revision == "" {
		revision = constants.DefaultRevision
	}
	u := c.endpoint + resolvePrefix(repo) + "/resolve/" + url.PathEscape(revision) + "/" + escapePath(path)

	req, err := c.newRequest(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, repo, revision, path)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}

	size := resp.ContentLength
	if size < 0 {
		size = -1
	}
	return &remote.Stream{Body: resp.Body, Size: size}, nil
}
