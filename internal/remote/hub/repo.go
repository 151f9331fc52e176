package hub

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/earthanddusk/hfbackup/internal/remote"
)

type createRepoRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Type         string `json:"type,omitempty"`
	Private      bool   `json:"private"`
	SDK          string `json:"sdk,omitempty"`
}

// EnsureRepo creates repo if it does not exist. A 409 Conflict means the
// repository is already there and is treated as success.
func (c *Client) EnsureRepo(ctx context.Context, repo remote.Repo, private bool) error {
	owner, name, ok := strings.Cut(repo.ID, "/")
	if !ok || owner == "" || name == "" {
		return fmt.Errorf("invalid repo id %q, want owner/name", repo.ID)
	}

	body := createRepoRequest{Name: name, Organization: owner, Private: private}
	switch repo.Type {
	case remote.RepoDataset:
		body.Type = "dataset"
	case remote.RepoSpace:
		body.Type = "space"
		body.SDK = "static"
	}

	req, err := c.newRequest(ctx, "POST", c.endpoint+"/api/repos/create", mustJSON(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to create %s: %w", repo, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == nethttp.StatusConflict:
		c.logger.Debug().Str("repo", repo.String()).Msg("repository already exists")
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Info().Str("repo", repo.String()).Bool("private", private).Msg("created repository")
		return nil
	}
	return fmt.Errorf("failed to create %s: %w", repo, statusError(resp, repo, "", ""))
}
