package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

type treeEntry struct {
	Type string `json:"type"` // "file" or "directory"
	Path string `json:"path"`
	Size *int64 `json:"size"`
	LFS  *struct {
		Size int64 `json:"size"`
	} `json:"lfs"`
}

var nextLink = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// ListFiles lists every file of repo at revision, following pagination.
// Results are sorted by path.
func (c *Client) ListFiles(ctx context.Context, repo remote.Repo, revision string) ([]remote.FileInfo, error) {
	if revision == "" {
		revision = constants.DefaultRevision
	}
	next := c.endpoint + apiPath(repo) + "/tree/" + url.PathEscape(revision) + "?recursive=true&expand=false"

	var files []remote.FileInfo
	for next != "" {
		req, err := c.newRequest(ctx, "GET", next, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.do(req, repo, revision, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", repo, err)
		}

		var page []treeEntry
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode listing of %s: %w", repo, err)
		}

		for _, e := range page {
			if e.Type != "file" {
				continue
			}
			size := int64(-1)
			switch {
			case e.LFS != nil:
				size = e.LFS.Size
			case e.Size != nil:
				size = *e.Size
			}
			files = append(files, remote.FileInfo{Path: e.Path, Size: size})
		}

		next = ""
		if m := nextLink.FindStringSubmatch(resp.Header.Get("Link")); m != nil {
			next = m[1]
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	c.logger.Debug().Str("repo", repo.String()).Str("revision", revision).Int("files", len(files)).Msg("listed repository")
	return files, nil
}
