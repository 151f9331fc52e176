// Package hub implements remote.Client against the Hugging Face Hub HTTP API.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/logging"
	"github.com/earthanddusk/hfbackup/internal/remote"
	"github.com/earthanddusk/hfbackup/internal/version"
)

// Client talks to a hub endpoint. Retries for idempotent calls and for commit
// uploads happen inside the retryablehttp client.
type Client struct {
	endpoint string
	http     *retryablehttp.Client
	logger   *logging.Logger
}

// New creates a hub client. endpoint defaults to https://huggingface.co.
func New(endpoint string, httpClient *retryablehttp.Client, logger *logging.Logger) *Client {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = constants.DefaultHubEndpoint
	}
	if httpClient == nil {
		httpClient = retryablehttp.NewClient()
		httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{endpoint: endpoint, http: httpClient, logger: logger}
}

// Endpoint returns the base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body interface{}) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", constants.AppName+"/"+version.Version)
	if tok := remote.TokenFrom(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// do executes req and maps error statuses. The caller closes the body of a
// successful response.
func (c *Client) do(req *retryablehttp.Request, repo remote.Repo, revision, path string) (*nethttp.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, redact(req.URL), err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp, repo, revision, path)
}

func statusError(resp *nethttp.Response, repo remote.Repo, revision, path string) error {
	msg := readErrorMessage(resp.Body)
	switch resp.StatusCode {
	case nethttp.StatusNotFound:
		return &remote.NotFoundError{Repo: repo, Revision: revision, Path: path}
	case nethttp.StatusUnauthorized, nethttp.StatusForbidden:
		if msg == "" {
			msg = "check the API token and its permissions"
		}
		return &remote.AuthError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &remote.HTTPError{
		StatusCode: resp.StatusCode,
		Method:     resp.Request.Method,
		URL:        redact(resp.Request.URL),
		Message:    msg,
	}
}

// readErrorMessage extracts {"error": "..."} from a hub error body, falling
// back to the first line of plain text.
func readErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	return line
}

func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}

// apiPath returns "/api/models/owner/name" style prefixes.
func apiPath(repo remote.Repo) string {
	t := repo.Type
	if t == "" {
		t = remote.RepoModel
	}
	return "/api/" + string(t) + "s/" + repo.ID
}

// resolvePrefix returns the URL prefix for file downloads.
func resolvePrefix(repo remote.Repo) string {
	switch repo.Type {
	case remote.RepoDataset:
		return "/datasets/" + repo.ID
	case remote.RepoSpace:
		return "/spaces/" + repo.ID
	}
	return "/" + repo.ID
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

var (
	_ remote.Client      = (*Client)(nil)
	_ remote.RepoEnsurer = (*Client)(nil)
)

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
