package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

type commitHeader struct {
	Key   string `json:"key"`
	Value struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
	} `json:"value"`
}

type commitResponse struct {
	CommitURL      string `json:"commitUrl"`
	CommitOID      string `json:"commitOid"`
	PullRequestURL string `json:"pullRequestUrl"`
}

// Upload commits one file to repo. The body is an NDJSON commit: a header
// line, then one file line whose base64 content is streamed from disk. Each
// attempt reopens the file, so a retry restarts progress from zero.
func (c *Client) Upload(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	pathInRepo := strings.TrimLeft(req.PathInRepo, "/")
	if pathInRepo == "" {
		return remote.UploadResult{}, fmt.Errorf("path in repo is required")
	}
	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return remote.UploadResult{}, fmt.Errorf("failed to stat %s: %w", req.LocalPath, err)
	}
	if info.IsDir() {
		return remote.UploadResult{}, fmt.Errorf("%s is a directory", req.LocalPath)
	}

	revision := req.Revision
	if revision == "" {
		revision = constants.DefaultRevision
	}
	u := c.endpoint + apiPath(req.Repo) + "/commit/" + url.PathEscape(revision)
	if req.CreatePR {
		u += "?create_pr=1"
	}

	header := commitHeader{Key: "header"}
	header.Value.Summary = req.CommitMessage
	headerLine, err := json.Marshal(header)
	if err != nil {
		return remote.UploadResult{}, err
	}

	body := &commitBody{
		localPath:  req.LocalPath,
		pathInRepo: pathInRepo,
		header:     append(headerLine, '\n'),
		size:       info.Size(),
		progress:   progress,
	}
	defer body.closeAll()

	httpReq, err := c.newRequest(ctx, "POST", u, retryablehttp.ReaderFunc(body.open))
	if err != nil {
		return remote.UploadResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-ndjson")

	c.logger.Debug().Str("repo", req.Repo.String()).Str("path", pathInRepo).Int64("size", info.Size()).Msg("committing file")

	resp, err := c.do(httpReq, req.Repo, revision, "")
	if err != nil {
		return remote.UploadResult{}, fmt.Errorf("failed to upload %s: %w", pathInRepo, err)
	}
	defer resp.Body.Close()

	var out commitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return remote.UploadResult{}, fmt.Errorf("failed to decode commit response: %w", err)
	}
	return remote.UploadResult{CommitURL: out.CommitURL, PullRequestURL: out.PullRequestURL}, nil
}

// commitBody produces a fresh NDJSON reader per attempt. Readers from earlier
// attempts are closed so their writer goroutines exit.
type commitBody struct {
	localPath  string
	pathInRepo string
	header     []byte
	size       int64
	progress   remote.ProgressFunc

	mu      sync.Mutex
	readers []*io.PipeReader
}

func (b *commitBody) open() (io.Reader, error) {
	f, err := os.Open(b.localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", b.localPath, err)
	}

	pr, pw := io.Pipe()
	b.mu.Lock()
	for _, r := range b.readers {
		r.CloseWithError(io.ErrClosedPipe)
	}
	b.readers = append(b.readers, pr)
	b.mu.Unlock()

	if b.progress != nil {
		b.progress(0, b.size)
	}

	go func() {
		defer f.Close()
		pw.CloseWithError(b.write(pw, &countingReader{r: f, total: b.size, fn: b.progress}))
	}()
	return pr, nil
}

func (b *commitBody) write(w io.Writer, content io.Reader) error {
	if _, err := w.Write(b.header); err != nil {
		return err
	}
	if _, err := io.WriteString(w, `{"key":"file","value":{"content":"`); err != nil {
		return err
	}
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if _, err := io.Copy(enc, content); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	pathJSON, _ := json.Marshal(b.pathInRepo)
	_, err := fmt.Fprintf(w, `","path":%s,"encoding":"base64"}}`+"\n", pathJSON)
	return err
}

func (b *commitBody) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.readers {
		r.CloseWithError(io.ErrClosedPipe)
	}
}

// countingReader reports cumulative bytes read.
type countingReader struct {
	r     io.Reader
	n     int64
	total int64
	fn    remote.ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.fn != nil {
			c.fn(c.n, c.total)
		}
	}
	return n, err
}
