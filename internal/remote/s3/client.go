// Package s3 implements remote.Client over an S3 bucket. A repository is a
// bucket plus an optional key prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	hfhttp "github.com/earthanddusk/hfbackup/internal/http"
	"github.com/earthanddusk/hfbackup/internal/logging"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

// Options configures a Client.
type Options struct {
	Region string
	// Endpoint overrides the S3 endpoint (MinIO, R2, ...). Path-style
	// addressing is used when set.
	Endpoint string
	// AccessKeyID and SecretAccessKey select static credentials. Ignored when
	// Credentials is set.
	AccessKeyID     string
	SecretAccessKey string
	// Credentials overrides the provider. Nil with no static keys means the
	// AWS default chain (env, shared config, instance role).
	Credentials aws.CredentialsProvider
	HTTPClient  *nethttp.Client
	Logger      *logging.Logger
}

// Client wraps the AWS S3 client.
type Client struct {
	client *s3.Client
	logger *logging.Logger
}

// New loads AWS configuration and builds a client.
func New(ctx context.Context, opts Options) (*Client, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.HTTPClient != nil {
		hc, err := sdkHTTPClient(opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		loadOpts = append(loadOpts, config.WithHTTPClient(hc))
	}
	switch {
	case opts.Credentials != nil:
		loadOpts = append(loadOpts, config.WithCredentialsProvider(opts.Credentials))
	case opts.AccessKeyID != "" && opts.SecretAccessKey != "":
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{client: client, logger: logger}, nil
}

// sdkHTTPClient wraps client's transport settings in a BuildableClient so
// the SDK can still apply AWS_CA_BUNDLE and its own transport options.
func sdkHTTPClient(client *nethttp.Client) (aws.HTTPClient, error) {
	if _, ok := client.Transport.(*nethttp.Transport); ok || client.Transport == nil {
		return awshttp.NewBuildableClient().
			WithTimeout(client.Timeout).
			WithTransportOptions(func(tr *nethttp.Transport) {
				hfhttp.CopyTransportSettings(tr, client)
			}), nil
	}
	// NTLM: the negotiator cannot be rebuilt by the SDK.
	if os.Getenv("AWS_CA_BUNDLE") != "" {
		return nil, fmt.Errorf("AWS_CA_BUNDLE is not supported with the ntlm proxy mode")
	}
	return client, nil
}

// splitRepo returns bucket and prefix (without trailing slash).
func splitRepo(repo remote.Repo) (string, string, error) {
	bucket, prefix, _ := strings.Cut(strings.Trim(repo.ID, "/"), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", repo.ID)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func objectKey(prefix, p string) string {
	if prefix == "" {
		return strings.TrimLeft(p, "/")
	}
	return path.Join(prefix, p)
}

// ListFiles lists every object under the repo prefix. The revision is ignored.
// Paths are relative to the prefix; folder marker objects are skipped.
func (c *Client) ListFiles(ctx context.Context, repo remote.Repo, revision string) ([]remote.FileInfo, error) {
	bucket, prefix, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	var files []remote.FileInfo
	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(listPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", repo, mapError(err, repo, ""))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			size := int64(-1)
			if obj.Size != nil {
				size = *obj.Size
			}
			files = append(files, remote.FileInfo{Path: strings.TrimPrefix(key, listPrefix), Size: size})
		}
	}

	c.logger.Debug().Str("repo", repo.String()).Int("files", len(files)).Msg("listed bucket")
	return files, nil
}

// DownloadStream opens one object.
func (c *Client) DownloadStream(ctx context.Context, repo remote.Repo, revision, p string) (*remote.Stream, error) {
	bucket, prefix, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey(prefix, p)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", p, mapError(err, repo, p))
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &remote.Stream{Body: out.Body, Size: size}, nil
}

// Upload puts one object. The commit message is stored as object metadata.
func (c *Client) Upload(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	bucket, prefix, err := splitRepo(req.Repo)
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

	key := objectKey(prefix, req.PathInRepo)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          &progressReader{f: f, total: info.Size(), fn: progress},
		ContentLength: aws.Int64(info.Size()),
	}
	if msg := asciiMetadata(req.CommitMessage); msg != "" {
		input.Metadata = map[string]string{"commit-message": msg}
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return remote.UploadResult{}, fmt.Errorf("failed to upload %s: %w", key, mapError(err, req.Repo, ""))
	}
	return remote.UploadResult{CommitURL: fmt.Sprintf("s3://%s/%s", bucket, key)}, nil
}

// mapError converts SDK errors into the remote error types.
func mapError(err error, repo remote.Repo, p string) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return &remote.NotFoundError{Repo: repo, Path: p}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		switch code {
		case nethttp.StatusNotFound:
			return &remote.NotFoundError{Repo: repo, Path: p}
		case nethttp.StatusUnauthorized, nethttp.StatusForbidden:
			return &remote.AuthError{StatusCode: code, Message: respErr.Err.Error()}
		}
		return &remote.HTTPError{StatusCode: code, Method: "S3", URL: repo.String(), Message: respErr.Err.Error()}
	}
	return err
}

// asciiMetadata keeps printable ASCII only; S3 rejects other header bytes.
func asciiMetadata(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// progressReader reports bytes read and stays seekable so the SDK can hash
// and retry the body. Seeking resets the count.
type progressReader struct {
	f     *os.File
	n     int64
	total int64
	fn    remote.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.f.Read(b)
	if n > 0 {
		p.n += int64(n)
		if p.fn != nil {
			p.fn(p.n, p.total)
		}
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.f.Seek(offset, whence)
	if err == nil {
		p.n = pos
	}
	return pos, err
}

var (
	_ remote.Client = (*Client)(nil)
	_ io.ReadSeeker = (*progressReader)(nil)
)
