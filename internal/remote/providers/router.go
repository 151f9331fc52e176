// Package providers routes remote calls to the backend a repository lives on.
// Backend clients are built on first use from the current configuration and
// cached for the life of the router.
package providers

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/credentials"
	"github.com/earthanddusk/hfbackup/internal/http"
	"github.com/earthanddusk/hfbackup/internal/logging"
	"github.com/earthanddusk/hfbackup/internal/remote"
	"github.com/earthanddusk/hfbackup/internal/remote/azure"
	"github.com/earthanddusk/hfbackup/internal/remote/hub"
	"github.com/earthanddusk/hfbackup/internal/remote/s3"
)

// Router implements remote.Client and remote.RepoEnsurer by dispatching on
// Repo.Backend.
type Router struct {
	store      *config.Store
	httpClient *nethttp.Client
	logger     *logging.Logger

	mu    sync.Mutex
	hub   remote.Client
	s3    remote.Client
	azure map[string]remote.Client // by account name
}

// NewRouter creates a router. httpClient carries proxy settings and is shared
// by every backend.
func NewRouter(store *config.Store, httpClient *nethttp.Client, logger *logging.Logger) *Router {
	if store == nil {
		store = config.NewStore(nil, "")
	}
	if httpClient == nil {
		httpClient = &nethttp.Client{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Router{
		store:      store,
		httpClient: httpClient,
		logger:     logger,
		azure:      make(map[string]remote.Client),
	}
}

// Register installs c as the client for backend. Azure registrations apply to
// every account.
func (r *Router) Register(backend remote.Backend, c remote.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch backend {
	case remote.BackendHub:
		r.hub = c
	case remote.BackendS3:
		r.s3 = c
	case remote.BackendAzure:
		r.azure[""] = c
	}
}

// For returns the client serving repo, building it if needed.
func (r *Router) For(ctx context.Context, repo remote.Repo) (remote.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch repo.Backend {
	case remote.BackendHub, "":
		if r.hub == nil {
			cfg := r.store.Snapshot()
			r.hub = hub.New(cfg.HuggingFace.Endpoint, http.NewRetryClient(r.httpClient, r.logger), r.logger)
		}
		return r.hub, nil

	case remote.BackendS3:
		if r.s3 == nil {
			c, err := r.buildS3(ctx)
			if err != nil {
				return nil, err
			}
			r.s3 = c
		}
		return r.s3, nil

	case remote.BackendAzure:
		if c, ok := r.azure[""]; ok {
			return c, nil
		}
		account := r.azureAccount(repo)
		if c, ok := r.azure[account]; ok {
			return c, nil
		}
		c, err := r.buildAzure(account)
		if err != nil {
			return nil, err
		}
		r.azure[account] = c
		return c, nil
	}
	return nil, fmt.Errorf("unsupported backend: %s", repo.Backend)
}

func (r *Router) buildS3(ctx context.Context) (remote.Client, error) {
	cfg := r.store.Snapshot()
	opts := s3.Options{
		Region:     cfg.S3.Region,
		Endpoint:   cfg.S3.Endpoint,
		HTTPClient: r.httpClient,
		Logger:     r.logger,
	}
	// Keys in the config file are re-read on every retrieve; otherwise the AWS
	// default chain applies.
	if id, secret := r.store.S3Keys(); id != "" && secret != "" {
		opts.Credentials = aws.NewCredentialsCache(credentials.S3Keys{Source: r.store})
	}
	if opts.Region == "" {
		opts.Region = os.Getenv("AWS_REGION")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	c, err := s3.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("region", opts.Region).Str("endpoint", opts.Endpoint).Msg("S3 backend ready")
	return c, nil
}

func (r *Router) azureAccount(repo remote.Repo) string {
	if repo.Account != "" {
		return repo.Account
	}
	if a := r.store.Snapshot().Azure.AccountName; a != "" {
		return a
	}
	return os.Getenv("AZURE_STORAGE_ACCOUNT")
}

func (r *Router) buildAzure(account string) (remote.Client, error) {
	cfg := r.store.Snapshot().Azure
	opts := azure.Options{
		AccountName: account,
		HTTPClient:  r.httpClient,
		Logger:      r.logger,
	}
	// Configured secrets belong to the configured account only.
	configured := cfg.AccountName
	if configured == "" {
		configured = os.Getenv("AZURE_STORAGE_ACCOUNT")
	}
	if account == configured || account == "" {
		opts.AccountKey = firstNonEmpty(cfg.AccountKey, os.Getenv("AZURE_STORAGE_KEY"))
		opts.ConnectionString = firstNonEmpty(cfg.ConnectionString, os.Getenv("AZURE_STORAGE_CONNECTION_STRING"))
	}

	c, err := azure.New(opts)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("account", account).Msg("Azure backend ready")
	return c, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Upload implements remote.Client.
func (r *Router) Upload(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	c, err := r.For(ctx, req.Repo)
	if err != nil {
		return remote.UploadResult{}, err
	}
	return c.Upload(ctx, req, progress)
}

// ListFiles implements remote.Client.
func (r *Router) ListFiles(ctx context.Context, repo remote.Repo, revision string) ([]remote.FileInfo, error) {
	c, err := r.For(ctx, repo)
	if err != nil {
		return nil, err
	}
	return c.ListFiles(ctx, repo, revision)
}

// DownloadStream implements remote.Client.
func (r *Router) DownloadStream(ctx context.Context, repo remote.Repo, revision, path string) (*remote.Stream, error) {
	c, err := r.For(ctx, repo)
	if err != nil {
		return nil, err
	}
	return c.DownloadStream(ctx, repo, revision, path)
}

// EnsureRepo creates repo when its backend supports it. Buckets and
// containers are expected to exist already.
func (r *Router) EnsureRepo(ctx context.Context, repo remote.Repo, private bool) error {
	c, err := r.For(ctx, repo)
	if err != nil {
		return err
	}
	if e, ok := c.(remote.RepoEnsurer); ok {
		return e.EnsureRepo(ctx, repo, private)
	}
	r.logger.Debug().Str("repo", repo.String()).Msg("backend has no repository creation, skipping")
	return nil
}

var (
	_ remote.Client      = (*Router)(nil)
	_ remote.RepoEnsurer = (*Router)(nil)
)
