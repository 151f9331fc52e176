package cli

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/credentials"
	"github.com/earthanddusk/hfbackup/internal/events"
	"github.com/earthanddusk/hfbackup/internal/http"
	"github.com/earthanddusk/hfbackup/internal/logging"
	"github.com/earthanddusk/hfbackup/internal/ratelimit"
	"github.com/earthanddusk/hfbackup/internal/remote/providers"
)

// app holds what every transfer command needs, built from the config file
// and the global flags.
type app struct {
	store    *config.Store
	logger   *logging.Logger
	router   *providers.Router
	creds    credentials.Provider
	bus      *events.EventBus
	limiters *ratelimit.Shared
}

func loadStore() (*config.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return config.NewStore(cfg, cfgFile), nil
}

func newApp() (*app, error) {
	store, err := loadStore()
	if err != nil {
		return nil, err
	}
	if maxConcurrency < 0 {
		return nil, fmt.Errorf("--max-concurrency must not be negative, got %d", maxConcurrency)
	}
	if maxConcurrency > 0 {
		// Applies to this run only; nothing is saved.
		n := strconv.Itoa(maxConcurrency)
		err := store.Update(func(c *config.Config) error {
			c.UploadQueue.MaxConcurrent = n
			c.DownloadQueue.MaxConcurrent = n
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to apply --max-concurrency: %w", err)
		}
	}

	cfg := store.Snapshot()
	opts := logging.Options{File: cfg.Logging.File, Level: cfg.Logging.Level}
	if logFile != "" {
		opts.File = logFile
	}
	log := logging.NewLogger(opts)
	if verbose {
		logging.SetGlobalLevel(zerolog.DebugLevel)
	}
	if logger != nil {
		logger.Close()
	}
	logger = log

	httpClient, err := http.CreateOptimizedClient(&cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	return &app{
		store:    store,
		logger:   log,
		router:   providers.NewRouter(store, httpClient, log),
		creds:    credentials.Default(tokenFlag, store),
		bus:      events.NewEventBus(constants.EventBusDefaultBuffer),
		limiters: &ratelimit.Shared{Logger: log},
	}, nil
}
