// Package config provides configuration management for hfbackup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/earthanddusk/hfbackup/internal/constants"
)

// Config is the on-disk configuration.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\hfbackup\config.ini
//   - Unix: ~/.config/hfbackup/config.ini
//
// INI format:
//
//	[HuggingFace]
//	api_token = hf_xxx
//	endpoint = https://huggingface.co
//	rate_limit_delay = 1.0
//	org = my-org
//	repo = my-backups
//
//	[Proxy]
//	mode = basic
//	http = http://proxy.local:3128
//	no_proxy = localhost,10.0.0.0/8
//
//	[DownloadQueue]
//	max_concurrent_downloads = 2
//	auto_clear_completed_downloads = false
//
//	[UploadQueue]
//	max_concurrent_upload_jobs = 1
//	auto_clear_completed_uploads = true
//
// Numeric queue settings are kept as the raw strings found in the file and
// parsed on every read, so a malformed value degrades to its default with a
// warning instead of failing the load.
type Config struct {
	HuggingFace   HubConfig
	Proxy         ProxyConfig
	DownloadQueue QueueConfig
	UploadQueue   QueueConfig
	S3            S3Config
	Azure         AzureConfig
	Logging       LoggingConfig
}

// HubConfig holds the [HuggingFace] section.
type HubConfig struct {
	APIToken       string
	Endpoint       string
	RateLimitDelay string // seconds, may be fractional
	Org            string
	Repo           string
}

// ProxyConfig holds the [Proxy] section.
type ProxyConfig struct {
	// Mode is one of "no-proxy", "system", "basic", "ntlm". Empty means
	// "basic" when UseProxy is set and "no-proxy" otherwise.
	Mode     string
	UseProxy bool
	HTTP     string
	HTTPS    string
	NoProxy  string
	User     string
	Password string
}

// QueueConfig holds one of the queue sections.
type QueueConfig struct {
	MaxConcurrent      string
	AutoClearCompleted bool
}

// S3Config holds the [S3] section. Empty credentials use the AWS default chain.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// AzureConfig holds the [Azure] section. Empty values use the account key from
// AZURE_STORAGE_KEY or a connection string from AZURE_STORAGE_CONNECTION_STRING.
type AzureConfig struct {
	AccountName      string
	AccountKey       string
	ConnectionString string
}

// LoggingConfig holds the [Logging] section.
type LoggingConfig struct {
	Level string
	File  string
}

// Queue names accepted by QueueSettings.
const (
	QueueUpload   = "upload"
	QueueDownload = "download"
)

// Warning describes a setting that could not be used as written.
type Warning struct {
	Key     string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Key, w.Message)
}

// QueueSettings is the snapshot a queue reads at each dispatch.
type QueueSettings struct {
	MaxConcurrency     int
	RateLimitDelay     time.Duration
	AutoClearCompleted bool
	Warnings           []Warning
}

// ErrUnknownKey is returned by Get/Set for keys outside the known sections.
var ErrUnknownKey = errors.New("unknown config key")

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		HuggingFace: HubConfig{
			Endpoint:       constants.DefaultHubEndpoint,
			RateLimitDelay: formatSeconds(constants.DefaultRateLimitDelay),
		},
		Proxy: ProxyConfig{Mode: "no-proxy"},
		DownloadQueue: QueueConfig{
			MaxConcurrent: strconv.Itoa(constants.DefaultMaxConcurrency),
		},
		UploadQueue: QueueConfig{
			MaxConcurrent: strconv.Itoa(constants.DefaultMaxConcurrency),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultPath returns the default path for the config file.
func DefaultPath() (string, error) {
	var base string
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		base = userProfile
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = home
	}
	return filepath.Join(base, ".config", constants.AppName, "config.ini"), nil
}

// Load reads configuration from an INI file. A missing file yields defaults and
// no error; a file that exists but cannot be parsed is an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	hub := f.Section("HuggingFace")
	cfg.HuggingFace.APIToken = hub.Key("api_token").String()
	cfg.HuggingFace.Endpoint = hub.Key("endpoint").MustString(cfg.HuggingFace.Endpoint)
	cfg.HuggingFace.RateLimitDelay = hub.Key("rate_limit_delay").MustString(cfg.HuggingFace.RateLimitDelay)
	cfg.HuggingFace.Org = hub.Key("org").String()
	cfg.HuggingFace.Repo = hub.Key("repo").String()

	proxy := f.Section("Proxy")
	cfg.Proxy.UseProxy = proxy.Key("use_proxy").MustBool(false)
	cfg.Proxy.Mode = proxy.Key("mode").String()
	cfg.Proxy.HTTP = proxy.Key("http").String()
	cfg.Proxy.HTTPS = proxy.Key("https").String()
	cfg.Proxy.NoProxy = proxy.Key("no_proxy").String()
	cfg.Proxy.User = proxy.Key("user").String()
	cfg.Proxy.Password = proxy.Key("password").String()
	if cfg.Proxy.Mode == "" {
		if cfg.Proxy.UseProxy {
			cfg.Proxy.Mode = "basic"
		} else {
			cfg.Proxy.Mode = "no-proxy"
		}
	}

	dl := f.Section("DownloadQueue")
	cfg.DownloadQueue.MaxConcurrent = dl.Key("max_concurrent_downloads").MustString(cfg.DownloadQueue.MaxConcurrent)
	cfg.DownloadQueue.AutoClearCompleted = dl.Key("auto_clear_completed_downloads").MustBool(false)

	ul := f.Section("UploadQueue")
	cfg.UploadQueue.MaxConcurrent = ul.Key("max_concurrent_upload_jobs").MustString(cfg.UploadQueue.MaxConcurrent)
	cfg.UploadQueue.AutoClearCompleted = ul.Key("auto_clear_completed_uploads").MustBool(false)

	s3 := f.Section("S3")
	cfg.S3.Region = s3.Key("region").String()
	cfg.S3.Endpoint = s3.Key("endpoint").String()
	cfg.S3.AccessKeyID = s3.Key("access_key_id").String()
	cfg.S3.SecretAccessKey = s3.Key("secret_access_key").String()

	az := f.Section("Azure")
	cfg.Azure.AccountName = az.Key("account_name").String()
	cfg.Azure.AccountKey = az.Key("account_key").String()
	cfg.Azure.ConnectionString = az.Key("connection_string").String()

	lg := f.Section("Logging")
	cfg.Logging.Level = lg.Key("level").MustString(cfg.Logging.Level)
	cfg.Logging.File = lg.Key("file").String()

	return cfg, nil
}

// Save writes configuration to an INI file, creating parent directories.
// The file holds secrets, so it is written 0600 via a temp file and rename.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f := ini.Empty()
	for _, k := range keys {
		sec := f.Section(k.section)
		sec.Key(k.name).SetValue(k.get(cfg))
	}

	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// QueueSettings parses the settings for the named queue. It never fails:
// non-positive or unparsable concurrency becomes 1 and an unparsable or
// negative rate limit delay becomes 1.0s, each with a Warning.
func (cfg *Config) QueueSettings(queue string) QueueSettings {
	var qc QueueConfig
	var key string
	switch queue {
	case QueueDownload:
		qc, key = cfg.DownloadQueue, "DownloadQueue.max_concurrent_downloads"
	default:
		qc, key = cfg.UploadQueue, "UploadQueue.max_concurrent_upload_jobs"
	}

	out := QueueSettings{
		MaxConcurrency:     constants.DefaultMaxConcurrency,
		RateLimitDelay:     constants.DefaultRateLimitDelay,
		AutoClearCompleted: qc.AutoClearCompleted,
	}

	raw := strings.TrimSpace(qc.MaxConcurrent)
	if n, err := strconv.Atoi(raw); err != nil {
		out.Warnings = append(out.Warnings, Warning{Key: key, Message: fmt.Sprintf("invalid value %q, using %d", raw, out.MaxConcurrency)})
	} else if n <= 0 {
		out.Warnings = append(out.Warnings, Warning{Key: key, Message: fmt.Sprintf("must be positive, got %d, using %d", n, out.MaxConcurrency)})
	} else {
		out.MaxConcurrency = n
	}

	delay, err := ParseDelay(cfg.HuggingFace.RateLimitDelay)
	if err != nil {
		out.Warnings = append(out.Warnings, Warning{
			Key:     "HuggingFace.rate_limit_delay",
			Message: fmt.Sprintf("%v, using %s", err, formatSeconds(constants.DefaultRateLimitDelay)),
		})
	} else {
		out.RateLimitDelay = delay
	}

	return out
}

// ParseDelay parses a delay in (possibly fractional) seconds. Empty means the
// default. Values above the maximum are capped.
func ParseDelay(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return constants.DefaultRateLimitDelay, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", raw)
	}
	if secs < 0 {
		return 0, fmt.Errorf("delay must not be negative, got %s", raw)
	}
	d := time.Duration(secs * float64(time.Second))
	if d > constants.MaxRateLimitDelay {
		d = constants.MaxRateLimitDelay
	}
	return d, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64)
}

// Get returns the value of a "Section.key" setting.
func (cfg *Config) Get(name string) (string, error) {
	k, ok := lookupKey(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	return k.get(cfg), nil
}

// Set assigns a "Section.key" setting. Booleans are validated; numeric queue
// settings are stored raw and validated when read.
func (cfg *Config) Set(name, value string) error {
	k, ok := lookupKey(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	return k.set(cfg, value)
}

// Keys lists every settable key in file order.
func Keys() []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.section+"."+k.name)
	}
	return out
}

// IsSecret reports whether a key holds a credential that should be masked.
func IsSecret(name string) bool {
	k, ok := lookupKey(name)
	return ok && k.secret
}
