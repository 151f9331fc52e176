package config

import (
	"fmt"
	"strconv"
	"strings"
)

type key struct {
	section string
	name    string
	secret  bool
	get     func(*Config) string
	set     func(*Config, string) error
}

func str(p func(*Config) *string) (func(*Config) string, func(*Config, string) error) {
	return func(c *Config) string { return *p(c) },
		func(c *Config, v string) error { *p(c) = v; return nil }
}

func boolean(name string, p func(*Config) *bool) (func(*Config) string, func(*Config, string) error) {
	return func(c *Config) string { return strconv.FormatBool(*p(c)) },
		func(c *Config, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s must be true or false, got %q", name, v)
			}
			*p(c) = b
			return nil
		}
}

var keys = func() []key {
	var ks []key
	add := func(section, name string, secret bool, g func(*Config) string, s func(*Config, string) error) {
		ks = append(ks, key{section: section, name: name, secret: secret, get: g, set: s})
	}
	addStr := func(section, name string, secret bool, p func(*Config) *string) {
		g, s := str(p)
		add(section, name, secret, g, s)
	}
	addBool := func(section, name string, p func(*Config) *bool) {
		g, s := boolean(section+"."+name, p)
		add(section, name, false, g, s)
	}

	addStr("HuggingFace", "api_token", true, func(c *Config) *string { return &c.HuggingFace.APIToken })
	addStr("HuggingFace", "endpoint", false, func(c *Config) *string { return &c.HuggingFace.Endpoint })
	addStr("HuggingFace", "rate_limit_delay", false, func(c *Config) *string { return &c.HuggingFace.RateLimitDelay })
	addStr("HuggingFace", "org", false, func(c *Config) *string { return &c.HuggingFace.Org })
	addStr("HuggingFace", "repo", false, func(c *Config) *string { return &c.HuggingFace.Repo })

	addStr("Proxy", "mode", false, func(c *Config) *string { return &c.Proxy.Mode })
	addBool("Proxy", "use_proxy", func(c *Config) *bool { return &c.Proxy.UseProxy })
	addStr("Proxy", "http", false, func(c *Config) *string { return &c.Proxy.HTTP })
	addStr("Proxy", "https", false, func(c *Config) *string { return &c.Proxy.HTTPS })
	addStr("Proxy", "no_proxy", false, func(c *Config) *string { return &c.Proxy.NoProxy })
	addStr("Proxy", "user", false, func(c *Config) *string { return &c.Proxy.User })
	addStr("Proxy", "password", true, func(c *Config) *string { return &c.Proxy.Password })

	addStr("DownloadQueue", "max_concurrent_downloads", false, func(c *Config) *string { return &c.DownloadQueue.MaxConcurrent })
	addBool("DownloadQueue", "auto_clear_completed_downloads", func(c *Config) *bool { return &c.DownloadQueue.AutoClearCompleted })

	addStr("UploadQueue", "max_concurrent_upload_jobs", false, func(c *Config) *string { return &c.UploadQueue.MaxConcurrent })
	addBool("UploadQueue", "auto_clear_completed_uploads", func(c *Config) *bool { return &c.UploadQueue.AutoClearCompleted })

	addStr("S3", "region", false, func(c *Config) *string { return &c.S3.Region })
	addStr("S3", "endpoint", false, func(c *Config) *string { return &c.S3.Endpoint })
	addStr("S3", "access_key_id", false, func(c *Config) *string { return &c.S3.AccessKeyID })
	addStr("S3", "secret_access_key", true, func(c *Config) *string { return &c.S3.SecretAccessKey })

	addStr("Azure", "account_name", false, func(c *Config) *string { return &c.Azure.AccountName })
	addStr("Azure", "account_key", true, func(c *Config) *string { return &c.Azure.AccountKey })
	addStr("Azure", "connection_string", true, func(c *Config) *string { return &c.Azure.ConnectionString })

	addStr("Logging", "level", false, func(c *Config) *string { return &c.Logging.Level })
	addStr("Logging", "file", false, func(c *Config) *string { return &c.Logging.File })
	return ks
}()

// lookupKey matches "Section.key" case-insensitively.
func lookupKey(name string) (key, bool) {
	for _, k := range keys {
		if strings.EqualFold(k.section+"."+k.name, name) {
			return k, true
		}
	}
	return key{}, false
}
