package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpproxy"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/constants"
)

// Proxy modes accepted in the [Proxy] section.
const (
	ProxyModeNone   = "no-proxy"
	ProxyModeSystem = "system"
	ProxyModeBasic  = "basic"
	ProxyModeNTLM   = "ntlm"
)

// newTransport returns the base transport every client is built on.
func newTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
}

// ConfigureHTTPClient builds an HTTP client honouring the proxy settings.
// A nil cfg means no proxy.
func ConfigureHTTPClient(cfg *config.ProxyConfig) (*nethttp.Client, error) {
	transport := newTransport()
	if cfg == nil {
		return &nethttp.Client{Transport: transport}, nil
	}

	switch strings.ToLower(cfg.Mode) {
	case ProxyModeNone, "":
		transport.Proxy = nil

	case ProxyModeSystem:
		transport.Proxy = nethttp.ProxyFromEnvironment

	case ProxyModeBasic, ProxyModeNTLM:
		proxyURL, err := buildProxyURL(cfg)
		if err != nil {
			return nil, err
		}
		if proxyURL == nil {
			// Incomplete saved config: keep working without a proxy.
			log.Warn().Str("mode", cfg.Mode).Msg("proxy host is missing, falling back to no-proxy mode")
			transport.Proxy = nil
			break
		}
		transport.Proxy = proxyFuncWithBypass(proxyURL, cfg.NoProxy)

		if cfg.User != "" && cfg.Password == "" {
			log.Warn().Msg("proxy user configured but password missing, proxy auth disabled until password is set")
		}

		if strings.EqualFold(cfg.Mode, ProxyModeNTLM) {
			return &nethttp.Client{
				Transport: ntlmssp.Negotiator{RoundTripper: transport},
			}, nil
		}

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.Mode)
	}

	return &nethttp.Client{Transport: transport}, nil
}

// buildProxyURL constructs the proxy URL from the https entry, falling back to
// the http entry. Returns nil, nil when neither is set.
func buildProxyURL(cfg *config.ProxyConfig) (*url.URL, error) {
	raw := strings.TrimSpace(cfg.HTTPS)
	if raw == "" {
		raw = strings.TrimSpace(cfg.HTTP)
	}
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	proxyURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", raw, err)
	}
	if proxyURL.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q: missing host", raw)
	}
	if proxyURL.Port() == "" {
		proxyURL.Host = net.JoinHostPort(proxyURL.Hostname(), "8080")
	}

	// Only embed credentials if both user and password are provided
	if cfg.User != "" && cfg.Password != "" {
		proxyURL.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return proxyURL, nil
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// If noProxy is empty, behaves identically to nethttp.ProxyURL.
// When noProxy is set, uses golang.org/x/net/http/httpproxy to match hosts/CIDRs.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			log.Debug().Str("host", req.URL.Host).Msg("proxy bypass")
		}
		return result, err
	}
}

// proxyActive reports whether requests will go through a proxy.
func proxyActive(cfg *config.ProxyConfig, getenv func(string) string) bool {
	envProxy := getenv("HTTP_PROXY") != "" || getenv("HTTPS_PROXY") != "" ||
		getenv("http_proxy") != "" || getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch strings.ToLower(cfg.Mode) {
	case ProxyModeNone, "":
		return false
	case ProxyModeSystem:
		return envProxy
	default:
		return cfg.HTTP != "" || cfg.HTTPS != ""
	}
}
