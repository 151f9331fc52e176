// Package http builds the HTTP clients used by the remote backends: proxy
// support, transport tuning for large transfers, and retrying API calls.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/earthanddusk/hfbackup/internal/config"
)

// CreateOptimizedClient creates an HTTP client tuned for large file transfers
// with proxy support. The same client backs the hub, S3 and Azure backends so
// proxy settings apply uniformly.
//
//   - Proxy support (ConfigureHTTPClient as base)
//   - Large connection pool for concurrent transfers
//   - HTTP/2 with runtime toggle (DISABLE_HTTP2 env var), off behind proxies
//     unless FORCE_HTTP2=true
//   - Compression disabled (model weights and archives don't compress)
//   - No overall timeout; operations bound themselves with contexts
func CreateOptimizedClient(cfg *config.ProxyConfig) (*nethttp.Client, error) {
	baseClient, err := ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a Negotiator; tuning is not possible.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true

	_ = http2.ConfigureTransport(tr)

	disable := os.Getenv("DISABLE_HTTP2") == "true"
	// Proxies often break HTTP/2 multiplexing mid-transfer.
	if proxyActive(cfg, os.Getenv) && os.Getenv("FORCE_HTTP2") != "true" {
		disable = true
	}
	if disable {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0
	return baseClient, nil
}

// CopyTransportSettings applies the proxy, dialer, TLS and pool settings of
// client's transport to tr, for SDKs that build their own transport. It
// reports false when client does not use a plain *http.Transport, as with
// NTLM.
func CopyTransportSettings(tr *nethttp.Transport, client *nethttp.Client) bool {
	rt := client.Transport
	if rt == nil {
		rt = nethttp.DefaultTransport
	}
	src, ok := rt.(*nethttp.Transport)
	if !ok {
		return false
	}

	tr.Proxy = src.Proxy
	if src.DialContext != nil {
		tr.DialContext = src.DialContext
	}
	if src.TLSClientConfig != nil {
		tr.TLSClientConfig = src.TLSClientConfig.Clone()
		// ALPN is negotiated by tr itself.
		tr.TLSClientConfig.NextProtos = nil
	}
	tr.MaxIdleConns = src.MaxIdleConns
	tr.MaxIdleConnsPerHost = src.MaxIdleConnsPerHost
	tr.MaxConnsPerHost = src.MaxConnsPerHost
	tr.IdleConnTimeout = src.IdleConnTimeout
	tr.TLSHandshakeTimeout = src.TLSHandshakeTimeout
	tr.ExpectContinueTimeout = src.ExpectContinueTimeout
	tr.DisableCompression = src.DisableCompression
	tr.ForceAttemptHTTP2 = src.ForceAttemptHTTP2
	if src.TLSNextProto != nil && len(src.TLSNextProto) == 0 {
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}
	return true
}
