// Package http builds the HTTP clients used by the upload backends: proxy
// aware, tuned for large bodies, and optionally retrying.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/constants"
)

// CreateOptimizedClient creates an HTTP client for file transfers with proxy support.
//
//   - Proxy settings come from ConfigureHTTPClient
//   - Idle connections are pooled per storage host
//   - No client-wide timeout; each transfer is bounded by its context
//   - HTTP/2 unless DISABLE_HTTP2=true or a proxy is active (FORCE_HTTP2=true overrides)
//
// A nil cfg yields a client without proxy configuration.
func CreateOptimizedClient(cfg *config.Config) (*nethttp.Client, error) {
	baseClient := &nethttp.Client{}
	if cfg != nil {
		var err error
		baseClient, err = ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a Negotiator; leave it alone.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100
	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.TLSHandshakeTimeout = constants.HTTPTLSHandshakeTimeout
	tr.ExpectContinueTimeout = constants.HTTPExpectContinueTimeout

	// Uploaded files are usually compressed already.
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0
	return baseClient, nil
}

// proxyActive reports whether requests will go through a proxy. Proxies
// tend to break HTTP/2 streams mid-transfer.
func proxyActive(cfg *config.Config) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return envProxy
	default:
		return true
	}
}
