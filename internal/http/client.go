// Package http builds the HTTP clients used for token exchange and uploads.
package http

import (
	"crypto/tls"
	"net"
	nethttp "net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"

	"github.com/kiwitech/pterobackup/internal/config"
	"github.com/kiwitech/pterobackup/internal/constants"
	"github.com/kiwitech/pterobackup/internal/logging"
)

// NewTransport creates a transport tuned for a single large streaming
// upload, with proxy settings from cfg (or the environment).
func NewTransport(cfg *config.Config) (*nethttp.Transport, error) {
	proxyURL := ""
	if cfg != nil {
		proxyURL = cfg.ProxyURL
	}
	proxy, err := ProxyFunc(proxyURL)
	if err != nil {
		return nil, err
	}

	tr := &nethttp.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   constants.AzureConcurrency,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		DisableCompression:    true, // archives are already gzip
		ForceAttemptHTTP2:     true,
	}

	_ = http2.ConfigureTransport(tr)

	// Set DISABLE_HTTP2=true to force HTTP/1.1. Proxies often mishandle
	// long HTTP/2 streams, so an explicit proxy also disables it.
	if os.Getenv("DISABLE_HTTP2") == "true" || proxyURL != "" {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	return tr, nil
}

// NewStandardClient returns a plain client over NewTransport. The S3 and
// Azure SDKs run their own retry loops on top of it.
func NewStandardClient(cfg *config.Config) (*nethttp.Client, error) {
	tr, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	// No overall timeout; uploads of a full world can take a long time.
	return &nethttp.Client{Transport: tr}, nil
}

// NewClient returns a retrying client for the token exchange and the GCS
// upload. Retries are off unless cfg.Retries > 0. Non-2xx responses are
// handed back to the caller instead of being turned into errors, so each
// caller can report the status and body itself.
func NewClient(cfg *config.Config, logger *logging.Logger) (*retryablehttp.Client, error) {
	std, err := NewStandardClient(cfg)
	if err != nil {
		return nil, err
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = std
	client.RetryMax = 0
	if cfg != nil {
		client.RetryMax = cfg.Retries
	}
	client.RetryWaitMin = constants.RetryWaitMin
	client.RetryWaitMax = constants.RetryWaitMax
	client.CheckRetry = retryablehttp.DefaultRetryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = NewRetryLogger(logger)
	return client, nil
}
