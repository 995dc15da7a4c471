package http

import (
	"fmt"
	nethttp "net/http"
	"net/url"
	"os"

	"golang.org/x/net/http/httpproxy"
)

// ProxyFunc returns the proxy selector for a transport. An empty proxyURL
// means the standard HTTP_PROXY/HTTPS_PROXY/NO_PROXY environment variables.
// An explicit proxyURL is used for every request except hosts listed in
// NO_PROXY.
func ProxyFunc(proxyURL string) (func(*nethttp.Request) (*url.URL, error), error) {
	if proxyURL == "" {
		return nethttp.ProxyFromEnvironment, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL: %q", proxyURL)
	}

	noProxy := os.Getenv("NO_PROXY")
	if noProxy == "" {
		noProxy = os.Getenv("no_proxy")
	}
	return proxyFuncWithBypass(u, noProxy), nil
}

// proxyFuncWithBypass returns a proxy function that respects the noProxy
// bypass list. If noProxy is empty it behaves like nethttp.ProxyURL.
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
		return proxyFunc(req.URL)
	}
}
