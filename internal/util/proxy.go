// Package util provides utility functions for the gateway server.
// It includes helper functions for proxy configuration, HTTP client setup,
// JSON manipulation, and other common operations used across the application.
package util

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// ValidateProxyURL checks that a proxy URL is parseable and uses a
// supported scheme (socks5, http, or https).
func ValidateProxyURL(raw string) error {
	proxyURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid proxy url %q: %w", raw, err)
	}
	switch proxyURL.Scheme {
	case "socks5", "http", "https":
		return nil
	default:
		return fmt.Errorf("unsupported proxy scheme %q in %q", proxyURL.Scheme, raw)
	}
}

// ResolveProxyURL picks the proxy for one credential. A nil entry value
// inherits the global proxy, an empty string forces a direct connection,
// and anything else is used as-is.
func ResolveProxyURL(entryProxy *string, globalProxy string) string {
	if entryProxy == nil {
		return globalProxy
	}
	return *entryProxy
}

// NewHTTPClient builds an HTTP client for upstream calls. It supports
// SOCKS5, HTTP, and HTTPS proxies, applies the dial timeout to new
// connections, and the request timeout to the whole exchange including the
// response body. A zero requestTimeoutSecs leaves the client unbounded,
// which streaming responses rely on.
func NewHTTPClient(proxyURLStr string, connectTimeoutSecs, requestTimeoutSecs int) *http.Client {
	dialer := &net.Dialer{Timeout: time.Duration(connectTimeoutSecs) * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   time.Duration(connectTimeoutSecs) * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if proxyURLStr != "" {
		proxyURL, errParse := url.Parse(proxyURLStr)
		if errParse != nil {
			log.Errorf("parse proxy url failed: %v", errParse)
		} else if proxyURL.Scheme == "socks5" {
			var proxyAuth *proxy.Auth
			if proxyURL.User != nil {
				password, _ := proxyURL.User.Password()
				proxyAuth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
			}
			socksDialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, dialer)
			if errSOCKS5 != nil {
				log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			} else {
				transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
					if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
						return contextDialer.DialContext(ctx, network, addr)
					}
					return socksDialer.Dial(network, addr)
				}
			}
		} else if proxyURL.Scheme == "http" || proxyURL.Scheme == "https" {
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			log.Errorf("unsupported proxy scheme %q, connecting directly", proxyURL.Scheme)
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(requestTimeoutSecs) * time.Second,
	}
}
