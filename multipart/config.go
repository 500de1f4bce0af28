package multipart

import (
	"net/http"
	"time"
)

// Config holds configuration for the Uploader.
type Config struct {
	// Backoff computes the wait before each retry.
	// Default: 300ms + attempt² ms, capped at 10s
	Backoff QuadraticBackoff

	// HTTPClient is the HTTP client to use for part uploads.
	// If nil, a default client will be created.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:    DefaultBackoff(),
		HTTPClient: nil, // Will be created by Uploader
	}
}

// DefaultHTTPClient creates an HTTP client for part uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// Timeouts are left to the transport
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        128,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
