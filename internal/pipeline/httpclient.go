package pipeline

import (
	"net/http"
	"time"
)

// DefaultPoolSize is the idle connection budget per backend host.
const DefaultPoolSize = 16

// NewPooledHTTPClient creates an http.Client that keeps poolSize idle
// connections per backend host.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}
