package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HealthProber checks whether the ordering backend is ready before the
// stream connects.
type HealthProber struct {
	healthURL  string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHealthProber probes {restBaseURL}/health with the given per-request
// timeout (2s when zero).
func NewHealthProber(restBaseURL string, timeout time.Duration) *HealthProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthProber{
		healthURL:  strings.TrimRight(restBaseURL, "/") + "/health",
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// IsBackendHealthy issues one bounded GET and reports a 2xx answer. Errors
// and timeouts are reported as unhealthy.
func (hp *HealthProber) IsBackendHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, hp.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hp.healthURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hp.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WaitForBackend probes every pollInterval until the backend is healthy,
// maxWait elapses or ctx is done, and returns the last result.
func (hp *HealthProber) WaitForBackend(ctx context.Context, maxWait, pollInterval time.Duration) bool {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		if hp.IsBackendHealthy(ctx) {
			return true
		}
	}
}
