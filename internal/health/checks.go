package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Pinger is anything with a Ping method, such as the redis-backed rate
// limit store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes a Pinger dependency.
func PingCheck(pinger Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return pinger.Ping(ctx)
	}
}

// HTTPCheck probes an HTTP dependency with a GET request. Any response
// below 500 counts as reachable: policy engines answer 404 on their root
// path, which still proves the service is up.
func HTTPCheck(url string, client *http.Client) CheckFunc {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}
