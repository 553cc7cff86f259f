// Package fetcher gathers price samples from heterogeneous upstream sources.
//
// Sources come in two behavioral classes: exchange tickers that answer fast
// and can run on the caller's goroutine, and market-data endpoints that are
// slow enough to be treated as blocking and isolated on a worker pool so one
// stalled call cannot delay the rest of the batch or the next cycle.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kalyro/vigil/internal/models"
)

// Adapter retrieves one price sample for one instrument from one upstream
// provider. The orchestrator does not care which concrete source it is
// calling, only whether the call belongs on the blocking worker pool.
type Adapter interface {
	Fetch(ctx context.Context, inst models.Instrument) (models.PriceSample, error)
	Blocking() bool
}

// httpGet performs a GET with linear-backoff retry on network errors and
// 5xx responses. Backoff sleeps honor ctx cancellation.
func httpGet(ctx context.Context, client *http.Client, url string, maxRetries int, delayBase time.Duration) ([]byte, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(delayBase * time.Duration(i)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "vigil/1.0")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
		}
		return body, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
