package speech

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wardline/voice-orchestrator/internal/logging"
)

// PostWithRetries posts body to url with bounded retry/backoff and returns
// the response. Caller must close resp.Body. Each attempt gets its own
// timeout derived from timeoutMs.
func PostWithRetries(ctx context.Context, client *http.Client, url, contentType string, body []byte, authToken string, timeoutMs, attempts int, correlationID string) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		req, rerr := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if rerr != nil {
			cancel()
			return nil, rerr
		}
		req.Header.Set("Content-Type", contentType)
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		if correlationID != "" {
			req.Header.Set("X-Correlation-ID", correlationID)
		}

		resp, err := client.Do(req)
		cancel()
		if err != nil {
			logging.Debugw("post attempt failed", "url", url, "attempt", i+1, "err", err.Error(), "correlation_id", correlationID)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if i < attempts-1 {
				time.Sleep(time.Duration(200*(1<<i)) * time.Millisecond)
				continue
			}
			return nil, err
		}
		if resp.StatusCode >= 500 && i < attempts-1 {
			resp.Body.Close()
			logging.Warnw("provider server error, retrying", "url", url, "status", resp.StatusCode, "attempt", i+1, "correlation_id", correlationID)
			time.Sleep(time.Duration(200*(1<<i)) * time.Millisecond)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("no response after %d attempts", attempts)
}
