package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/dustwatch/internal/models"
)

// Source is one upstream provider of readings.
type Source interface {
	Name() string
	Weight() float64
	Enabled() bool
	Fetch(ctx context.Context, loc models.Location) (*models.Reading, error)
}

// StatusError is returned for non-2xx responses that are not retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	return string(b[:maxErrorBody]) + "...(truncated)"
}

// retryable reports whether a status is worth retrying. Providers answer
// throttled keys with 401/403 as well as 429.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusForbidden || status == http.StatusUnauthorized
}

// getJSON fetches url and decodes the response into v, retrying throttled
// responses with exponential backoff until ctx is done.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch: %w", err))
		}
		defer resp.Body.Close()

		if retryable(resp.StatusCode) {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: truncateBody(b)})
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// coarse estimates the coarse particle fraction from PM10 and PM2.5, used as
// a dust proxy by providers that do not report dust directly.
func coarse(pm10, pm25 *float64) *float64 {
	if pm10 == nil || pm25 == nil {
		return nil
	}
	v := max(0, *pm10-*pm25)
	return &v
}
