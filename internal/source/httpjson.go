package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// httpJSONClient is the shared plumbing for the plain-HTTP providers: one
// http.Client with a hard timeout, default headers, and a token-bucket rate
// limiter so a burst of jobs cannot trip a provider's abuse protection.
type httpJSONClient struct {
	httpClient *http.Client
	headers    map[string]string
	limiter    *rate.Limiter
}

func newHTTPJSONClient(timeout time.Duration, ratePerSecond float64) *httpJSONClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	return &httpJSONClient{
		httpClient: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"Accept":     "application/json",
			"User-Agent": "marketlens/1.0",
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}
}

// getJSON performs a rate-limited GET and unmarshals the JSON body into out.
func (c *httpJSONClient) getJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unparseable response from %s: %w", url, err)
	}
	return nil
}

// get performs a rate-limited GET and returns the raw body.
func (c *httpJSONClient) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http %d from %s: %s", resp.StatusCode, url, string(body))
	}

	return io.ReadAll(resp.Body)
}
