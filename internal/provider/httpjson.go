package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StatusError is returned by GetJSON for non-2xx answers.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s -> %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s -> %d: %s", e.URL, e.StatusCode, e.Body)
}

// GetJSON performs an uncached GET and decodes a JSON body into out.
// Errors carry host and path only; query strings may hold API keys.
func GetJSON(ctx context.Context, c HTTPClient, rawURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	NoCache(req)

	res, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{URL: req.URL.Host + req.URL.Path, StatusCode: res.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
