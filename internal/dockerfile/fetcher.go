package dockerfile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ScriptFetcher resolves a script given by URL.
type ScriptFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ScriptFetchError reports a remote script that could not be obtained.
// StatusCode is zero when the request itself failed.
type ScriptFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ScriptFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to obtain script from %s (HTTP status: %d)", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("failed to obtain script from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to obtain script from %s", e.URL)
}

func (e *ScriptFetchError) Unwrap() error {
	return e.Err
}

const defaultMaxScriptBytes = 1 << 20

type HTTPScriptFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPScriptFetcher(timeout time.Duration) *HTTPScriptFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScriptFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: defaultMaxScriptBytes,
	}
}

func (f *HTTPScriptFetcher) Fetch(ctx context.Context, url string) (string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = defaultMaxScriptBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &ScriptFetchError{URL: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &ScriptFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &ScriptFetchError{URL: url, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", &ScriptFetchError{URL: url, Err: err}
	}
	if int64(len(body)) > limit {
		return "", &ScriptFetchError{URL: url, Err: fmt.Errorf("script exceeds %d bytes", limit)}
	}
	return string(body), nil
}

func isScriptURL(script string) bool {
	return strings.HasPrefix(script, "https://") || strings.HasPrefix(script, "http://")
}
