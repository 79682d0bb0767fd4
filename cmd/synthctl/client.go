package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"otcswap/services/synthd/api"
)

const requestTimeout = 15 * time.Second

type client struct {
	endpoint string
	http     *http.Client
}

func newClient(endpoint string) *client {
	return &client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// apiError is a non-2xx synthd response.
type apiError struct {
	Status int
	Body   api.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Body.Codespace != "" {
		return fmt.Sprintf("synthd %d: %s (%s/%d)", e.Status, e.Body.Error, e.Body.Codespace, e.Body.Code)
	}
	return fmt.Sprintf("synthd %d: %s", e.Status, e.Body.Error)
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token)) }
}

func withIdempotencyKey(key string) requestOption {
	return func(r *http.Request) {
		if strings.TrimSpace(key) != "" {
			r.Header.Set("Idempotency-Key", key)
		}
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any, opts ...requestOption) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	target := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(payload, &apiErr.Body); err != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(payload))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "%v\n", v)
		return
	}
	fmt.Fprintln(w, string(pretty))
}
