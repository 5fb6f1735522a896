package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"edgemesh/pkg/fabricerr"
)

const defaultLambdaTimeout = 5 * time.Second

// HTTPClient sends lambda requests to other nodes over POST /api/lambda.
// It serves both as Remote, towards routers, and as Executor, towards
// final destinations.
type HTTPClient struct {
	httpClient *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultLambdaTimeout
	}
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) Invoke(ctx context.Context, destination string, req Request) (Response, error) {
	return c.post(ctx, destination, req)
}

func (c *HTTPClient) Execute(ctx context.Context, destination string, req Request) (Response, error) {
	return c.post(ctx, destination, req)
}

func (c *HTTPClient) post(ctx context.Context, destination string, lreq Request) (Response, error) {
	if destination == "" {
		return Response{}, fmt.Errorf("%w: empty destination", fabricerr.ErrConfiguration)
	}
	body, err := json.Marshal(lreq)
	if err != nil {
		return Response{}, fmt.Errorf("encode lambda request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, BaseURL(destination)+"/api/lambda", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: create POST request: %v", fabricerr.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: POST %s: %v", fabricerr.ErrTransport, destination, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		b, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("%w: %s rejected request: %s", fabricerr.ErrMalformedMessage, destination, strings.TrimSpace(string(b)))
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("%w: POST %s failed with status %d: %s", fabricerr.ErrTransport, destination, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("%w: decode response from %s: %v", fabricerr.ErrTransport, destination, err)
	}
	return out, nil
}

// BaseURL turns a host:port endpoint into an http URL. Endpoints that
// already carry a scheme are returned without trailing slash.
func BaseURL(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/")
	}
	return "http://" + strings.TrimRight(endpoint, "/")
}
