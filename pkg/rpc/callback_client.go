package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"edgemesh/pkg/callback"
	"edgemesh/pkg/compression"
	"edgemesh/pkg/fabricerr"
)

const defaultCallbackTimeout = 3 * time.Second

// CallbackClient delivers asynchronous results to a callback endpoint.
// Bodies larger than the threshold are sent zstd-compressed.
type CallbackClient struct {
	url       string
	client    *http.Client
	threshold int
}

// NewCallbackClient fails with ErrConfiguration when endpoint is empty.
// A threshold <= 0 disables compression.
func NewCallbackClient(endpoint string, threshold int) (*CallbackClient, error) {
	u, err := baseURL(endpoint)
	if err != nil {
		return nil, err
	}
	return &CallbackClient{
		url:       u + "/api/callback",
		client:    &http.Client{Timeout: defaultCallbackTimeout},
		threshold: threshold,
	}, nil
}

func (c *CallbackClient) Deliver(ctx context.Context, res callback.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	enc := compression.Identity
	if c.threshold > 0 && len(body) > c.threshold {
		enc = compression.Zstd
		if body, err = compression.Encode(enc, body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create callback request: %v", fabricerr.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if enc != compression.Identity {
		req.Header.Set("Content-Encoding", string(enc))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: deliver result %s: %v", fabricerr.ErrTransport, res.ID, err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}
