package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"edgemesh/pkg/fabricerr"
)

// baseURL validates endpoint and turns it into an http URL.
func baseURL(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("%w: empty server endpoint", fabricerr.ErrConfiguration)
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return strings.TrimRight(endpoint, "/"), nil
}

// doJSON sends body as JSON (when not nil) and decodes a 2xx reply into out
// (when not nil). Error replies are mapped back to their sentinel.
func doJSON(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("%w: create %s request: %v", fabricerr.ErrConfiguration, method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", fabricerr.ErrTransport, method, url, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s reply: %v", fabricerr.ErrMalformedMessage, url, err)
	}
	return nil
}

// checkStatus turns a non-2xx reply into an error.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env envelope
	if err := json.Unmarshal(b, &env); err == nil && env.Code != "" {
		if sentinel := fabricerr.FromCode(env.Code); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, env.Error)
		}
		return fmt.Errorf("%w: server error %s: %s", fabricerr.ErrTransport, env.Code, env.Error)
	}
	return fmt.Errorf("%w: status %d: %s", fabricerr.ErrTransport, resp.StatusCode, strings.TrimSpace(string(b)))
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
