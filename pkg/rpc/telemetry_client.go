package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/telemetry"
)

const maxUtilLine = 1 << 20

// TelemetryClient subscribes to the utilization stream of a node.
type TelemetryClient struct {
	url    string
	client *http.Client
}

func NewTelemetryClient(endpoint string) (*TelemetryClient, error) {
	u, err := baseURL(endpoint)
	if err != nil {
		return nil, err
	}
	// no timeout: the stream lives as long as ctx
	return &TelemetryClient{url: u + "/api/util/stream", client: &http.Client{}}, nil
}

// Stream calls fn for every snapshot received. Malformed lines are logged
// and skipped. It returns nil when ctx ends, the error of fn if fn fails,
// and an ErrTransport error when the stream breaks.
func (c *TelemetryClient) Stream(ctx context.Context, fn func(telemetry.Snapshot) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: create stream request: %v", fabricerr.ErrConfiguration, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: open stream: %v", fabricerr.ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), maxUtilLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg UtilMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("skipping malformed utilization message", "error", fmt.Errorf("%w: %v", fabricerr.ErrMalformedMessage, err))
			continue
		}
		if err := fn(telemetry.Snapshot(msg.Values)); err != nil {
			return err
		}
	}

	if ctx.Err() != nil || isContextErr(sc.Err()) {
		return nil
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: read stream: %v", fabricerr.ErrTransport, err)
	}
	return fmt.Errorf("%w: stream closed by server", fabricerr.ErrTransport)
}
