package rpc

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"edgemesh/pkg/routing"
)

const defaultControlTimeout = 3 * time.Second

// ControlClient configures the routing tables of one router.
type ControlClient struct {
	baseURL string
	client  *http.Client
}

// NewControlClient fails with ErrConfiguration when endpoint is empty.
func NewControlClient(endpoint string) (*ControlClient, error) {
	u, err := baseURL(endpoint)
	if err != nil {
		return nil, err
	}
	return &ControlClient{
		baseURL: u,
		client: &http.Client{
			Timeout: defaultControlTimeout,
		},
	}, nil
}

// NumTables returns how many routing tables the router has.
func (c *ControlClient) NumTables(ctx context.Context) (int, error) {
	var tc TableCount
	if err := doJSON(ctx, c.client, http.MethodGet, c.baseURL+"/api/tables", nil, &tc); err != nil {
		return 0, fmt.Errorf("get number of tables: %w", err)
	}
	return tc.Count, nil
}

// Table returns the content of table i. A table that does not exist is
// returned empty.
func (c *ControlClient) Table(ctx context.Context, i int) (routing.Snapshot, error) {
	var entries []TableEntry
	if err := doJSON(ctx, c.client, http.MethodGet, c.baseURL+"/api/tables/"+strconv.Itoa(i), nil, &entries); err != nil {
		return nil, fmt.Errorf("get table %d: %w", i, err)
	}
	return Snapshot(entries), nil
}

// Dump renders every table, each preceded by a Table#<i> line.
func (c *ControlClient) Dump(ctx context.Context) (string, error) {
	n, err := c.NumTables(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 0; i < n; i++ {
		snap, err := c.Table(ctx, i)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Table#%d\n", i)
		if err := routing.Dump(&b, snap); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func (c *ControlClient) Change(ctx context.Context, function, destination string, weight float64, final bool) error {
	return c.configure(ctx, ConfigureRequest{
		Action:      ActionChange,
		Function:    function,
		Destination: destination,
		Weight:      weight,
		Final:       final,
	})
}

func (c *ControlClient) Remove(ctx context.Context, function, destination string) error {
	return c.configure(ctx, ConfigureRequest{Action: ActionRemove, Function: function, Destination: destination})
}

func (c *ControlClient) Flush(ctx context.Context) error {
	return c.configure(ctx, ConfigureRequest{Action: ActionFlush})
}

// Reset sets every weight of every table to 1. Each (function, destination)
// pair is changed once, with the final flag of the first table holding it.
func (c *ControlClient) Reset(ctx context.Context) error {
	n, err := c.NumTables(ctx)
	if err != nil {
		return err
	}

	type pair struct{ function, destination string }
	done := make(map[pair]struct{})
	for i := 0; i < n; i++ {
		snap, err := c.Table(ctx, i)
		if err != nil {
			return err
		}
		for _, e := range Entries(snap) {
			p := pair{e.Function, e.Destination}
			if _, ok := done[p]; ok {
				continue
			}
			done[p] = struct{}{}
			if err := c.Change(ctx, e.Function, e.Destination, 1, e.Final); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *ControlClient) configure(ctx context.Context, req ConfigureRequest) error {
	if err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/api/table", req, nil); err != nil {
		return fmt.Errorf("%s: %w", req.Action, err)
	}
	return nil
}
