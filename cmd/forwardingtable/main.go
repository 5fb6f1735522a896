// Command forwardingtable inspects and changes the routing tables of edge
// routers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"edgemesh/pkg/cluster"
	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/rpc"
)

type options struct {
	endpoint    string
	action      string
	lambda      string
	destination string
	weight      float64
	final       bool
	zkServers   string
	zkRoot      string
	timeout     time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.endpoint, "server-endpoint", "localhost:6474", "control endpoint of the router")
	flag.StringVar(&opts.action, "action", "dump", "one of: dump, reset, flush, change, remove")
	flag.StringVar(&opts.lambda, "lambda", "", "function name, with change and remove")
	flag.StringVar(&opts.destination, "destination", "", "destination endpoint, with change and remove")
	flag.Float64Var(&opts.weight, "weight", 1, "route weight, with change")
	flag.BoolVar(&opts.final, "final", false, "the destination executes the function, with change")
	flag.StringVar(&opts.zkServers, "zk", "", "comma-separated ZooKeeper servers: apply to every registered router instead of -server-endpoint")
	flag.StringVar(&opts.zkRoot, "zk-root", "/edgemesh", "ZooKeeper root path of the registry")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	endpoints := []string{opts.endpoint}
	if opts.zkServers != "" {
		membership, err := cluster.NewZKMembership(strings.Split(opts.zkServers, ","), opts.zkRoot, "")
		if err != nil {
			return err
		}
		defer membership.Close()
		if endpoints, err = membership.Routers(); err != nil {
			return err
		}
		if len(endpoints) == 0 {
			return fmt.Errorf("%w: no router registered under %s", fabricerr.ErrConfiguration, opts.zkRoot)
		}
	}

	var errs []error
	for _, ep := range endpoints {
		if len(endpoints) > 1 {
			fmt.Fprintf(out, "# %s\n", ep)
		}
		if err := apply(ctx, ep, opts, out); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
		}
	}
	return errors.Join(errs...)
}

func apply(ctx context.Context, endpoint string, opts options, out io.Writer) error {
	client, err := rpc.NewControlClient(endpoint)
	if err != nil {
		return err
	}

	switch opts.action {
	case "dump":
		dump, err := client.Dump(ctx)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, dump)
		return err
	case "reset":
		err = client.Reset(ctx)
	case "flush":
		err = client.Flush(ctx)
	case "change":
		if opts.lambda == "" || opts.destination == "" {
			return fmt.Errorf("%w: change needs -lambda and -destination", fabricerr.ErrConfiguration)
		}
		err = client.Change(ctx, opts.lambda, opts.destination, opts.weight, opts.final)
	case "remove":
		if opts.lambda == "" || opts.destination == "" {
			return fmt.Errorf("%w: remove needs -lambda and -destination", fabricerr.ErrConfiguration)
		}
		err = client.Remove(ctx, opts.lambda, opts.destination)
	default:
		return fmt.Errorf("%w: unknown action %q", fabricerr.ErrConfiguration, opts.action)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, "OK")
	return err
}
