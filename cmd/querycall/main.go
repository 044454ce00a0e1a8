// querycall runs a single query or transaction against a deployment and
// prints the result as JSON.
//
// Usage:
//
//	go run ./cmd/querycall -address https://example.convex.cloud -query listMessages -args '{"channel":"general"}'
//	go run ./cmd/querycall -address https://example.convex.cloud -transaction sendMessage -args '{"body":"hi"}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/livequery/internal/api"
	"github.com/rickgao/livequery/internal/values"
	"github.com/rickgao/livequery/internal/version"
)

type options struct {
	address     string
	query       string
	transaction string
	args        string
	timeout     time.Duration
	verbose     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.address, "address", os.Getenv("LIVEQUERY_ADDRESS"), "deployment address (http:// or https://)")
	flag.StringVar(&opts.query, "query", "", "query function to run")
	flag.StringVar(&opts.transaction, "transaction", "", "transaction function to run")
	flag.StringVar(&opts.args, "args", "{}", "function arguments as JSON")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	flag.BoolVar(&opts.verbose, "verbose", false, "log function output and request details")
	flag.Parse()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer, logger *slog.Logger) error {
	if opts.address == "" {
		return errors.New("-address is required")
	}
	if (opts.query == "") == (opts.transaction == "") {
		return errors.New("exactly one of -query and -transaction is required")
	}

	args, err := values.Unmarshal([]byte(opts.args))
	if err != nil {
		return fmt.Errorf("parse -args: %w", err)
	}

	c := api.NewClient(opts.address,
		api.WithLogger(logger),
		api.WithTimeout(opts.timeout),
		api.WithUserAgent(version.UserAgent("querycall")),
	)

	var result any
	if opts.query != "" {
		res, err := c.Query(ctx, opts.query, args)
		if err != nil {
			return err
		}
		logger.Debug("query complete", "token", res.Token)
		result = res.Value
	} else {
		result, err = c.Transaction(ctx, opts.transaction, args)
		if err != nil {
			return err
		}
	}

	encoded, err := values.Encode(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(encoded)
}
