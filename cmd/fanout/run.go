package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/fanout"
	"github.com/jpalmerr/fanout/config"
	"github.com/jpalmerr/fanout/dashboard"
	"github.com/jpalmerr/fanout/internal/poller"
	"github.com/jpalmerr/fanout/internal/server"
	"github.com/jpalmerr/fanout/internal/store"
	"github.com/jpalmerr/fanout/loop"
)

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of requests",
	Long: `Run every request in a batch file and print one line per result.

A batch with no intervals exits once every request has finished. A batch
with intervals keeps resubmitting until interrupted (Ctrl+C) or SIGTERM.
With --listen the live results page stays up until interrupted.

Flags override the matching batch file settings.

Exit codes:
  0 - Every request finished and none was down
  1 - The batch was invalid, or at least one request was down

Example:
  fanout run -c batch.yaml
  fanout run -c batch.yaml --concurrency 4 --db results.db --listen :8080`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringP("config", "c", "", "path to batch file (required)")
	f.Int("concurrency", 0, "maximum requests in flight")
	f.Duration("timeout", 0, "default per-request timeout, 0 disables it")
	f.String("proxy", "", "default proxy URL")
	f.Int("max-redirects", 0, "default redirect cap, 0 disables following")
	f.Bool("debug", false, "log every transfer")
	f.Bool("insecure", false, "skip TLS certificate verification")
	f.Duration("dns-cache-ttl", 0, "cache resolved hosts for this long")
	f.String("db", "", "append results to this SQLite database")
	f.String("listen", "", "serve the live results page on this address")
	_ = runCmd.MarkFlagRequired("config")
}

// applyFlags copies explicitly set flags over the batch file values.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("concurrency") {
		cfg.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("timeout") {
		d, _ := f.GetDuration("timeout")
		t := config.Duration(d)
		cfg.Timeout = &t
	}
	if f.Changed("proxy") {
		cfg.Proxy, _ = f.GetString("proxy")
	}
	if f.Changed("max-redirects") {
		cfg.MaxRedirects, _ = f.GetInt("max-redirects")
	}
	if f.Changed("debug") {
		cfg.Debug, _ = f.GetBool("debug")
	}
	if f.Changed("insecure") {
		cfg.InsecureSkipVerify, _ = f.GetBool("insecure")
	}
	if f.Changed("dns-cache-ttl") {
		d, _ := f.GetDuration("dns-cache-ttl")
		cfg.DNSCacheTTL = config.Duration(d)
	}
	if f.Changed("db") {
		cfg.DB, _ = f.GetString("db")
	}
	if f.Changed("listen") {
		cfg.Listen, _ = f.GetString("listen")
	}
}

// printer writes one line per result.
func printer(w io.Writer) store.Recorder {
	return store.RecorderFunc(func(r store.Result) error {
		line := fmt.Sprintf("%-8s %3d %6dms  %s %s  %s", r.Status, r.StatusCode, r.ResponseTimeMs, r.Method, r.URL, r.Name)
		if r.Error != nil {
			line += "  error=" + *r.Error
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
}

func runBatch(cmd *cobra.Command, args []string) (err error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)

	logger := newLogger(cmd.ErrOrStderr(), cfg.Debug)

	jobs, err := config.BuildJobs(cfg)
	if err != nil {
		return fmt.Errorf("failed to build requests: %w", err)
	}
	logger.Info("config loaded",
		"requests", len(cfg.Requests),
		"grids", len(cfg.Grids),
		"total", len(jobs),
		"concurrency", cfg.Concurrency,
	)

	l, err := loop.New(loop.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create event loop: %w", err)
	}
	defer func() { err = multierr.Append(err, l.Close()) }()

	reg := prometheus.NewRegistry()
	opts := append(config.ClientOptions(cfg), fanout.WithLogger(logger), fanout.WithMetrics(reg))
	client, err := fanout.New(l, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	results := store.NewMemoryStore()
	recorders := []store.Recorder{results, printer(cmd.OutOrStdout())}
	if cfg.DB != "" {
		db, dbErr := store.OpenSQLite(cfg.DB)
		if dbErr != nil {
			_ = client.Close()
			return fmt.Errorf("failed to open database: %w", dbErr)
		}
		defer func() { err = multierr.Append(err, db.Close()) }()
		recorders = append(recorders, db)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched, err := poller.NewScheduler(client, l, jobs, store.Tee(recorders...),
		poller.WithLogger(logger),
		poller.WithOnDone(func(sum poller.Summary) {
			logger.Info("batch finished", "up", sum.Up, "degraded", sum.Degraded, "down", sum.Down, "unknown", sum.Unknown)
			if cfg.Listen == "" {
				cancel()
			}
		}),
	)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Listen != "" {
		srv := server.NewServer(results, server.Config{
			Addr:     cfg.Listen,
			Title:    cfg.Title,
			Assets:   dashboard.Assets,
			Gatherer: reg,
			Logger:   logger,
		})
		if err := srv.Start(gctx); err != nil {
			_ = client.Close()
			return err
		}
		logger.Info("serving results", "addr", srv.Addr())
		g.Go(func() error {
			<-srv.Done()
			return nil
		})
	}

	if err := l.Submit(sched.Start); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g.Go(func() error {
		runErr := l.Run(gctx)
		// the loop has returned, so the scheduler and client are safe to
		// touch from this goroutine
		sched.Stop()
		return multierr.Append(runErr, client.Close())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	sum := sched.Summary()
	if sum.Down > 0 {
		return fmt.Errorf("%d of %d requests down", sum.Down, sum.Total())
	}
	return nil
}
