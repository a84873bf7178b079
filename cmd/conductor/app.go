// ABOUTME: Wires config into live components: logger, backend client, history cache, channel, and session.
// ABOUTME: Also runs the optional Prometheus metrics listener for the lifetime of a command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/channel"
	"github.com/2389-research/conductor/config"
	"github.com/2389-research/conductor/history"
	"github.com/2389-research/conductor/logging"
	"github.com/2389-research/conductor/metrics"
	"github.com/2389-research/conductor/session"
)

// app is the set of components one command invocation uses.
type app struct {
	cfg       config.Config
	log       *logging.Logger
	client    *backend.Client
	cache     *history.Cache
	refresher *history.Refresher

	stopMetrics func()
}

// newApp builds the components for cfg. console receives text logs; nil
// sends logs only to the file, if enabled.
func newApp(ctx context.Context, cfg config.Config, console io.Writer, forceFile bool) (*app, error) {
	logOpts := logging.Options{Level: cfg.LogLevel, Console: console}
	if cfg.LogFile || forceFile {
		logOpts.FilePath = cfg.LogFilePath()
	}
	lg, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	client, err := backend.NewClient(cfg.BackendURL,
		backend.WithTimeout(cfg.RequestTimeout),
		backend.WithLogger(lg.Logger),
		backend.WithHeader("User-Agent", "conductor/"+version),
	)
	if err != nil {
		_ = lg.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: lg, client: client, stopMetrics: func() {}}
	if cfg.HistoryCache {
		cache, err := history.OpenCache(cfg.HistoryDBPath())
		if err != nil {
			// history still works uncached
			lg.Warn("history cache unavailable", "path", cfg.HistoryDBPath(), "error", err)
		} else {
			a.cache = cache
		}
	}
	a.refresher = &history.Refresher{Source: client, Cache: a.cache, Logger: lg.Logger}

	if cfg.MetricsAddr != "" {
		a.stopMetrics = serveMetrics(ctx, cfg.MetricsAddr, lg.Logger)
	}
	return a, nil
}

// startSession opens the channel and starts a session bound to ctx.
func (a *app) startSession(ctx context.Context) (*session.Session, error) {
	ch := channel.New(channel.Options{
		URL:         a.cfg.SocketURL,
		Reconnect:   a.cfg.Reconnect,
		MaxInterval: a.cfg.ReconnectMaxInterval,
		Logger:      a.log.Logger,
	})
	s, err := session.New(ctx, session.Options{
		API:            a.client,
		Channel:        ch,
		History:        a.refresher,
		PollInterval:   a.cfg.PollInterval,
		RequestTimeout: a.cfg.RequestTimeout,
		Logger:         a.log.Logger,
	})
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the cache, the metrics listener, and the log file.
func (a *app) Close() error {
	a.stopMetrics()
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	errs = append(errs, a.log.Close())
	return errors.Join(errs...)
}

// serveMetrics exposes /metrics on addr until ctx is done or the returned
// stop func is called.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// withApp loads config, builds the app, runs fn, and closes everything.
func withApp(ctx context.Context, opts *globalOptions, console io.Writer, forceFile bool, fn func(*app) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, console, forceFile)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

func describeRun(id string, resp backend.RunResponse) string {
	s := fmt.Sprintf("%s: %s", id, resp.RunMethod)
	if resp.URL != "" {
		s += " at " + resp.URL
	}
	if resp.Message != "" {
		s += " (" + resp.Message + ")"
	}
	return s
}
