// Command spotengine runs the candle-driven spot trading engine.
//
// Usage:
//
//	spotengine [-config overlay.yaml] [-env .env]
//
// Required environment variables:
//
//	API_KEY, API_SECRET, PASSWORD, PAIRS_CFG
//
// The process exits with code 42 when the watchdog detects that the engine
// stopped making progress, so that an external supervisor can restart it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vadiminshakov/spotengine/config"
	"github.com/vadiminshakov/spotengine/internal"
	"github.com/vadiminshakov/spotengine/internal/clients"
	"github.com/vadiminshakov/spotengine/internal/notify"
	"github.com/vadiminshakov/spotengine/internal/progress"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
	"github.com/vadiminshakov/spotengine/internal/storage/journal"
	"github.com/vadiminshakov/spotengine/internal/storage/statestore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	restartDelay  = 10 * time.Second
	watchdogEvery = 5 * time.Second
)

func main() {
	flags, err := config.ParseFlags(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogDev)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, progress.ErrStale) {
			logger.Error("Engine is stale, exiting", zap.Error(err))
			logger.Sync()
			os.Exit(progress.StaleExitCode)
		}
		if !errors.Is(err, context.Canceled) {
			logger.Fatal("Engine stopped", zap.Error(err))
		}
	}
	logger.Info("Engine shut down")
}

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	client := clients.NewBinanceClient(cfg.Credentials.APIKey, cfg.Credentials.APISecret, cfg.Testnet)
	services, err := internal.NewServices(cfg, client, logger)
	if err != nil {
		return err
	}

	statePath := cfg.StateFile
	if cfg.DryRun {
		statePath = statestore.DryRunPath(statePath)
	}
	store := statestore.New(statePath, cfg.BackupDir, cfg.BackupRetention, logger)

	trades, err := journal.NewWALStore(cfg.JournalDir)
	if err != nil {
		return errors.Wrap(err, "open trade journal")
	}
	defer trades.Close()
	logger.Info("Trade journal opened", zap.String("dir", cfg.JournalDir), zap.Uint64("last_index", trades.CurrentIndex()))

	notifier := notify.New(cfg.WebhookURL, logger)
	clock := progress.SystemClock{}
	reporter := progress.NewReporter(clock)
	heartbeat := progress.NewHeartbeat(cfg.HeartbeatFile, cfg.HeartbeatInterval, clock, logger)
	watchdog := progress.NewWatchdog(reporter, cfg.StaleLimit(), watchdogEvery)

	opts := internal.Options{
		Services:  services,
		Store:     store,
		Journal:   trades,
		Notifier:  notifier,
		Clock:     clock,
		Reporter:  reporter,
		Heartbeat: heartbeat,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervise(gctx, cfg, opts, logger)
	})

	g.Go(func() error {
		err := watchdog.Run(gctx)
		if errors.Is(err, progress.ErrStale) {
			stale := reporter.Since()
			// detached context: gctx is cancelled as soon as this goroutine returns
			notifier.Notify(context.Background(), notify.EventStaleExit, notify.Fields{
				"stale_sec":     int(stale.Seconds()),
				"max_stale_sec": int(watchdog.Limit().Seconds()),
				"code":          progress.StaleExitCode,
			})
		}
		return err
	})

	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr)
		g.Go(func() error {
			logger.Info("Serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// supervise runs the engine and restarts it after an unexpected failure.
func supervise(ctx context.Context, cfg config.Config, opts internal.Options, logger *zap.Logger) error {
	for {
		err := runEngine(ctx, cfg, opts, logger)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, exchange.ErrUnknownSymbol) {
			return err
		}

		logger.Error(fmt.Sprintf("Engine crashed, restarting in %s", restartDelay), zap.Error(err))
		opts.Notifier.Notify(ctx, notify.EventCrash, notify.Fields{
			"error": err.Error(),
			"trace": fmt.Sprintf("%+v", err),
		})
		opts.Notifier.Notify(ctx, notify.EventAutoRestart, notify.Fields{
			"delay_sec": int(restartDelay.Seconds()),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartDelay):
		}
	}
}

func runEngine(ctx context.Context, cfg config.Config, opts internal.Options, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	bot, err := internal.NewTradingBot(cfg, opts, logger)
	if err != nil {
		return err
	}
	if err := bot.Start(ctx); err != nil {
		return err
	}
	if err := bot.Run(ctx); err != nil {
		return err
	}
	return errors.New("engine loop returned")
}
