package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/igoprotect/delegation/internal/lib/misc"
)

func GetDaemonCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Aliases: []string{"d"},
		Usage:   "Run the application as a daemon - reconciling marketplace state and servicing the contracts of ads this account manages",
		Before:  needAccount,
		Action:  runAsDaemon,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Reconciliation interval.  Derived from the average block time when not set",
			},
			&cli.FloatFlag{
				Name:  "block-fraction",
				Usage: "Fraction of the average block time to reconcile at when --interval isn't set",
				Value: 1,
			},
			&cli.StringFlag{
				Name:    "metrics",
				Usage:   "Address to serve prometheus metrics on (ie: :8080).  Metrics aren't served when empty",
				Sources: cli.EnvVars("IGO_METRICS_ADDR"),
			},
		},
	}
}

func runAsDaemon(ctx context.Context, cmd *cli.Command) error {
	var wg sync.WaitGroup

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(context.Background())

	if addr := cmd.String("metrics"); addr != "" {
		serveMetrics(ctx, &wg, addr, errc)
	}

	watched, err := LoadWatchList()
	if err != nil {
		misc.Warnf(App.logger, "unable to load watch list, continuing w/out it: %v", err)
		watched = &WatchList{}
	}

	newDaemon(cmd.Duration("interval"), cmd.Float("block-fraction"), watched).start(ctx, &wg)

	misc.Infof(App.logger, "exiting (%v)", <-errc) // wait for termination signal

	// Send cancellation signal to the goroutines.
	cancel()
	misc.Infof(App.logger, "waiting on background tasks..")
	wg.Wait()

	misc.Infof(App.logger, "exited")
	return nil
}

func serveMetrics(ctx context.Context, wg *sync.WaitGroup, addr string, errc chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		misc.Infof(App.logger, "serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errc <- fmt.Errorf("metrics server: %w", err):
			case <-ctx.Done():
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
