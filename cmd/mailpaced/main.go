package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailpace/internal/app"
	"mailpace/internal/config"
	"mailpace/internal/metrics"
)

// main launches mailpaced.
func main() {
	os.Exit(run())
}

// run executes mailpaced and returns an exit code.
func run() int {
	configPath := flag.String("config", config.ConfigPath("."), "path to mailpace config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		return 1
	}
	defer a.Close()
	log := a.Logger.Named("mailpaced")

	d, err := a.Dispatcher(nil)
	if err != nil {
		log.Error("build dispatcher", zap.Error(err))
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("/metrics", metrics.Handler(a.Registry))

	server := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		newPoller(a.Store, d, log, cfg.Dispatch.PollInterval).run(pollCtx)
		close(done)
	}()
	log.Info("mailpaced started",
		zap.String("listen_addr", cfg.Metrics.ListenAddr),
		zap.String("quota_backend", cfg.Quota.Backend))

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
		code = 1
	}

	cancelPoll()
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	return code
}
