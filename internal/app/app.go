// Package app assembles the storage, quota backend, transport, logger and
// metrics a mailpace process runs with.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailpace/internal/account"
	"mailpace/internal/backend"
	duckdbbackend "mailpace/internal/backend/duckdb"
	"mailpace/internal/backend/file"
	"mailpace/internal/backend/memory"
	redisbackend "mailpace/internal/backend/redis"
	"mailpace/internal/config"
	"mailpace/internal/dispatch"
	"mailpace/internal/logger"
	"mailpace/internal/mailer"
	"mailpace/internal/metrics"
	"mailpace/internal/model"
	"mailpace/internal/storage"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    *storage.Store
	Backend  backend.Backend

	sender  mailer.Sender
	closers []func() error
}

// Options overrides pieces Open would otherwise build from the config.
type Options struct {
	Logger *zap.Logger
}

// Open builds every dependency described by cfg.
func Open(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		var err error
		log, err = logger.New(cfg.Log.Env, cfg.Log.Level)
		if err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(metrics.Options{Registerer: reg})
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: reg,
		Metrics:  m,
		Store:    store,
		sender:   BuildSender(cfg, log),
	}
	a.closers = append(a.closers, store.Close)

	b, closeBackend, err := BuildBackend(cfg, store.DB())
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if closeBackend != nil {
		a.closers = append(a.closers, closeBackend)
	}
	a.Backend = metrics.InstrumentBackend(b, m)
	return a, nil
}

// BuildBackend constructs the quota backend selected by cfg. The returned
// closer is nil when the backend holds no resources of its own.
func BuildBackend(cfg config.Config, db *sql.DB) (backend.Backend, func() error, error) {
	opts := backend.Options{Timeout: cfg.Quota.LockTimeout, PollInterval: cfg.Quota.PollInterval}
	switch cfg.Quota.Backend {
	case config.BackendMemory:
		return memory.New(opts), nil, nil
	case config.BackendFile, "":
		fileMode, err := config.ParseMode(cfg.Quota.FileMode)
		if err != nil {
			return nil, nil, fmt.Errorf("quota.file_mode: %w", err)
		}
		dirMode, err := config.ParseMode(cfg.Quota.DirMode)
		if err != nil {
			return nil, nil, fmt.Errorf("quota.dir_mode: %w", err)
		}
		b, err := file.New(file.Config{Dir: cfg.Quota.Dir, FileMode: fileMode, DirMode: dirMode, Options: opts})
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	case config.BackendDuckDB:
		if db == nil {
			return nil, nil, errors.New("duckdb quota backend needs an open store")
		}
		return duckdbbackend.New(db, opts), nil, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		b := redisbackend.New(client, redisbackend.Config{
			KeyPrefix: cfg.Redis.Prefix,
			LockTTL:   cfg.Redis.LockTTL,
			Options:   opts,
		})
		return b, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported quota backend %q", cfg.Quota.Backend)
	}
}

// BuildSender routes each sending server type to a transport. In log mode
// every server type is a dry run.
func BuildSender(cfg config.Config, log *zap.Logger) mailer.Sender {
	dry := mailer.LogSender{Logger: log.Named("mailer")}
	router := mailer.Router{Transports: map[string]mailer.Sender{
		model.ServerTypeLog:  dry,
		model.ServerTypeSMTP: dry,
	}}
	if cfg.Mailer.Mode == config.MailerSMTP {
		router.Transports[model.ServerTypeSMTP] = mailer.SMTPSender{}
	}
	return router
}

// Renderer returns the message renderer configured with the public links.
func (a *App) Renderer() mailer.Renderer {
	return mailer.Renderer{URLs: mailer.URLs{
		Unsubscribe: a.Config.Mailer.UnsubscribeURL,
		WebView:     a.Config.Mailer.WebViewURL,
		OpenTrack:   a.Config.Mailer.OpenTrackURL,
	}}
}

// Dispatcher builds a campaign dispatcher reporting to observer.
func (a *App) Dispatcher(observer dispatch.Observer) (*dispatch.Dispatcher, error) {
	return dispatch.New(dispatch.Config{
		Store:           a.Store,
		Backend:         a.Backend,
		Sender:          a.sender,
		Renderer:        a.Renderer(),
		Logger:          a.Logger.Named("dispatch"),
		Metrics:         a.Metrics,
		Observer:        observer,
		PauseCheckEvery: a.Config.Dispatch.PauseCheckEvery,
		ServerBackoff:   a.Config.Dispatch.ServerBackoff,
		MaxServerWait:   a.Config.Dispatch.MaxServerWait,
		WorkerDelay:     a.Config.Dispatch.WorkerDelay,
	})
}

// CustomerMeter loads the customer with uid and binds its quota meter.
func (a *App) CustomerMeter(ctx context.Context, uid string) (*account.Meter, error) {
	customer, err := a.Store.CustomerByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	return account.ForCustomer(a.Backend, a.Store, customer, nil)
}

// ServerMeter loads the sending server with uid and binds its quota meter.
func (a *App) ServerMeter(ctx context.Context, uid string) (*account.Meter, error) {
	server, err := a.Store.SendingServerByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	return account.ForServer(a.Backend, a.Store, server, nil)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
