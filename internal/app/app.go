// Package app wires the subsystems together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"botforge/internal/broadcast"
	"botforge/internal/config"
	"botforge/internal/dispatch"
	"botforge/internal/flow"
	"botforge/internal/server"
	"botforge/internal/store"
	"botforge/internal/telemetry"
	"botforge/internal/tenant"
	"botforge/internal/transport"
	"botforge/internal/transport/telegram"
	"botforge/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	logSvc  *logx.Service
	log     logx.Logger
	store   *store.Store
	factory transport.Factory
	tenants *tenant.Manager
	srv     *server.Server
	cron    *cron.Cron

	stopOnce sync.Once
	srvErr   chan error
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    cfg.Logging.File,
	})
	if err != nil {
		return nil, err
	}

	return &App{cfgPath: cfgPath, cfg: cfg, logSvc: logSvc, log: logSvc.Logger(), srvErr: make(chan error, 1)}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfg

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout.Std(),
	}, a.log.With(logx.String("svc", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	a.factory = telegram.NewFactory(telegram.Config{
		APITimeout: cfg.HTTP.APITimeout.Std(),
	}, a.log.With(logx.String("svc", "telegram")))

	engine := broadcast.New(st, a.factory, broadcast.Config{
		RecipientInterval: cfg.Broadcast.RecipientInterval.Std(),
		TenantInterval:    cfg.Broadcast.TenantInterval.Std(),
	}, a.log.With(logx.String("svc", "broadcast")))

	a.tenants = tenant.NewManager(st, a.factory, cfg.HTTP.PublicBaseURL, a.log.With(logx.String("svc", "tenant")))

	flows := flow.NewHandler(st, engine, cfg.Platform.DefaultChannelURL, a.log.With(logx.String("svc", "flow")))
	platform := flow.NewPlatform(st, engine, a.tenants,
		cfg.Platform.Credential, cfg.Platform.OwnerID, cfg.Platform.DefaultChannelURL,
		a.log.With(logx.String("svc", "platform")))

	router := dispatch.NewRouter(st, a.factory, flows, platform,
		cfg.Platform.Credential, cfg.Platform.OwnerID,
		a.log.With(logx.String("svc", "dispatch")))

	a.srv = server.New(server.Config{Addr: cfg.HTTP.Addr}, router, telemetry.NewRegistry(),
		a.log.With(logx.String("svc", "http")))

	// The controlling bot is webhook-driven too; point it at /control.
	if err := a.registerControlWebhook(ctx); err != nil {
		return err
	}

	go func() { a.srvErr <- a.srv.Start() }()

	if cfg.Digest.Enabled {
		a.cron = cron.New()
		if _, err := a.cron.AddFunc(cfg.Digest.Schedule, func() { a.sendDigest(context.Background()) }); err != nil {
			return fmt.Errorf("digest schedule: %w", err)
		}
		a.cron.Start()
	}

	// Log-level changes apply without a restart; everything else needs one.
	if err := config.Watch(ctx, a.cfgPath, func(c *config.Config) {
		a.logSvc.SetLevel(c.Logging.Level)
	}); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started", logx.String("addr", cfg.HTTP.Addr))
	return nil
}

func (a *App) registerControlWebhook(ctx context.Context) error {
	client, err := a.factory.Dial(ctx, a.cfg.Platform.Credential)
	if err != nil {
		return fmt.Errorf("platform credential: %w", err)
	}
	url := a.cfg.HTTP.PublicBaseURL + "/control"
	if err := client.RegisterWebhook(ctx, url); err != nil {
		return fmt.Errorf("control webhook: %w", err)
	}
	a.log.Info("control webhook registered", logx.String("bot", client.Self().Username))
	return nil
}

// Err reports a fatal server failure, if any.
func (a *App) Err() <-chan error { return a.srvErr }

func (a *App) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		if a.cron != nil {
			<-a.cron.Stop().Done()
		}
		if a.srv != nil {
			err = a.srv.Shutdown(ctx)
		}
		if a.store != nil {
			if cerr := a.store.Close(); err == nil {
				err = cerr
			}
		}
		a.log.Info("stopped")
		_ = a.logSvc.Close()
	})
	return err
}
