package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/mirror/internal/api"
	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/chatapi"
	"github.com/matheus3301/mirror/internal/config"
	"github.com/matheus3301/mirror/internal/contacts"
	"github.com/matheus3301/mirror/internal/crm"
	"github.com/matheus3301/mirror/internal/logging"
	"github.com/matheus3301/mirror/internal/outbox"
	"github.com/matheus3301/mirror/internal/profile"
	"github.com/matheus3301/mirror/internal/rematch"
	"github.com/matheus3301/mirror/internal/status"
	"github.com/matheus3301/mirror/internal/store"
	intsync "github.com/matheus3301/mirror/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil loads ~/.mirror/config.toml
}

// Settings is the loaded configuration with its durations parsed.
type Settings struct {
	*config.Config
	Intervals config.Intervals
	Secrets   config.Secrets
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideSettings,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideChatSource,
			provideContactSource,
			provideReconciler,
			provideFeed,
			provideRematch,
			provideController,
			provideScheduler,
			provideSender,
			provideAPI,
			provideHTTPServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideSettings(p Params) (*Settings, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOrDefault(profile.ConfigPath()); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	intervals, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	secrets, err := config.LoadSecrets(profile.EnvPath(p.ProfileName), ".env")
	if err != nil {
		return nil, err
	}
	return &Settings{Config: cfg, Intervals: intervals, Secrets: secrets}, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := profile.AcquireLock(p.ProfileName)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the profile lock so that no second daemon opens the database.
func provideStore(p Params, _ *profile.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideChatSource(s *Settings) (*chatapi.Client, error) {
	if s.ChatAPIURL == "" {
		return nil, errors.New("chat_api_url is not configured")
	}
	return chatapi.New(s.ChatAPIURL, s.Secrets.ChatToken, nil), nil
}

func provideContactSource(s *Settings, logger *zap.Logger) (*crm.Client, error) {
	if s.CRMURL == "" {
		return nil, errors.New("crm_url is not configured")
	}
	return crm.New(s.CRMURL, s.Secrets.CRMToken, nil, logger), nil
}

func provideReconciler(s *Settings, db *store.DB, b *bus.Bus, c *crm.Client, logger *zap.Logger) *contacts.Reconciler {
	return contacts.NewReconciler(db, b, c, contacts.Options{
		Region:           s.Region,
		ProtectionWindow: s.Intervals.ProtectionWindow,
	}, logger)
}

func provideFeed(s *Settings, c *crm.Client, rec *contacts.Reconciler, b *bus.Bus, logger *zap.Logger) *contacts.Feed {
	return contacts.NewFeed(c, rec, b, s.ContactPageSize, logger)
}

func provideRematch(s *Settings, db *store.DB, b *bus.Bus, logger *zap.Logger) *rematch.Engine {
	return rematch.NewEngine(db, b, s.Region, logger)
}

func provideController(s *Settings, db *store.DB, src *chatapi.Client, b *bus.Bus, logger *zap.Logger) *intsync.Controller {
	return intsync.NewController(db, src, b, intsync.Options{
		Region:        s.Region,
		MessageWindow: s.MessageWindow,
		PageSize:      s.PageSize,
		LockTimeout:   s.Intervals.LockTimeout,
	}, logger)
}

func provideScheduler(s *Settings, ctrl *intsync.Controller, feed *contacts.Feed, engine *rematch.Engine, m *status.Machine, logger *zap.Logger) *intsync.Scheduler {
	return intsync.NewScheduler(ctrl, feed, engine, m, intsync.Intervals{
		Chats:    s.Intervals.Chats,
		Contacts: s.Intervals.Contacts,
	}, logger)
}

func provideSender(db *store.DB, src *chatapi.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, src, b, logger)
}

type apiDeps struct {
	fx.In

	Params     Params
	Settings   *Settings
	DB         *store.DB
	Controller *intsync.Controller
	Feed       *contacts.Feed
	Reconciler *contacts.Reconciler
	Engine     *rematch.Engine
	Outbox     *outbox.Sender
	Machine    *status.Machine
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func provideAPI(d apiDeps) *api.Server {
	gin.SetMode(gin.ReleaseMode)
	return api.NewServer(api.Deps{
		Profile:    d.Params.ProfileName,
		Region:     d.Settings.Region,
		DB:         d.DB,
		Controller: d.Controller,
		Feed:       d.Feed,
		Reconciler: d.Reconciler,
		Engine:     d.Engine,
		Outbox:     d.Outbox,
		Machine:    d.Machine,
		Bus:        d.Bus,
	}, d.Logger)
}

func provideHTTPServer(s *Settings, handlers *api.Server, logger *zap.Logger) (*HTTPServer, error) {
	return NewHTTPServer(s.HTTPAddr, handlers, logger)
}

type lifecycleDeps struct {
	fx.In

	Lifecycle fx.Lifecycle
	Health    *Server
	HTTP      *HTTPServer
	Lock      *profile.Lock
	DB        *store.DB
	Scheduler *intsync.Scheduler
	Engine    *rematch.Engine
	Sender    *outbox.Sender
	Machine   *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func registerLifecycle(d lifecycleDeps) {
	logger := d.Logger
	d.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Health.Watch(d.Bus, d.Machine)
			go func() {
				if err := d.Health.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			go func() {
				if err := d.HTTP.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
					_ = d.Machine.TransitionWithDetail(status.Error, err.Error())
				}
			}()

			// Rematch listens for identifier changes before any sync can emit them.
			d.Engine.Start(context.Background())
			d.Sender.Start(context.Background())

			if err := d.Machine.Transition(status.Idle); err != nil {
				return err
			}
			d.Scheduler.Start(context.Background())
			logger.Info("daemon started", zap.String("http_addr", d.HTTP.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Scheduler.Stop()
			d.Sender.Stop()
			d.Engine.Stop()
			if err := d.HTTP.Stop(ctx); err != nil {
				logger.Warn("HTTP shutdown incomplete", zap.Error(err))
			}
			d.Health.Stop(ctx)
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
