package daemon

import (
	"context"

	"github.com/courier-im/courier/internal/api"
	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/config"
	"github.com/courier-im/courier/internal/conversation"
	"github.com/courier-im/courier/internal/lock"
	"github.com/courier-im/courier/internal/logging"
	"github.com/courier-im/courier/internal/observability"
	"github.com/courier-im/courier/internal/outbox"
	"github.com/courier-im/courier/internal/remote"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/status"
	"github.com/courier-im/courier/internal/store"
	"github.com/courier-im/courier/internal/syncpull"
	"github.com/courier-im/courier/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSessionContext,
			provideRemoteClient,
			provideRouter,
			provideSupervisor,
			provideOutboxManager,
			provideResolver,
			provideSyncEngine,
			provideHandlers,
			provideMetricsServer,
			provideMessenger,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideSessionContext(p Params, logger *zap.Logger) *session.Context {
	sess := session.NewContext()
	if err := sess.LoadToken(session.TokenPath(p.SessionName)); err != nil {
		logger.Warn("failed to load cached token", zap.Error(err))
	}
	if sess.Authenticated() {
		logger.Info("cached token loaded", zap.String("user_id", sess.UserID()))
	}
	return sess
}

func provideRemoteClient(cfg *config.Config, logger *zap.Logger) *remote.Client {
	return remote.NewClient(cfg.API.BaseURL, cfg.API.Timeout.Duration, logger)
}

func provideRouter(b *bus.Bus, logger *zap.Logger) *Router {
	return NewRouter(b, logger)
}

func provideSupervisor(cfg *config.Config, router *Router, b *bus.Bus, logger *zap.Logger) *transport.Supervisor {
	return transport.NewSupervisor(transport.Options{
		ConnectTimeout: cfg.Server.ConnectTimeout.Duration,
		MaxFrameSize:   cfg.Server.MaxFrameSize,
	}, router, b, logger)
}

func provideOutboxManager(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Manager {
	return outbox.NewManager(db, b, outbox.Config{
		MaxRetries:   cfg.Outbox.MaxRetries,
		BackoffBase:  cfg.Outbox.BackoffBase.Duration,
		BackoffCap:   cfg.Outbox.BackoffCap.Duration,
		PollInterval: cfg.Outbox.PollInterval.Duration,
	}, logger)
}

func provideResolver(db *store.DB, rc *remote.Client, sess *session.Context, logger *zap.Logger) *conversation.Resolver {
	return conversation.NewResolver(db, rc, sess, logger)
}

func provideSyncEngine(cfg *config.Config, db *store.DB, rc *remote.Client, sess *session.Context, b *bus.Bus, logger *zap.Logger) *syncpull.Engine {
	return syncpull.NewEngine(db, rc, sess, b, syncpull.Config{
		PageSize: cfg.Sync.PageSize,
		Interval: cfg.Sync.Interval.Duration,
	}, logger)
}

func provideHandlers(db *store.DB, sup *transport.Supervisor, rc *remote.Client, sess *session.Context, engine *syncpull.Engine, logger *zap.Logger) *Handlers {
	return NewHandlers(db, sup, rc, sess, engine, logger)
}

func provideMetricsServer(p Params, machine *status.Machine, logger *zap.Logger) (*observability.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.MetricsSocketPath(p.SessionName)
	}
	return observability.NewServer(socketPath, machine, logger)
}

func provideMessenger(p Params, db *store.DB, b *bus.Bus, manager *outbox.Manager, resolver *conversation.Resolver, sess *session.Context, rc *remote.Client, logger *zap.Logger) *api.Messenger {
	return api.NewMessenger(db, b, manager, resolver, sess, rc, p.SessionName, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *observability.Server,
	lk *lock.Lock,
	sup *transport.Supervisor,
	engine *syncpull.Engine,
	manager *outbox.Manager,
	handlers *Handlers,
	sess *session.Context,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Sync engine first: it consumes the srv.* events the read
			// loop produces once the connection is up.
			engine.Start(context.Background())

			handlers.Register(manager)
			if err := manager.Start(context.Background()); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()

			if sess.Authenticated() {
				_ = machine.Transition(status.Connecting)
				go func() {
					if err := sup.Connect(cfg.Server.Host, cfg.Server.Port); err != nil {
						// The supervisor redials on the next guarded send.
						logger.Error("auto-connect failed", zap.Error(err))
						_ = machine.Transition(status.Reconnecting)
						return
					}
					_ = machine.Transition(status.Syncing)
					_ = machine.Transition(status.Ready)
				}()
			} else {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Stopping)
			manager.Stop()
			engine.Stop()
			sup.Close()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
