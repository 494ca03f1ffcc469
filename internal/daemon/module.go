// Package daemon wires every crmd component into one fx application.
package daemon

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/chatstate"
	"github.com/matheus3301/wppcrm/internal/config"
	"github.com/matheus3301/wppcrm/internal/connstate"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/instance"
	"github.com/matheus3301/wppcrm/internal/localcache"
	"github.com/matheus3301/wppcrm/internal/lock"
	"github.com/matheus3301/wppcrm/internal/logging"
	"github.com/matheus3301/wppcrm/internal/outbox"
	"github.com/matheus3301/wppcrm/internal/presence"
	"github.com/matheus3301/wppcrm/internal/status"
	"github.com/matheus3301/wppcrm/internal/store"
	intsync "github.com/matheus3301/wppcrm/internal/sync"
	"github.com/matheus3301/wppcrm/internal/unread"
	"github.com/matheus3301/wppcrm/internal/wsnotify"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance string
	Config   *config.Config
	// AutoConnect starts polling or pairing as soon as the daemon is up.
	AutoConnect bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRedis,
			provideGateway,
			provideCache,
			provideUnreadEngine,
			provideChatState,
			provideConnState,
			providePresence,
			provideSyncEngine,
			provideSender,
			provideHub,
			provideServices,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(instance.LogPath(p.Instance), p.Instance)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(p Params, b *bus.Bus) *status.Machine {
	return status.NewMachine(b, p.Instance)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock")
	l, err := lock.Acquire(instance.Dir(p.Instance))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := instance.DBPath(p.Instance)
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

// provideRedis returns nil when no address is configured. Consumers treat a
// nil client as Redis being disabled.
func provideRedis(p Params, logger *zap.Logger) redis.UniversalClient {
	rc := p.Config.Redis
	if rc.Addr == "" {
		logger.Info("redis disabled")
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
}

func provideGateway(p Params, logger *zap.Logger) *gateway.Client {
	gc := p.Config.Gateway
	return gateway.New(gateway.Options{
		BaseURL:         gc.URL,
		APIKey:          gc.APIKey,
		DefaultInstance: p.Instance,
		Timeout:         gc.Timeout.Duration,
		MaxAttempts:     gc.MaxAttempts,
		Backoff:         gc.Backoff.Duration,
		RatePerSecond:   gc.RatePerSecond,
		Logger:          logger,
	})
}

func provideCache(p Params, rdb redis.UniversalClient, logger *zap.Logger) (unread.Store, error) {
	switch backend := p.Config.Cache.Backend; backend {
	case "", "file":
		path := instance.CachePath(p.Instance)
		logger.Info("unread cache", zap.String("backend", "file"), zap.String("path", path))
		return localcache.NewFile(path), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("cache backend redis requires redis.addr")
		}
		logger.Info("unread cache", zap.String("backend", "redis"))
		return localcache.NewRedis(rdb, p.Instance), nil
	case "memory":
		logger.Info("unread cache", zap.String("backend", "memory"))
		return localcache.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

func provideUnreadEngine(p Params, cache unread.Store, logger *zap.Logger) *unread.Engine {
	return unread.NewEngine(cache, p.Config.Polling.OpenGuard.Duration, logger)
}

func provideChatState(db *store.DB, b *bus.Bus, logger *zap.Logger) *chatstate.Service {
	return chatstate.NewService(db, b, logger)
}

func provideConnState(rdb redis.UniversalClient) *connstate.Store {
	return connstate.New(rdb)
}

func providePresence(p Params, gw *gateway.Client, db *store.DB, cs *chatstate.Service, engine *unread.Engine, m *status.Machine, b *bus.Bus, logger *zap.Logger) *presence.Store {
	pc := p.Config.Polling
	return presence.New(gw, db, cs, engine, m, b, logger, presence.Options{
		Instance:           p.Instance,
		ChatsInterval:      pc.ChatsInterval.Duration,
		PairingInterval:    pc.PairingInterval.Duration,
		PairingMaxAttempts: pc.PairingMaxAttempts,
		AvatarConcurrency:  pc.AvatarConcurrency,
	})
}

func provideSyncEngine(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger, p.Config.Webhook.Dedupe)
}

func provideSender(p Params, db *store.DB, gw *gateway.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, gw, b, p.Instance, logger)
}

func provideHub(b *bus.Bus, logger *zap.Logger) *wsnotify.Hub {
	return wsnotify.NewHub(b, logger)
}

func provideServices(
	gw *gateway.Client,
	db *store.DB,
	b *bus.Bus,
	engine *intsync.Engine,
	conn *connstate.Store,
	cs *chatstate.Service,
	pres *presence.Store,
	sender *outbox.Sender,
	hub *wsnotify.Hub,
	logger *zap.Logger,
) *api.Services {
	return &api.Services{
		Webhook: api.NewWebhookService(engine, conn, b, logger),
		Chat:    api.NewChatService(pres, cs, db, gw, logger),
		Message: api.NewMessageService(sender, db),
		Session: api.NewSessionService(pres, conn, logger),
		Proxy:   api.NewProxyService(gw, logger),
		Stream:  hub.Handler,
	}
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	rdb redis.UniversalClient,
	unreadEngine *unread.Engine,
	syncEngine *intsync.Engine,
	sender *outbox.Sender,
	hub *wsnotify.Hub,
	pres *presence.Store,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := unreadEngine.Load(ctx); err != nil {
				logger.Warn("starting with an empty unread cache", zap.Error(err))
			}

			// Mirrors outbox acks into the backend-of-record.
			syncEngine.Start(context.Background())
			hub.Start(context.Background())
			sender.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			if p.AutoConnect {
				go func() {
					if err := pres.Connect(context.Background()); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			pres.Stop(ctx)
			sender.Stop()
			syncEngine.Stop()
			hub.Stop()
			if rdb != nil {
				_ = rdb.Close()
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
