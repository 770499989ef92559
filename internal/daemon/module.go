// Package daemon assembles one session's sync core with fx: config, the
// cache, the websocket transport, the durable API client, the engine and
// the gRPC server that exposes it on the session socket.
package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/lock"
	"github.com/matheus3301/huddle/internal/logging"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/session"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/store"
	intsync "github.com/matheus3301/huddle/internal/sync"
	"github.com/matheus3301/huddle/internal/transport"
)

// CheckpointLastReady is the cache checkpoint written each time the
// session becomes ready.
const CheckpointLastReady = "last_ready_at"

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = resolve from the huddle home
	LogLevel    zapcore.Level
	Quiet       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideTransport,
			provideDurable,
			provideEngine,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		cfg, err = config.Resolve(session.ConfigPath(), session.EnvPath(), ".env")
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, logging.Options{
		Level: p.LogLevel,
		Quiet: p.Quiet,
	})
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(logger.Named("bus"))
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

// provideStore takes the lock so the cache is never opened by two daemons.
func provideStore(p Params, logger *zap.Logger, _ *lock.Lock) (*store.DB, error) {
	dbPath := session.CachePath(p.SessionName)
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
	if last, err := db.Checkpoint(CheckpointLastReady); err == nil && last != "" {
		logger.Info("cache opened", zap.String("path", dbPath), zap.String("last_ready_at", last))
	} else {
		logger.Info("cache opened", zap.String("path", dbPath))
	}
	logOutstanding(db, logger)
	return db, nil
}

// logOutstanding reports cached messages that still need a retry.
func logOutstanding(db *store.DB, logger *zap.Logger) {
	fields := make([]zap.Field, 0, 2)
	for _, st := range []chat.Status{chat.StatusPending, chat.StatusFailed} {
		n, err := db.CountByStatus(st)
		if err != nil {
			logger.Warn("count cached messages", zap.String("status", string(st)), zap.Error(err))
			return
		}
		if n > 0 {
			fields = append(fields, zap.Int(string(st), n))
		}
	}
	if len(fields) > 0 {
		logger.Info("unsent messages in cache", fields...)
	}
}

func provideTransport(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Conn {
	return transport.New(&transport.WebsocketDialer{URL: cfg.Endpoint}, b, outbox.New(), logger.Named("transport"), transport.Options{
		BaseDelay:         cfg.Reconnect.BaseDelay.Std(),
		MaxDelay:          cfg.Reconnect.MaxDelay.Std(),
		MaxAttempts:       cfg.Reconnect.MaxAttempts,
		HeartbeatInterval: cfg.Heartbeat.Std(),
	})
}

// provideDurable returns nil when no API URL is configured; the engine then
// runs on the socket alone.
func provideDurable(cfg *config.Config, logger *zap.Logger) intsync.DurableAPI {
	if cfg.APIURL == "" {
		logger.Warn("no api url configured, messages will not be persisted server-side")
		return nil
	}
	return backend.New(cfg.APIURL, cfg.Token)
}

func provideEngine(cfg *config.Config, conn *transport.Conn, durable intsync.DurableAPI, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	ident := intsync.Identity{
		UserID:      cfg.UserID,
		DisplayName: cfg.DisplayName,
		Token:       cfg.Token,
	}
	return intsync.NewEngine(ident, conn, b, intsync.Options{
		Durable:      durable,
		Cache:        db,
		TypingWindow: cfg.TypingWindow.Std(),
		PageSize:     cfg.PageSize,
		Logger:       logger.Named("sync"),
	})
}

func provideService(p Params, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, engine, b, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) {
	var unsub func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			unsub = b.Subscribe(bus.SessionStatusChanged, func(evt bus.Event) {
				change, ok := evt.Payload.(status.StatusChange)
				if !ok {
					return
				}
				logger.Info("session status changed", zap.String("from", string(change.From)), zap.String("to", string(change.To)))
				if change.To != status.Ready {
					return
				}
				if err := db.SetCheckpoint(CheckpointLastReady, time.Now().UTC().Format(time.RFC3339)); err != nil {
					logger.Warn("write checkpoint", zap.Error(err))
				}
			})

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// The engine outlives the start hook's deadline.
			return engine.Start(context.WithoutCancel(ctx))
		},
		OnStop: func(ctx context.Context) error {
			if unsub != nil {
				unsub()
			}
			engine.Close()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
