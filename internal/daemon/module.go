package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/api"
	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/cache"
	"github.com/tupski/wa-monitor/internal/config"
	"github.com/tupski/wa-monitor/internal/lock"
	"github.com/tupski/wa-monitor/internal/logging"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/mediaqueue"
	"github.com/tupski/wa-monitor/internal/profile"
	"github.com/tupski/wa-monitor/internal/session"
	"github.com/tupski/wa-monitor/internal/source"
	"github.com/tupski/wa-monitor/internal/status"
	"github.com/tupski/wa-monitor/internal/store"
	intsync "github.com/tupski/wa-monitor/internal/sync"
	"github.com/tupski/wa-monitor/internal/wa"
	"github.com/tupski/wa-monitor/internal/web"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
	ConfigPath  string // watched for pacing changes; empty disables reload
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Defaults()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMediaStore,
			provideDownloader,
			cache.New,
			provideAdapter,
			provideSource,
			provideCapturer,
			provideOrchestrator,
			provideReconciler,
			provideProfileLoader,
			provideEngine,
			provideMediaQueue,
			provideMonitor,
			api.NewService,
			NewServer,
			provideWebServer,
		),
		fx.Invoke(registerLifecycle),
	)
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
	l, err := lock.Acquire(session.Dir(p.SessionName), p.Config.Monitor.ListenAddr)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideMediaStore(p Params, logger *zap.Logger) (*media.Store, error) {
	root := p.Config.Monitor.MediaDir
	if root == "" {
		root = session.MediaDir(p.SessionName)
	}
	return media.NewStore(root, logger.Named("media"))
}

func provideDownloader(p Params, logger *zap.Logger) *media.Downloader {
	return media.NewDownloader(p.Config.Monitor.DownloadTimeout.Duration, time.Second, logger.Named("download"))
}

func provideAdapter(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, db, b, logger.Named("wa"))
}

func provideSource(a *wa.Adapter) source.MessageSource {
	return a
}

func provideCapturer(src source.MessageSource, ms *media.Store, logger *zap.Logger) *media.Capturer {
	return media.NewCapturer(src, ms, logger.Named("capture"))
}

func provideOrchestrator(p Params, src source.MessageSource, c *cache.Cache, ms *media.Store, capture *media.Capturer, b *bus.Bus, logger *zap.Logger) *intsync.Orchestrator {
	log := logger.Named("sync")
	fetcher := intsync.NewFetcher(src, c, ms, capture, log)
	orch := intsync.NewOrchestrator(src, fetcher, intsync.LoadTracker(ms.TrackerPath(), log), b, log)
	orch.SetPacing(pacing(p.Config))
	return orch
}

func provideReconciler(c *cache.Cache, ms *media.Store, capture *media.Capturer, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(c, ms, capture, b, logger.Named("reconcile"))
}

func provideProfileLoader(p Params, src source.MessageSource, ms *media.Store, dl *media.Downloader, b *bus.Bus, logger *zap.Logger) *profile.Loader {
	l := profile.NewLoader(src, ms, dl, b, logger.Named("profile"))
	l.SetPacing(p.Config.Monitor.ProfileDelay.Duration, p.Config.Monitor.DownloadRetries)
	return l
}

func provideEngine(p Params, src source.MessageSource, c *cache.Cache, ms *media.Store, capture *media.Capturer, r *intsync.Reconciler, orch *intsync.Orchestrator, profiles *profile.Loader, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	e := intsync.NewEngine(src, c, ms, capture, r, orch, profiles, b, logger.Named("engine"))
	e.SetReadyDelays(readyDelays(p.Config))
	return e
}

func provideMediaQueue(p Params, db *store.DB, src source.MessageSource, c *cache.Cache, capture *media.Capturer, b *bus.Bus, logger *zap.Logger) *mediaqueue.Worker {
	return mediaqueue.NewWorker(db, src, c, capture, b, logger.Named("mediaqueue"), p.Config.Monitor.MediaPollInterval.Duration)
}

func provideMonitor(p Params, src source.MessageSource, c *cache.Cache, ms *media.Store, orch *intsync.Orchestrator, profiles *profile.Loader, q *mediaqueue.Worker, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Monitor {
	return api.NewMonitor(api.Deps{
		Session:  p.SessionName,
		Source:   src,
		Cache:    c,
		Store:    ms,
		Sync:     orch,
		Profiles: profiles,
		Queue:    q,
		Machine:  m,
		Bus:      b,
		Logger:   logger.Named("api"),
	})
}

func provideWebServer(p Params, m *api.Monitor, logger *zap.Logger) *web.Server {
	return web.NewServer(p.Config.Monitor.ListenAddr, m, logger.Named("http"))
}

func pacing(cfg *config.Config) intsync.Pacing {
	return intsync.Pacing{
		ChatDelay:  cfg.Monitor.ChatDelay.Duration,
		BatchDelay: cfg.Monitor.BatchDelay.Duration,
		BatchSize:  cfg.Monitor.BatchSize,
		MaxBatches: cfg.Monitor.MaxBatches,
	}
}

func readyDelays(cfg *config.Config) intsync.ReadyDelays {
	return intsync.ReadyDelays{
		Sync:    cfg.Monitor.SyncStartDelay.Duration,
		Profile: cfg.Monitor.ProfileStartDelay.Duration,
	}
}

// applyConfig pushes reloaded tunables into running components. Listen
// address and media dir changes need a restart.
func applyConfig(cfg *config.Config, orch *intsync.Orchestrator, profiles *profile.Loader, engine *intsync.Engine) {
	orch.SetPacing(pacing(cfg))
	profiles.SetPacing(cfg.Monitor.ProfileDelay.Duration, cfg.Monitor.DownloadRetries)
	engine.SetReadyDelays(readyDelays(cfg))
}

type lifecycleParams struct {
	fx.In

	Params   Params
	Server   *Server
	Web      *web.Server
	Lock     *lock.Lock
	DB       *store.DB
	Adapter  *wa.Adapter
	Engine   *intsync.Engine
	Sync     *intsync.Orchestrator
	Profiles *profile.Loader
	Queue    *mediaqueue.Worker
	Monitor  *api.Monitor
	Machine  *status.Machine
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := d.Logger

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine subscribes to wa.* and session.* bus events.
			d.Engine.Start(ctx)

			handler := wa.NewEventHandler(d.Bus, d.Machine, d.DB, d.Adapter, logger.Named("wa"))
			d.Adapter.RegisterEventHandler(handler.Handle)

			d.Queue.Start(ctx)

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			go func() {
				if err := d.Web.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			if path := d.Params.ConfigPath; path != "" {
				go func() {
					err := config.Watch(ctx, path, logger.Named("config"), func(cfg *config.Config) {
						applyConfig(cfg, d.Sync, d.Profiles, d.Engine)
						logger.Info("pacing reloaded")
					})
					if err != nil {
						logger.Warn("config watch stopped", zap.Error(err))
					}
				}()
			}

			if d.Adapter.IsLoggedIn() {
				_ = d.Machine.Transition(status.Connecting)
				go func() {
					if err := d.Adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = d.Machine.Transition(status.Error)
					}
				}()
				return nil
			}

			logger.Info("no credentials found, pairing required")
			events, err := d.Adapter.StartQRAuth(ctx, d.Machine)
			if err != nil {
				logger.Error("start pairing", zap.Error(err))
				_ = d.Machine.Transition(status.Error)
				return nil
			}
			go logPairing(events, logger)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			d.Queue.Stop()
			d.Engine.Stop()
			d.Sync.Stop()
			d.Sync.Wait()
			d.Monitor.Close()
			d.Adapter.Disconnect()
			if err := d.Web.Stop(stopCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			d.Server.Stop(stopCtx)
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

func logPairing(events <-chan wa.AuthEvent, logger *zap.Logger) {
	for evt := range events {
		switch evt.Type {
		case wa.AuthEventQRCode:
			logger.Info("pairing code issued, run wamonctl pair to scan it")
		case wa.AuthEventAuthenticated:
			logger.Info("paired")
		default:
			logger.Warn("pairing ended", zap.String("reason", evt.Message))
		}
	}
}
