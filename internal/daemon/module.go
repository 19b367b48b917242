// Package daemon wires the smsdesk subsystems into one fx application.
package daemon

import (
	"context"
	"time"

	"github.com/smsdesk/smsdesk/internal/autoresponder"
	"github.com/smsdesk/smsdesk/internal/bus"
	"github.com/smsdesk/smsdesk/internal/config"
	"github.com/smsdesk/smsdesk/internal/conversation"
	"github.com/smsdesk/smsdesk/internal/httpapi"
	"github.com/smsdesk/smsdesk/internal/inbox"
	"github.com/smsdesk/smsdesk/internal/lock"
	"github.com/smsdesk/smsdesk/internal/logging"
	"github.com/smsdesk/smsdesk/internal/outbox"
	"github.com/smsdesk/smsdesk/internal/profile"
	"github.com/smsdesk/smsdesk/internal/provider"
	"github.com/smsdesk/smsdesk/internal/status"
	"github.com/smsdesk/smsdesk/internal/store"
	intsync "github.com/smsdesk/smsdesk/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx
// module.
type Params struct {
	ProfileName string
	ListenAddr  string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideConfig,
			provideStore,
			provideProviderClient,
			provideResolver,
			provideReconciler,
			provideRunner,
			provideProjector,
			provideReadState,
			provideDeletion,
			provideSender,
			provideResponder,
			provideAPIHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
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

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideConfig(p Params, logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath(p.ProfileName))
	if err != nil {
		logger.Info("no profile config, using defaults", zap.Error(err))
		cfg = config.Default()
		cfg.ApplyEnv()
	}
	if p.ListenAddr != "" {
		cfg.HTTP.ListenAddr = p.ListenAddr
	}
	return cfg
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
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

func provideProviderClient(cfg *config.Config, logger *zap.Logger) *provider.Client {
	return provider.NewClient(provider.Config{
		AccountSID: cfg.Provider.AccountSID,
		AuthToken:  cfg.Provider.AuthToken,
		BaseURL:    cfg.Provider.BaseURL,
		FromNumber: cfg.Provider.FromNumber,
	}, logger)
}

func provideResolver(db *store.DB, logger *zap.Logger) *conversation.Resolver {
	return conversation.NewResolver(db, logger)
}

func provideReconciler(db *store.DB, resolver *conversation.Resolver, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, resolver, b, logger)
}

func provideRunner(rec *intsync.Reconciler, client *provider.Client, machine *status.Machine, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Runner {
	interval := time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	return intsync.NewRunner(rec, client, machine, b, interval, cfg.Sync.PageSize, logger)
}

func provideProjector(db *store.DB, logger *zap.Logger) *inbox.Projector {
	return inbox.NewProjector(db, logger)
}

func provideReadState(db *store.DB, b *bus.Bus, logger *zap.Logger) *inbox.ReadStateTracker {
	return inbox.NewReadStateTracker(db, b, logger)
}

func provideDeletion(db *store.DB, b *bus.Bus, logger *zap.Logger) *inbox.DeletionCoordinator {
	return inbox.NewDeletionCoordinator(db, b, logger)
}

func provideSender(db *store.DB, client *provider.Client, resolver *conversation.Resolver, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, resolver, b, logger)
}

func provideResponder(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *autoresponder.Responder {
	rules := make([]autoresponder.Rule, 0, len(cfg.AutoReplies))
	for _, r := range cfg.AutoReplies {
		rules = append(rules, autoresponder.Rule{Keyword: r.Keyword, Reply: r.Reply})
	}
	return autoresponder.New(db, b, rules, logger)
}

func provideAPIHandler(
	db *store.DB,
	rec *intsync.Reconciler,
	runner *intsync.Runner,
	projector *inbox.Projector,
	readState *inbox.ReadStateTracker,
	deletion *inbox.DeletionCoordinator,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *httpapi.Handler {
	return httpapi.NewHandler(httpapi.Params{
		DB:         db,
		Reconciler: rec,
		Runner:     runner,
		Projector:  projector,
		ReadState:  readState,
		Deletion:   deletion,
		Machine:    machine,
		Bus:        b,
		Logger:     logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, runner *intsync.Runner, sender *outbox.Sender, responder *autoresponder.Responder, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			responder.Start(context.Background())
			sender.Start(context.Background())
			runner.Start(context.Background())

			if err := machine.Transition(status.Idle); err != nil {
				return err
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			runner.Stop()
			sender.Stop()
			responder.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
