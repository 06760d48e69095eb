package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"amber-im/engine/internal/account"
	"amber-im/engine/internal/bus"
	"amber-im/engine/internal/config"
	"amber-im/engine/internal/conversation"
	"amber-im/engine/internal/e2ee"
	"amber-im/engine/internal/history"
	"amber-im/engine/internal/keychain"
	"amber-im/engine/internal/lock"
	"amber-im/engine/internal/logging"
	"amber-im/engine/internal/profile"
	"amber-im/engine/internal/sendq"
	"amber-im/engine/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	// KeychainPassphrase unlocks the on-disk credential store.
	KeychainPassphrase string
	// Transport overrides the protocol connection; nil uses the
	// in-process loopback, which is only useful for development.
	Transport transport.Transport
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideSettings,
			provideHistory,
			provideKeychain,
			provideNotificationKeys,
			provideAccounts,
			provideQueue,
			provideSessions,
			provideDispatcher,
			provideTransport,
			provideRegistry,
			provideEngine,
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

func provideSettings(p Params) (*config.Settings, error) {
	return config.OpenSettings(profile.ConfigPath(p.ProfileName))
}

func provideHistory(p Params, logger *zap.Logger) (*history.DB, error) {
	dbPath := profile.HistoryDBPath(p.ProfileName)
	db, err := history.Open(dbPath)
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
	logger.Info("history initialized", zap.String("path", dbPath))
	return db, nil
}

func provideKeychain(p Params) (keychain.Store, error) {
	dir := profile.KeychainDir(p.ProfileName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return keychain.NewFileStore(dir, p.KeychainPassphrase), nil
}

func provideNotificationKeys() *keychain.NotificationKeys {
	return keychain.NewNotificationKeys()
}

func provideAccounts(store keychain.Store, settings *config.Settings, notifKeys *keychain.NotificationKeys, b *bus.Bus, logger *zap.Logger) *account.Manager {
	return account.NewManager(store, settings, notifKeys, b, logger)
}

func provideQueue() *sendq.Queue {
	return sendq.New()
}

func provideSessions() *e2ee.Provider {
	return e2ee.NewProvider()
}

func provideDispatcher(sessions *e2ee.Provider) *e2ee.Dispatcher {
	return e2ee.NewDispatcher(sessions)
}

func provideTransport(p Params, logger *zap.Logger) transport.Transport {
	if p.Transport != nil {
		return p.Transport
	}
	logger.Warn("no transport configured, using in-process loopback")
	return transport.NewLoopback()
}

func provideRegistry(b *bus.Bus) *conversation.Registry {
	return conversation.NewRegistry(0, b)
}

func provideEngine(db *history.DB, queue *sendq.Queue, dispatcher *e2ee.Dispatcher, tr transport.Transport, settings *config.Settings, registry *conversation.Registry, b *bus.Bus, logger *zap.Logger) *conversation.Engine {
	return conversation.NewEngine(db, queue, dispatcher, tr, settings, registry, b, logger)
}

func registerLifecycle(p Params, lc fx.Lifecycle, lk *lock.Lock, accounts *account.Manager, registry *conversation.Registry, db *history.DB, b *bus.Bus, logger *zap.Logger) {
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := accounts.Initialize(); err != nil {
				return err
			}
			if err := accounts.MigrateLegacy(profile.LegacyAccountsPath(p.ProfileName)); err != nil {
				logger.Warn("legacy account migration failed", zap.Error(err))
			}

			// Removed accounts drop their conversations and history.
			ch, unsub := b.Subscribe(bus.KindAccountRemoved, 16)
			go func() {
				defer unsub()
				for {
					select {
					case evt := <-ch:
						change, ok := evt.Payload.(bus.AccountChange)
						if !ok {
							continue
						}
						registry.RemoveAccount(change.Name)
						if err := db.DeleteAccount(change.Name); err != nil {
							logger.Error("purging removed account history failed",
								zap.String("account", change.Name), zap.Error(err))
						}
					case <-done:
						return
					}
				}
			}()

			logger.Info("daemon started", zap.String("profile", p.ProfileName))
			return nil
		},
		OnStop: func(_ context.Context) error {
			close(done)
			registry.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing history", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
