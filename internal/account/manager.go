package account

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"amber-im/engine/internal/bus"
	"amber-im/engine/internal/keychain"
)

// Settings persists the engine-wide default account selection.
type Settings interface {
	DefaultAccount() string
	SetDefaultAccount(name string) error
}

// Manager is the concurrency-safe cache over the secret store. A single
// mutex guards the in-memory map and every durable-store round trip, so
// concurrent saves cannot lose updates; account operations are rare
// enough that the serialization cost is irrelevant.
//
// Every mutating operation writes the secret store first and updates
// memory only on success, so memory is never ahead of durable storage.
type Manager struct {
	mu        sync.Mutex // held for the full duration of each public operation
	store     keychain.Store
	settings  Settings
	notifKeys *keychain.NotificationKeys
	bus       *bus.Bus
	logger    *zap.Logger
	accounts  map[string]Account
}

// NewManager creates a manager over the given secret store.
func NewManager(store keychain.Store, settings Settings, notifKeys *keychain.NotificationKeys, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		settings:  settings,
		notifKeys: notifKeys,
		bus:       b,
		logger:    logger,
		accounts:  make(map[string]Account),
	}
}

// Initialize loads the authoritative account view from the secret store.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadLocked()
}

func (m *Manager) reloadLocked() error {
	ids, st := m.store.List()
	if st != keychain.StatusOK {
		return newStoreError("list accounts", st)
	}
	accounts := make(map[string]Account, len(ids))
	for _, id := range ids {
		entry, st := m.store.Get(id)
		if st != keychain.StatusOK {
			return newStoreError("load account "+id, st)
		}
		var acc Account
		if err := json.Unmarshal(entry.Attributes, &acc); err != nil {
			m.logger.Warn("skipping undecodable account record", zap.String("account", id), zap.Error(err))
			continue
		}
		acc.Name = id
		accounts[id] = acc
	}
	m.accounts = accounts
	return nil
}

// List returns all account identifiers, lexicographically ordered by
// their display form. The ordering is deterministic for UI stability.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveAccounts returns the enabled account records, ordered by name.
func (m *Manager) ActiveAccounts() []Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.accounts))
	for name, acc := range m.accounts {
		if acc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]Account, 0, len(names))
	for _, name := range names {
		out = append(out, m.accounts[name])
	}
	return out
}

// Get returns the cached record for the identifier. Memory lookup only,
// no storage I/O.
func (m *Manager) Get(name string) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[name]
	return acc, ok
}

// Password reads the account's secret from the secret store. The value
// is never cached; every call round-trips to storage. A missing item
// yields an empty password without error.
func (m *Manager) Password(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, st := m.store.Get(name)
	switch st {
	case keychain.StatusOK:
		return string(entry.Secret), nil
	case keychain.StatusItemNotFound:
		return "", nil
	default:
		return "", newStoreError("read password for "+name, st)
	}
}

// Save persists the record: secret store first, in-memory map only on
// success, so a failed durable write leaves the cache untouched. The
// first account ever saved becomes the default account if none is set.
// An enabled/disabled lifecycle event is emitted carrying the reconnect
// hint; event delivery never blocks the caller.
func (m *Manager) Save(acc Account, reconnect bool) error {
	if acc.Name == "" {
		return &ValidationError{Field: "account name", Reason: "must not be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(acc, reconnect)
}

func (m *Manager) saveLocked(acc Account, reconnect bool) error {
	attrs, err := json.Marshal(acc)
	if err != nil {
		return newStoreError("encode account "+acc.Name, keychain.StatusCorrupted)
	}

	entry := &keychain.Entry{Attributes: attrs}
	if acc.NewPassword != nil {
		entry.Secret = []byte(*acc.NewPassword)
	} else if prev, st := m.store.Get(acc.Name); st == keychain.StatusOK {
		// Keep the existing secret when no new one is staged.
		entry.Secret = prev.Secret
	}

	if st := m.store.Set(acc.Name, entry); st != keychain.StatusOK {
		return newStoreError("save account "+acc.Name, st)
	}

	// Durable write succeeded; the transient secret is dropped and the
	// cache updated.
	acc.NewPassword = nil
	m.accounts[acc.Name] = acc

	if m.settings.DefaultAccount() == "" {
		if err := m.settings.SetDefaultAccount(acc.Name); err != nil {
			m.logger.Warn("failed to persist default account", zap.String("account", acc.Name), zap.Error(err))
		}
	}

	kind := bus.KindAccountDisabled
	if acc.Enabled {
		kind = bus.KindAccountEnabled
	}
	m.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   bus.AccountChange{Name: acc.Name, Enabled: acc.Enabled, Reconnect: reconnect},
	})
	return nil
}

// Delete removes the account from the secret store and the cache, and
// purges any derived notification keys. The default-account setting is
// deliberately left alone: no implicit reassignment.
func (m *Manager) Delete(name string) error {
	if name == "" {
		return &ValidationError{Field: "account name", Reason: "must not be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[name]; !ok {
		return nil
	}

	if st := m.store.Delete(name); st != keychain.StatusOK && st != keychain.StatusItemNotFound {
		return newStoreError("delete account "+name, st)
	}

	delete(m.accounts, name)
	m.notifKeys.Set(name, nil)

	m.bus.Publish(bus.Event{
		Kind:      bus.KindAccountRemoved,
		Timestamp: time.Now(),
		Payload:   bus.AccountChange{Name: name},
	})
	return nil
}

// DefaultAccount returns the configured default account identifier.
func (m *Manager) DefaultAccount() string {
	return m.settings.DefaultAccount()
}

// MigrateLegacy imports accounts from the pre-keychain plaintext file.
// It only runs when no accounts are resident, maps each legacy entry
// field by field, persists it through the normal save path, and then
// reloads the authoritative view from the secret store rather than
// trusting its own translation.
func (m *Manager) MigrateLegacy(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.accounts) != 0 {
		return nil
	}

	legacy, err := keychain.ReadLegacy(path)
	if err != nil {
		return err
	}
	if len(legacy) == 0 {
		return nil
	}

	for _, old := range legacy {
		acc := Account{
			Name:          old.Name,
			Enabled:       old.Active,
			RosterVersion: old.RosterVersion,
			StatusMessage: old.PresenceDescription,
			Additional: Additional{
				Nickname:     old.Nickname,
				DisableTLS13: old.DisableTLS13,
			},
		}
		if old.Endpoint != nil {
			acc.ServerEndpoint = &Endpoint{Proto: old.Endpoint.Proto, Host: old.Endpoint.Host, Port: old.Endpoint.Port}
		} else if old.ServerHost != "" {
			acc.ServerEndpoint = &Endpoint{Proto: "tcp", Host: old.ServerHost, Port: 5222}
		}
		if old.PushEnabled {
			acc.Push = &PushSettings{Enabled: true}
		}
		if old.Password != "" {
			pw := old.Password
			acc.NewPassword = &pw
		}
		if err := m.saveLocked(acc, false); err != nil {
			return err
		}
		m.logger.Info("migrated legacy account", zap.String("account", old.Name))
	}

	return m.reloadLocked()
}
