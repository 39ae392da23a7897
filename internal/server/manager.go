package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/realtime-docstore/internal/config"
	"github.com/example/realtime-docstore/internal/db"
	"github.com/example/realtime-docstore/internal/rules"
)

// Manager owns the set of named databases, their engines, and their
// persisted configuration.
type Manager struct {
	mu        sync.RWMutex
	databases map[string]*DatabaseHandle
	settings  *settingsStore
	resources *config.Resources
	logger    zerolog.Logger
}

// NewManager loads every configured database from the settings keyspace and
// opens its engine.
func NewManager(resources *config.Resources, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		databases: make(map[string]*DatabaseHandle),
		settings:  newSettingsStore(resources.Settings),
		resources: resources,
		logger:    logger,
	}

	configs, err := m.settings.Databases()
	if err != nil {
		return nil, fmt.Errorf("load database settings: %w", err)
	}
	for _, cfg := range configs {
		handle, err := m.openHandle(cfg)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("open database %q: %w", cfg.Name, err)
		}
		m.databases[cfg.Name] = handle
	}

	activeDatabases.Set(float64(len(m.databases)))
	return m, nil
}

func (m *Manager) openHandle(cfg DatabaseConfig) (*DatabaseHandle, error) {
	database, err := db.New(m.resources.DatabaseDir(cfg.Name), db.DenyAll{}, m.logger.With().Str("database", cfg.Name).Logger())
	if err != nil {
		return nil, err
	}
	handle := &DatabaseHandle{
		name:      cfg.Name,
		accessKey: cfg.AccessKey,
		rootKey:   cfg.RootKey,
		publicKey: cfg.PublicKey,
		settings:  m.settings,
		database:  database,
		logger:    m.logger.With().Str("database", cfg.Name).Logger(),
	}
	if cfg.Rules != "" {
		handle.applyRules(cfg.Rules)
	}
	return handle, nil
}

// Get returns the handle for a named database, or nil.
func (m *Manager) Get(name string) *DatabaseHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.databases[name]
}

// Names returns the sorted database names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.databases))
	for name := range m.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add creates a new empty database. The returned handle starts with a
// deny-all engine until rules are set.
func (m *Manager) Add(name string) (*DatabaseHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.databases[name]; ok {
		return nil, errors.New("database already exists")
	}
	if err := m.settings.Add(name); err != nil {
		return nil, err
	}

	handle, err := m.openHandle(DatabaseConfig{Name: name})
	if err != nil {
		return nil, err
	}
	m.databases[name] = handle
	activeDatabases.Set(float64(len(m.databases)))
	m.logger.Info().Str("database", name).Msg("database created")
	return handle, nil
}

// Delete removes a database, its settings, and its on-disk state.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	handle, ok := m.databases[name]
	if ok {
		delete(m.databases, name)
	}
	activeDatabases.Set(float64(len(m.databases)))
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := m.settings.Delete(name); err != nil {
		return err
	}
	m.logger.Info().Str("database", name).Msg("database deleted")
	return handle.database.Delete()
}

// Close stops every open database, leaving their on-disk state intact.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, handle := range m.databases {
		if err := handle.database.Stop(); err != nil {
			m.logger.Warn().Err(err).Str("database", name).Msg("stop database")
		}
		delete(m.databases, name)
	}
	activeDatabases.Set(0)
}

// DatabaseHandle pairs an open database engine with its access
// configuration and rule text.
type DatabaseHandle struct {
	name     string
	settings *settingsStore
	database *db.Database
	logger   zerolog.Logger

	mu        sync.RWMutex
	accessKey string
	rootKey   string
	publicKey string
	rulesText string
}

// Name returns the database name.
func (h *DatabaseHandle) Name() string { return h.name }

// Database returns the underlying engine.
func (h *DatabaseHandle) Database() *db.Database { return h.database }

// AccessKey returns the configured connection access key, empty when open.
func (h *DatabaseHandle) AccessKey() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.accessKey
}

// RootKey returns the configured root key.
func (h *DatabaseHandle) RootKey() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootKey
}

// PublicKey returns the PEM public key used for JWT verification.
func (h *DatabaseHandle) PublicKey() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.publicKey
}

// Rules returns the active rule source text.
func (h *DatabaseHandle) Rules() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rulesText
}

// applyRules installs stored rule text without persisting it. Legacy JSON
// rule content predates the rule language and is replaced by a fully
// permissive rule set. Text that fails to compile leaves the deny-all
// engine in place.
func (h *DatabaseHandle) applyRules(text string) {
	if json.Valid([]byte(text)) {
		h.logger.Warn().Msg("legacy JSON rules found, replacing with permissive rule set")
		text = rules.Permissive
	}

	matcher, ruleErr := rules.Compile(text)
	if ruleErr != nil {
		h.logger.Warn().Int("line", ruleErr.Line).Int("column", ruleErr.Column).Str("reason", ruleErr.Message).Msg("stored rules do not compile, access stays denied")
		return
	}

	h.mu.Lock()
	h.rulesText = text
	h.mu.Unlock()
	h.database.SetRules(matcher)
}

// SetRules compiles, persists, and hot-swaps the rule set. On a compile
// error the previous engine stays active and the error is returned.
func (h *DatabaseHandle) SetRules(text string) (*rules.RuleError, error) {
	matcher, ruleErr := rules.Compile(text)
	if ruleErr != nil {
		return ruleErr, nil
	}
	if err := h.settings.SetField(h.name, "rules", text); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.rulesText = text
	h.mu.Unlock()
	h.database.SetRules(matcher)
	return nil, nil
}

// SetAccessKey persists and applies a new access key.
func (h *DatabaseHandle) SetAccessKey(key string) error {
	if err := h.settings.SetField(h.name, "accesskey", key); err != nil {
		return err
	}
	h.mu.Lock()
	h.accessKey = key
	h.mu.Unlock()
	return nil
}

// SetRootKey persists and applies a new root key.
func (h *DatabaseHandle) SetRootKey(key string) error {
	if err := h.settings.SetField(h.name, "rootkey", key); err != nil {
		return err
	}
	h.mu.Lock()
	h.rootKey = key
	h.mu.Unlock()
	return nil
}

// SetPublicKey persists and applies a new JWT verification key.
func (h *DatabaseHandle) SetPublicKey(key string) error {
	if err := h.settings.SetField(h.name, "publickey", key); err != nil {
		return err
	}
	h.mu.Lock()
	h.publicKey = key
	h.mu.Unlock()
	return nil
}
