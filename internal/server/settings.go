package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/example/realtime-docstore/internal/storage"
)

// DatabaseConfig is the persisted per-database configuration.
type DatabaseConfig struct {
	Name      string
	AccessKey string
	RootKey   string
	PublicKey string
	Rules     string
}

// settingsStore persists database configuration in a dedicated keyspace.
// The layout is a colon-joined name list under "databases" plus one
// "database:<name>:<field>" entry per field.
type settingsStore struct {
	mu sync.Mutex
	kv storage.KV
}

func newSettingsStore(kv storage.KV) *settingsStore {
	return &settingsStore{kv: kv}
}

func settingField(name, field string) []byte {
	return []byte("database:" + name + ":" + field)
}

func (s *settingsStore) listNames() ([]string, error) {
	raw, err := s.kv.Get([]byte("databases"))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return strings.Split(string(raw), ":"), nil
}

func (s *settingsStore) getField(name, field string) (string, error) {
	raw, err := s.kv.Get(settingField(name, field))
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Databases loads every stored database configuration.
func (s *settingsStore) Databases() ([]DatabaseConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.listNames()
	if err != nil {
		return nil, err
	}

	configs := make([]DatabaseConfig, 0, len(names))
	for _, name := range names {
		cfg := DatabaseConfig{Name: name}
		if cfg.AccessKey, err = s.getField(name, "accesskey"); err != nil {
			return nil, err
		}
		if cfg.RootKey, err = s.getField(name, "rootkey"); err != nil {
			return nil, err
		}
		if cfg.PublicKey, err = s.getField(name, "publickey"); err != nil {
			return nil, err
		}
		if cfg.Rules, err = s.getField(name, "rules"); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Add registers a new database name.
func (s *settingsStore) Add(name string) error {
	if strings.Contains(name, ":") {
		return fmt.Errorf("invalid database name %q: must not contain ':'", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.listNames()
	if err != nil {
		return err
	}
	names = append(names, name)
	return s.kv.Put([]byte("databases"), []byte(strings.Join(names, ":")))
}

// SetField stores one configuration field for a database.
func (s *settingsStore) SetField(name, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Put(settingField(name, field), []byte(value))
}

// Delete removes a database and all of its fields.
func (s *settingsStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.listNames()
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}

	batch := s.kv.NewBatch()
	batch.Put([]byte("databases"), []byte(strings.Join(kept, ":")))
	for _, field := range []string{"accesskey", "rootkey", "publickey", "rules"} {
		batch.Delete(settingField(name, field))
	}
	return batch.Write()
}
