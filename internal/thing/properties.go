package thing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/models"
)

// KeyringService is the service name used for keyring-backed property stores.
const KeyringService = "hab-cloud-bridge"

// PropertyStore is the key/value property bag the host keeps for a thing.
// Tokens and login state survive restarts through it.
type PropertyStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(keys ...string) error
	All() map[string]string
}

// NewPropertyStore opens the property store for uid using the configured backend.
func NewPropertyStore(config models.PropertyStoreConfig, uid UID, logger *zap.Logger) (PropertyStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch config.Backend {
	case "memory":
		return NewMemoryStore(nil), nil
	case "keyring":
		return NewKeyringStore(uid)
	case "file":
		return NewFileStore(config.Path, uid)
	case "", "auto":
		if KeyringAvailable() {
			logger.Debug("Using keyring property store", zap.String("thing", uid.String()))
			return NewKeyringStore(uid)
		}
		logger.Info("Keyring not available, falling back to file property store",
			zap.String("thing", uid.String()), zap.String("path", config.Path))
		return NewFileStore(config.Path, uid)
	default:
		return nil, errors.Newf("unknown property store backend %q", config.Backend)
	}
}

// Reloader is implemented by property stores backed by storage that other
// processes may write to.
type Reloader interface {
	Reload() error
}

type memoryStore struct {
	mux     sync.RWMutex
	values  map[string]string
	persist func(map[string]string) error
	load    func() (map[string]string, error)
}

func NewMemoryStore(initial map[string]string) PropertyStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &memoryStore{values: values}
}

func (s *memoryStore) Get(key string) (string, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *memoryStore) Set(key, value string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	next := s.copyValues()
	if value == "" {
		delete(next, key)
	} else {
		next[key] = value
	}
	return s.save(next)
}

func (s *memoryStore) Delete(keys ...string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	next := s.copyValues()
	for _, key := range keys {
		delete(next, key)
	}
	return s.save(next)
}

func (s *memoryStore) All() map[string]string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.copyValues()
}

// Reload replaces the values with what the backend currently holds, picking
// up changes written by another process.
func (s *memoryStore) Reload() error {
	if s.load == nil {
		return nil
	}
	values, err := s.load()
	if err != nil {
		return err
	}
	s.mux.Lock()
	s.values = values
	s.mux.Unlock()
	return nil
}

func (s *memoryStore) copyValues() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// save persists next and only then makes it the current values. It must be
// called with the lock held.
func (s *memoryStore) save(next map[string]string) error {
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return err
		}
	}
	s.values = next
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// NewFileStore keeps the properties of uid in <dir>/<uid>.json with 0600 permissions.
func NewFileStore(dir string, uid UID) (PropertyStore, error) {
	if dir == "" {
		dir = "./properties"
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create property directory")
	}
	path := filepath.Join(dir, unsafeFileChars.ReplaceAllString(uid.String(), "_")+".json")
	load := func() (map[string]string, error) {
		values := make(map[string]string)
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &values); err != nil {
				return nil, errors.Wrapf(err, "failed to parse property file %s", path)
			}
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "failed to read property file %s", path)
		}
		return values, nil
	}
	values, err := load()
	if err != nil {
		return nil, err
	}
	store := &memoryStore{values: values, load: load}
	store.persist = func(snapshot map[string]string) error {
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal properties")
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return errors.Wrap(err, "failed to write property file")
		}
		return nil
	}
	return store, nil
}

// KeyringAvailable reports whether the OS keyring can be used. A missing
// entry still counts as available.
func KeyringAvailable() bool {
	_, err := keyring.Get(KeyringService, "probe")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// NewKeyringStore keeps the properties of uid as one JSON entry in the OS keyring.
func NewKeyringStore(uid UID) (PropertyStore, error) {
	load := func() (map[string]string, error) {
		values := make(map[string]string)
		data, err := keyring.Get(KeyringService, uid.String())
		switch {
		case err == nil:
			if err := json.Unmarshal([]byte(data), &values); err != nil {
				_ = keyring.Delete(KeyringService, uid.String())
				return nil, errors.Wrap(err, "failed to parse properties from keyring")
			}
		case !errors.Is(err, keyring.ErrNotFound):
			return nil, errors.Wrap(err, "failed to load properties from keyring")
		}
		return values, nil
	}
	values, err := load()
	if err != nil {
		return nil, err
	}
	store := &memoryStore{values: values, load: load}
	store.persist = func(snapshot map[string]string) error {
		if len(snapshot) == 0 {
			err := keyring.Delete(KeyringService, uid.String())
			if err != nil && !errors.Is(err, keyring.ErrNotFound) {
				return errors.Wrap(err, "failed to delete properties from keyring")
			}
			return nil
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			return errors.Wrap(err, "failed to encode properties")
		}
		if err := keyring.Set(KeyringService, uid.String(), string(data)); err != nil {
			return errors.Wrap(err, "failed to save properties to keyring")
		}
		return nil
	}
	return store, nil
}
