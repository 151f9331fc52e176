package config

import "sync"

// Store guards a Config shared between the CLI and running queues. Queues read
// settings through it at every dispatch, so updates apply to later work only.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewStore wraps cfg. path is where Save writes; empty means DefaultPath.
func NewStore(cfg *Config, path string) *Store {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Store{cfg: cfg, path: path}
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// QueueSettings implements the queue settings source.
func (s *Store) QueueSettings(queue string) QueueSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.QueueSettings(queue)
}

// HubToken returns the configured hub token, if any.
func (s *Store) HubToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.HuggingFace.APIToken
}

// Update applies fn under the write lock.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.cfg)
}

// Set assigns one key.
func (s *Store) Set(name, value string) error {
	return s.Update(func(c *Config) error { return c.Set(name, value) })
}

// Save writes the current configuration to the store's path.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Save(s.cfg, s.path)
}

// Path returns the file the store saves to.
func (s *Store) Path() string {
	if s.path != "" {
		return s.path
	}
	p, _ := DefaultPath()
	return p
}

// S3Keys returns the static S3 key pair, if configured.
func (s *Store) S3Keys() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.S3.AccessKeyID, s.cfg.S3.SecretAccessKey
}
