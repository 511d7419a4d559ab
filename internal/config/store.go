package config

import "sync/atomic"

// Store holds the active configuration behind an atomic pointer so every
// request observes one coherent snapshot. The watcher swaps in a fresh
// snapshot on reload; in-flight requests keep the snapshot they loaded.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Load returns the current configuration snapshot.
func (s *Store) Load() *Config {
	return s.current.Load()
}

// Swap publishes a new configuration snapshot.
func (s *Store) Swap(cfg *Config) {
	s.current.Store(cfg)
}
