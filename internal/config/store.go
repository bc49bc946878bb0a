package config

import (
	"log/slog"
	"sync/atomic"

	"github.com/knadh/koanf/providers/file"
)

// Store holds the current configuration snapshot. Readers get an immutable
// *Config; updates swap the whole pointer, so a reader mid-request keeps a
// consistent view while the next request observes the new one.
type Store struct {
	current atomic.Pointer[Config]
	path    string
	logger  *slog.Logger
}

// NewStore creates a store seeded with an initial snapshot.
func NewStore(initial *Config, path string, logger *slog.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.current.Store(initial)
	return s
}

// Current returns the latest snapshot. Never nil.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Swap replaces the snapshot after validating it. Used by admin writes.
func (s *Store) Swap(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

// Watch reloads the snapshot whenever the backing file changes. Invalid
// edits are logged and skipped, leaving the previous snapshot in place.
// Propagation to routing decisions is bounded by the filesystem watch
// latency. No-op when the store was not created from a file.
func (s *Store) Watch(onReload func(*Config)) error {
	if s.path == "" {
		return nil
	}

	f := file.Provider(s.path)
	return f.Watch(func(event interface{}, err error) {
		if err != nil {
			s.logger.Error("config watch error", slog.String("error", err.Error()))
			return
		}

		cfg, err := Load(s.path)
		if err != nil {
			s.logger.Error("config reload rejected", slog.String("error", err.Error()))
			return
		}

		s.current.Store(cfg)
		s.logger.Info("config reloaded", slog.String("path", s.path))
		if onReload != nil {
			onReload(cfg)
		}
	})
}
