// Package config is the persisted user-config store the core reads at
// startup: downloads_dir and port (spec §6). It is re-read for
// downloads_dir on every inbound transfer, and writes from any thread are
// guarded by a filesystem lock (a Save that finds the lock held fails
// rather than waiting), matching the teacher lineage's own use of
// gofrs/flock to guard its data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/naoina/toml"
)

// Config is the on-disk user-config record.
type Config struct {
	DownloadsDir string `toml:"downloads_dir"`
	Port         int    `toml:"port"`
}

// Default returns the OS-standard Downloads folder and an ephemeral port
// (0), the documented defaults from spec §6.
func Default() Config {
	dir, err := defaultDownloadsDir()
	if err != nil {
		dir = "."
	}
	return Config{DownloadsDir: dir, Port: 0}
}

func defaultDownloadsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, "Downloads"), nil
}

// Store wraps a path to the TOML config file plus the filesystem lock
// guarding concurrent writers (the UI thread and, in principle, a second
// dragit process).
type Store struct {
	path string
	lock *flock.Flock
}

// Open returns a Store bound to path. The file need not exist yet; Load
// returns Default() in that case.
func Open(path string) *Store {
	return &Store{path: path, lock: flock.New(path + ".lock")}
}

// Load reads the config from disk, returning Default() if the file is
// absent.
func (s *Store) Load() (Config, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", s.path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", s.path, err)
	}
	return cfg, nil
}

// DownloadsDir re-reads just the downloads_dir field, as required on every
// inbound transfer by spec §6, without forcing every caller to unmarshal
// the whole struct.
func (s *Store) DownloadsDir() (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}
	return cfg.DownloadsDir, nil
}

// Save writes cfg to disk under the filesystem lock, so a UI-thread write
// can never interleave with another writer's partial write.
func (s *Store) Save(cfg Config) error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("config: acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("config: %s is locked by another writer", s.path)
	}
	defer s.lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", filepath.Dir(s.path), err)
	}

	buf, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, buf, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	return nil
}
