package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	cklog "github.com/tridentstream/client-kodi/internal/log"
)

// Store provides thread-safe access to the settings with hot reloading from
// the backing file. A Store with an empty path is environment-only.
type Store struct {
	path    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Settings
}

// NewStore loads the settings from the given file (missing file is fine,
// the daemon starts unconfigured), overlays the environment and makes sure a
// player id exists.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:   path,
		logger: cklog.WithComponent("settings"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	if err := s.ensurePlayerID(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload reads the backing file and swaps the settings atomically. A parse
// failure keeps the previous settings.
func (s *Store) Reload() error {
	loaded, err := s.load()
	if err != nil {
		s.logger.Error().Err(err).Str("event", "settings.reload_failed").Msg("failed to reload settings")
		return err
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()

	s.logger.Debug().Str("event", "settings.reloaded").Str("url", loaded.URL).Msg("settings loaded")
	return nil
}

func (s *Store) load() (Settings, error) {
	var loaded Settings
	if s.path != "" {
		data, err := os.ReadFile(s.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Unconfigured start, the file appears once the user saves.
		case err != nil:
			return Settings{}, fmt.Errorf("read settings: %w", err)
		default:
			if err := yaml.Unmarshal(data, &loaded); err != nil {
				return Settings{}, fmt.Errorf("parse settings: %w", err)
			}
		}
	}
	return loaded.applyEnv(), nil
}

// Save persists the settings atomically and makes them current.
func (s *Store) Save(updated Settings) error {
	if s.path != "" {
		data, err := yaml.Marshal(updated)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
	}

	s.mu.Lock()
	s.current = updated
	s.mu.Unlock()
	return nil
}

// ensurePlayerID generates and persists a stable player identity on first
// run. The id survives restarts so the server keeps recognizing this player.
func (s *Store) ensurePlayerID() error {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current.PlayerID != "" {
		return nil
	}

	current.PlayerID = uuid.NewString()
	s.logger.Info().
		Str("event", "settings.player_id_generated").
		Str("player_id", current.PlayerID).
		Msg("generated player id")
	return s.Save(current)
}

// StartWatcher watches the backing file for changes and reloads on write.
// No-op for environment-only stores.
func (s *Store) StartWatcher(ctx context.Context) error {
	if s.path == "" {
		s.logger.Info().Str("event", "settings.watcher_disabled").Msg("no settings file, watcher disabled")
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		s.logger.Info().
			Str("event", "settings.watcher_disabled").
			Str("path", s.path).
			Msg("settings file does not exist, watcher disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch settings file: %w", err)
	}
	s.watcher = watcher

	s.logger.Info().
		Str("event", "settings.watcher_started").
		Str("path", s.path).
		Msg("watching settings file")

	go s.watchLoop(ctx)
	return nil
}

func (s *Store) watchLoop(ctx context.Context) {
	// Editors fire several events per save; debounce them into one reload.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = s.watcher.Close()
			s.logger.Info().Str("event", "settings.watcher_stopped").Msg("settings watcher stopped")
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					_ = s.Reload()
				})
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Str("event", "settings.watcher_error").Msg("settings watcher error")
		}
	}
}
