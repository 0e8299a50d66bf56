// Package service supervises the daemon: it keeps a playback session alive
// whenever the settings allow one, and tears it down when they change.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	cklog "github.com/tridentstream/client-kodi/internal/log"
	"github.com/tridentstream/client-kodi/internal/settings"
	"github.com/tridentstream/client-kodi/internal/tracker"
	"github.com/tridentstream/client-kodi/internal/tridentstream"
)

// Registrar obtains a playback session for this player from the server.
type Registrar interface {
	RegisterPlayer(ctx context.Context, cfg settings.Settings, playerID, name string) (tracker.Session, error)
}

// RegistrarFunc adapts a function to the Registrar interface.
type RegistrarFunc func(ctx context.Context, cfg settings.Settings, playerID, name string) (tracker.Session, error)

func (f RegistrarFunc) RegisterPlayer(ctx context.Context, cfg settings.Settings, playerID, name string) (tracker.Session, error) {
	return f(ctx, cfg, playerID, name)
}

// ServerRegistrar registers against a real Tridentstream server.
func ServerRegistrar() Registrar {
	return RegistrarFunc(func(ctx context.Context, cfg settings.Settings, playerID, name string) (tracker.Session, error) {
		client := tridentstream.NewClient(tridentstream.Config{
			URL:       cfg.URL,
			Username:  cfg.Username,
			Password:  cfg.Password,
			VerifyTLS: cfg.VerifySSL,
		})
		return client.RegisterPlayer(ctx, playerID, name)
	})
}

// Options tunes the supervisor loop. Zero values select production timing.
type Options struct {
	Interval time.Duration // settings poll interval, default 1s
	Backoff  time.Duration // retry delay after a failed registration, default 2m
}

// Supervisor drives the connect/disconnect lifecycle of the tracker based on
// the current settings.
type Supervisor struct {
	store     *settings.Store
	tracker   *tracker.Tracker
	registrar Registrar
	name      func(ctx context.Context) (string, error)
	opts      Options
	logger    zerolog.Logger

	lastFingerprint string
	retryAt         time.Time
}

// New builds a supervisor. name resolves the human-readable player name
// advertised to the server, typically Kodi's friendly name.
func New(store *settings.Store, tr *tracker.Tracker, registrar Registrar, name func(ctx context.Context) (string, error), opts Options) *Supervisor {
	if opts.Interval == 0 {
		opts.Interval = time.Second
	}
	if opts.Backoff == 0 {
		opts.Backoff = 2 * time.Minute
	}
	return &Supervisor{
		store:     store,
		tracker:   tr,
		registrar: registrar,
		name:      name,
		opts:      opts,
		logger:    cklog.WithComponent("service"),
	}
}

// Run polls the settings until the context is canceled. The bound session, if
// any, is closed on the way out.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info().Str("event", "service.start").Msg("supervisor started")
	defer func() {
		s.tracker.DisconnectPlayer()
		s.logger.Info().Str("event", "service.stop").Msg("supervisor stopped")
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.reconcile(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reconcile performs one supervision step: disconnect on settings change,
// connect when disconnected and out of backoff.
func (s *Supervisor) reconcile(ctx context.Context) {
	cfg := s.store.Get()
	if !cfg.Ready() {
		return
	}

	if s.tracker.Usable() && cfg.Fingerprint() != s.lastFingerprint {
		s.logger.Info().Str("event", "service.settings_changed").Msg("settings changed, dropping session")
		s.tracker.DisconnectPlayer()
		s.retryAt = time.Time{}
		return
	}

	if s.tracker.Usable() || time.Now().Before(s.retryAt) {
		return
	}

	s.connect(ctx, cfg)
}

func (s *Supervisor) connect(ctx context.Context, cfg settings.Settings) {
	name, err := s.name(ctx)
	if err != nil || name == "" {
		s.logger.Warn().Err(err).Str("event", "service.no_player_name").Msg("player name unavailable")
		name = "Kodi"
	}

	session, err := s.registrar.RegisterPlayer(ctx, cfg, cfg.PlayerID, name)
	if err != nil {
		s.backoff("registration failed", err)
		return
	}

	if err := s.tracker.ConnectPlayer(ctx, session); err != nil {
		s.backoff("session connect failed", err)
		return
	}

	s.lastFingerprint = cfg.Fingerprint()
	s.retryAt = time.Time{}
	s.logger.Info().
		Str("event", "service.connected").
		Str("player_id", cfg.PlayerID).
		Str("name", name).
		Msg("player registered")
}

func (s *Supervisor) backoff(reason string, err error) {
	s.retryAt = time.Now().Add(s.opts.Backoff)
	event := s.logger.Warn().Str("event", "service.backoff").Dur("backoff", s.opts.Backoff)
	if errors.Is(err, tridentstream.ErrNoPlayerService) {
		event = event.Str("detail", "server exposes no player service")
	}
	event.Err(err).Msg(reason)
}
