// client-kodi connects a local Kodi instance to a Tridentstream server: it
// registers the player, mirrors playback state to the server and applies
// remote control requests to Kodi.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tridentstream/client-kodi/internal/kodi"
	cklog "github.com/tridentstream/client-kodi/internal/log"
	"github.com/tridentstream/client-kodi/internal/service"
	"github.com/tridentstream/client-kodi/internal/settings"
	"github.com/tridentstream/client-kodi/internal/tracker"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to settings file (YAML)")
	kodiURL := flag.String("kodi-url", "http://127.0.0.1:8080/jsonrpc", "Kodi HTTP JSON-RPC endpoint")
	kodiWSURL := flag.String("kodi-ws-url", "ws://127.0.0.1:9090/jsonrpc", "Kodi websocket JSON-RPC endpoint")
	kodiUsername := flag.String("kodi-username", "kodi", "Kodi JSON-RPC username")
	kodiPassword := flag.String("kodi-password", "", "Kodi JSON-RPC password")
	logLevel := flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cklog.Configure(cklog.Config{
		Level:   *logLevel,
		Service: "client-kodi",
		Version: version,
	})
	logger := cklog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			path = filepath.Join(dir, "client-kodi", "settings.yaml")
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				logger.Fatal().Err(err).Str("event", "main.config_dir_failed").Msg("failed to create config directory")
			}
		}
	}

	store, err := settings.NewStore(path)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "main.settings_failed").Msg("failed to load settings")
	}
	if err := store.StartWatcher(ctx); err != nil {
		logger.Fatal().Err(err).Str("event", "main.watcher_failed").Msg("failed to watch settings")
	}

	local := kodi.New(kodi.Config{
		URL:          *kodiURL,
		WebsocketURL: *kodiWSURL,
		Username:     *kodiUsername,
		Password:     *kodiPassword,
	})

	tr := tracker.New(local, tracker.Options{})
	supervisor := service.New(store, tr, service.ServerRegistrar(), local.FriendlyName, service.Options{})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		local.ListenNotifications(ctx)
		return nil
	})
	group.Go(func() error {
		tr.Run(ctx)
		return nil
	})
	group.Go(func() error {
		supervisor.Run(ctx)
		return nil
	})

	if addr := os.Getenv("TS_METRICS_ADDR"); addr != "" {
		server := &http.Server{
			Addr:              addr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info().Str("event", "main.metrics_listen").Str("addr", addr).Msg("serving metrics")
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info().
		Str("event", "main.started").
		Str("version", version).
		Msg("client-kodi started")

	if err := group.Wait(); err != nil {
		logger.Fatal().Err(err).Str("event", "main.failed").Msg("daemon failed")
	}
	logger.Info().Str("event", "main.stopped").Msg("client-kodi stopped")
}
