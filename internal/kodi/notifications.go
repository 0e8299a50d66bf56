package kodi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"

	"github.com/tridentstream/client-kodi/internal/player"
)

// notificationKinds maps Kodi notification methods to the update class they
// mean for the synchronizer. Pause, resume, seek and speed changes keep the
// same item playing; play and stop change what is playing.
var notificationKinds = map[string]player.NotificationKind{
	"Player.OnPause":        player.NotifyMinor,
	"Player.OnResume":       player.NotifyMinor,
	"Player.OnSeek":         player.NotifyMinor,
	"Player.OnSpeedChanged": player.NotifyMinor,
	"Player.OnPlay":         player.NotifyMajor,
	"Player.OnAVStart":      player.NotifyMajor,
	"Player.OnStop":         player.NotifyMajor,
}

// ListenNotifications connects to Kodi's websocket transport and forwards
// playback notifications to the subscriber until the context is canceled.
// Connection loss is retried indefinitely; Kodi going away must not take the
// daemon down with it.
func (k *Kodi) ListenNotifications(ctx context.Context) {
	k.logger.Info().
		Str("event", "kodi.notifications_start").
		Str("url", k.cfg.WebsocketURL).
		Msg("listening for player notifications")

	for {
		if err := k.listenOnce(ctx); err != nil && ctx.Err() == nil {
			k.logger.Warn().Err(err).Str("event", "kodi.notifications_lost").Msg("notification connection lost")
		}

		select {
		case <-ctx.Done():
			k.logger.Info().Str("event", "kodi.notifications_stop").Msg("notification listener stopped")
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (k *Kodi) listenOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, k.cfg.WebsocketURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 20)

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		k.dispatchNotification(payload)
	}
}

func (k *Kodi) dispatchNotification(payload []byte) {
	var msg struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		k.logger.Debug().Err(err).Str("event", "kodi.bad_notification").Msg("undecodable notification")
		return
	}
	kind, ok := notificationKinds[msg.Method]
	if !ok {
		return
	}

	k.logger.Debug().
		Str("event", "kodi.notification").
		Str("method", msg.Method).
		Msg("player notification")
	k.notifySubscriber(kind)
}
