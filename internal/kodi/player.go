package kodi

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	cklog "github.com/tridentstream/client-kodi/internal/log"
	"github.com/tridentstream/client-kodi/internal/player"
)

// Kodi implements player.Player against a running Kodi instance.
type Kodi struct {
	rpc    *client
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	notify player.NotifyFunc
}

var _ player.Player = (*Kodi)(nil)

func New(cfg Config) *Kodi {
	return &Kodi{
		rpc:    newClient(cfg),
		cfg:    cfg,
		logger: cklog.WithComponent("kodi"),
	}
}

// activePlayer returns the id of the active Kodi player, if any. Kodi runs at
// most one player at a time in practice; the first one wins.
func (k *Kodi) activePlayer(ctx context.Context) (int, bool, error) {
	var players []struct {
		PlayerID int    `json:"playerid"`
		Type     string `json:"type"`
	}
	if err := k.rpc.call(ctx, "Player.GetActivePlayers", nil, &players); err != nil {
		return 0, false, err
	}
	if len(players) == 0 {
		return 0, false, nil
	}
	return players[0].PlayerID, true, nil
}

func (k *Kodi) infoLabels(ctx context.Context, labels ...string) (map[string]string, error) {
	out := map[string]string{}
	err := k.rpc.call(ctx, "XBMC.GetInfoLabels", map[string]any{"labels": labels}, &out)
	return out, err
}

// FriendlyName returns Kodi's configured device name, used as the player name
// when registering with the server.
func (k *Kodi) FriendlyName(ctx context.Context) (string, error) {
	labels, err := k.infoLabels(ctx, "System.FriendlyName")
	if err != nil {
		return "", err
	}
	return labels["System.FriendlyName"], nil
}

type streamInfo struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

func (s streamInfo) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Language
}

type playerProperties struct {
	Speed              float64          `json:"speed"`
	Time               player.Timestamp `json:"time"`
	TotalTime          player.Timestamp `json:"totaltime"`
	Type               string           `json:"type"`
	AudioStreams       []streamInfo     `json:"audiostreams"`
	Subtitles          []streamInfo     `json:"subtitles"`
	CurrentAudioStream json.RawMessage  `json:"currentaudiostream"`
	CurrentSubtitle    json.RawMessage  `json:"currentsubtitle"`
}

// currentIndex extracts the index of the active stream. Kodi reports an empty
// object when no stream of that kind is active.
func currentIndex(raw json.RawMessage) *int {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		return nil
	}
	var s streamInfo
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s.Index
}

// CurrentState observes the Kodi player. No active player means stopped.
func (k *Kodi) CurrentState(ctx context.Context) (player.State, error) {
	pid, active, err := k.activePlayer(ctx)
	if err != nil {
		return player.State{}, err
	}
	if !active {
		return player.State{Status: player.StatusStopped}, nil
	}

	var item struct {
		Item struct {
			Title string `json:"title"`
			File  string `json:"file"`
		} `json:"item"`
	}
	if err := k.rpc.call(ctx, "Player.GetItem", map[string]any{
		"playerid":   pid,
		"properties": []string{"title", "file"},
	}, &item); err != nil {
		return player.State{}, err
	}

	labels, err := k.infoLabels(ctx, "Player.ChapterCount", "Player.Chapter", "VideoPlayer.Title")
	if err != nil {
		return player.State{}, err
	}

	var props playerProperties
	if err := k.rpc.call(ctx, "Player.GetProperties", map[string]any{
		"playerid": pid,
		"properties": []string{
			"audiostreams", "subtitles", "currentaudiostream",
			"currentsubtitle", "time", "totaltime", "type", "speed",
		},
	}, &props); err != nil {
		return player.State{}, err
	}

	title := item.Item.Title
	if title == "" && props.Type == "video" {
		title = labels["VideoPlayer.Title"]
	}

	state := player.State{
		Status:             player.StatusPlaying,
		Name:               item.Item.File,
		Title:              title,
		Chapters:           atoiOrZero(labels["Player.ChapterCount"]),
		CurrentChapter:     atoiOrZero(labels["Player.Chapter"]),
		Speed:              props.Speed,
		Length:             props.TotalTime.TotalSeconds(),
		CurrentTime:        props.Time.TotalSeconds(),
		CurrentAudioStream: currentIndex(props.CurrentAudioStream),
		CurrentSubtitle:    currentIndex(props.CurrentSubtitle),
	}
	for _, s := range props.AudioStreams {
		state.AudioStreams = append(state.AudioStreams, player.Stream{Index: s.Index, Name: s.label()})
	}
	for _, s := range props.Subtitles {
		state.Subtitles = append(state.Subtitles, player.Stream{Index: s.Index, Name: s.label()})
	}
	return state, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func (k *Kodi) Play(ctx context.Context, url string) error {
	k.logger.Info().Str("event", "kodi.play").Str("url", url).Msg("opening stream")
	return k.rpc.call(ctx, "Player.Open", map[string]any{
		"item": map[string]any{"file": url},
	}, nil)
}

// withPlayer runs fn against the active player. Nothing playing is not an
// error for control calls; there is simply nothing to control.
func (k *Kodi) withPlayer(ctx context.Context, fn func(pid int) error) error {
	pid, active, err := k.activePlayer(ctx)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}
	return fn(pid)
}

func (k *Kodi) Stop(ctx context.Context) error {
	return k.withPlayer(ctx, func(pid int) error {
		return k.rpc.call(ctx, "Player.Stop", map[string]any{"playerid": pid}, nil)
	})
}

func (k *Kodi) Seek(ctx context.Context, position player.Timestamp) error {
	return k.withPlayer(ctx, func(pid int) error {
		return k.rpc.call(ctx, "Player.Seek", map[string]any{
			"playerid": pid,
			"value":    position,
		}, nil)
	})
}

func (k *Kodi) SetAudioStream(ctx context.Context, index int) error {
	return k.withPlayer(ctx, func(pid int) error {
		return k.rpc.call(ctx, "Player.SetAudioStream", map[string]any{
			"playerid": pid,
			"stream":   index,
		}, nil)
	})
}

func (k *Kodi) SetSubtitle(ctx context.Context, index int) error {
	return k.withPlayer(ctx, func(pid int) error {
		return k.rpc.call(ctx, "Player.SetSubtitle", map[string]any{
			"playerid": pid,
			"subtitle": index,
			"enable":   true,
		}, nil)
	})
}

func (k *Kodi) DisableSubtitle(ctx context.Context) error {
	return k.withPlayer(ctx, func(pid int) error {
		return k.rpc.call(ctx, "Player.SetSubtitle", map[string]any{
			"playerid": pid,
			"subtitle": "off",
		}, nil)
	})
}

func (k *Kodi) SetSpeed(ctx context.Context, speed float64) error {
	return k.withPlayer(ctx, func(pid int) error {
		return k.rpc.call(ctx, "Player.SetSpeed", map[string]any{
			"playerid": pid,
			"speed":    speed,
		}, nil)
	})
}

func (k *Kodi) Next(ctx context.Context) error {
	return k.goTo(ctx, "next")
}

func (k *Kodi) Previous(ctx context.Context) error {
	return k.goTo(ctx, "previous")
}

func (k *Kodi) goTo(ctx context.Context, to string) error {
	return k.withPlayer(ctx, func(pid int) error {
		return k.rpc.call(ctx, "Player.GoTo", map[string]any{
			"playerid": pid,
			"to":       to,
		}, nil)
	})
}

func (k *Kodi) Subscribe(fn player.NotifyFunc) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.notify = fn
}

func (k *Kodi) notifySubscriber(kind player.NotificationKind) {
	k.mu.Lock()
	fn := k.notify
	k.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}
