// Package tracker keeps a remote playback session consistent with the local
// player and applies remote control requests locally.
package tracker

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	cklog "github.com/tridentstream/client-kodi/internal/log"
	"github.com/tridentstream/client-kodi/internal/metrics"
	"github.com/tridentstream/client-kodi/internal/player"
	"github.com/tridentstream/client-kodi/internal/rpc"
)

// Session is what the tracker needs from a playback RPC session.
type Session interface {
	Connect(ctx context.Context) error
	Close()
	SendCommand(method string, args ...any) (string, error)
	RegisterCommand(name string, handler rpc.Handler)
	SetOption(key string, value any)
	LoggedIn() bool
	SentFullState() bool
	MarkFullStateSent()
}

// Options tunes the update loop. Zero values select production timing.
type Options struct {
	Tick         time.Duration // poll interval, default 500ms
	DefaultDelay time.Duration // liveness update delay when the schedule runs dry, default 10s
}

// Tracker owns the debounced update schedule for one local player. At most
// one scheduled entry executes per loop tick; entries are honored in due
// order.
type Tracker struct {
	local  player.Player
	opts   Options
	logger zerolog.Logger

	mu           sync.Mutex
	session      Session
	schedule     []scheduleEntry
	lastState    player.State
	viewstate    map[string]any
	streamResult map[string]any
}

type scheduleEntry struct {
	due           time.Time
	linkViewstate bool
}

// speedOptions is the speed set advertised to the server.
var speedOptions = []float64{0, 1, 2, 4, 8, -1, -2, -4, -8}

// New returns a tracker subscribed to the local player's notifications: minor
// updates schedule a plain check, major updates schedule a viewstate-linking
// check.
func New(local player.Player, opts Options) *Tracker {
	if opts.Tick == 0 {
		opts.Tick = 500 * time.Millisecond
	}
	if opts.DefaultDelay == 0 {
		opts.DefaultDelay = 10 * time.Second
	}

	t := &Tracker{
		local:  local,
		opts:   opts,
		logger: cklog.WithComponent("tracker"),
	}
	local.Subscribe(func(kind player.NotificationKind) {
		t.ScheduleUpdate(0, kind == player.NotifyMajor)
	})
	return t
}

// ConnectPlayer binds the tracker to a session: registers the remote command
// vocabulary and options, connects, and schedules an initial check. The
// last-sent state resets so the first push after login is always full.
func (t *Tracker) ConnectPlayer(ctx context.Context, session Session) error {
	t.logger.Debug().Str("event", "tracker.connect_player").Msg("connecting player")

	t.mu.Lock()
	t.lastState = player.State{}
	t.session = session
	t.mu.Unlock()

	session.RegisterCommand("play", t.handlePlay)
	session.RegisterCommand("next", t.handleNext)
	session.RegisterCommand("previous", t.handlePrevious)
	session.RegisterCommand("request_state", t.handleRequestState)
	session.SetOption("speed", speedOptions)

	if err := session.Connect(ctx); err != nil {
		t.mu.Lock()
		t.session = nil
		t.mu.Unlock()
		return err
	}

	t.ScheduleUpdate(3*time.Second, false)
	return nil
}

// DisconnectPlayer closes and unbinds the current session, if any.
func (t *Tracker) DisconnectPlayer() {
	t.mu.Lock()
	session := t.session
	t.session = nil
	t.mu.Unlock()

	if session != nil {
		session.Close()
	}
}

// Usable reports whether a session is bound. It does not imply the session is
// registered; sends are gated on the session's logged-in flag separately.
func (t *Tracker) Usable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil
}

// ScheduleUpdate queues a state check after the given delay. The schedule
// stays sorted by due time; multiple pending entries coexist and each is
// honored independently.
func (t *Tracker) ScheduleUpdate(delay time.Duration, linkViewstate bool) {
	t.logger.Debug().
		Str("event", "tracker.schedule").
		Dur("delay", delay).
		Bool("link_viewstate", linkViewstate).
		Msg("scheduling update")

	t.mu.Lock()
	defer t.mu.Unlock()
	t.schedule = append(t.schedule, scheduleEntry{due: time.Now().Add(delay), linkViewstate: linkViewstate})
	sort.Slice(t.schedule, func(i, j int) bool {
		return t.schedule[i].due.Before(t.schedule[j].due)
	})
}

// Run executes the update loop until the context is canceled. Exactly one
// due entry runs per tick.
func (t *Tracker) Run(ctx context.Context) {
	t.logger.Info().Str("event", "tracker.loop_start").Msg("update loop started")
	defer t.logger.Info().Str("event", "tracker.loop_end").Msg("update loop ended")

	for {
		if t.scheduleEmpty() {
			t.ScheduleUpdate(t.opts.DefaultDelay, false)
		}

		if entry, ok := t.popDue(); ok {
			t.checkForStateUpdate(ctx, entry.linkViewstate)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.opts.Tick):
		}
	}
}

func (t *Tracker) scheduleEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.schedule) == 0
}

// popDue removes and returns the earliest entry whose due time has passed.
func (t *Tracker) popDue() (scheduleEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.schedule) == 0 || t.schedule[0].due.After(time.Now()) {
		return scheduleEntry{}, false
	}
	entry := t.schedule[0]
	t.schedule = t.schedule[1:]
	return entry, true
}

// checkForStateUpdate observes the local player, diffs against the last-sent
// state and pushes the delta. The first push after login is a full snapshot;
// later pushes within an unchanged discrete state suppress unchanged fields.
func (t *Tracker) checkForStateUpdate(ctx context.Context, linkViewstate bool) {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return
	}

	current, err := t.local.CurrentState(ctx)
	if err != nil {
		t.logger.Error().Err(err).Str("event", "tracker.state_read_failed").Msg("failed to get state from player")
		metrics.RecordTickSkipped()
		return
	}

	values := current.Values()

	if linkViewstate {
		t.mu.Lock()
		viewstate := t.viewstate
		t.mu.Unlock()

		if current.Status == player.StatusPlaying && viewstate != nil {
			t.logger.Info().
				Str("event", "tracker.link_viewstate").
				Str("name", current.Name).
				Msg("linking viewstate to playing item")
			t.applyRequestedState(ctx, string(player.StatusPlaying), viewstate)
		}
		if current.Status == player.StatusStopped && viewstate != nil {
			t.logger.Info().Str("event", "tracker.clear_viewstate").Msg("clearing viewstate")
			t.mu.Lock()
			t.viewstate = nil
			t.mu.Unlock()
		}
	}

	t.mu.Lock()
	last := t.lastState
	currentViewstateID := viewstateID(t.viewstate)
	t.mu.Unlock()

	if current.Status == last.Status && session.SentFullState() {
		lastValues := last.Values()
		for k, v := range values {
			if valuesEqual(lastValues[k], v) {
				delete(values, k)
			}
		}
	}

	if len(values) > 0 || current.Status != last.Status {
		if session.LoggedIn() {
			kind := "diff"
			if !session.SentFullState() {
				kind = "full"
			}
			session.MarkFullStateSent()
			if _, err := session.SendCommand("state", string(current.Status), values, currentViewstateID); err != nil {
				t.logger.Warn().Err(err).Str("event", "tracker.push_failed").Msg("state push failed")
			} else {
				metrics.RecordStatePush(kind)
			}
		}
	}

	t.mu.Lock()
	t.lastState = current
	t.mu.Unlock()
}

func viewstateID(viewstate map[string]any) any {
	if viewstate == nil {
		return nil
	}
	return viewstate["id"]
}

// applyRequestedState applies a remote state request to the local player.
// Fields already matching the local state are skipped, as is everything while
// nothing is playing; unknown fields are logged and ignored.
func (t *Tracker) applyRequestedState(ctx context.Context, state string, values map[string]any) {
	t.logger.Debug().
		Str("event", "tracker.request_state").
		Str("state", state).
		Msg("applying requested state")

	current, err := t.local.CurrentState(ctx)
	if err != nil {
		t.logger.Error().Err(err).Str("event", "tracker.state_read_failed").Msg("failed to get state from player")
		return
	}

	switch state {
	case string(player.StatusStopped):
		if err := t.local.Stop(ctx); err != nil {
			t.logger.Warn().Err(err).Str("event", "tracker.stop_failed").Msg("stop failed")
		}
	case string(player.StatusPlaying):
		currentValues := current.Values()
		for k, v := range values {
			if valuesEqual(currentValues[k], v) {
				continue
			}
			if current.Status != player.StatusPlaying {
				continue
			}
			t.applyField(ctx, k, v)
		}
	}

	t.ScheduleUpdate(0, false)
	t.ScheduleUpdate(3*time.Second, false)
}

func (t *Tracker) applyField(ctx context.Context, field string, value any) {
	var err error
	switch field {
	case "current_time":
		seconds, ok := value.(float64)
		if !ok {
			t.logger.Warn().Str("event", "tracker.bad_field").Str("field", field).Msg("seek target is not a number")
			return
		}
		err = t.local.Seek(ctx, player.TimestampFromSeconds(seconds))
	case "current_audiostream":
		index, ok := asInt(value)
		if !ok {
			t.logger.Warn().Str("event", "tracker.bad_field").Str("field", field).Msg("audio stream index is not a number")
			return
		}
		err = t.local.SetAudioStream(ctx, index)
	case "current_subtitle":
		if value == nil {
			err = t.local.DisableSubtitle(ctx)
			break
		}
		index, ok := asInt(value)
		if !ok {
			t.logger.Warn().Str("event", "tracker.bad_field").Str("field", field).Msg("subtitle index is not a number")
			return
		}
		err = t.local.SetSubtitle(ctx, index)
	case "speed":
		speed, ok := value.(float64)
		if !ok {
			t.logger.Warn().Str("event", "tracker.bad_field").Str("field", field).Msg("speed is not a number")
			return
		}
		err = t.local.SetSpeed(ctx, speed)
	default:
		t.logger.Warn().
			Str("event", "tracker.unknown_field").
			Str("field", field).
			Msg("unknown requested field")
		return
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("event", "tracker.apply_failed").Str("field", field).Msg("player control failed")
	}
}

// Remote command handlers. These run on the session's receive goroutine.

func (t *Tracker) handleRequestState(args []json.RawMessage) {
	var state string
	values := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &state); err != nil {
			t.logger.Warn().Err(err).Str("event", "tracker.bad_call").Msg("undecodable request_state call")
			return
		}
	}
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &values); err != nil {
			t.logger.Warn().Err(err).Str("event", "tracker.bad_call").Msg("undecodable request_state values")
			return
		}
	}
	t.applyRequestedState(context.Background(), state, values)
}

func (t *Tracker) handlePlay(args []json.RawMessage) {
	var streamResult map[string]any
	var viewstate map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &streamResult); err != nil {
			t.logger.Warn().Err(err).Str("event", "tracker.bad_call").Msg("undecodable play call")
			return
		}
	}
	if len(args) > 1 {
		_ = json.Unmarshal(args[1], &viewstate)
	}

	url, _ := streamResult["url"].(string)
	t.logger.Info().
		Str("event", "tracker.play").
		Str("url", url).
		Interface("viewstate", viewstateID(viewstate)).
		Msg("remote play request")

	t.mu.Lock()
	t.viewstate = viewstate
	t.streamResult = streamResult
	t.mu.Unlock()

	if err := t.local.Play(context.Background(), url); err != nil {
		t.logger.Warn().Err(err).Str("event", "tracker.play_failed").Msg("local play failed")
	}
	t.ScheduleUpdate(0, false)
	t.ScheduleUpdate(3*time.Second, false)
}

func (t *Tracker) handleNext(args []json.RawMessage) {
	if err := t.local.Next(context.Background()); err != nil {
		t.logger.Warn().Err(err).Str("event", "tracker.next_failed").Msg("skip to next failed")
	}
	t.ScheduleUpdate(2*time.Second, false)
}

func (t *Tracker) handlePrevious(args []json.RawMessage) {
	if err := t.local.Previous(context.Background()); err != nil {
		t.logger.Warn().Err(err).Str("event", "tracker.previous_failed").Msg("skip to previous failed")
	}
	t.ScheduleUpdate(2*time.Second, false)
}

// valuesEqual compares wire values loosely: JSON decoding yields float64 for
// every number, local observations carry native int/float types.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
