package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tridentstream/client-kodi/internal/player"
	"github.com/tridentstream/client-kodi/internal/rpc"
)

type fakePlayer struct {
	mu       sync.Mutex
	state    player.State
	stateErr error

	played       []string
	stops        int
	seeks        []player.Timestamp
	audioStreams []int
	subtitles    []int
	subtitlesOff int
	speeds       []float64
	nexts        int
	previous     int

	notify player.NotifyFunc
}

func (f *fakePlayer) CurrentState(ctx context.Context) (player.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return player.State{}, f.stateErr
	}
	return f.state, nil
}

func (f *fakePlayer) setState(s player.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakePlayer) Play(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, url)
	return nil
}

func (f *fakePlayer) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakePlayer) Seek(ctx context.Context, position player.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, position)
	return nil
}

func (f *fakePlayer) SetAudioStream(ctx context.Context, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioStreams = append(f.audioStreams, index)
	return nil
}

func (f *fakePlayer) SetSubtitle(ctx context.Context, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subtitles = append(f.subtitles, index)
	return nil
}

func (f *fakePlayer) DisableSubtitle(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subtitlesOff++
	return nil
}

func (f *fakePlayer) SetSpeed(ctx context.Context, speed float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speeds = append(f.speeds, speed)
	return nil
}

func (f *fakePlayer) Next(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nexts++
	return nil
}

func (f *fakePlayer) Previous(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previous++
	return nil
}

func (f *fakePlayer) Subscribe(fn player.NotifyFunc) {
	f.notify = fn
}

type sentCall struct {
	method string
	args   []any
}

type fakeSession struct {
	mu         sync.Mutex
	loggedIn   bool
	sentFull   bool
	connects   int
	closes     int
	connectErr error
	handlers   map[string]rpc.Handler
	options    map[string]any
	sent       []sentCall
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		loggedIn: true,
		handlers: make(map[string]rpc.Handler),
		options:  make(map[string]any),
	}
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeSession) SendCommand(method string, args ...any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCall{method: method, args: args})
	return "req-1", nil
}

func (f *fakeSession) RegisterCommand(name string, handler rpc.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = handler
}

func (f *fakeSession) SetOption(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options[key] = value
}

func (f *fakeSession) LoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeSession) SentFullState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentFull
}

func (f *fakeSession) MarkFullStateSent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentFull = true
}

func (f *fakeSession) sentCalls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCall, len(f.sent))
	copy(out, f.sent)
	return out
}

func playingState(speed float64) player.State {
	return player.State{
		Status:      player.StatusPlaying,
		Name:        "http://server/stream.mkv",
		Title:       "Example",
		Speed:       speed,
		Length:      1200,
		CurrentTime: 30,
	}
}

func connectedTracker(t *testing.T) (*Tracker, *fakePlayer, *fakeSession) {
	t.Helper()
	local := &fakePlayer{}
	tr := New(local, Options{Tick: 10 * time.Millisecond})
	session := newFakeSession()
	require.NoError(t, tr.ConnectPlayer(context.Background(), session))
	return tr, local, session
}

func TestConnectPlayerRegistersVocabulary(t *testing.T) {
	tr, _, session := connectedTracker(t)

	for _, command := range []string{"play", "next", "previous", "request_state"} {
		assert.Contains(t, session.handlers, command)
	}
	assert.Equal(t, speedOptions, session.options["speed"])
	assert.Equal(t, 1, session.connects)
	assert.True(t, tr.Usable())

	tr.mu.Lock()
	pending := len(tr.schedule)
	tr.mu.Unlock()
	assert.Equal(t, 1, pending, "initial check must be scheduled")
}

func TestConnectPlayerFailureLeavesTrackerUnusable(t *testing.T) {
	local := &fakePlayer{}
	tr := New(local, Options{})
	session := newFakeSession()
	session.connectErr = errors.New("dial failed")

	require.Error(t, tr.ConnectPlayer(context.Background(), session))
	assert.False(t, tr.Usable())
}

func TestDisconnectPlayerClosesSession(t *testing.T) {
	tr, _, session := connectedTracker(t)
	tr.DisconnectPlayer()
	assert.Equal(t, 1, session.closes)
	assert.False(t, tr.Usable())

	// Idempotent: nothing bound, nothing to close.
	tr.DisconnectPlayer()
	assert.Equal(t, 1, session.closes)
}

func TestFirstPushAfterLoginIsFull(t *testing.T) {
	tr, local, session := connectedTracker(t)
	local.setState(playingState(1))

	tr.checkForStateUpdate(context.Background(), false)

	calls := session.sentCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "state", calls[0].method)
	assert.Equal(t, "playing", calls[0].args[0])

	values := calls[0].args[1].(map[string]any)
	assert.Equal(t, "Example", values["title"])
	assert.Equal(t, 1.0, values["speed"])
	assert.True(t, session.SentFullState())
}

func TestUnchangedStateProducesNoSend(t *testing.T) {
	tr, local, session := connectedTracker(t)
	local.setState(playingState(1))

	tr.checkForStateUpdate(context.Background(), false)
	tr.checkForStateUpdate(context.Background(), false)

	assert.Len(t, session.sentCalls(), 1, "identical observation must not be re-sent")
}

func TestChangedFieldSendsDiffOnly(t *testing.T) {
	tr, local, session := connectedTracker(t)
	local.setState(playingState(1))
	tr.checkForStateUpdate(context.Background(), false)

	local.setState(playingState(2))
	tr.checkForStateUpdate(context.Background(), false)

	calls := session.sentCalls()
	require.Len(t, calls, 2)

	diff := calls[1].args[1].(map[string]any)
	want := map[string]any{"speed": 2.0}
	if !cmp.Equal(want, diff) {
		t.Errorf("diff mismatch: %s", cmp.Diff(want, diff))
	}
}

func TestStatusChangeAlwaysSends(t *testing.T) {
	tr, local, session := connectedTracker(t)
	local.setState(playingState(1))
	tr.checkForStateUpdate(context.Background(), false)

	local.setState(player.State{Status: player.StatusStopped})
	tr.checkForStateUpdate(context.Background(), false)

	calls := session.sentCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "stopped", calls[1].args[0])
	assert.Empty(t, calls[1].args[1], "stopped state carries no playback values")
}

func TestFirstSendAfterRelogFullEvenIfStateUnchanged(t *testing.T) {
	tr, local, session := connectedTracker(t)
	local.setState(playingState(1))
	tr.checkForStateUpdate(context.Background(), false)

	// Relogin resets the full-state flag; same discrete state must still
	// resend every field.
	session.mu.Lock()
	session.sentFull = false
	session.mu.Unlock()

	local.setState(playingState(1))
	tr.checkForStateUpdate(context.Background(), false)

	calls := session.sentCalls()
	require.Len(t, calls, 2)
	values := calls[1].args[1].(map[string]any)
	assert.Equal(t, "Example", values["title"], "post-login push is a full snapshot, not a diff")
}

func TestNotLoggedInSuppressesSendButTracksState(t *testing.T) {
	tr, local, session := connectedTracker(t)
	session.mu.Lock()
	session.loggedIn = false
	session.mu.Unlock()

	local.setState(playingState(1))
	tr.checkForStateUpdate(context.Background(), false)

	assert.Empty(t, session.sentCalls())
	tr.mu.Lock()
	last := tr.lastState
	tr.mu.Unlock()
	assert.Equal(t, player.StatusPlaying, last.Status, "snapshot updates even without a send")
}

func TestPlayerReadErrorSkipsTick(t *testing.T) {
	tr, local, session := connectedTracker(t)
	local.mu.Lock()
	local.stateErr = errors.New("player gone")
	local.mu.Unlock()

	tr.checkForStateUpdate(context.Background(), false)

	assert.Empty(t, session.sentCalls())
	tr.mu.Lock()
	last := tr.lastState
	tr.mu.Unlock()
	assert.Equal(t, player.StatusUnknown, last.Status, "failed read must not advance the snapshot")
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestViewstateLinkedBeforeStatePush(t *testing.T) {
	tr, local, session := connectedTracker(t)
	local.setState(playingState(1))

	// Remote play request carrying a viewstate with a resume position.
	session.handlers["play"]([]json.RawMessage{
		raw(t, map[string]any{"url": "http://server/stream.mkv"}),
		raw(t, map[string]any{"id": "vs-1", "current_time": 90.0}),
	})
	assert.Equal(t, []string{"http://server/stream.mkv"}, local.played)

	tr.checkForStateUpdate(context.Background(), true)

	// The viewstate's requested fields were applied before the push...
	require.Len(t, local.seeks, 1)
	assert.Equal(t, player.Timestamp{Minutes: 1, Seconds: 30}, local.seeks[0])

	// ...and the push carries the viewstate id.
	calls := session.sentCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "vs-1", calls[len(calls)-1].args[2])
}

func TestViewstateClearedOnStop(t *testing.T) {
	tr, local, session := connectedTracker(t)
	session.handlers["play"]([]json.RawMessage{
		raw(t, map[string]any{"url": "http://server/stream.mkv"}),
		raw(t, map[string]any{"id": "vs-1"}),
	})

	local.setState(player.State{Status: player.StatusStopped})
	tr.checkForStateUpdate(context.Background(), true)

	tr.mu.Lock()
	viewstate := tr.viewstate
	tr.mu.Unlock()
	assert.Nil(t, viewstate)

	calls := session.sentCalls()
	require.NotEmpty(t, calls)
	assert.Nil(t, calls[len(calls)-1].args[2], "cleared viewstate must not be referenced in the push")
}

func TestRequestStateStoppedStopsPlayer(t *testing.T) {
	_, local, session := connectedTracker(t)
	local.setState(playingState(1))

	session.handlers["request_state"]([]json.RawMessage{raw(t, "stopped"), raw(t, map[string]any{})})

	assert.Equal(t, 1, local.stops)
}

func TestRequestStateAppliesChangedFieldsOnly(t *testing.T) {
	tr, local, session := connectedTracker(t)
	audio, subtitle := 0, 2
	state := playingState(1)
	state.CurrentAudioStream = &audio
	state.CurrentSubtitle = &subtitle
	local.setState(state)

	session.handlers["request_state"]([]json.RawMessage{
		raw(t, "playing"),
		raw(t, map[string]any{
			"current_time":        30.0, // equal, skipped
			"speed":               2.0,
			"current_audiostream": 1,
			"current_subtitle":    nil,
			"bogus_field":         "x",
		}),
	})

	assert.Empty(t, local.seeks, "matching field must not be re-applied")
	assert.Equal(t, []float64{2}, local.speeds)
	assert.Equal(t, []int{1}, local.audioStreams)
	assert.Equal(t, 1, local.subtitlesOff, "null subtitle disables subtitles")

	tr.mu.Lock()
	pending := len(tr.schedule)
	tr.mu.Unlock()
	assert.GreaterOrEqual(t, pending, 2, "request_state schedules immediate and settled follow-ups")
}

func TestRequestStateIgnoredWhileStopped(t *testing.T) {
	_, local, session := connectedTracker(t)
	local.setState(player.State{Status: player.StatusStopped})

	session.handlers["request_state"]([]json.RawMessage{
		raw(t, "playing"),
		raw(t, map[string]any{"speed": 2.0}),
	})

	assert.Empty(t, local.speeds, "no active player, nothing to control")
}

func TestNextAndPreviousScheduleFollowUp(t *testing.T) {
	tr, local, session := connectedTracker(t)
	before := time.Now()

	session.handlers["next"](nil)
	session.handlers["previous"](nil)

	assert.Equal(t, 1, local.nexts)
	assert.Equal(t, 1, local.previous)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.GreaterOrEqual(t, len(tr.schedule), 2)
	// The two 2s follow-ups sort ahead of the initial 3s check.
	for _, entry := range tr.schedule[:2] {
		delay := entry.due.Sub(before)
		assert.InDelta(t, float64(2*time.Second), float64(delay), float64(500*time.Millisecond))
	}
}

func TestScheduleStaysSortedAndPopsOnePerTick(t *testing.T) {
	local := &fakePlayer{}
	tr := New(local, Options{})

	tr.ScheduleUpdate(5*time.Second, false)
	tr.ScheduleUpdate(-time.Millisecond, true)
	tr.ScheduleUpdate(-2*time.Millisecond, false)

	tr.mu.Lock()
	require.Len(t, tr.schedule, 3)
	assert.True(t, tr.schedule[0].due.Before(tr.schedule[1].due))
	assert.True(t, tr.schedule[1].due.Before(tr.schedule[2].due))
	tr.mu.Unlock()

	first, ok := tr.popDue()
	require.True(t, ok)
	assert.False(t, first.linkViewstate, "earliest due entry pops first")

	second, ok := tr.popDue()
	require.True(t, ok)
	assert.True(t, second.linkViewstate)

	_, ok = tr.popDue()
	assert.False(t, ok, "future entry must not pop early")
}

func TestPlayerNotificationsScheduleImmediately(t *testing.T) {
	local := &fakePlayer{}
	tr := New(local, Options{})

	local.notify(player.NotifyMinor)
	local.notify(player.NotifyMajor)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.schedule, 2)
	assert.False(t, tr.schedule[0].linkViewstate, "minor update does not link the viewstate")
	assert.True(t, tr.schedule[1].linkViewstate, "major update links the viewstate")
}

func TestRunExecutesDueEntries(t *testing.T) {
	local := &fakePlayer{}
	local.setState(playingState(1))
	tr := New(local, Options{Tick: 5 * time.Millisecond})
	session := newFakeSession()
	require.NoError(t, tr.ConnectPlayer(context.Background(), session))

	// Drain the initial +3s entry so the loop only sees ours.
	tr.mu.Lock()
	tr.schedule = nil
	tr.mu.Unlock()

	tr.ScheduleUpdate(0, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(session.sentCalls()) >= 1
	}, time.Second, 5*time.Millisecond, "due entry must execute")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on context cancel")
	}
}
