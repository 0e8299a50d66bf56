package player

import "context"

// NotificationKind classifies a player notification. Minor updates keep the
// same item playing (pause, resume, seek, speed change); major updates change
// what is playing (start, stop, end).
type NotificationKind int

const (
	NotifyMinor NotificationKind = iota
	NotifyMajor
)

// NotifyFunc receives playback notifications from the local player. It may be
// invoked from any goroutine.
type NotifyFunc func(kind NotificationKind)

// Player is the capability contract the synchronizer needs from the local
// media player.
type Player interface {
	// CurrentState observes the player. A player with nothing loaded reports
	// StatusStopped rather than an error.
	CurrentState(ctx context.Context) (State, error)

	// Play starts playback of the given URL.
	Play(ctx context.Context, url string) error

	// Stop stops the active playback, if any.
	Stop(ctx context.Context) error

	// Seek jumps to the given position in the playing item.
	Seek(ctx context.Context, position Timestamp) error

	// SetAudioStream switches the active audio stream by index.
	SetAudioStream(ctx context.Context, index int) error

	// SetSubtitle enables the subtitle stream with the given index.
	SetSubtitle(ctx context.Context, index int) error

	// DisableSubtitle turns subtitles off.
	DisableSubtitle(ctx context.Context) error

	// SetSpeed changes the playback speed.
	SetSpeed(ctx context.Context, speed float64) error

	// Next skips to the next item in the active playlist.
	Next(ctx context.Context) error

	// Previous skips to the previous item in the active playlist.
	Previous(ctx context.Context) error

	// Subscribe registers the notification callback. Only one subscriber is
	// supported; later calls replace earlier ones.
	Subscribe(fn NotifyFunc)
}
