// Package player defines the contract between the companion daemon and the
// local media player it tracks.
package player

import "encoding/json"

// Status is the discrete playback state.
type Status string

const (
	StatusUnknown Status = ""
	StatusStopped Status = "stopped"
	StatusPlaying Status = "playing"
)

// Stream identifies one audio or subtitle stream of the playing item. It
// marshals as a [index, name] pair.
type Stream struct {
	Index int
	Name  string
}

func (s Stream) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.Index, s.Name})
}

func (s *Stream) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &s.Index); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &s.Name)
}

// State is one observation of the local player. The playback fields are only
// meaningful while Status is StatusPlaying.
type State struct {
	Status             Status
	Name               string
	Title              string
	Chapters           int
	CurrentChapter     int
	Speed              float64
	Length             float64
	CurrentTime        float64
	AudioStreams       []Stream
	Subtitles          []Stream
	CurrentAudioStream *int
	CurrentSubtitle    *int
}

// Values flattens the playback fields into the wire representation the remote
// session consumes. The discrete status itself is carried separately.
func (s State) Values() map[string]any {
	if s.Status != StatusPlaying {
		return map[string]any{}
	}
	return map[string]any{
		"name":                s.Name,
		"title":               s.Title,
		"chapters":            s.Chapters,
		"current_chapter":     s.CurrentChapter,
		"speed":               s.Speed,
		"length":              s.Length,
		"current_time":        s.CurrentTime,
		"audiostreams":        s.AudioStreams,
		"subtitles":           s.Subtitles,
		"current_audiostream": optional(s.CurrentAudioStream),
		"current_subtitle":    optional(s.CurrentSubtitle),
	}
}

func optional(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// Timestamp is a playback position broken into the player's clock components.
type Timestamp struct {
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	Seconds      int `json:"seconds"`
	Milliseconds int `json:"milliseconds"`
}

// TotalSeconds converts the timestamp to seconds.
func (t Timestamp) TotalSeconds() float64 {
	return float64((t.Hours*60+t.Minutes)*60+t.Seconds) + float64(t.Milliseconds)/1000.0
}

// TimestampFromSeconds converts seconds to clock components.
func TimestampFromSeconds(seconds float64) Timestamp {
	whole := int(seconds)
	return Timestamp{
		Hours:        whole / 3600,
		Minutes:      (whole % 3600) / 60,
		Seconds:      whole % 60,
		Milliseconds: int((seconds - float64(whole)) * 1000),
	}
}
