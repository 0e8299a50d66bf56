package player

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampConversionRoundTrip(t *testing.T) {
	cases := []struct {
		seconds float64
		want    Timestamp
	}{
		{0, Timestamp{}},
		{59.5, Timestamp{Seconds: 59, Milliseconds: 500}},
		{61, Timestamp{Minutes: 1, Seconds: 1}},
		{3723.25, Timestamp{Hours: 1, Minutes: 2, Seconds: 3, Milliseconds: 250}},
		{7199.999, Timestamp{Hours: 1, Minutes: 59, Seconds: 59, Milliseconds: 999}},
	}
	for _, tc := range cases {
		got := TimestampFromSeconds(tc.seconds)
		assert.Equal(t, tc.want, got, "from %v seconds", tc.seconds)
		assert.InDelta(t, tc.seconds, got.TotalSeconds(), 0.001)
	}
}

func TestStreamMarshalsAsPair(t *testing.T) {
	data, err := json.Marshal(Stream{Index: 2, Name: "English"})
	require.NoError(t, err)
	assert.JSONEq(t, `[2, "English"]`, string(data))

	var s Stream
	require.NoError(t, json.Unmarshal([]byte(`[1, "Dansk"]`), &s))
	assert.Equal(t, Stream{Index: 1, Name: "Dansk"}, s)
}

func TestValuesEmptyWhenStopped(t *testing.T) {
	assert.Empty(t, State{Status: StatusStopped, Name: "leftover"}.Values())
}

func TestValuesCarriesPlaybackFields(t *testing.T) {
	audio := 1
	s := State{
		Status:             StatusPlaying,
		Name:               "http://example/stream.mkv",
		Title:              "Example",
		Speed:              1,
		Length:             1200,
		CurrentTime:        30.5,
		AudioStreams:       []Stream{{0, "English"}, {1, "Dansk"}},
		CurrentAudioStream: &audio,
	}

	values := s.Values()
	assert.Equal(t, "Example", values["title"])
	assert.Equal(t, 30.5, values["current_time"])
	assert.Equal(t, 1, values["current_audiostream"])
	assert.Nil(t, values["current_subtitle"], "unset optional stream index is explicit null")
}
