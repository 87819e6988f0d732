package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamKindTrackKind(t *testing.T) {
	tests := []struct {
		kind StreamKind
		want TrackKind
	}{
		{StreamAudio, TrackAudio},
		{StreamVideo, TrackVideo},
		{StreamScreen, TrackVideo},
		{StreamScreenAudio, TrackAudio},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.TrackKind())
		})
	}
}

func TestParseStreamKind(t *testing.T) {
	k, err := ParseStreamKind("screen-audio")
	require.NoError(t, err)
	assert.Equal(t, StreamScreenAudio, k)

	_, err = ParseStreamKind("data")
	assert.Error(t, err)
	assert.False(t, StreamKind("").Valid())
}

func TestParticipantIDValidate(t *testing.T) {
	assert.ErrorIs(t, ParticipantID("").Validate(), ErrParticipantIDEmpty)
	assert.NoError(t, ParticipantID("userA").Validate())
	long := make([]byte, MaxParticipantIDLen+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, ParticipantID(long).Validate(), ErrParticipantIDTooLong)
}
