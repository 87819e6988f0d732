package app

import (
	"testing"

	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubControls struct {
	VoiceControls
	name string
}

func TestControlRegistryBindUnbind(t *testing.T) {
	r := NewControlRegistry()
	_, ok := r.Controls()
	assert.False(t, ok)

	first := &stubControls{name: "first"}
	second := &stubControls{name: "second"}

	r.Bind("general", first)
	got, ok := r.Controls()
	require.True(t, ok)
	assert.Same(t, first, got)

	r.Bind("music", second)
	r.Unbind(first)
	ch, ok := r.Channel()
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID("music"), ch)

	r.Unbind(second)
	_, ok = r.Controls()
	assert.False(t, ok)
	ch, ok = r.Channel()
	assert.False(t, ok)
	assert.Empty(t, ch)
}
