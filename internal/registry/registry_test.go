package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentjido/jido-messaging/internal/adapter"
)

type stubAdapter struct{ channel string }

func (s stubAdapter) ChannelType() string { return s.channel }
func (s stubAdapter) TransformIncoming(raw map[string]any) (adapter.Incoming, error) {
	return adapter.Incoming{}, nil
}
func (s stubAdapter) SendMessage(ctx context.Context, room, text string, opts adapter.SendOpts) (adapter.SendResult, error) {
	return adapter.SendResult{}, nil
}

func TestParseManifest_RejectsWrongVersion(t *testing.T) {
	_, err := ParseManifest([]byte(`{"manifest_version":2,"id":"telegram"}`))
	assert.Error(t, err)
}

func TestParseManifest_RejectsMissingID(t *testing.T) {
	_, err := ParseManifest([]byte(`{"manifest_version":1}`))
	assert.Error(t, err)
}

func TestParseManifest_OK(t *testing.T) {
	m, err := ParseManifest([]byte(`{"manifest_version":1,"id":"telegram","adapter_module":"telegram_adapter"}`))
	require.NoError(t, err)
	assert.Equal(t, "telegram", m.ID)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New(PreferFirst)
	b := adapter.Wrap(stubAdapter{channel: "telegram"})
	r.Register(Manifest{ManifestVersion: 1, ID: "telegram"}, b)

	got, ok := r.Get("telegram")
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestRegistry_GetMissingReturnsFalse(t *testing.T) {
	r := New(PreferFirst)
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_MustGetReturnsNotFoundError(t *testing.T) {
	r := New(PreferFirst)
	_, err := r.MustGet("nope")
	assert.Error(t, err)
}

func TestRegistry_PreferFirstKeepsOriginal(t *testing.T) {
	r := New(PreferFirst)
	first := adapter.Wrap(stubAdapter{channel: "telegram"})
	second := adapter.Wrap(stubAdapter{channel: "telegram"})
	r.Register(Manifest{ManifestVersion: 1, ID: "telegram"}, first)
	r.Register(Manifest{ManifestVersion: 1, ID: "telegram"}, second)

	got, _ := r.Get("telegram")
	assert.Same(t, first, got)
}

func TestRegistry_PreferLastReplaces(t *testing.T) {
	r := New(PreferLast)
	first := adapter.Wrap(stubAdapter{channel: "telegram"})
	second := adapter.Wrap(stubAdapter{channel: "telegram"})
	r.Register(Manifest{ManifestVersion: 1, ID: "telegram"}, first)
	r.Register(Manifest{ManifestVersion: 1, ID: "telegram"}, second)

	got, _ := r.Get("telegram")
	assert.Same(t, second, got)
}

func TestRegistry_FindByChannelType_SortedByID(t *testing.T) {
	r := New(PreferFirst)
	r.Register(Manifest{ManifestVersion: 1, ID: "zzz"}, adapter.Wrap(stubAdapter{channel: "telegram"}))
	r.Register(Manifest{ManifestVersion: 1, ID: "aaa"}, adapter.Wrap(stubAdapter{channel: "telegram"}))
	r.Register(Manifest{ManifestVersion: 1, ID: "other"}, adapter.Wrap(stubAdapter{channel: "discord"}))

	ids := r.FindByChannelType("telegram")
	assert.Equal(t, []string{"aaa", "zzz"}, ids)
}

func TestRegistry_Len(t *testing.T) {
	r := New(PreferFirst)
	assert.Equal(t, 0, r.Len())
	r.Register(Manifest{ManifestVersion: 1, ID: "telegram"}, adapter.Wrap(stubAdapter{channel: "telegram"}))
	assert.Equal(t, 1, r.Len())
}
