package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalAdapter implements only the required Adapter methods.
type minimalAdapter struct{}

func (minimalAdapter) ChannelType() string { return "mock" }
func (minimalAdapter) TransformIncoming(raw map[string]any) (Incoming, error) {
	return Incoming{Text: raw["text"].(string)}, nil
}
func (minimalAdapter) SendMessage(ctx context.Context, room, text string, opts SendOpts) (SendResult, error) {
	return SendResult{MessageID: "m1"}, nil
}

// fullAdapter implements every optional interface too.
type fullAdapter struct {
	minimalAdapter
}

func (fullAdapter) Capabilities() []Capability {
	return []Capability{CapImage, CapReactions, CapTyping}
}
func (fullAdapter) EditMessage(ctx context.Context, room, target, text string, opts SendOpts) (SendResult, error) {
	return SendResult{MessageID: target}, nil
}
func (fullAdapter) VerifySender(ctx context.Context, in Incoming) (bool, string, error) {
	return false, "blocked", nil
}
func (fullAdapter) CheckHealth(ctx context.Context) error { return nil }
func (fullAdapter) ProbeIntervalMs() int64                { return 15000 }

func TestBridge_CapabilitySet_AlwaysIncludesText(t *testing.T) {
	b := Wrap(minimalAdapter{})
	caps := b.CapabilitySet()
	assert.True(t, caps[CapText])
	assert.Len(t, caps, 1)
}

func TestBridge_CapabilitySet_MergesAdapterCapabilities(t *testing.T) {
	b := Wrap(fullAdapter{})
	caps := b.CapabilitySet()
	assert.True(t, caps[CapText])
	assert.True(t, caps[CapImage])
	assert.True(t, caps[CapReactions])
}

func TestBridge_EditMessage_UnsupportedByDefault(t *testing.T) {
	b := Wrap(minimalAdapter{})
	_, err := b.EditMessage(context.Background(), "r1", "m1", "hi", SendOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestBridge_EditMessage_DelegatesWhenSupported(t *testing.T) {
	b := Wrap(fullAdapter{})
	res, err := b.EditMessage(context.Background(), "r1", "m1", "hi", SendOpts{})
	require.NoError(t, err)
	assert.Equal(t, "m1", res.MessageID)
}

func TestBridge_VerifySender_DefaultsToAllow(t *testing.T) {
	b := Wrap(minimalAdapter{})
	ok, reason, err := b.VerifySender(context.Background(), Incoming{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestBridge_VerifySender_DelegatesWhenSupported(t *testing.T) {
	b := Wrap(fullAdapter{})
	ok, reason, err := b.VerifySender(context.Background(), Incoming{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "blocked", reason)
}

func TestBridge_SanitizeOutbound_DefaultsToIdentity(t *testing.T) {
	b := Wrap(minimalAdapter{})
	out, err := b.SanitizeOutbound(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestBridge_ProbeIntervalMs_DefaultsToZero(t *testing.T) {
	b := Wrap(minimalAdapter{})
	assert.Equal(t, int64(0), b.ProbeIntervalMs())
}

func TestBridge_ProbeIntervalMs_Delegates(t *testing.T) {
	b := Wrap(fullAdapter{})
	assert.Equal(t, int64(15000), b.ProbeIntervalMs())
}

func TestInvoke_WrapsPlainError(t *testing.T) {
	err := Invoke("mock", "send_message", func() error {
		return errors.New("timeout")
	})
	require.Error(t, err)
	var cf *CallbackFailure
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, "send_message", cf.Callback)
}

func TestInvoke_RecoversPanic(t *testing.T) {
	err := Invoke("mock", "send_message", func() error {
		panic("boom")
	})
	require.Error(t, err)
	var cf *CallbackFailure
	require.ErrorAs(t, err, &cf)
	assert.Contains(t, cf.Reason, "boom")
}

func TestInvoke_NilOnSuccess(t *testing.T) {
	err := Invoke("mock", "send_message", func() error { return nil })
	assert.NoError(t, err)
}
