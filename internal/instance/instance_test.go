package instance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/agent"
	"github.com/agentjido/jido-messaging/internal/ingest"
	"github.com/agentjido/jido-messaging/internal/jmconfig"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/registry"
	"github.com/agentjido/jido-messaging/internal/router"
	"github.com/agentjido/jido-messaging/internal/storage/memstore"
)

// fakeChannel is a minimal adapter.Adapter used to exercise the
// wired Instance end to end.
type fakeChannel struct {
	channel string
	sent    []string
	mu      sync.Mutex
}

func (f *fakeChannel) ChannelType() string { return f.channel }

func (f *fakeChannel) TransformIncoming(raw map[string]any) (adapter.Incoming, error) {
	return adapter.Incoming{
		ExternalRoomID: raw["room"].(string),
		ExternalUserID: raw["user"].(string),
		Text:           raw["text"].(string),
	}, nil
}

func (f *fakeChannel) SendMessage(ctx context.Context, externalRoom, text string, opts adapter.SendOpts) (adapter.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return adapter.SendResult{MessageID: "sent-1"}, nil
}

func testConfig() jmconfig.Config {
	cfg := jmconfig.Default("test-instance")
	cfg.Ingest.VerifyTimeout = 20 * time.Millisecond
	cfg.Ingest.PolicyStageTimeout = 20 * time.Millisecond
	cfg.Session.PruneInterval = time.Hour
	return cfg
}

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	store := memstore.New()
	in := New(testConfig(), store, Options{CollisionPolicy: registry.PreferFirst})
	t.Cleanup(in.Stop)
	return in
}

func TestInstance_RegisterBridge_IsLookupable(t *testing.T) {
	in := newTestInstance(t)
	ch := &fakeChannel{channel: "fake"}

	in.RegisterBridge(registry.Manifest{ID: "b1", AdapterModule: "fake"}, ch)

	br, ok := in.Registry().Get("b1")
	require.True(t, ok)
	assert.Equal(t, "fake", br.ChannelType())
}

func TestInstance_IngestIncoming_PersistsThroughFullStack(t *testing.T) {
	in := newTestInstance(t)
	ch := &fakeChannel{channel: "fake"}
	in.RegisterBridge(registry.Manifest{ID: "b1", AdapterModule: "fake"}, ch)

	res, err := in.IngestIncoming(context.Background(), "b1", map[string]any{
		"room": "room-1", "user": "user-1", "text": "hello there",
	}, ingest.Opts{})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Message.Text())

	stored, err := in.Store().GetMessage(context.Background(), res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Message.ID, stored.ID)
}

func TestInstance_IngestIncoming_UnknownBridgeErrors(t *testing.T) {
	in := newTestInstance(t)
	_, err := in.IngestIncoming(context.Background(), "missing", map[string]any{
		"room": "r", "user": "u", "text": "x",
	}, ingest.Opts{})
	assert.Error(t, err)
}

func TestInstance_RouteOutbound_DeliversThroughRegisteredBridge(t *testing.T) {
	in := newTestInstance(t)
	ch := &fakeChannel{channel: "fake"}
	in.RegisterBridge(registry.Manifest{ID: "b1", AdapterModule: "fake"}, ch)

	ctx := context.Background()
	res, err := in.IngestIncoming(ctx, "b1", map[string]any{
		"room": "room-1", "user": "user-1", "text": "hi",
	}, ingest.Opts{})
	require.NoError(t, err)

	err = in.Store().CreateRoomBinding(ctx, model.RoomBinding{
		ID:             "binding-1",
		RoomID:         res.Room.ID,
		Channel:        "fake",
		BridgeID:       "b1",
		ExternalRoomID: "room-1",
		Direction:      model.DirectionBoth,
		Enabled:        true,
	})
	require.NoError(t, err)

	_, err = in.RouteOutbound(ctx, res.Room.ID, "reply text", router.RouteOpts{})
	require.NoError(t, err)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Contains(t, ch.sent, "reply text")
}

func TestInstance_StartLifecycle_ReportsStatus(t *testing.T) {
	in := newTestInstance(t)
	ch := &fakeChannel{channel: "fake"}
	in.RegisterBridge(registry.Manifest{ID: "b1", AdapterModule: "fake"}, ch)

	lc, err := in.StartLifecycle("b1", nil)
	require.NoError(t, err)
	require.NotNil(t, lc)
	t.Cleanup(lc.Stop)

	_, err = in.LifecycleStatus("b1")
	require.NoError(t, err)
}

func TestInstance_StartLifecycle_UnknownBridgeErrors(t *testing.T) {
	in := newTestInstance(t)
	_, err := in.StartLifecycle("missing", nil)
	assert.Error(t, err)
}

func TestInstance_StartAgent_RepliesRouteToOutbound(t *testing.T) {
	in := newTestInstance(t)
	ch := &fakeChannel{channel: "fake"}
	in.RegisterBridge(registry.Manifest{ID: "b1", AdapterModule: "fake"}, ch)

	ctx := context.Background()
	res, err := in.IngestIncoming(ctx, "b1", map[string]any{
		"room": "room-1", "user": "user-1", "text": "hi agent",
	}, ingest.Opts{})
	require.NoError(t, err)

	require.NoError(t, in.Store().CreateRoomBinding(ctx, model.RoomBinding{
		ID:             "binding-1",
		RoomID:         res.Room.ID,
		Channel:        "fake",
		BridgeID:       "b1",
		ExternalRoomID: "room-1",
		Direction:      model.DirectionBoth,
		Enabled:        true,
	}))

	a := in.StartAgent(res.Room.ID, "agent-1", agent.Config{
		Name:    "bot",
		Trigger: agent.Trigger{Kind: agent.TriggerAll},
		Handler: func(ctx context.Context, msg model.Message, hctx agent.HandlerContext) agent.HandlerResult {
			return agent.HandlerResult{Kind: agent.ResultReply, Text: "autoreply"}
		},
	})
	t.Cleanup(func() { in.StopAgent(res.Room.ID, "agent-1") })
	_ = a

	// Publish another incoming message on the same room to trigger the
	// agent subscription; the reply is delivered asynchronously.
	_, err = in.IngestIncoming(ctx, "b1", map[string]any{
		"room": "room-1", "user": "user-1", "text": "trigger",
	}, ingest.Opts{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		for _, s := range ch.sent {
			if s == "autoreply" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestInstance_StartStop_DoesNotPanic(t *testing.T) {
	in := newTestInstance(t)
	require.NoError(t, in.Start())
	in.Stop()
}
