package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/jmerrors"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/outbound"
	"github.com/agentjido/jido-messaging/internal/storage/memstore"
)

// fakeBridges is a minimal Bridges implementation for route resolution
// tests, independent of a real registry.Registry.
type fakeBridges struct {
	byID map[string]string // id -> channel type
}

func (f *fakeBridges) Get(id string) (*adapter.Bridge, bool) {
	_, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	return &adapter.Bridge{}, true
}

func (f *fakeBridges) FindByChannelType(channelType string) []string {
	var out []string
	for id, ch := range f.byID {
		if ch == channelType {
			out = append(out, id)
		}
	}
	return out
}

// fakeDispatcher scripts a per-bridge-id outcome for dispatchOne.
type fakeDispatcher struct {
	fail map[string]string // bridgeID -> failure reason
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req outbound.Request) (*outbound.SuccessResponse, *outbound.ErrorResponse) {
	if reason, ok := f.fail[req.BridgeID]; ok {
		return nil, &outbound.ErrorResponse{Reason: reason}
	}
	return &outbound.SuccessResponse{MessageID: "sent-" + req.BridgeID}, nil
}

func newRouter(t *testing.T, bridges *fakeBridges, disp *fakeDispatcher) (*Router, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	r := New(Options{Store: store, Bindings: store, Bridges: bridges, Gateway: disp})
	return r, store
}

func TestRouter_SaveBridgeConfig_CreatesWithRevisionOneWhenNilExpected(t *testing.T) {
	r, _ := newRouter(t, &fakeBridges{byID: map[string]string{}}, &fakeDispatcher{})
	cfg, err := r.SaveBridgeConfig(context.Background(), model.BridgeConfig{ID: "b1", Enabled: true}, NoRevisionCheck())
	require.NoError(t, err)
	assert.Equal(t, int64(1), cfg.Revision)
}

func TestRouter_SaveBridgeConfig_RejectsMismatchedRevision(t *testing.T) {
	r, _ := newRouter(t, &fakeBridges{byID: map[string]string{}}, &fakeDispatcher{})
	_, err := r.SaveBridgeConfig(context.Background(), model.BridgeConfig{ID: "b1"}, NoRevisionCheck())
	require.NoError(t, err)

	_, err = r.SaveBridgeConfig(context.Background(), model.BridgeConfig{ID: "b1"}, Rev(99))
	require.Error(t, err)
	var conflict *jmerrors.RevisionConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestRouter_SaveBridgeConfig_AcceptsMatchingRevisionAndBumpsIt(t *testing.T) {
	r, _ := newRouter(t, &fakeBridges{byID: map[string]string{}}, &fakeDispatcher{})
	cfg, err := r.SaveBridgeConfig(context.Background(), model.BridgeConfig{ID: "b1"}, NoRevisionCheck())
	require.NoError(t, err)

	cfg, err = r.SaveBridgeConfig(context.Background(), cfg, Rev(cfg.Revision))
	require.NoError(t, err)
	assert.Equal(t, int64(2), cfg.Revision)
}

func TestRouter_SaveBridgeConfig_ZeroAgainstNonExistentMeansCreate(t *testing.T) {
	r, _ := newRouter(t, &fakeBridges{byID: map[string]string{}}, &fakeDispatcher{})
	cfg, err := r.SaveBridgeConfig(context.Background(), model.BridgeConfig{ID: "b1"}, Rev(0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cfg.Revision)
}

func TestRouter_SaveRoutingPolicy_RejectsPrimaryWithBroadcastFailover(t *testing.T) {
	r, _ := newRouter(t, &fakeBridges{byID: map[string]string{}}, &fakeDispatcher{})
	_, err := r.SaveRoutingPolicy(context.Background(), model.RoutingPolicy{
		RoomID: "room-1", DeliveryMode: model.DeliveryPrimary, FailoverPolicy: model.FailoverBroadcast,
	}, NoRevisionCheck())
	assert.Error(t, err)
}

func TestRouter_RouteOutbound_BestEffortSequentialStopsOnNone(t *testing.T) {
	bridges := &fakeBridges{byID: map[string]string{"b1": "x"}}
	disp := &fakeDispatcher{fail: map[string]string{"b1": "timeout"}}
	r, store := newRouter(t, bridges, disp)

	require.NoError(t, store.CreateRoomBinding(context.Background(), model.RoomBinding{
		ID: "bind-1", RoomID: "room-1", Channel: "x", BridgeID: "b1",
		Direction: model.DirectionOutbound, Enabled: true,
	}))
	_, err := r.SaveRoutingPolicy(context.Background(), model.RoutingPolicy{
		RoomID: "room-1", DeliveryMode: model.DeliveryBestEffort, FailoverPolicy: model.FailoverNone,
	}, NoRevisionCheck())
	require.NoError(t, err)

	result, err := r.RouteOutbound(context.Background(), "room-1", "hi", RouteOpts{})
	require.Error(t, err)
	assert.Len(t, result.Delivered, 0)
	assert.Len(t, result.Failed, 1)
}

func TestRouter_RouteOutbound_NextAvailableTriesSecondRouteAfterFirstFails(t *testing.T) {
	bridges := &fakeBridges{byID: map[string]string{"b1": "x", "b2": "x"}}
	disp := &fakeDispatcher{fail: map[string]string{"b1": "timeout"}}
	r, store := newRouter(t, bridges, disp)

	require.NoError(t, store.CreateRoomBinding(context.Background(), model.RoomBinding{
		ID: "bind-1", RoomID: "room-1", Channel: "x", BridgeID: "b1",
		Direction: model.DirectionOutbound, Enabled: true,
	}))
	require.NoError(t, store.CreateRoomBinding(context.Background(), model.RoomBinding{
		ID: "bind-2", RoomID: "room-1", Channel: "x", BridgeID: "b2",
		Direction: model.DirectionOutbound, Enabled: true,
	}))
	_, err := r.SaveRoutingPolicy(context.Background(), model.RoutingPolicy{
		RoomID: "room-1", DeliveryMode: model.DeliveryBestEffort, FailoverPolicy: model.FailoverNextAvailable,
		FallbackOrder: []string{"b1", "b2"},
	}, NoRevisionCheck())
	require.NoError(t, err)

	result, err := r.RouteOutbound(context.Background(), "room-1", "hi", RouteOpts{})
	require.NoError(t, err)
	require.Len(t, result.Delivered, 1)
	assert.Equal(t, "b2", result.Delivered[0].BridgeID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "b1", result.Failed[0].BridgeID)
}

func TestRouter_RouteOutbound_BroadcastAttemptsAllInParallel(t *testing.T) {
	bridges := &fakeBridges{byID: map[string]string{"b1": "x", "b2": "x"}}
	disp := &fakeDispatcher{}
	r, store := newRouter(t, bridges, disp)

	require.NoError(t, store.CreateRoomBinding(context.Background(), model.RoomBinding{
		ID: "bind-1", RoomID: "room-1", Channel: "x", BridgeID: "b1",
		Direction: model.DirectionOutbound, Enabled: true,
	}))
	require.NoError(t, store.CreateRoomBinding(context.Background(), model.RoomBinding{
		ID: "bind-2", RoomID: "room-1", Channel: "x", BridgeID: "b2",
		Direction: model.DirectionOutbound, Enabled: true,
	}))
	_, err := r.SaveRoutingPolicy(context.Background(), model.RoutingPolicy{
		RoomID: "room-1", DeliveryMode: model.DeliveryBroadcast, FailoverPolicy: model.FailoverBroadcast,
	}, NoRevisionCheck())
	require.NoError(t, err)

	result, err := r.RouteOutbound(context.Background(), "room-1", "hi", RouteOpts{})
	require.NoError(t, err)
	assert.Len(t, result.Delivered, 2)
	assert.Len(t, result.Attempted, 2)
}

func TestRouter_RouteOutbound_NoEligibleBindingsReturnsNoRoutes(t *testing.T) {
	r, _ := newRouter(t, &fakeBridges{byID: map[string]string{}}, &fakeDispatcher{})
	_, err := r.RouteOutbound(context.Background(), "room-empty", "hi", RouteOpts{})
	require.Error(t, err)
	var kindErr *jmerrors.Error
	require.ErrorAs(t, err, &kindErr)
	assert.Equal(t, jmerrors.KindNoRoutes, kindErr.Kind)
}

func TestRouter_RouteOutbound_ForcedBridgeIDOverridesBinding(t *testing.T) {
	bridges := &fakeBridges{byID: map[string]string{"b1": "x", "forced": "x"}}
	disp := &fakeDispatcher{}
	r, store := newRouter(t, bridges, disp)

	require.NoError(t, store.CreateRoomBinding(context.Background(), model.RoomBinding{
		ID: "bind-1", RoomID: "room-1", Channel: "x", BridgeID: "b1",
		Direction: model.DirectionOutbound, Enabled: true,
	}))

	result, err := r.RouteOutbound(context.Background(), "room-1", "hi", RouteOpts{ForcedBridgeID: "forced"})
	require.NoError(t, err)
	require.Len(t, result.Delivered, 1)
	assert.Equal(t, "forced", result.Delivered[0].BridgeID)
}
