package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentjido/jido-messaging/internal/model"
)

func key(thread string) model.SessionKey {
	return model.SessionKey{ChannelType: "telegram", BridgeID: "b1", RoomScope: "r1", ThreadID: thread}
}

func TestStore_SetThenGetFresh(t *testing.T) {
	s := New(4, time.Minute, 100)
	s.Set(key(""), Route{BridgeID: "b1", ExternalRoomID: "r1"})
	route, status := s.Get(key(""))
	assert.Equal(t, GetFresh, status)
	assert.Equal(t, "b1", route.BridgeID)
}

func TestStore_GetNotFound(t *testing.T) {
	s := New(4, time.Minute, 100)
	_, status := s.Get(key("missing"))
	assert.Equal(t, GetNotFound, status)
}

func TestStore_GetExpired(t *testing.T) {
	s := New(1, 10*time.Millisecond, 100)
	s.Set(key(""), Route{BridgeID: "b1"})
	time.Sleep(20 * time.Millisecond)
	_, status := s.Get(key(""))
	assert.Equal(t, GetExpired, status)
}

func TestStore_ResolveFreshHit(t *testing.T) {
	s := New(4, time.Minute, 100)
	s.Set(key(""), Route{BridgeID: "b1"})
	res := s.Resolve(key(""), nil)
	assert.Equal(t, SourceFresh, res.Source)
	assert.False(t, res.Fallback)
}

func TestStore_ResolveFallsBackToProvidedRoute(t *testing.T) {
	s := New(4, time.Minute, 100)
	fallback := []Route{{BridgeID: "fallback-bridge"}}
	res := s.Resolve(key("unknown"), fallback)
	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, res.Fallback)
	assert.Equal(t, "fallback-bridge", res.Route.BridgeID)
	assert.Equal(t, "no_session_state", res.FallbackReason)
}

func TestStore_ResolveStalePartitionFallback(t *testing.T) {
	s := New(1, 10*time.Millisecond, 100)
	s.Set(key(""), Route{BridgeID: "stale-bridge"})
	time.Sleep(20 * time.Millisecond)
	res := s.Resolve(key(""), nil)
	assert.True(t, res.Stale)
	assert.Equal(t, "stale-bridge", res.Route.BridgeID)
}

func TestStore_ResolveNeverFailsOnShardUnavailable(t *testing.T) {
	s := New(2, time.Minute, 100)
	s.Set(key(""), Route{BridgeID: "b1"})
	idx := s.shardIndex(key(""))
	s.MarkShardUnavailable(idx, true)

	fallback := []Route{{BridgeID: "safety-net"}}
	res := s.Resolve(key(""), fallback)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, "session_unavailable", res.FallbackReason)
	assert.Equal(t, "safety-net", res.Route.BridgeID)
}

func TestStore_SizeBoundEvictsLRU(t *testing.T) {
	s := New(1, time.Hour, 2)
	s.Set(key("a"), Route{BridgeID: "a"})
	s.Set(key("b"), Route{BridgeID: "b"})
	s.Set(key("c"), Route{BridgeID: "c"}) // evicts "a" (least recently touched)
	assert.LessOrEqual(t, s.Size(), 2)
	_, status := s.Get(key("a"))
	assert.Equal(t, GetNotFound, status)
}

func TestStore_Prune_RemovesExpired(t *testing.T) {
	s := New(2, 10*time.Millisecond, 100)
	s.Set(key(""), Route{BridgeID: "b1"})
	time.Sleep(20 * time.Millisecond)
	s.Prune()
	assert.Equal(t, 0, s.Size())
}
