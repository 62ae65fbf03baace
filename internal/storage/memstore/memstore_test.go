package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/storage"
)

func TestGetOrCreateRoomByExternalBinding_CreatesOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	r1, created1, err := s.GetOrCreateRoomByExternalBinding(ctx, "telegram", "b1", "chat1", storage.RoomAttrs{Type: model.RoomGroup})
	require.NoError(t, err)
	assert.True(t, created1)

	r2, created2, err := s.GetOrCreateRoomByExternalBinding(ctx, "telegram", "b1", "chat1", storage.RoomAttrs{Type: model.RoomGroup})
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, r1.ID, r2.ID)
}

func TestGetOrCreateParticipantByExternalID_CreatesOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	p1, created1, err := s.GetOrCreateParticipantByExternalID(ctx, "telegram", "u1", storage.ParticipantAttrs{Type: model.ParticipantHuman, Identity: "alice"})
	require.NoError(t, err)
	assert.True(t, created1)

	p2, created2, err := s.GetOrCreateParticipantByExternalID(ctx, "telegram", "u1", storage.ParticipantAttrs{Type: model.ParticipantHuman, Identity: "alice"})
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, p1.ID, p2.ID)
}

func TestGetRoom_NotFound(t *testing.T) {
	s := New()
	_, err := s.GetRoom(context.Background(), "nope")
	assert.Error(t, err)
	var nf *storage.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestMessage_SaveGetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	msg := model.Message{ID: "m1", RoomID: "r1", Role: model.RoleUser}
	require.NoError(t, s.SaveMessage(ctx, msg))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RoomID)

	require.NoError(t, s.DeleteMessage(ctx, "m1"))
	_, err = s.GetMessage(ctx, "m1")
	assert.Error(t, err)
}

func TestMessage_GetByExternalIDViaIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveMessage(ctx, model.Message{ID: "m1", RoomID: "r1"}))
	s.IndexMessageExternalID("telegram", "b1", "ext-1", "m1")

	got, err := s.GetMessageByExternalID(ctx, "telegram", "b1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
}

func TestListMessages_OrderedAndBounded(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMessage(ctx, model.Message{
			ID: string(rune('a' + i)), RoomID: "r1", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	out, err := s.ListMessages(ctx, "r1", 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "e", out[2].ID)
}

func TestRoutingPolicy_SaveGetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveRoutingPolicy(ctx, model.RoutingPolicy{RoomID: "r1", DeliveryMode: model.DeliveryBestEffort}))

	got, err := s.GetRoutingPolicy(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryBestEffort, got.DeliveryMode)

	require.NoError(t, s.DeleteRoutingPolicy(ctx, "r1"))
	_, err = s.GetRoutingPolicy(ctx, "r1")
	assert.Error(t, err)
}

func TestDirectorySearch_SubstringMatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _, err := s.GetOrCreateParticipantByExternalID(ctx, "telegram", "u1", storage.ParticipantAttrs{Identity: "Alice Smith"})
	require.NoError(t, err)

	results, err := s.DirectorySearch(ctx, "smith")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Alice Smith", results[0].Name)
}
