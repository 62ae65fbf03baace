// Package storage defines the persistence contract the messaging core
// consumes (spec §6 "Storage contract"). The core never talks to a
// database directly; every component that needs durable state takes a
// Store and calls through this interface, so a process using an
// in-memory store (internal/storage/memstore) and one backed by
// Postgres (internal/storage/pgstore) are interchangeable.
//
// Grounded on the contract shape of pkg/connector/cache_ttl.go and
// memory_sessions.go: a handful of narrow get/set/list verbs rather
// than a generic repository, plus the external-binding upsert idiom
// pkg/connector/portal_cleanup.go uses for "find or create by external
// id".
package storage

import (
	"context"

	"github.com/agentjido/jido-messaging/internal/model"
)

// NotFoundError is returned by Get-style calls that find nothing.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return "storage: " + e.Entity + " not found: " + e.ID
}

// RoomAttrs seeds a room created by get_or_create_room_by_external_binding.
type RoomAttrs struct {
	Type model.RoomType
	Name string
}

// Store is the full persistence contract consumed by C5, C6, C9, and
// C11. Implementations must provide single-writer-per-entity semantics;
// the core does not internally serialize storage calls (spec §5).
type Store interface {
	RoomStore
	ParticipantStore
	MessageStore
	BindingStore
	ConfigStore
}

// RoomStore persists Room entities.
type RoomStore interface {
	SaveRoom(ctx context.Context, room model.Room) error
	GetRoom(ctx context.Context, id string) (model.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	ListRooms(ctx context.Context) ([]model.Room, error)

	// GetOrCreateRoomByExternalBinding maps an external chat to an
	// internal room, creating one with attrs if no room is bound to
	// {channel, bridge, externalRoomID} yet (spec §4.1 Room invariant:
	// at most one room per binding within an instance).
	GetOrCreateRoomByExternalBinding(ctx context.Context, channel, bridge, externalRoomID string, attrs RoomAttrs) (model.Room, bool, error)
}

// ParticipantStore persists Participant entities.
type ParticipantStore interface {
	SaveParticipant(ctx context.Context, p model.Participant) error
	GetParticipant(ctx context.Context, id string) (model.Participant, error)
	ListParticipants(ctx context.Context) ([]model.Participant, error)

	// GetOrCreateParticipantByExternalID maps an external user id on a
	// channel to an internal participant.
	GetOrCreateParticipantByExternalID(ctx context.Context, channel, externalUserID string, attrs ParticipantAttrs) (model.Participant, bool, error)
}

// ParticipantAttrs seeds a participant created by
// GetOrCreateParticipantByExternalID.
type ParticipantAttrs struct {
	Type     model.ParticipantType
	Identity string
}

// MessageStore persists Message entities.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg model.Message) error
	GetMessage(ctx context.Context, id string) (model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error)

	GetMessageByExternalID(ctx context.Context, channel, bridge, externalMessageID string) (model.Message, error)
	UpdateMessageExternalID(ctx context.Context, id, externalMessageID string) error
}

// BindingStore persists RoomBinding entities and the directory lookup.
type BindingStore interface {
	CreateRoomBinding(ctx context.Context, b model.RoomBinding) error
	DeleteRoomBinding(ctx context.Context, id string) error
	ListRoomBindings(ctx context.Context, roomID string) ([]model.RoomBinding, error)

	// DirectoryLookup finds a participant or room by channel + external
	// id, used to resolve @mentions and forced routes.
	DirectoryLookup(ctx context.Context, channel, externalID string) (DirectoryEntry, error)
	// DirectorySearch does a substring search over known identities.
	DirectorySearch(ctx context.Context, query string) ([]DirectoryEntry, error)
}

// DirectoryEntry is one resolved directory hit.
type DirectoryEntry struct {
	Kind string // "room" | "participant"
	ID   string
	Name string
}

// ConfigStore persists BridgeConfig and RoutingPolicy for C11, with
// optimistic concurrency on Revision enforced by the caller (C11
// applies the compare-and-swap semantics; the store only needs atomic
// read-modify-write per key).
type ConfigStore interface {
	SaveBridgeConfig(ctx context.Context, cfg model.BridgeConfig) error
	GetBridgeConfig(ctx context.Context, id string) (model.BridgeConfig, error)
	DeleteBridgeConfig(ctx context.Context, id string) error
	ListBridgeConfigs(ctx context.Context) ([]model.BridgeConfig, error)

	SaveRoutingPolicy(ctx context.Context, policy model.RoutingPolicy) error
	GetRoutingPolicy(ctx context.Context, roomID string) (model.RoutingPolicy, error)
	DeleteRoutingPolicy(ctx context.Context, roomID string) error
}
