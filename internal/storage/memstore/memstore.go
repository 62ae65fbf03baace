// Package memstore is the required in-memory storage.Store
// implementation: every package's tests run against it, and it is the
// default backing store for cmd/demo.
//
// Grounded on pkg/connector/ttl_store.go's single-mutex map-of-maps
// style, without the TTL behavior (persistence here has no expiry,
// only C1/C4's own caches do).
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/storage"
)

// Store is an in-memory, mutex-protected implementation of
// storage.Store.
type Store struct {
	mu sync.RWMutex

	rooms             map[string]model.Room
	roomByBinding     map[string]string // "channel|bridge|externalRoomID" -> room id
	participants      map[string]model.Participant
	participantByExt  map[string]string // "channel|externalUserID" -> participant id
	messages          map[string]model.Message
	messageByExt      map[string]string // "channel|bridge|externalMessageID" -> message id
	roomBindings      map[string]model.RoomBinding
	bridgeConfigs     map[string]model.BridgeConfig
	routingPolicies   map[string]model.RoutingPolicy
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		rooms:            make(map[string]model.Room),
		roomByBinding:    make(map[string]string),
		participants:     make(map[string]model.Participant),
		participantByExt: make(map[string]string),
		messages:         make(map[string]model.Message),
		messageByExt:     make(map[string]string),
		roomBindings:     make(map[string]model.RoomBinding),
		bridgeConfigs:    make(map[string]model.BridgeConfig),
		routingPolicies:  make(map[string]model.RoutingPolicy),
	}
}

func bindingKey(channel, bridge, externalRoomID string) string {
	return channel + "|" + bridge + "|" + externalRoomID
}

func extUserKey(channel, externalUserID string) string {
	return channel + "|" + externalUserID
}

func extMsgKey(channel, bridge, externalMessageID string) string {
	return channel + "|" + bridge + "|" + externalMessageID
}

// SaveRoom implements storage.RoomStore.
func (s *Store) SaveRoom(ctx context.Context, room model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
	for _, b := range room.ExternalBindings {
		s.roomByBinding[bindingKey(b.Channel, b.Bridge, b.ExternalRoomID)] = room.ID
	}
	return nil
}

// GetRoom implements storage.RoomStore.
func (s *Store) GetRoom(ctx context.Context, id string) (model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return model.Room{}, &storage.NotFoundError{Entity: "room", ID: id}
	}
	return r, nil
}

// DeleteRoom implements storage.RoomStore.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return &storage.NotFoundError{Entity: "room", ID: id}
	}
	for _, b := range r.ExternalBindings {
		delete(s.roomByBinding, bindingKey(b.Channel, b.Bridge, b.ExternalRoomID))
	}
	delete(s.rooms, id)
	return nil
}

// ListRooms implements storage.RoomStore.
func (s *Store) ListRooms(ctx context.Context) ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrCreateRoomByExternalBinding implements storage.RoomStore.
func (s *Store) GetOrCreateRoomByExternalBinding(ctx context.Context, channel, bridge, externalRoomID string, attrs storage.RoomAttrs) (model.Room, bool, error) {
	key := bindingKey(channel, bridge, externalRoomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.roomByBinding[key]; ok {
		return s.rooms[id], false, nil
	}
	room := model.Room{
		ID:   xid.New().String(),
		Type: attrs.Type,
		Name: attrs.Name,
		ExternalBindings: []model.ExternalBinding{
			{Channel: channel, Bridge: bridge, ExternalRoomID: externalRoomID},
		},
		Metadata:  map[string]any{},
		CreatedAt: time.Now(),
	}
	s.rooms[room.ID] = room
	s.roomByBinding[key] = room.ID
	return room, true, nil
}

// SaveParticipant implements storage.ParticipantStore.
func (s *Store) SaveParticipant(ctx context.Context, p model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
	for channel, extID := range p.ExternalIDs {
		s.participantByExt[extUserKey(channel, extID)] = p.ID
	}
	return nil
}

// GetParticipant implements storage.ParticipantStore.
func (s *Store) GetParticipant(ctx context.Context, id string) (model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return model.Participant{}, &storage.NotFoundError{Entity: "participant", ID: id}
	}
	return p, nil
}

// ListParticipants implements storage.ParticipantStore.
func (s *Store) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrCreateParticipantByExternalID implements storage.ParticipantStore.
func (s *Store) GetOrCreateParticipantByExternalID(ctx context.Context, channel, externalUserID string, attrs storage.ParticipantAttrs) (model.Participant, bool, error) {
	key := extUserKey(channel, externalUserID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.participantByExt[key]; ok {
		return s.participants[id], false, nil
	}
	p := model.Participant{
		ID:          xid.New().String(),
		Type:        attrs.Type,
		Identity:    attrs.Identity,
		ExternalIDs: map[string]string{channel: externalUserID},
		Presence:    model.PresenceOffline,
	}
	s.participants[p.ID] = p
	s.participantByExt[key] = p.ID
	return p, true, nil
}

// SaveMessage implements storage.MessageStore.
func (s *Store) SaveMessage(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	return nil
}

// GetMessage implements storage.MessageStore.
func (s *Store) GetMessage(ctx context.Context, id string) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, &storage.NotFoundError{Entity: "message", ID: id}
	}
	return m, nil
}

// DeleteMessage implements storage.MessageStore.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return &storage.NotFoundError{Entity: "message", ID: id}
	}
	delete(s.messages, id)
	return nil
}

// ListMessages implements storage.MessageStore, returning the most
// recent limit messages for roomID in chronological order.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// GetMessageByExternalID implements storage.MessageStore.
func (s *Store) GetMessageByExternalID(ctx context.Context, channel, bridge, externalMessageID string) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.messageByExt[extMsgKey(channel, bridge, externalMessageID)]
	if !ok {
		return model.Message{}, &storage.NotFoundError{Entity: "message", ID: externalMessageID}
	}
	return s.messages[id], nil
}

// UpdateMessageExternalID implements storage.MessageStore. It sets the
// message's ExternalID field only; the external-id lookup used by
// GetMessageByExternalID is not updated (IndexMessageExternalID fills it).
func (s *Store) UpdateMessageExternalID(ctx context.Context, id, externalMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return &storage.NotFoundError{Entity: "message", ID: id}
	}
	m.ExternalID = externalMessageID
	s.messages[id] = m
	return nil
}

// IndexMessageExternalID is a memstore-only helper ingest uses to
// populate the external-id lookup at save time, since the storage
// contract's UpdateMessageExternalID only knows the raw id string.
func (s *Store) IndexMessageExternalID(channel, bridge, externalMessageID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageByExt[extMsgKey(channel, bridge, externalMessageID)] = messageID
}

// CreateRoomBinding implements storage.BindingStore.
func (s *Store) CreateRoomBinding(ctx context.Context, b model.RoomBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = xid.New().String()
	}
	s.roomBindings[b.ID] = b
	return nil
}

// DeleteRoomBinding implements storage.BindingStore.
func (s *Store) DeleteRoomBinding(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roomBindings[id]; !ok {
		return &storage.NotFoundError{Entity: "room_binding", ID: id}
	}
	delete(s.roomBindings, id)
	return nil
}

// ListRoomBindings implements storage.BindingStore.
func (s *Store) ListRoomBindings(ctx context.Context, roomID string) ([]model.RoomBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RoomBinding
	for _, b := range s.roomBindings {
		if b.RoomID == roomID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DirectoryLookup implements storage.BindingStore by scanning
// participants and rooms for a matching external id.
func (s *Store) DirectoryLookup(ctx context.Context, channel, externalID string) (storage.DirectoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.participantByExt[extUserKey(channel, externalID)]; ok {
		p := s.participants[id]
		return storage.DirectoryEntry{Kind: "participant", ID: p.ID, Name: p.Identity}, nil
	}
	for key, roomID := range s.roomByBinding {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) == 3 && parts[0] == channel && parts[2] == externalID {
			r := s.rooms[roomID]
			return storage.DirectoryEntry{Kind: "room", ID: r.ID, Name: r.Name}, nil
		}
	}
	return storage.DirectoryEntry{}, &storage.NotFoundError{Entity: "directory_entry", ID: externalID}
}

// DirectorySearch implements storage.BindingStore with a simple
// case-insensitive substring match over participant identities and
// room names.
func (s *Store) DirectorySearch(ctx context.Context, query string) ([]storage.DirectoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []storage.DirectoryEntry
	for _, p := range s.participants {
		if strings.Contains(strings.ToLower(p.Identity), q) {
			out = append(out, storage.DirectoryEntry{Kind: "participant", ID: p.ID, Name: p.Identity})
		}
	}
	for _, r := range s.rooms {
		if strings.Contains(strings.ToLower(r.Name), q) {
			out = append(out, storage.DirectoryEntry{Kind: "room", ID: r.ID, Name: r.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveBridgeConfig implements storage.ConfigStore.
func (s *Store) SaveBridgeConfig(ctx context.Context, cfg model.BridgeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridgeConfigs[cfg.ID] = cfg
	return nil
}

// GetBridgeConfig implements storage.ConfigStore.
func (s *Store) GetBridgeConfig(ctx context.Context, id string) (model.BridgeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.bridgeConfigs[id]
	if !ok {
		return model.BridgeConfig{}, &storage.NotFoundError{Entity: "bridge_config", ID: id}
	}
	return c, nil
}

// DeleteBridgeConfig implements storage.ConfigStore.
func (s *Store) DeleteBridgeConfig(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bridgeConfigs[id]; !ok {
		return &storage.NotFoundError{Entity: "bridge_config", ID: id}
	}
	delete(s.bridgeConfigs, id)
	return nil
}

// ListBridgeConfigs implements storage.ConfigStore.
func (s *Store) ListBridgeConfigs(ctx context.Context) ([]model.BridgeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BridgeConfig, 0, len(s.bridgeConfigs))
	for _, c := range s.bridgeConfigs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveRoutingPolicy implements storage.ConfigStore.
func (s *Store) SaveRoutingPolicy(ctx context.Context, policy model.RoutingPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routingPolicies[policy.RoomID] = policy
	return nil
}

// GetRoutingPolicy implements storage.ConfigStore.
func (s *Store) GetRoutingPolicy(ctx context.Context, roomID string) (model.RoutingPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.routingPolicies[roomID]
	if !ok {
		return model.RoutingPolicy{}, &storage.NotFoundError{Entity: "routing_policy", ID: roomID}
	}
	return p, nil
}

// DeleteRoutingPolicy implements storage.ConfigStore.
func (s *Store) DeleteRoutingPolicy(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routingPolicies[roomID]; !ok {
		return &storage.NotFoundError{Entity: "routing_policy", ID: roomID}
	}
	delete(s.routingPolicies, roomID)
	return nil
}

var _ storage.Store = (*Store)(nil)
