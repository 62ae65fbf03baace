// Package pgstore is the optional Postgres-backed storage.Store
// implementation, provided as a reference binding for deployments that
// need durable, cross-restart storage. It is not exercised by default;
// cmd/demo and every package test use memstore.
//
// Grounded on the connection-pool-as-a-field idiom the teacher uses
// for its SQL-backed stores, adapted from database/sql to pgx's native
// pool so callers get binary protocol and context-aware cancellation.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/storage"
)

// Store is a Postgres-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using connString and returns a ready Store.
// Callers must call Close when done.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Schema is the DDL migrate callers should apply before using Store.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	external_bindings JSONB NOT NULL DEFAULT '[]',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS room_external_bindings (
	channel TEXT NOT NULL,
	bridge TEXT NOT NULL,
	external_room_id TEXT NOT NULL,
	room_id TEXT NOT NULL REFERENCES rooms(id),
	PRIMARY KEY (channel, bridge, external_room_id)
);
CREATE TABLE IF NOT EXISTS participants (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	identity TEXT NOT NULL,
	external_ids JSONB NOT NULL DEFAULT '{}',
	presence TEXT NOT NULL DEFAULT 'offline',
	capabilities JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS participant_external_ids (
	channel TEXT NOT NULL,
	external_user_id TEXT NOT NULL,
	participant_id TEXT NOT NULL REFERENCES participants(id),
	PRIMARY KEY (channel, external_user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content JSONB NOT NULL DEFAULT '[]',
	reply_to_id TEXT,
	thread_root_id TEXT,
	external_id TEXT,
	status TEXT NOT NULL,
	reactions JSONB NOT NULL DEFAULT '{}',
	receipts JSONB NOT NULL DEFAULT '{}',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS message_external_ids (
	channel TEXT NOT NULL,
	bridge TEXT NOT NULL,
	external_message_id TEXT NOT NULL,
	message_id TEXT NOT NULL REFERENCES messages(id),
	PRIMARY KEY (channel, bridge, external_message_id)
);
CREATE TABLE IF NOT EXISTS room_bindings (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	bridge_id TEXT NOT NULL,
	external_room_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS bridge_configs (
	id TEXT PRIMARY KEY,
	adapter_module TEXT NOT NULL,
	credentials JSONB NOT NULL DEFAULT '{}',
	opts JSONB NOT NULL DEFAULT '{}',
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	capabilities JSONB NOT NULL DEFAULT '[]',
	revision BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS routing_policies (
	room_id TEXT PRIMARY KEY,
	delivery_mode TEXT NOT NULL,
	failover_policy TEXT NOT NULL,
	dedupe_scope TEXT NOT NULL,
	fallback_order JSONB NOT NULL DEFAULT '[]',
	revision BIGINT NOT NULL DEFAULT 0
);
`

func jsonOf(v any) ([]byte, error) { return json.Marshal(v) }

// SaveRoom implements storage.RoomStore.
func (s *Store) SaveRoom(ctx context.Context, room model.Room) error {
	bindings, err := jsonOf(room.ExternalBindings)
	if err != nil {
		return err
	}
	meta, err := jsonOf(room.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rooms (id, type, name, external_bindings, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET type=$2, name=$3, external_bindings=$4, metadata=$5
	`, room.ID, room.Type, room.Name, bindings, meta, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: save room: %w", err)
	}
	for _, b := range room.ExternalBindings {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO room_external_bindings (channel, bridge, external_room_id, room_id)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (channel, bridge, external_room_id) DO UPDATE SET room_id=$4
		`, b.Channel, b.Bridge, b.ExternalRoomID, room.ID); err != nil {
			return fmt.Errorf("pgstore: save room binding: %w", err)
		}
	}
	return nil
}

// GetRoom implements storage.RoomStore.
func (s *Store) GetRoom(ctx context.Context, id string) (model.Room, error) {
	var r model.Room
	var bindings, meta []byte
	err := s.pool.QueryRow(ctx, `SELECT id, type, name, external_bindings, metadata, created_at FROM rooms WHERE id=$1`, id).
		Scan(&r.ID, &r.Type, &r.Name, &bindings, &meta, &r.CreatedAt)
	if err != nil {
		return model.Room{}, &storage.NotFoundError{Entity: "room", ID: id}
	}
	_ = json.Unmarshal(bindings, &r.ExternalBindings)
	_ = json.Unmarshal(meta, &r.Metadata)
	return r, nil
}

// DeleteRoom implements storage.RoomStore.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &storage.NotFoundError{Entity: "room", ID: id}
	}
	return nil
}

// ListRooms implements storage.RoomStore.
func (s *Store) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, type, name, external_bindings, metadata, created_at FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list rooms: %w", err)
	}
	defer rows.Close()
	var out []model.Room
	for rows.Next() {
		var r model.Room
		var bindings, meta []byte
		if err := rows.Scan(&r.ID, &r.Type, &r.Name, &bindings, &meta, &r.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(bindings, &r.ExternalBindings)
		_ = json.Unmarshal(meta, &r.Metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetOrCreateRoomByExternalBinding implements storage.RoomStore.
func (s *Store) GetOrCreateRoomByExternalBinding(ctx context.Context, channel, bridge, externalRoomID string, attrs storage.RoomAttrs) (model.Room, bool, error) {
	var roomID string
	err := s.pool.QueryRow(ctx, `SELECT room_id FROM room_external_bindings WHERE channel=$1 AND bridge=$2 AND external_room_id=$3`,
		channel, bridge, externalRoomID).Scan(&roomID)
	if err == nil {
		r, getErr := s.GetRoom(ctx, roomID)
		return r, false, getErr
	}

	room := model.Room{
		Type:             attrs.Type,
		Name:             attrs.Name,
		ExternalBindings: []model.ExternalBinding{{Channel: channel, Bridge: bridge, ExternalRoomID: externalRoomID}},
		Metadata:         map[string]any{},
	}
	room.ID = fmt.Sprintf("room-%s-%s-%s", channel, bridge, externalRoomID)
	if saveErr := s.SaveRoom(ctx, room); saveErr != nil {
		return model.Room{}, false, saveErr
	}
	return room, true, nil
}

// SaveParticipant implements storage.ParticipantStore.
func (s *Store) SaveParticipant(ctx context.Context, p model.Participant) error {
	extIDs, err := jsonOf(p.ExternalIDs)
	if err != nil {
		return err
	}
	caps, err := jsonOf(p.Capabilities)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO participants (id, type, identity, external_ids, presence, capabilities)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET type=$2, identity=$3, external_ids=$4, presence=$5, capabilities=$6
	`, p.ID, p.Type, p.Identity, extIDs, p.Presence, caps)
	if err != nil {
		return fmt.Errorf("pgstore: save participant: %w", err)
	}
	for channel, extID := range p.ExternalIDs {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO participant_external_ids (channel, external_user_id, participant_id)
			VALUES ($1,$2,$3)
			ON CONFLICT (channel, external_user_id) DO UPDATE SET participant_id=$3
		`, channel, extID, p.ID); err != nil {
			return fmt.Errorf("pgstore: save participant binding: %w", err)
		}
	}
	return nil
}

// GetParticipant implements storage.ParticipantStore.
func (s *Store) GetParticipant(ctx context.Context, id string) (model.Participant, error) {
	var p model.Participant
	var extIDs, caps []byte
	err := s.pool.QueryRow(ctx, `SELECT id, type, identity, external_ids, presence, capabilities FROM participants WHERE id=$1`, id).
		Scan(&p.ID, &p.Type, &p.Identity, &extIDs, &p.Presence, &caps)
	if err != nil {
		return model.Participant{}, &storage.NotFoundError{Entity: "participant", ID: id}
	}
	_ = json.Unmarshal(extIDs, &p.ExternalIDs)
	_ = json.Unmarshal(caps, &p.Capabilities)
	return p, nil
}

// ListParticipants implements storage.ParticipantStore.
func (s *Store) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, type, identity, external_ids, presence, capabilities FROM participants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list participants: %w", err)
	}
	defer rows.Close()
	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		var extIDs, caps []byte
		if err := rows.Scan(&p.ID, &p.Type, &p.Identity, &extIDs, &p.Presence, &caps); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(extIDs, &p.ExternalIDs)
		_ = json.Unmarshal(caps, &p.Capabilities)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetOrCreateParticipantByExternalID implements storage.ParticipantStore.
func (s *Store) GetOrCreateParticipantByExternalID(ctx context.Context, channel, externalUserID string, attrs storage.ParticipantAttrs) (model.Participant, bool, error) {
	var participantID string
	err := s.pool.QueryRow(ctx, `SELECT participant_id FROM participant_external_ids WHERE channel=$1 AND external_user_id=$2`,
		channel, externalUserID).Scan(&participantID)
	if err == nil {
		p, getErr := s.GetParticipant(ctx, participantID)
		return p, false, getErr
	}
	p := model.Participant{
		ID:          fmt.Sprintf("participant-%s-%s", channel, externalUserID),
		Type:        attrs.Type,
		Identity:    attrs.Identity,
		ExternalIDs: map[string]string{channel: externalUserID},
		Presence:    model.PresenceOffline,
	}
	if err := s.SaveParticipant(ctx, p); err != nil {
		return model.Participant{}, false, err
	}
	return p, true, nil
}

// SaveMessage implements storage.MessageStore.
func (s *Store) SaveMessage(ctx context.Context, msg model.Message) error {
	content, err := jsonOf(msg.Content)
	if err != nil {
		return err
	}
	reactions, err := jsonOf(msg.Reactions)
	if err != nil {
		return err
	}
	receipts, err := jsonOf(msg.Receipts)
	if err != nil {
		return err
	}
	meta, err := jsonOf(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, role, content, reply_to_id, thread_root_id,
			external_id, status, reactions, receipts, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET content=$5, status=$9, reactions=$10, receipts=$11,
			metadata=$12, updated_at=$14
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Role, content, msg.ReplyToID, msg.ThreadRootID,
		msg.ExternalID, msg.Status, reactions, receipts, meta, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: save message: %w", err)
	}
	return nil
}

// GetMessage implements storage.MessageStore.
func (s *Store) GetMessage(ctx context.Context, id string) (model.Message, error) {
	var m model.Message
	var content, reactions, receipts, meta []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, sender_id, role, content, reply_to_id, thread_root_id,
			external_id, status, reactions, receipts, metadata, created_at, updated_at
		FROM messages WHERE id=$1
	`, id).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Role, &content, &m.ReplyToID, &m.ThreadRootID,
		&m.ExternalID, &m.Status, &reactions, &receipts, &meta, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return model.Message{}, &storage.NotFoundError{Entity: "message", ID: id}
	}
	_ = json.Unmarshal(content, &m.Content)
	_ = json.Unmarshal(reactions, &m.Reactions)
	_ = json.Unmarshal(receipts, &m.Receipts)
	_ = json.Unmarshal(meta, &m.Metadata)
	return m, nil
}

// DeleteMessage implements storage.MessageStore.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &storage.NotFoundError{Entity: "message", ID: id}
	}
	return nil
}

// ListMessages implements storage.MessageStore.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	query := `SELECT id, room_id, sender_id, role, content, reply_to_id, thread_root_id,
		external_id, status, reactions, receipts, metadata, created_at, updated_at
		FROM messages WHERE room_id=$1 ORDER BY created_at ASC`
	args := []any{roomID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list messages: %w", err)
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		var m model.Message
		var content, reactions, receipts, meta []byte
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Role, &content, &m.ReplyToID, &m.ThreadRootID,
			&m.ExternalID, &m.Status, &reactions, &receipts, &meta, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(content, &m.Content)
		_ = json.Unmarshal(reactions, &m.Reactions)
		_ = json.Unmarshal(receipts, &m.Receipts)
		_ = json.Unmarshal(meta, &m.Metadata)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessageByExternalID implements storage.MessageStore.
func (s *Store) GetMessageByExternalID(ctx context.Context, channel, bridge, externalMessageID string) (model.Message, error) {
	var messageID string
	err := s.pool.QueryRow(ctx, `SELECT message_id FROM message_external_ids WHERE channel=$1 AND bridge=$2 AND external_message_id=$3`,
		channel, bridge, externalMessageID).Scan(&messageID)
	if err != nil {
		return model.Message{}, &storage.NotFoundError{Entity: "message", ID: externalMessageID}
	}
	return s.GetMessage(ctx, messageID)
}

// UpdateMessageExternalID implements storage.MessageStore.
func (s *Store) UpdateMessageExternalID(ctx context.Context, id, externalMessageID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET external_id=$2 WHERE id=$1`, id, externalMessageID)
	if err != nil {
		return fmt.Errorf("pgstore: update message external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &storage.NotFoundError{Entity: "message", ID: id}
	}
	return nil
}

// CreateRoomBinding implements storage.BindingStore.
func (s *Store) CreateRoomBinding(ctx context.Context, b model.RoomBinding) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_bindings (id, room_id, channel, bridge_id, external_room_id, direction, enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, b.ID, b.RoomID, b.Channel, b.BridgeID, b.ExternalRoomID, b.Direction, b.Enabled, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: create room binding: %w", err)
	}
	return nil
}

// DeleteRoomBinding implements storage.BindingStore.
func (s *Store) DeleteRoomBinding(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM room_bindings WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete room binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &storage.NotFoundError{Entity: "room_binding", ID: id}
	}
	return nil
}

// ListRoomBindings implements storage.BindingStore.
func (s *Store) ListRoomBindings(ctx context.Context, roomID string) ([]model.RoomBinding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, channel, bridge_id, external_room_id, direction, enabled, created_at
		FROM room_bindings WHERE room_id=$1 ORDER BY id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list room bindings: %w", err)
	}
	defer rows.Close()
	var out []model.RoomBinding
	for rows.Next() {
		var b model.RoomBinding
		if err := rows.Scan(&b.ID, &b.RoomID, &b.Channel, &b.BridgeID, &b.ExternalRoomID, &b.Direction, &b.Enabled, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DirectoryLookup implements storage.BindingStore.
func (s *Store) DirectoryLookup(ctx context.Context, channel, externalID string) (storage.DirectoryEntry, error) {
	var participantID string
	err := s.pool.QueryRow(ctx, `SELECT participant_id FROM participant_external_ids WHERE channel=$1 AND external_user_id=$2`,
		channel, externalID).Scan(&participantID)
	if err == nil {
		p, getErr := s.GetParticipant(ctx, participantID)
		if getErr != nil {
			return storage.DirectoryEntry{}, getErr
		}
		return storage.DirectoryEntry{Kind: "participant", ID: p.ID, Name: p.Identity}, nil
	}
	var roomID string
	err = s.pool.QueryRow(ctx, `SELECT room_id FROM room_external_bindings WHERE channel=$1 AND external_room_id=$2`,
		channel, externalID).Scan(&roomID)
	if err == nil {
		r, getErr := s.GetRoom(ctx, roomID)
		if getErr != nil {
			return storage.DirectoryEntry{}, getErr
		}
		return storage.DirectoryEntry{Kind: "room", ID: r.ID, Name: r.Name}, nil
	}
	return storage.DirectoryEntry{}, &storage.NotFoundError{Entity: "directory_entry", ID: externalID}
}

// DirectorySearch implements storage.BindingStore using a case
// insensitive ILIKE scan over participant identities and room names.
func (s *Store) DirectorySearch(ctx context.Context, query string) ([]storage.DirectoryEntry, error) {
	like := "%" + query + "%"
	var out []storage.DirectoryEntry
	rows, err := s.pool.Query(ctx, `SELECT id, identity FROM participants WHERE identity ILIKE $1 ORDER BY id`, like)
	if err != nil {
		return nil, fmt.Errorf("pgstore: directory search participants: %w", err)
	}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, storage.DirectoryEntry{Kind: "participant", ID: id, Name: name})
	}
	rows.Close()

	rows, err = s.pool.Query(ctx, `SELECT id, name FROM rooms WHERE name ILIKE $1 ORDER BY id`, like)
	if err != nil {
		return nil, fmt.Errorf("pgstore: directory search rooms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out = append(out, storage.DirectoryEntry{Kind: "room", ID: id, Name: name})
	}
	return out, rows.Err()
}

// SaveBridgeConfig implements storage.ConfigStore.
func (s *Store) SaveBridgeConfig(ctx context.Context, cfg model.BridgeConfig) error {
	creds, err := jsonOf(cfg.Credentials)
	if err != nil {
		return err
	}
	opts, err := jsonOf(cfg.Opts)
	if err != nil {
		return err
	}
	caps, err := jsonOf(cfg.Capabilities)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bridge_configs (id, adapter_module, credentials, opts, enabled, capabilities, revision, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET adapter_module=$2, credentials=$3, opts=$4, enabled=$5,
			capabilities=$6, revision=$7, updated_at=$9
	`, cfg.ID, cfg.AdapterModule, creds, opts, cfg.Enabled, caps, cfg.Revision, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: save bridge config: %w", err)
	}
	return nil
}

// GetBridgeConfig implements storage.ConfigStore.
func (s *Store) GetBridgeConfig(ctx context.Context, id string) (model.BridgeConfig, error) {
	var c model.BridgeConfig
	var creds, opts, caps []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, adapter_module, credentials, opts, enabled, capabilities, revision, created_at, updated_at
		FROM bridge_configs WHERE id=$1
	`, id).Scan(&c.ID, &c.AdapterModule, &creds, &opts, &c.Enabled, &caps, &c.Revision, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.BridgeConfig{}, &storage.NotFoundError{Entity: "bridge_config", ID: id}
	}
	_ = json.Unmarshal(creds, &c.Credentials)
	_ = json.Unmarshal(opts, &c.Opts)
	_ = json.Unmarshal(caps, &c.Capabilities)
	return c, nil
}

// DeleteBridgeConfig implements storage.ConfigStore.
func (s *Store) DeleteBridgeConfig(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bridge_configs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete bridge config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &storage.NotFoundError{Entity: "bridge_config", ID: id}
	}
	return nil
}

// ListBridgeConfigs implements storage.ConfigStore.
func (s *Store) ListBridgeConfigs(ctx context.Context) ([]model.BridgeConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, adapter_module, credentials, opts, enabled, capabilities, revision, created_at, updated_at
		FROM bridge_configs ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list bridge configs: %w", err)
	}
	defer rows.Close()
	var out []model.BridgeConfig
	for rows.Next() {
		var c model.BridgeConfig
		var creds, opts, caps []byte
		if err := rows.Scan(&c.ID, &c.AdapterModule, &creds, &opts, &c.Enabled, &caps, &c.Revision, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(creds, &c.Credentials)
		_ = json.Unmarshal(opts, &c.Opts)
		_ = json.Unmarshal(caps, &c.Capabilities)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveRoutingPolicy implements storage.ConfigStore.
func (s *Store) SaveRoutingPolicy(ctx context.Context, policy model.RoutingPolicy) error {
	order, err := jsonOf(policy.FallbackOrder)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO routing_policies (room_id, delivery_mode, failover_policy, dedupe_scope, fallback_order, revision)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (room_id) DO UPDATE SET delivery_mode=$2, failover_policy=$3, dedupe_scope=$4,
			fallback_order=$5, revision=$6
	`, policy.RoomID, policy.DeliveryMode, policy.FailoverPolicy, policy.DedupeScope, order, policy.Revision)
	if err != nil {
		return fmt.Errorf("pgstore: save routing policy: %w", err)
	}
	return nil
}

// GetRoutingPolicy implements storage.ConfigStore.
func (s *Store) GetRoutingPolicy(ctx context.Context, roomID string) (model.RoutingPolicy, error) {
	var p model.RoutingPolicy
	var order []byte
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, delivery_mode, failover_policy, dedupe_scope, fallback_order, revision
		FROM routing_policies WHERE room_id=$1
	`, roomID).Scan(&p.RoomID, &p.DeliveryMode, &p.FailoverPolicy, &p.DedupeScope, &order, &p.Revision)
	if err != nil {
		return model.RoutingPolicy{}, &storage.NotFoundError{Entity: "routing_policy", ID: roomID}
	}
	_ = json.Unmarshal(order, &p.FallbackOrder)
	return p, nil
}

// DeleteRoutingPolicy implements storage.ConfigStore.
func (s *Store) DeleteRoutingPolicy(ctx context.Context, roomID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM routing_policies WHERE room_id=$1`, roomID)
	if err != nil {
		return fmt.Errorf("pgstore: delete routing policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &storage.NotFoundError{Entity: "routing_policy", ID: roomID}
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
