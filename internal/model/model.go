// Package model holds the value types shared across the messaging
// runtime: rooms, participants, messages, bindings, and the
// configuration entities that C11 persists through the storage
// contract.
package model

import "time"

// RoomType is the closed set of room kinds.
type RoomType string

const (
	RoomDirect  RoomType = "direct"
	RoomGroup   RoomType = "group"
	RoomChannel RoomType = "channel"
	RoomThread  RoomType = "thread"
)

// ExternalBinding pins a room to one external chat on one bridge.
type ExternalBinding struct {
	Channel        string
	Bridge         string
	ExternalRoomID string
}

// Room is the core conversation entity. Owned by the Room Actor while
// live; persisted through the storage contract otherwise.
type Room struct {
	ID               string
	Type             RoomType
	Name             string
	ExternalBindings []ExternalBinding
	Metadata         map[string]any
	CreatedAt        time.Time
}

// ParticipantType is the closed set of participant kinds.
type ParticipantType string

const (
	ParticipantHuman  ParticipantType = "human"
	ParticipantAgent  ParticipantType = "agent"
	ParticipantSystem ParticipantType = "system"
)

// Presence is the closed set of presence states.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceBusy    Presence = "busy"
	PresenceOffline Presence = "offline"
)

// Participant is a room member: a human, an agent, or the system.
type Participant struct {
	ID           string
	Type         ParticipantType
	Identity     string
	ExternalIDs  map[string]string // channel -> external_user_id
	Presence     Presence
	Capabilities []string
}

// Role is the closed set of message roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockKind is the closed set of content block kinds.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockAudio      BlockKind = "audio"
	BlockVideo      BlockKind = "video"
	BlockFile       BlockKind = "file"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is one ordered unit of message content.
type ContentBlock struct {
	Kind     BlockKind
	Text     string
	MimeType string
	URL      string
	Bytes    []byte
	Metadata map[string]any
}

// MessageStatus is the closed set of message delivery statuses. Ranked
// sending < sent < delivered < read < failed (failed is terminal and
// never re-ranked against the others once reached).
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the non-terminal statuses so callers can check
// monotonicity (sent <= delivered <= read).
var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// StatusAtLeast reports whether status a is ranked at or above status b.
// Failed is a terminal status incomparable to the others and always
// reports true for itself only.
func StatusAtLeast(a, b MessageStatus) bool {
	if a == StatusFailed || b == StatusFailed {
		return a == b
	}
	return statusRank[a] >= statusRank[b]
}

// Receipt records per-participant delivery/read timestamps.
type Receipt struct {
	DeliveredAt time.Time
	ReadAt      time.Time
}

// Message is a single message in a room's history.
type Message struct {
	ID           string
	RoomID       string
	SenderID     string
	Role         Role
	Content      []ContentBlock
	ReplyToID    string
	ThreadRootID string
	ExternalID   string
	Status       MessageStatus
	Reactions    map[string]map[string]struct{} // reaction -> set of participant ids
	Receipts     map[string]Receipt              // participant id -> receipt
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Text concatenates all text blocks in the message content.
func (m *Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// Direction is the closed set of binding directions.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionBoth     Direction = "both"
)

// RoomBinding maps one external chat to one internal room.
type RoomBinding struct {
	ID             string
	RoomID         string
	Channel        string
	BridgeID       string
	ExternalRoomID string
	Direction      Direction
	Enabled        bool
	CreatedAt      time.Time
}

// OutboundEligible reports whether this binding may be used as an
// outbound delivery target.
func (b RoomBinding) OutboundEligible() bool {
	return b.Enabled && (b.Direction == DirectionOutbound || b.Direction == DirectionBoth)
}

// BridgeConfig is a configured adapter binding, revisioned for
// optimistic concurrency.
type BridgeConfig struct {
	ID            string
	AdapterModule string
	Credentials   map[string]string
	Opts          map[string]any
	Enabled       bool
	Capabilities  []string
	Revision      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryMode is the closed set of RoutingPolicy delivery modes.
type DeliveryMode string

const (
	DeliveryBestEffort DeliveryMode = "best_effort"
	DeliveryPrimary    DeliveryMode = "primary"
	DeliveryBroadcast  DeliveryMode = "broadcast"
)

// FailoverPolicy is the closed set of RoutingPolicy failover policies.
type FailoverPolicy string

const (
	FailoverNone          FailoverPolicy = "none"
	FailoverNextAvailable FailoverPolicy = "next_available"
	FailoverBroadcast     FailoverPolicy = "broadcast"
)

// DedupeScope is the closed set of RoutingPolicy dedupe scopes.
type DedupeScope string

const (
	DedupeMessage DedupeScope = "message_id"
	DedupeThread  DedupeScope = "thread"
	DedupeRoom    DedupeScope = "room"
)

// RoutingPolicy is keyed by room_id and controls outbound routing.
type RoutingPolicy struct {
	RoomID         string
	DeliveryMode   DeliveryMode
	FailoverPolicy FailoverPolicy
	DedupeScope    DedupeScope
	FallbackOrder  []string
	Revision       int64
}

// SessionKey scopes "which conversation" for outbound route resolution.
type SessionKey struct {
	ChannelType string
	BridgeID    string
	RoomScope   string
	ThreadID    string // empty means "no thread"
}

// String renders the 4-tuple as a stable delimited key, used for
// hashing into shards and as a map key component.
func (k SessionKey) String() string {
	return k.ChannelType + "|" + k.BridgeID + "|" + k.RoomScope + "|" + k.ThreadID
}

// Operation is the closed set of outbound delivery operations.
type Operation string

const (
	OpSend       Operation = "send"
	OpEdit       Operation = "edit"
	OpSendMedia  Operation = "send_media"
	OpEditMedia  Operation = "edit_media"
)

// Priority is the closed set of delivery job priorities, ordered low to
// high for shed-policy comparisons.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DeadLetterStatus is the closed set of dead-letter record statuses.
type DeadLetterStatus string

const (
	DeadLetterActive   DeadLetterStatus = "active"
	DeadLetterArchived DeadLetterStatus = "archived"
)

// Disposition is the closed set of dead-letter replay dispositions.
// Outbound error categories live in jmerrors.OutboundCategory to avoid
// defining the same taxonomy twice.
type Disposition string

const (
	DispositionRetry    Disposition = "retry"
	DispositionTerminal Disposition = "terminal"
)
