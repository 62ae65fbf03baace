// Package agent implements C7, the per-(room, agent) subscriber that
// watches a room's message stream, decides whether to react, and
// routes any reply back through the outbound pipeline.
//
// Grounded on the teacher's subagent_announce.go (per-room subagent
// registration) and handleai.go's mention/prefix trigger-matching
// idiom, restructured around pubsub.Hub instead of a direct bridge
// callback so the agent never holds a reference to the Room Actor.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/pubsub"
)

// TriggerKind is the closed set of agent trigger strategies.
type TriggerKind string

const (
	TriggerAll     TriggerKind = "all"
	TriggerMention TriggerKind = "mention"
	TriggerPrefix  TriggerKind = "prefix"
)

// Trigger decides whether an incoming message should invoke the agent.
type Trigger struct {
	Kind   TriggerKind
	Prefix string // only used when Kind == TriggerPrefix
}

// Matches reports whether msg's text satisfies the trigger.
func (t Trigger) Matches(agentName, text string) bool {
	switch t.Kind {
	case TriggerAll:
		return true
	case TriggerMention:
		return strings.Contains(text, "@"+agentName)
	case TriggerPrefix:
		return strings.HasPrefix(strings.TrimSpace(text), t.Prefix)
	default:
		return false
	}
}

// HandlerContext is passed to a Handler on every invocation.
type HandlerContext struct {
	RoomID    string
	AgentID   string
	AgentName string
}

// ResultKind is the closed set of handler outcomes.
type ResultKind string

const (
	ResultReply   ResultKind = "reply"
	ResultNoReply ResultKind = "noreply"
	ResultError   ResultKind = "error"
)

// HandlerResult is what a Handler returns.
type HandlerResult struct {
	Kind   ResultKind
	Text   string
	Reason string
}

// Handler decides how the agent reacts to one triggering message.
type Handler func(ctx context.Context, msg model.Message, hctx HandlerContext) HandlerResult

// Config is the {handler, trigger, name} triple start_agent takes.
type Config struct {
	Handler Handler
	Trigger Trigger
	Name    string
}

// Actor is one running (room, agent) subscriber.
type Actor struct {
	roomID  string
	agentID string
	cfg     Config
	tel     *jmtelemetry.Sink
	onReply func(reply model.Message)

	unsubscribe func()
	done        chan struct{}
}

// Start subscribes a new agent actor to room's message stream. onReply
// is invoked (off the mailbox goroutine) with a freshly built assistant
// message whenever the handler returns a reply; the caller wires
// onReply to the C8/C11 outbound path.
func Start(roomID, agentID string, cfg Config, hub *pubsub.Hub, tel *jmtelemetry.Sink, onReply func(model.Message)) *Actor {
	ch, unsub := hub.Subscribe(roomID, 64)
	a := &Actor{
		roomID:      roomID,
		agentID:     agentID,
		cfg:         cfg,
		tel:         tel,
		onReply:     onReply,
		unsubscribe: unsub,
		done:        make(chan struct{}),
	}
	go a.loop(ch)
	return a
}

// Stop unsubscribes the actor from the room's message stream.
func (a *Actor) Stop() {
	close(a.done)
}

func (a *Actor) loop(ch <-chan pubsub.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != "message_added" {
				continue
			}
			msg, ok := ev.Data.(model.Message)
			if !ok {
				continue
			}
			a.handle(msg)
		case <-a.done:
			a.unsubscribe()
			return
		}
	}
}

func (a *Actor) handle(msg model.Message) {
	if msg.SenderID == a.agentID {
		return // self-skip
	}
	text := msg.Text()
	if !a.cfg.Trigger.Matches(a.cfg.Name, text) {
		return
	}

	a.emit("agent.triggered", msg.ID, nil)
	a.emit("agent.started", msg.ID, nil)

	hctx := HandlerContext{RoomID: a.roomID, AgentID: a.agentID, AgentName: a.cfg.Name}
	result := a.invoke(msg, hctx)

	switch result.Kind {
	case ResultReply:
		reply := model.Message{
			ID:        xid.New().String(),
			RoomID:    a.roomID,
			SenderID:  a.agentID,
			Role:      model.RoleAssistant,
			Content:   []model.ContentBlock{{Kind: model.BlockText, Text: result.Text}},
			ReplyToID: msg.ID,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
			Status:    model.StatusSending,
		}
		a.emit("agent.completed", msg.ID, map[string]any{"reply_id": reply.ID})
		if a.onReply != nil {
			a.onReply(reply)
		}
	case ResultError:
		a.emit("agent.failed", msg.ID, map[string]any{"reason": result.Reason})
	case ResultNoReply:
		a.emit("agent.completed", msg.ID, map[string]any{"reply": false})
	}
}

// invoke calls the handler, recovering from a panic and translating it
// into a ResultError so a misbehaving handler never kills the room's
// pub/sub delivery loop.
func (a *Actor) invoke(msg model.Message, hctx HandlerContext) (result HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			result = HandlerResult{Kind: ResultError, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return a.cfg.Handler(context.Background(), msg, hctx)
}

func (a *Actor) emit(name, correlationID string, data map[string]any) {
	if a.tel == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["agent_id"] = a.agentID
	a.tel.Emit(context.Background(), name, a.roomID, correlationID, data)
}
