// Package room implements C6, the per-room actor: a serialized mailbox
// over one room's live state (history, participants, reactions,
// receipts, typing, threads). Every mutation is run on the actor's own
// goroutine so two callers never race on the same room, and every
// mutation publishes a structured event to the instance pub/sub hub.
//
// Grounded on the teacher's reaction_handling.go / reaction_store.go
// (idempotent reaction add/remove over a message's reaction set),
// typing_controller.go / typing_state.go (timer-based typing expiry),
// and message_status.go (delivered/read aggregation), restructured
// around a single-goroutine mailbox the way
// other_examples' dispatcher.go serializes per-agent message handling.
package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/pubsub"
)

// Options configures an Actor.
type Options struct {
	HistoryCap     int
	TypingTimeout  time.Duration
	HibernateAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistoryCap <= 0 {
		o.HistoryCap = 100
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 5 * time.Second
	}
	if o.HibernateAfter <= 0 {
		o.HibernateAfter = 5 * time.Minute
	}
	return o
}

type typingEntry struct {
	threadID string
	timer    *time.Timer
}

// Actor owns one room's live state. All exported methods enqueue a
// closure onto the mailbox and block for its result, so state access
// is always serialized through the single mailbox goroutine.
type Actor struct {
	room    model.Room
	opts    Options
	hub     *pubsub.Hub
	history []model.Message // newest-first, capped at opts.HistoryCap
	participants map[string]model.Participant
	typing       map[string]*typingEntry // participant id -> entry

	mailbox chan func()
	done    chan struct{}

	mu           sync.Mutex // guards lastActivity only; mailbox serializes everything else
	lastActivity time.Time
	hibernateTimer *time.Timer
	onHibernate    func(roomID string)
}

// NewActor starts a room actor's mailbox goroutine.
func NewActor(r model.Room, hub *pubsub.Hub, opts Options, onHibernate func(roomID string)) *Actor {
	opts = opts.withDefaults()
	a := &Actor{
		room:         r,
		opts:         opts,
		hub:          hub,
		participants: make(map[string]model.Participant),
		typing:       make(map[string]*typingEntry),
		mailbox:      make(chan func(), 64),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
		onHibernate:  onHibernate,
	}
	go a.run()
	a.resetHibernateTimer()
	return a
}

func (a *Actor) run() {
	for {
		select {
		case fn, ok := <-a.mailbox:
			if !ok {
				return
			}
			fn()
		case <-a.done:
			return
		}
	}
}

// Stop terminates the actor's mailbox goroutine. Operations still
// queued when Stop is called may not run; their callers, and callers
// submitting after Stop, return without the operation having run,
// because do also watches the done channel.
func (a *Actor) Stop() {
	close(a.done)
}

func (a *Actor) touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
	a.resetHibernateTimer()
}

func (a *Actor) resetHibernateTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hibernateTimer != nil {
		a.hibernateTimer.Stop()
	}
	if a.onHibernate == nil {
		return
	}
	roomID := a.room.ID
	a.hibernateTimer = time.AfterFunc(a.opts.HibernateAfter, func() {
		a.onHibernate(roomID)
	})
}

// do runs fn on the mailbox goroutine and blocks until it completes.
func (a *Actor) do(fn func()) {
	done := make(chan struct{})
	select {
	case a.mailbox <- func() {
		fn()
		close(done)
	}:
	case <-a.done:
		return
	}
	select {
	case <-done:
	case <-a.done:
		return
	}
	a.touch()
}

func (a *Actor) publish(eventType string, data any) {
	a.hub.Publish(a.room.ID, pubsub.Event{Type: eventType, Data: data})
}

// AddMessage prepends msg to history (truncating to the configured
// cap) and publishes message_added.
func (a *Actor) AddMessage(ctx context.Context, msg model.Message) {
	a.do(func() {
		a.history = append([]model.Message{msg}, a.history...)
		if len(a.history) > a.opts.HistoryCap {
			a.history = a.history[:a.opts.HistoryCap]
		}
		a.publish("message_added", msg)
	})
}

// AddParticipant adds or updates a participant and publishes a
// presence transition.
func (a *Actor) AddParticipant(ctx context.Context, p model.Participant) {
	a.do(func() {
		a.participants[p.ID] = p
		a.publish("participant_joined", p)
	})
}

// RemoveParticipant removes a participant and publishes its departure.
func (a *Actor) RemoveParticipant(ctx context.Context, participantID string) {
	a.do(func() {
		delete(a.participants, participantID)
		delete(a.typing, participantID)
		a.publish("participant_left", participantID)
	})
}

// ReactionResult reports whether AddReaction created a new entry.
type ReactionResult string

const (
	ReactionAdded         ReactionResult = "added"
	ReactionAlreadyExists ReactionResult = "already_exists"
	ReactionNotFound      ReactionResult = "not_found"
)

// AddReaction idempotently adds participantID's reaction to messageID.
func (a *Actor) AddReaction(ctx context.Context, messageID, participantID, reaction string) ReactionResult {
	var result ReactionResult
	a.do(func() {
		idx := a.findMessage(messageID)
		if idx < 0 {
			result = ReactionNotFound
			return
		}
		msg := &a.history[idx]
		if msg.Reactions == nil {
			msg.Reactions = make(map[string]map[string]struct{})
		}
		if msg.Reactions[reaction] == nil {
			msg.Reactions[reaction] = make(map[string]struct{})
		}
		if _, exists := msg.Reactions[reaction][participantID]; exists {
			result = ReactionAlreadyExists
			return
		}
		msg.Reactions[reaction][participantID] = struct{}{}
		result = ReactionAdded
		a.publish("reaction_added", map[string]string{"message_id": messageID, "participant_id": participantID, "reaction": reaction})
	})
	return result
}

// RemoveReaction removes participantID's reaction from messageID. If
// it was the last holder of that reaction, the reaction key is
// removed entirely rather than left with an empty set.
func (a *Actor) RemoveReaction(ctx context.Context, messageID, participantID, reaction string) {
	a.do(func() {
		idx := a.findMessage(messageID)
		if idx < 0 {
			return
		}
		msg := &a.history[idx]
		if msg.Reactions == nil || msg.Reactions[reaction] == nil {
			return
		}
		delete(msg.Reactions[reaction], participantID)
		if len(msg.Reactions[reaction]) == 0 {
			delete(msg.Reactions, reaction)
		}
		a.publish("reaction_removed", map[string]string{"message_id": messageID, "participant_id": participantID, "reaction": reaction})
	})
}

// MarkDelivered idempotently records that participantID received
// messageID, advancing the message's aggregate status to delivered
// once every non-sender participant has.
func (a *Actor) MarkDelivered(ctx context.Context, messageID, participantID string) {
	a.do(func() {
		a.markReceipt(messageID, participantID, false)
	})
}

// MarkRead idempotently records that participantID read messageID.
// Read implies delivered for that same participant's own receipt
// (receipts monotonically advance), but never advances any other
// participant's delivered state.
func (a *Actor) MarkRead(ctx context.Context, messageID, participantID string) {
	a.do(func() {
		a.markReceipt(messageID, participantID, true)
	})
}

func (a *Actor) markReceipt(messageID, participantID string, read bool) {
	idx := a.findMessage(messageID)
	if idx < 0 {
		return
	}
	msg := &a.history[idx]
	if msg.Receipts == nil {
		msg.Receipts = make(map[string]model.Receipt)
	}
	r := msg.Receipts[participantID]
	now := time.Now()
	if r.DeliveredAt.IsZero() {
		r.DeliveredAt = now
	}
	if read && r.ReadAt.IsZero() {
		r.ReadAt = now
	}
	msg.Receipts[participantID] = r

	a.advanceStatusLocked(msg)
	if read {
		a.publish("message_read", map[string]string{"message_id": messageID, "participant_id": participantID})
	} else {
		a.publish("message_delivered", map[string]string{"message_id": messageID, "participant_id": participantID})
	}
}

// advanceStatusLocked recomputes msg.Status from receipts against every
// participant other than the sender. Called with the mailbox already
// serialized (no additional lock needed).
func (a *Actor) advanceStatusLocked(msg *model.Message) {
	others := 0
	delivered := 0
	read := 0
	for id := range a.participants {
		if id == msg.SenderID {
			continue
		}
		others++
		if r, ok := msg.Receipts[id]; ok {
			if !r.DeliveredAt.IsZero() {
				delivered++
			}
			if !r.ReadAt.IsZero() {
				read++
			}
		}
	}
	if others == 0 {
		return
	}
	if read == others {
		msg.Status = model.StatusRead
		return
	}
	if delivered == others && msg.Status != model.StatusRead {
		msg.Status = model.StatusDelivered
	}
}

// SetTyping records participantID's typing state. When typing is true
// it schedules auto-expiry after the configured timeout; the expiry
// reaps the entry and publishes typing_stopped. Setting typing to
// false cancels any pending expiry and publishes typing_stopped
// immediately.
func (a *Actor) SetTyping(ctx context.Context, participantID string, typing bool, threadID string) {
	a.do(func() {
		if existing, ok := a.typing[participantID]; ok {
			existing.timer.Stop()
			delete(a.typing, participantID)
		}
		if !typing {
			a.publish("typing_stopped", map[string]string{"participant_id": participantID, "thread_id": threadID})
			return
		}
		entry := &typingEntry{threadID: threadID}
		entry.timer = time.AfterFunc(a.opts.TypingTimeout, func() {
			a.do(func() {
				if cur, ok := a.typing[participantID]; ok && cur == entry {
					delete(a.typing, participantID)
					a.publish("typing_stopped", map[string]string{"participant_id": participantID, "thread_id": threadID})
				}
			})
		})
		a.typing[participantID] = entry
		a.publish("typing_started", map[string]string{"participant_id": participantID, "thread_id": threadID})
	})
}

// CreateThread idempotently marks rootID as a thread root and
// publishes thread_created.
func (a *Actor) CreateThread(ctx context.Context, rootID string) {
	a.do(func() {
		idx := a.findMessage(rootID)
		if idx < 0 {
			return
		}
		if a.history[idx].ThreadRootID == rootID {
			return
		}
		a.history[idx].ThreadRootID = rootID
		a.publish("thread_created", rootID)
	})
}

// AddThreadReply appends reply to history with its thread_root_id set
// to rootID, requiring rootID to already be a thread root.
func (a *Actor) AddThreadReply(ctx context.Context, rootID string, reply model.Message) bool {
	ok := false
	a.do(func() {
		idx := a.findMessage(rootID)
		if idx < 0 || a.history[idx].ThreadRootID != rootID {
			return
		}
		reply.ThreadRootID = rootID
		a.history = append([]model.Message{reply}, a.history...)
		if len(a.history) > a.opts.HistoryCap {
			a.history = a.history[:a.opts.HistoryCap]
		}
		ok = true
		a.publish("message_added", reply)
	})
	return ok
}

// GetMessagesOpts bounds a read-only snapshot.
type GetMessagesOpts struct {
	Limit int
}

// GetMessages returns a latest-first snapshot of the room's history.
func (a *Actor) GetMessages(ctx context.Context, opts GetMessagesOpts) []model.Message {
	var out []model.Message
	a.do(func() {
		n := len(a.history)
		if opts.Limit > 0 && opts.Limit < n {
			n = opts.Limit
		}
		out = append(out, a.history[:n]...)
	})
	return out
}

// GetThreadMessages returns a latest-first snapshot of every message
// belonging to rootID's thread, including the root itself.
func (a *Actor) GetThreadMessages(ctx context.Context, rootID string, opts GetMessagesOpts) []model.Message {
	var out []model.Message
	a.do(func() {
		for _, m := range a.history {
			if m.ID == rootID || m.ThreadRootID == rootID {
				out = append(out, m)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		if opts.Limit > 0 && opts.Limit < len(out) {
			out = out[:opts.Limit]
		}
	})
	return out
}

func (a *Actor) findMessage(id string) int {
	for i := range a.history {
		if a.history[i].ID == id {
			return i
		}
	}
	return -1
}
