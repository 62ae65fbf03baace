// Package ingest implements C5, the staged incoming-message pipeline:
// fingerprint/dedup, sender verification, room/participant resolution,
// media normalization, the gater/moderator policy pipeline, persistence,
// session-route update, and fan-out to the Room Actor.
//
// Grounded on other_examples' ingest-pipeline.go staged-pipeline shape
// (ordered stages, each able to short-circuit the rest) and
// pkg/connector/debounce.go / inbound_debounce.go's bounded-task idiom
// for running a callback under a deadline and mapping a timeout to a
// fallback decision.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/dedup"
	"github.com/agentjido/jido-messaging/internal/jmconfig"
	"github.com/agentjido/jido-messaging/internal/jmerrors"
	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
	"github.com/agentjido/jido-messaging/internal/media"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/room"
	"github.com/agentjido/jido-messaging/internal/session"
	"github.com/agentjido/jido-messaging/internal/storage"
)

// ErrDuplicate is returned when C1 recognizes the fingerprint.
var ErrDuplicate = fmt.Errorf("ingest: duplicate")

// Opts carries per-call overrides for IngestIncoming.
type Opts struct {
	RoomAttrs        storage.RoomAttrs
	ParticipantAttrs storage.ParticipantAttrs
	ThreadID         string
}

// Result is the successful outcome of IngestIncoming.
type Result struct {
	Message     model.Message
	Room        model.Room
	Participant model.Participant
	Flags       []string // accumulated moderator flag reasons
}

// GaterDecision is the closed set of gater outcomes.
type GaterDecision string

const (
	GaterAllow GaterDecision = "allow"
	GaterDeny  GaterDecision = "deny"
)

// GaterResult is one gater's verdict.
type GaterResult struct {
	Decision    GaterDecision
	Reason      string
	Description string
}

// Gater runs first in the policy pipeline; any deny short-circuits
// ingest with policy_denied (spec §4.5 step 6).
type Gater interface {
	Name() string
	Evaluate(ctx context.Context, msg model.Message) (GaterResult, error)
}

// ModeratorDecision is the closed set of moderator outcomes.
type ModeratorDecision string

const (
	ModeratorAllow  ModeratorDecision = "allow"
	ModeratorFlag   ModeratorDecision = "flag"
	ModeratorModify ModeratorDecision = "modify"
	ModeratorReject ModeratorDecision = "reject"
)

// ModeratorResult is one moderator's verdict.
type ModeratorResult struct {
	Decision    ModeratorDecision
	Reason      string
	Description string
	Modified    model.Message // set when Decision == ModeratorModify
}

// Moderator runs after gaters; reject short-circuits, flag/modify
// accumulate (spec §4.5 step 6).
type Moderator interface {
	Name() string
	Moderate(ctx context.Context, msg model.Message) (ModeratorResult, error)
}

// Pipeline wires every C5 collaborator together.
type Pipeline struct {
	cfg       jmconfig.Ingest
	dedupe    *dedup.Filter
	media     *media.Policy
	store     storage.Store
	sessions  *session.Store
	rooms     *room.Manager
	gaters    []Gater
	moderators []Moderator
	tel       *jmtelemetry.Sink
}

// New builds a Pipeline.
func New(cfg jmconfig.Ingest, dedupe *dedup.Filter, mediaPolicy *media.Policy, store storage.Store, sessions *session.Store, rooms *room.Manager, gaters []Gater, moderators []Moderator, tel *jmtelemetry.Sink) *Pipeline {
	return &Pipeline{
		cfg: cfg, dedupe: dedupe, media: mediaPolicy, store: store,
		sessions: sessions, rooms: rooms, gaters: gaters, moderators: moderators, tel: tel,
	}
}

// IngestIncoming runs the full C5 pipeline for one raw adapter payload
// (spec §4.5).
func (p *Pipeline) IngestIncoming(ctx context.Context, br *adapter.Bridge, bridgeID string, raw map[string]any, opts Opts) (*Result, error) {
	in, err := br.TransformIncoming(raw)
	if err != nil {
		return nil, fmt.Errorf("ingest: transform_incoming: %w", err)
	}

	if dup := p.checkDedup(br.ChannelType(), bridgeID, in); dup {
		return nil, ErrDuplicate
	}

	fallback, err := p.verifySender(ctx, br, in)
	if err != nil {
		return nil, err
	}

	r, _, err := p.store.GetOrCreateRoomByExternalBinding(ctx, br.ChannelType(), bridgeID, in.ExternalRoomID, opts.RoomAttrs)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve room: %w", err)
	}

	participant, _, err := p.store.GetOrCreateParticipantByExternalID(ctx, br.ChannelType(), in.ExternalUserID, opts.ParticipantAttrs)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve participant: %w", err)
	}

	content, err := p.buildContent(in)
	if err != nil {
		return nil, err
	}

	msg := model.Message{
		ID:           newMessageID(),
		RoomID:       r.ID,
		SenderID:     participant.ID,
		Role:         model.RoleUser,
		Content:      content,
		ReplyToID:    localID(in.ExternalReplyToID),
		ThreadRootID: opts.ThreadID,
		ExternalID:   in.ExternalMessageID,
		Status:       model.StatusSent,
		Reactions:    map[string]map[string]struct{}{},
		Receipts:     map[string]model.Receipt{},
		Metadata:     map[string]any{},
		CreatedAt:    timeNow(),
		UpdatedAt:    timeNow(),
	}
	if fallback {
		msg.Metadata["fallback"] = true
	}

	flags, err := p.runPolicyPipeline(ctx, &msg)
	if err != nil {
		return nil, err
	}

	if err := p.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("ingest: persist: %w", err)
	}

	p.sessions.Set(model.SessionKey{
		ChannelType: br.ChannelType(), BridgeID: bridgeID, RoomScope: in.ExternalRoomID, ThreadID: opts.ThreadID,
	}, session.Route{BridgeID: bridgeID, ExternalRoomID: in.ExternalRoomID, ThreadID: opts.ThreadID})

	actor := p.rooms.GetOrStart(r)
	actor.AddMessage(ctx, msg)

	p.emit("ingest.message_received", r.ID, map[string]any{"message_id": msg.ID, "fallback": fallback})

	return &Result{Message: msg, Room: r, Participant: participant, Flags: flags}, nil
}

// checkDedup runs C1; absent external_message_id always reports "new"
// per spec §4.1 (responsibility passes to C8's idempotency cache).
func (p *Pipeline) checkDedup(channel, bridgeID string, in adapter.Incoming) bool {
	if in.ExternalMessageID == "" {
		return false
	}
	key := channel + ":" + bridgeID + ":" + in.ExternalRoomID + ":" + in.ExternalMessageID
	return p.dedupe.CheckAndMark(key) == dedup.Duplicate
}

// verifySender runs VerifySender as a bounded task (spec §4.5 step 2),
// returning whether a failure-policy fallback applied.
func (p *Pipeline) verifySender(ctx context.Context, br *adapter.Bridge, in adapter.Incoming) (fallback bool, err error) {
	timeout := p.cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		ok     bool
		reason string
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		ok, reason, err := br.VerifySender(vctx, in)
		resultCh <- outcome{ok, reason, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return p.applyVerifyFailurePolicy(res.err.Error())
		}
		if !res.ok {
			return false, &jmerrors.SecurityDenied{Stage: "verify_sender", Reason: res.reason, Description: "sender verification denied"}
		}
		return false, nil
	case <-vctx.Done():
		return p.applyVerifyFailurePolicy("verify_timeout")
	}
}

func (p *Pipeline) applyVerifyFailurePolicy(reason string) (bool, error) {
	if p.cfg.VerifyFailurePolicy == "deny" {
		return false, &jmerrors.SecurityDenied{Stage: "verify_sender", Reason: reason, Description: "verification failed under strict policy"}
	}
	return true, nil // permissive: proceed, flagging the message as a fallback
}

func (p *Pipeline) buildContent(in adapter.Incoming) ([]model.ContentBlock, error) {
	var blocks []model.ContentBlock
	if in.Text != "" {
		blocks = append(blocks, model.ContentBlock{Kind: model.BlockText, Text: in.Text})
	}
	if len(in.Media) == 0 {
		return blocks, nil
	}
	res := p.media.Evaluate(in.Media)
	if res.Rejected {
		return nil, &jmerrors.MediaPolicyDenied{Reason: "media_policy_violation"}
	}
	return append(blocks, res.Blocks...), nil
}

// runPolicyPipeline runs gaters then moderators, each bounded by
// policy_stage_timeout, mapping timeout/crash via the configured
// fallback tables (spec §4.5 step 6).
func (p *Pipeline) runPolicyPipeline(ctx context.Context, msg *model.Message) ([]string, error) {
	timeout := p.cfg.PolicyStageTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}

	for _, g := range p.gaters {
		res, failed := p.runGater(ctx, g, *msg, timeout)
		if failed != nil {
			if failed.deny {
				return nil, &jmerrors.PolicyDenied{Stage: "gating", Reason: failed.reason, Description: failed.description}
			}
			p.emit("ingest.policy_fallback", msg.RoomID, map[string]any{"stage": "gating", "gater": g.Name(), "outcome": "allow_with_flag"})
			continue
		}
		if res.Decision == GaterDeny {
			return nil, &jmerrors.PolicyDenied{Stage: "gating", Reason: res.Reason, Description: res.Description}
		}
	}

	var flags []string
	for _, m := range p.moderators {
		res, failed := p.runModerator(ctx, m, *msg, timeout)
		if failed != nil {
			if failed.deny {
				return nil, &jmerrors.PolicyDenied{Stage: "moderation", Reason: failed.reason, Description: failed.description}
			}
			flags = append(flags, fmt.Sprintf("%s:allow_with_flag", m.Name()))
			p.emit("ingest.policy_fallback", msg.RoomID, map[string]any{"stage": "moderation", "moderator": m.Name(), "outcome": "allow_with_flag"})
			continue
		}
		switch res.Decision {
		case ModeratorReject:
			return nil, &jmerrors.PolicyDenied{Stage: "moderation", Reason: res.Reason, Description: res.Description}
		case ModeratorFlag:
			flags = append(flags, res.Reason)
		case ModeratorModify:
			*msg = res.Modified
		}
	}
	return flags, nil
}

// stageFailure records how a timed-out or crashed policy stage should
// resolve, per the configured fallback table.
type stageFailure struct {
	deny        bool
	reason      string
	description string
}

func (p *Pipeline) runGater(ctx context.Context, g Gater, msg model.Message, timeout time.Duration) (GaterResult, *stageFailure) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan GaterResult, 1)
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("gater panic: %v", r)
			}
		}()
		res, err := g.Evaluate(sctx, msg)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return GaterResult{}, p.fallbackFor(p.cfg.PolicyErrorFallback, "gating", g.Name(), err.Error())
	case <-sctx.Done():
		return GaterResult{}, p.fallbackFor(p.cfg.PolicyTimeoutFallback, "gating", g.Name(), "policy_timeout")
	}
}

func (p *Pipeline) runModerator(ctx context.Context, m Moderator, msg model.Message, timeout time.Duration) (ModeratorResult, *stageFailure) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan ModeratorResult, 1)
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("moderator panic: %v", r)
			}
		}()
		res, err := m.Moderate(sctx, msg)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return ModeratorResult{}, p.fallbackFor(p.cfg.PolicyErrorFallback, "moderation", m.Name(), err.Error())
	case <-sctx.Done():
		return ModeratorResult{}, p.fallbackFor(p.cfg.PolicyTimeoutFallback, "moderation", m.Name(), "policy_timeout")
	}
}

func (p *Pipeline) fallbackFor(policy, stage, name, reason string) *stageFailure {
	deny := policy == "deny"
	return &stageFailure{deny: deny, reason: reason, description: fmt.Sprintf("%s stage %q failed: %s", stage, name, reason)}
}

func (p *Pipeline) emit(name, subject string, data map[string]any) {
	if p.tel == nil {
		return
	}
	p.tel.Emit(context.Background(), name, subject, subject, data)
}

// localID maps an external reply-to id to an internal message id.
// The core has no cross-message external-id index beyond
// GetMessageByExternalID, which callers needing strict reply-chain
// resolution should consult explicitly; here we pass the external id
// through verbatim when present, matching how the teacher's own
// reply-threading leaves id translation to a later enrichment step.
func localID(externalID string) string { return externalID }

func newMessageID() string { return "msg-" + uuid.NewString() }

func timeNow() time.Time { return time.Now() }
