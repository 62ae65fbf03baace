// Package instance wires C1-C11 together into one running messaging
// core: the storage contract, bridge registry, ingest pipeline, room
// and agent actors, outbound gateway, dead-letter store, router, and
// one lifecycle state machine per registered bridge connection.
//
// Grounded on the teacher's pkg/connector/connector.go /
// builder.go shape of a root object holding every collaborator and
// exposing Init/Start/Stop plus the operations callers actually need,
// rather than a dependency-injection framework.
package instance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/agent"
	"github.com/agentjido/jido-messaging/internal/deadletter"
	"github.com/agentjido/jido-messaging/internal/dedup"
	"github.com/agentjido/jido-messaging/internal/ingest"
	"github.com/agentjido/jido-messaging/internal/jmconfig"
	"github.com/agentjido/jido-messaging/internal/jmlog"
	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
	"github.com/agentjido/jido-messaging/internal/lifecycle"
	"github.com/agentjido/jido-messaging/internal/media"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/outbound"
	"github.com/agentjido/jido-messaging/internal/pubsub"
	"github.com/agentjido/jido-messaging/internal/registry"
	"github.com/agentjido/jido-messaging/internal/room"
	"github.com/agentjido/jido-messaging/internal/router"
	"github.com/agentjido/jido-messaging/internal/session"
	"github.com/agentjido/jido-messaging/internal/storage"
)

// Options carries the collaborators a caller supplies that have no
// single obvious default: the policy pipeline's gaters/moderators and
// the bridge-id collision policy.
type Options struct {
	Gaters          []ingest.Gater
	Moderators      []ingest.Moderator
	CollisionPolicy registry.CollisionPolicy
	LogPretty       bool
}

// Instance is one running messaging core.
type Instance struct {
	cfg jmconfig.Config
	log zerolog.Logger
	tel *jmtelemetry.Sink

	store    storage.Store
	registry *registry.Registry
	dedupe   *dedup.Filter
	sessions *session.Store
	media    *media.Policy
	hub      *pubsub.Hub
	rooms    *room.Manager

	ingest     *ingest.Pipeline
	outbound   *outbound.Gateway
	deadletter *deadletter.Store
	router     *router.Router

	mu         sync.Mutex
	lifecycles map[string]*lifecycle.Lifecycle
	agents     map[string]*agent.Actor
	cronStop   func()
}

// New wires every collaborator and returns a ready-to-use Instance. It
// does not start any background workers beyond what the collaborators
// themselves launch at construction (the outbound partitions); call
// Start to begin scheduled maintenance and StartLifecycle per bridge.
func New(cfg jmconfig.Config, store storage.Store, opts Options) *Instance {
	log := jmlog.New(cfg.InstanceID, "instance", jmlog.Options{Pretty: opts.LogPretty})
	tel := jmtelemetry.NewSink(log, cfg.InstanceID)

	reg := registry.New(opts.CollisionPolicy)
	dedupe := dedup.New(cfg.Session.Shards, cfg.Dedup.TTL, cfg.Dedup.MaxSize)
	sessions := session.New(cfg.Session.Shards, cfg.Session.TTL, cfg.Session.ShardCapacity)
	mediaPolicy := media.New(cfg.Media)
	hub := pubsub.NewHub()
	rooms := room.NewManager(hub, room.Options{
		HistoryCap:     cfg.Room.HistoryCap,
		HibernateAfter: cfg.Room.HibernateAfter,
		TypingTimeout:  cfg.Room.TypingTimeout,
	})

	ingestPipeline := ingest.New(cfg.Ingest, dedupe, mediaPolicy, store, sessions, rooms, opts.Gaters, opts.Moderators, tel)

	gw := outbound.New(cfg.Outbound, sessions, reg.Get, tel, nil)

	dl := deadletter.New(deadletter.Options{
		Capacity:         cfg.DeadLetter.Capacity,
		ReplayPartitions: cfg.DeadLetter.ReplayPartitions,
	}, gw, tel)
	gw.SetDeadLetterSink(dl)

	rtr := router.New(router.Options{
		Store:     store,
		Bindings:  store,
		Bridges:   reg,
		Gateway:   gw,
		Telemetry: tel,
	})

	return &Instance{
		cfg:        cfg,
		log:        log,
		tel:        tel,
		store:      store,
		registry:   reg,
		dedupe:     dedupe,
		sessions:   sessions,
		media:      mediaPolicy,
		hub:        hub,
		rooms:      rooms,
		ingest:     ingestPipeline,
		outbound:   gw,
		deadletter: dl,
		router:     rtr,
		lifecycles: make(map[string]*lifecycle.Lifecycle),
		agents:     make(map[string]*agent.Actor),
	}
}

// RegisterBridge wraps impl as a Bridge and registers it under
// manifest's id (spec §4.3). Collisions are resolved by the registry's
// configured CollisionPolicy.
func (in *Instance) RegisterBridge(manifest registry.Manifest, impl adapter.Adapter) *adapter.Bridge {
	br := adapter.Wrap(impl)
	in.registry.Register(manifest, br)
	return br
}

// StartLifecycle starts C10's state machine for a registered bridge
// connection and begins driving it in the background. queueDepth, if
// nil, reports the outbound gateway's depth for the partition that
// bridgeID with an empty external room id is pinned to.
func (in *Instance) StartLifecycle(bridgeID string, queueDepth lifecycle.QueueDepthFunc) (*lifecycle.Lifecycle, error) {
	br, ok := in.registry.Get(bridgeID)
	if !ok {
		return nil, fmt.Errorf("instance: bridge %q not registered", bridgeID)
	}

	if queueDepth == nil {
		queueDepth = func() int { return in.outbound.QueueDepth(bridgeID, "") }
	}

	lc := lifecycle.New(lifecycle.FromBridge(br), lifecycle.Options{
		InstanceID: bridgeID,
		Config:     in.cfg.Lifecycle,
		Telemetry:  in.tel,
		Logger:     in.log.With().Str("bridge_id", bridgeID).Logger(),
		QueueDepth: queueDepth,
	})

	in.mu.Lock()
	in.lifecycles[bridgeID] = lc
	in.mu.Unlock()

	go lc.Run(context.Background())
	return lc, nil
}

// LifecycleStatus returns the status snapshot for a bridge's lifecycle
// (spec §4.10).
func (in *Instance) LifecycleStatus(bridgeID string) (lifecycle.StatusSnapshot, error) {
	in.mu.Lock()
	lc, ok := in.lifecycles[bridgeID]
	in.mu.Unlock()
	if !ok {
		return lifecycle.StatusSnapshot{}, fmt.Errorf("instance: no lifecycle for bridge %q", bridgeID)
	}
	return lc.Status(), nil
}

// IngestIncoming runs C5 for one raw adapter payload arriving on
// bridgeID.
func (in *Instance) IngestIncoming(ctx context.Context, bridgeID string, raw map[string]any, opts ingest.Opts) (*ingest.Result, error) {
	br, ok := in.registry.Get(bridgeID)
	if !ok {
		return nil, fmt.Errorf("instance: bridge %q not registered", bridgeID)
	}
	return in.ingest.IngestIncoming(ctx, br, bridgeID, raw, opts)
}

// RouteOutbound runs C11's route resolution and dispatch for an
// outgoing message.
func (in *Instance) RouteOutbound(ctx context.Context, roomID, text string, opts router.RouteOpts) (*router.RouteOutboundResult, error) {
	return in.router.RouteOutbound(ctx, roomID, text, opts)
}

// StartAgent starts a C7 agent actor subscribed to roomID, wiring its
// reply emission to persist the assistant message and deliver it
// through the normal outbound pipeline (spec §4.7 step 3).
func (in *Instance) StartAgent(roomID, agentID string, cfg agent.Config) *agent.Actor {
	onReply := func(reply model.Message) {
		ctx := context.Background()
		r, err := in.store.GetRoom(ctx, roomID)
		if err != nil {
			in.log.Warn().Err(err).Str("room_id", roomID).Msg("agent reply: room lookup failed")
			return
		}
		if err := in.store.SaveMessage(ctx, reply); err != nil {
			in.log.Warn().Err(err).Str("room_id", roomID).Msg("agent reply: persist failed")
			return
		}
		in.rooms.GetOrStart(r).AddMessage(ctx, reply)
		if _, err := in.router.RouteOutbound(ctx, roomID, reply.Text(), router.RouteOpts{}); err != nil {
			in.log.Warn().Err(err).Str("room_id", roomID).Msg("agent reply: route_outbound failed")
		}
	}

	actor := agent.Start(roomID, agentID, cfg, in.hub, in.tel, onReply)
	in.mu.Lock()
	in.agents[roomID+"|"+agentID] = actor
	in.mu.Unlock()
	return actor
}

// StopAgent stops a running agent actor.
func (in *Instance) StopAgent(roomID, agentID string) {
	key := roomID + "|" + agentID
	in.mu.Lock()
	actor, ok := in.agents[key]
	delete(in.agents, key)
	in.mu.Unlock()
	if ok {
		actor.Stop()
	}
}

// Start begins scheduled maintenance: dedup/session pruning and
// dead-letter purging on cron ticks, mirroring the teacher's
// HeartbeatRunner-driven maintenance cadence.
func (in *Instance) Start() error {
	c := cron.New()
	pruneInterval := in.cfg.Session.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = time.Minute
	}
	spec := fmt.Sprintf("@every %s", pruneInterval)
	if _, err := c.AddFunc(spec, func() {
		in.dedupe.Prune()
		in.sessions.Prune()
	}); err != nil {
		return fmt.Errorf("instance: schedule prune: %w", err)
	}
	c.Start()
	in.mu.Lock()
	in.cronStop = func() { c.Stop() }
	in.mu.Unlock()

	stopPurge, err := in.deadletter.StartScheduledPurge("@every 1h", 24*time.Hour)
	if err != nil {
		return fmt.Errorf("instance: schedule dead-letter purge: %w", err)
	}
	in.mu.Lock()
	prev := in.cronStop
	in.cronStop = func() {
		prev()
		stopPurge()
	}
	in.mu.Unlock()

	return nil
}

// Stop halts every lifecycle, every agent actor, scheduled maintenance,
// and the outbound gateway, in that order.
func (in *Instance) Stop() {
	in.mu.Lock()
	lifecycles := make([]*lifecycle.Lifecycle, 0, len(in.lifecycles))
	for _, lc := range in.lifecycles {
		lifecycles = append(lifecycles, lc)
	}
	agents := make([]*agent.Actor, 0, len(in.agents))
	for _, a := range in.agents {
		agents = append(agents, a)
	}
	stopCron := in.cronStop
	in.mu.Unlock()

	for _, lc := range lifecycles {
		lc.Stop()
	}
	for _, a := range agents {
		a.Stop()
	}
	if stopCron != nil {
		stopCron()
	}
	in.outbound.Shutdown()
}

// Registry exposes the bridge catalog for callers that need direct
// lookup (e.g. admin tooling listing registered bridges).
func (in *Instance) Registry() *registry.Registry { return in.registry }

// Store exposes the storage contract the instance was built with.
func (in *Instance) Store() storage.Store { return in.store }
