// Package router implements C11, the single-writer BridgeConfig /
// RoutingPolicy store and the route_outbound resolution + dispatch
// pipeline.
//
// Grounded on pkg/connector/config.go's large revisioned config struct
// with compare-and-swap mutation helpers, and pkg/connector's ordered
// fallback resolution idiom (try the forced target, then the bound
// target, then policy fallback order, then a deterministic default)
// generalized here to the messaging core's bridge/channel vocabulary.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/jmerrors"
	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/outbound"
	"github.com/agentjido/jido-messaging/internal/storage"
)

// Bridges is the narrow registry slice Router needs: id→bridge lookup
// and channel-type fallback search.
type Bridges interface {
	Get(id string) (*adapter.Bridge, bool)
	FindByChannelType(channelType string) []string
}

// Dispatcher is the narrow outbound.Gateway slice Router needs to
// actually deliver a resolved route.
type Dispatcher interface {
	Dispatch(ctx context.Context, req outbound.Request) (*outbound.SuccessResponse, *outbound.ErrorResponse)
}

// Router is the single writer for BridgeConfig and RoutingPolicy, and
// resolves+dispatches RouteOutbound calls.
type Router struct {
	mu       sync.Mutex // serializes config/policy writes (spec §5 "single writer")
	store    storage.ConfigStore
	bindings storage.BindingStore
	bridges  Bridges
	gateway  Dispatcher
	tel      *jmtelemetry.Sink
	onChange func(kind, id string) // async reconciliation hook
}

// Options configures a Router.
type Options struct {
	Store      storage.ConfigStore
	Bindings   storage.BindingStore
	Bridges    Bridges
	Gateway    Dispatcher
	Telemetry  *jmtelemetry.Sink
	OnReconcile func(kind, id string)
}

// New builds a Router.
func New(opts Options) *Router {
	return &Router{
		store:    opts.Store,
		bindings: opts.Bindings,
		bridges:  opts.Bridges,
		gateway:  opts.Gateway,
		tel:      opts.Telemetry,
		onChange: opts.OnReconcile,
	}
}

// ExpectedRevision is a nullable revision: nil means "no check".
type ExpectedRevision *int64

// NoRevisionCheck reports no optimistic-concurrency check is wanted.
func NoRevisionCheck() ExpectedRevision { return nil }

// Rev wraps a concrete expected revision value.
func Rev(v int64) ExpectedRevision { return &v }

// SaveBridgeConfig writes cfg with optimistic-concurrency on expected
// (spec §4.11: nil ⇒ no check; 0 or -1 against non-existent ⇒ create;
// else must match current revision). Accepted writes bump revision and
// trigger async reconciliation.
func (r *Router) SaveBridgeConfig(ctx context.Context, cfg model.BridgeConfig, expected ExpectedRevision) (model.BridgeConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.store.GetBridgeConfig(ctx, cfg.ID)
	_, notFound := asNotFound(err)

	if expected != nil {
		if notFound {
			if *expected != 0 && *expected != -1 {
				return model.BridgeConfig{}, &jmerrors.RevisionConflict{Expected: *expected, Actual: 0}
			}
		} else if err != nil {
			return model.BridgeConfig{}, err
		} else if *expected != current.Revision {
			return model.BridgeConfig{}, &jmerrors.RevisionConflict{Expected: *expected, Actual: current.Revision}
		}
	} else if err != nil && !notFound {
		return model.BridgeConfig{}, err
	}

	if notFound {
		cfg.Revision = 1
	} else {
		cfg.Revision = current.Revision + 1
	}
	if err := r.store.SaveBridgeConfig(ctx, cfg); err != nil {
		return model.BridgeConfig{}, err
	}
	r.reconcile("bridge_config", cfg.ID)
	return cfg, nil
}

// SaveRoutingPolicy writes policy with the same optimistic-concurrency
// semantics as SaveBridgeConfig, keyed by room id.
func (r *Router) SaveRoutingPolicy(ctx context.Context, policy model.RoutingPolicy, expected ExpectedRevision) (model.RoutingPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.store.GetRoutingPolicy(ctx, policy.RoomID)
	_, notFound := asNotFound(err)

	if expected != nil {
		if notFound {
			if *expected != 0 && *expected != -1 {
				return model.RoutingPolicy{}, &jmerrors.RevisionConflict{Expected: *expected, Actual: 0}
			}
		} else if err != nil {
			return model.RoutingPolicy{}, err
		} else if *expected != current.Revision {
			return model.RoutingPolicy{}, &jmerrors.RevisionConflict{Expected: *expected, Actual: current.Revision}
		}
	} else if err != nil && !notFound {
		return model.RoutingPolicy{}, err
	}

	if policy.DeliveryMode == model.DeliveryPrimary && policy.FailoverPolicy == model.FailoverBroadcast {
		return model.RoutingPolicy{}, jmerrors.New(jmerrors.KindInvalidPolicy, "delivery_mode=primary cannot pair with failover_policy=broadcast")
	}

	if notFound {
		policy.Revision = 1
	} else {
		policy.Revision = current.Revision + 1
	}
	if err := r.store.SaveRoutingPolicy(ctx, policy); err != nil {
		return model.RoutingPolicy{}, err
	}
	r.reconcile("routing_policy", policy.RoomID)
	return policy, nil
}

func (r *Router) reconcile(kind, id string) {
	if r.onChange == nil {
		return
	}
	go r.onChange(kind, id)
}

func asNotFound(err error) (*storage.NotFoundError, bool) {
	nf, ok := err.(*storage.NotFoundError)
	return nf, ok
}

// RouteOpts carries the caller-supplied overrides for RouteOutbound.
type RouteOpts struct {
	ForcedBridgeID string
	IdempotencyKey string
	Priority       model.Priority
}

// AttemptResult records one route's dispatch outcome.
type AttemptResult struct {
	BridgeID       string
	ExternalRoomID string
	MessageID      string
	Error          string
}

// RouteOutboundResult is the return shape of RouteOutbound (spec
// §4.11 step 6).
type RouteOutboundResult struct {
	RoomID    string
	Policy    model.RoutingPolicy
	Attempted []string
	Delivered []AttemptResult
	Failed    []AttemptResult
}

// candidateRoute is one resolved binding ready for dispatch.
type candidateRoute struct {
	binding  model.RoomBinding
	bridgeID string
}

// RouteOutbound resolves every outbound-eligible binding for roomID to
// a bridge, orders by the room's fallback_order, and dispatches per
// delivery_mode (spec §4.11).
func (r *Router) RouteOutbound(ctx context.Context, roomID, text string, opts RouteOpts) (*RouteOutboundResult, error) {
	bindings, err := r.bindings.ListRoomBindings(ctx, roomID)
	if err != nil {
		return nil, err
	}

	policy, err := r.store.GetRoutingPolicy(ctx, roomID)
	if _, notFound := asNotFound(err); notFound {
		policy = model.RoutingPolicy{RoomID: roomID, DeliveryMode: model.DeliveryBestEffort, FailoverPolicy: model.FailoverNextAvailable}
	} else if err != nil {
		return nil, err
	}

	routes := r.resolveCandidates(bindings, policy, opts)
	if len(routes) == 0 {
		return nil, jmerrors.New(jmerrors.KindNoRoutes, "no outbound-eligible routes for room "+roomID)
	}

	result := &RouteOutboundResult{RoomID: roomID, Policy: policy}
	for _, c := range routes {
		result.Attempted = append(result.Attempted, c.bridgeID)
	}

	if policy.DeliveryMode == model.DeliveryBroadcast {
		r.dispatchBroadcast(ctx, routes, text, opts, result)
	} else {
		r.dispatchSequential(ctx, routes, policy, text, opts, result)
	}

	if len(result.Delivered) == 0 {
		summary := fmt.Sprintf("all %d route(s) failed for room %s", len(result.Attempted), roomID)
		r.emit("router.delivery_failed", roomID, map[string]any{"summary": summary})
		return result, &jmerrors.DeliveryFailed{Summary: summary}
	}
	return result, nil
}

// resolveCandidates maps each outbound-eligible binding to a concrete
// bridge id by: forced id → binding.bridge_id → policy fallback order
// → first matching by channel sorted by id (spec §4.11 step 3), then
// orders the result by fallback_order (step 4).
func (r *Router) resolveCandidates(bindings []model.RoomBinding, policy model.RoutingPolicy, opts RouteOpts) []candidateRoute {
	var routes []candidateRoute
	for _, b := range bindings {
		if !b.OutboundEligible() {
			continue
		}
		bridgeID := r.resolveBridgeID(b, policy, opts)
		if bridgeID == "" {
			continue
		}
		routes = append(routes, candidateRoute{binding: b, bridgeID: bridgeID})
	}

	if len(policy.FallbackOrder) > 0 {
		rank := make(map[string]int, len(policy.FallbackOrder))
		for i, id := range policy.FallbackOrder {
			rank[id] = i
		}
		sort.SliceStable(routes, func(i, j int) bool {
			ri, oki := rank[routes[i].bridgeID]
			rj, okj := rank[routes[j].bridgeID]
			if oki && okj {
				return ri < rj
			}
			if oki != okj {
				return oki // ranked bridges sort before unranked ones
			}
			return routes[i].bridgeID < routes[j].bridgeID
		})
	}
	return routes
}

func (r *Router) resolveBridgeID(b model.RoomBinding, policy model.RoutingPolicy, opts RouteOpts) string {
	if opts.ForcedBridgeID != "" {
		if _, ok := r.bridges.Get(opts.ForcedBridgeID); ok {
			return opts.ForcedBridgeID
		}
		return ""
	}
	if b.BridgeID != "" {
		if _, ok := r.bridges.Get(b.BridgeID); ok {
			return b.BridgeID
		}
	}
	for _, id := range policy.FallbackOrder {
		if _, ok := r.bridges.Get(id); ok {
			return id
		}
	}
	candidates := r.bridges.FindByChannelType(b.Channel)
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func (r *Router) dispatchBroadcast(ctx context.Context, routes []candidateRoute, text string, opts RouteOpts, result *RouteOutboundResult) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range routes {
		wg.Add(1)
		go func(c candidateRoute) {
			defer wg.Done()
			ok, fail := r.dispatchOne(ctx, c, text, opts)
			mu.Lock()
			defer mu.Unlock()
			if fail != nil {
				result.Failed = append(result.Failed, *fail)
			} else {
				result.Delivered = append(result.Delivered, *ok)
			}
		}(c)
	}
	wg.Wait()
}

func (r *Router) dispatchSequential(ctx context.Context, routes []candidateRoute, policy model.RoutingPolicy, text string, opts RouteOpts, result *RouteOutboundResult) {
	for _, c := range routes {
		ok, fail := r.dispatchOne(ctx, c, text, opts)
		if fail != nil {
			result.Failed = append(result.Failed, *fail)
			if policy.FailoverPolicy == model.FailoverNone {
				return
			}
			continue // next_available / broadcast (treated as try-next here)
		}
		result.Delivered = append(result.Delivered, *ok)
		if policy.DeliveryMode == model.DeliveryPrimary {
			return
		}
	}
}

func (r *Router) dispatchOne(ctx context.Context, c candidateRoute, text string, opts RouteOpts) (*AttemptResult, *AttemptResult) {
	req := outbound.Request{
		Operation:      model.OpSend,
		BridgeID:       c.bridgeID,
		ExternalRoomID: c.binding.ExternalRoomID,
		Text:           text,
		IdempotencyKey: opts.IdempotencyKey,
		Priority:       opts.Priority,
	}
	success, failure := r.gateway.Dispatch(ctx, req)
	if failure != nil {
		return nil, &AttemptResult{BridgeID: c.bridgeID, ExternalRoomID: c.binding.ExternalRoomID, Error: failure.Reason}
	}
	return &AttemptResult{BridgeID: c.bridgeID, ExternalRoomID: c.binding.ExternalRoomID, MessageID: success.MessageID}, nil
}

func (r *Router) emit(name, subject string, data map[string]any) {
	if r.tel == nil {
		return
	}
	r.tel.Emit(context.Background(), name, subject, subject, data)
}
