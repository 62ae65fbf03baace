// Package outbound implements C8, the hardest subsystem: every
// adapter-bound send/edit call is routed through a partitioned,
// bounded, back-pressured, retrying, idempotent pipeline.
//
// Grounded on other_examples' dispatcher.go (per-entity channels,
// buffered queues, a supervisor error channel) for the partition/worker
// shape, and sharded/shard.go for pinning a routing key to exactly one
// partition so retries and FIFO ordering stay meaningful without a
// global lock.
package outbound

import (
	"container/list"
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/jmconfig"
	"github.com/agentjido/jido-messaging/internal/jmerrors"
	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/session"
)

// PressureLevel is the closed set of queue pressure states (spec §4.8).
type PressureLevel string

const (
	PressureNormal   PressureLevel = "normal"
	PressureWarn     PressureLevel = "warn"
	PressureDegraded PressureLevel = "degraded"
	PressureShed     PressureLevel = "shed"
)

// Request is one outbound call submitted to the gateway.
type Request struct {
	Operation        model.Operation
	BridgeID         string
	ExternalRoomID   string
	SessionKey       model.SessionKey
	FallbackRoutes   []session.Route
	Text             string
	Media            *adapter.MediaItem
	TargetExternalID string // required for edit / edit_media
	IdempotencyKey   string
	Priority         model.Priority
	SendOpts         adapter.SendOpts
}

// SuccessResponse is returned on a delivered job (spec §4.8 step 4).
type SuccessResponse struct {
	Operation       model.Operation
	MessageID       string
	Partition       int
	Attempts        int
	RoutingKey      string
	PressureLevel   PressureLevel
	Idempotent      bool
	RouteResolution session.ResolveResult
}

// ErrorResponse is returned on a terminal/fatal/exhausted job (spec
// §4.8 step 6).
type ErrorResponse struct {
	Category    jmerrors.OutboundCategory
	Disposition string
	Reason      string
	Attempt     int
	MaxAttempts int
	Partition   int
	RoutingKey  string
	Retryable   bool
}

func (e *ErrorResponse) Error() string { return e.Reason }

// DeadLetterSink receives jobs that give up for good (handed off to
// C9). Defined here, rather than importing internal/deadletter
// directly, so the gateway never depends on the dead-letter record
// shape beyond what it needs to capture one.
type DeadLetterSink interface {
	Capture(ctx context.Context, rec DeadLetterCapture)
}

// DeadLetterCapture is everything C9 needs to reconstruct and later
// replay a job.
type DeadLetterCapture struct {
	JobID      string
	Request    Request
	Category   jmerrors.OutboundCategory
	Reason     string
	Attempt    int
	Partition  int
	RoutingKey string
	FailedAt   time.Time
}

type job struct {
	id          string
	req         Request
	partition   int
	routingKey  string
	attempt     int
	maxAttempts int
	bo          *backoff.ExponentialBackOff
	resultCh    chan jobOutcome
}

type jobOutcome struct {
	success *SuccessResponse
	failure *ErrorResponse
}

type idempotencyEntry struct {
	result SuccessResponse
	elem   *list.Element
}

type partition struct {
	idx      int
	queue    chan *job
	gw       *Gateway
	limiter  *rate.Limiter
	capacity int
	depth    int32 // jobs enqueued-or-in-flight; channel len alone undercounts a job a worker already dequeued

	mu         sync.Mutex
	idemp      map[string]*idempotencyEntry
	idempLRU   *list.List
	idempCap   int
	lastLevel  PressureLevel
}

// Gateway is the partitioned C8 outbound pipeline.
type Gateway struct {
	cfg        jmconfig.Outbound
	partitions []*partition
	resolver   *session.Store
	bridges    func(bridgeID string) (*adapter.Bridge, bool)
	tel        *jmtelemetry.Sink
	deadLetter atomic.Pointer[DeadLetterSink]
	wg         sync.WaitGroup
	closeOnce  sync.Once
	done       chan struct{}
}

// New builds a Gateway. bridges resolves a bridge id to its adapter
// wrapper (typically internal/registry.Registry.Get); resolver is the
// C4 Session Store; deadLetter receives terminal/fatal/exhausted jobs.
func New(cfg jmconfig.Outbound, resolver *session.Store, bridges func(bridgeID string) (*adapter.Bridge, bool), tel *jmtelemetry.Sink, deadLetter DeadLetterSink) *Gateway {
	cfg = withDefaults(cfg)
	gw := &Gateway{
		cfg:      cfg,
		resolver: resolver,
		bridges:  bridges,
		tel:      tel,
		done:     make(chan struct{}),
	}
	if deadLetter != nil {
		gw.deadLetter.Store(&deadLetter)
	}
	gw.partitions = make([]*partition, cfg.Partitions)
	for i := range gw.partitions {
		p := &partition{
			idx:      i,
			queue:    make(chan *job, cfg.QueueCapacity),
			gw:       gw,
			capacity: cfg.QueueCapacity,
			idemp:    make(map[string]*idempotencyEntry),
			idempLRU: list.New(),
			idempCap: cfg.IdempotencyCap,
		}
		if cfg.Pressure.DegradedAction == "throttle" {
			delay := cfg.Pressure.DegradedDelay
			if delay <= 0 {
				delay = 5 * time.Millisecond
			}
			p.limiter = rate.NewLimiter(rate.Every(delay), 1)
		}
		gw.partitions[i] = p
		gw.wg.Add(1)
		go gw.runPartition(p)
	}
	return gw
}

func withDefaults(cfg jmconfig.Outbound) jmconfig.Outbound {
	def := jmconfig.Default("").Outbound
	if cfg.Partitions <= 0 {
		cfg.Partitions = def.Partitions
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.BackoffJitter <= 0 {
		cfg.BackoffJitter = def.BackoffJitter
	}
	if cfg.IdempotencyCap <= 0 {
		cfg.IdempotencyCap = def.IdempotencyCap
	}
	if !cfg.Pressure.Valid() {
		cfg.Pressure = def.Pressure
	}
	return cfg
}

// SetDeadLetterSink wires C9 in after construction, breaking the
// construction cycle between Gateway (needs a sink) and the
// dead-letter store (needs a Dispatcher satisfied by this Gateway).
// Must be called before Dispatch starts handing off exhausted jobs.
func (gw *Gateway) SetDeadLetterSink(sink DeadLetterSink) {
	gw.deadLetter.Store(&sink)
}

// PartitionFor returns the partition index a routing key (bridge id +
// external room id) is pinned to (spec §4.8 "Partitioning").
func (gw *Gateway) PartitionFor(bridgeID, externalRoomID string) int {
	return partitionIndex(bridgeID+":"+externalRoomID, len(gw.partitions))
}

func partitionIndex(routingKey string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(routingKey))
	return int(h.Sum32()) % n
}

// QueueDepth reports the current occupancy of the partition a routing
// key is pinned to, for C10's sender_queue_depth status field.
func (gw *Gateway) QueueDepth(bridgeID, externalRoomID string) int {
	p := gw.partitions[gw.PartitionFor(bridgeID, externalRoomID)]
	return int(atomic.LoadInt32(&p.depth))
}

// Dispatch enqueues req and blocks for its terminal outcome (delivered,
// dead-lettered, shed, or immediately rejected). A caller that wants
// fire-and-forget semantics should call this from its own goroutine.
func (gw *Gateway) Dispatch(ctx context.Context, req Request) (*SuccessResponse, *ErrorResponse) {
	routingKey := req.BridgeID + ":" + req.ExternalRoomID
	idx := partitionIndex(routingKey, len(gw.partitions))
	p := gw.partitions[idx]

	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}

	level := p.pressureLevel(gw.cfg)
	if p.transitioned(level) {
		gw.emitPressure(routingKey, idx, level)
	}

	if level == PressureShed && gw.cfg.Pressure.ShedAction == "drop_low" && shedPriority(req.Priority, gw.cfg.Pressure.ShedDropPriorities) {
		return nil, &ErrorResponse{
			Category: jmerrors.CategoryTerminal, Disposition: "dropped",
			Reason: "load_shed", Attempt: 0, MaxAttempts: gw.cfg.MaxAttempts,
			Partition: idx, RoutingKey: routingKey, Retryable: false,
		}
	}

	if !p.reserve() {
		return nil, &ErrorResponse{
			Category: jmerrors.CategoryTerminal, Disposition: "rejected",
			Reason: "queue_full", Attempt: 0, MaxAttempts: gw.cfg.MaxAttempts,
			Partition: idx, RoutingKey: routingKey, Retryable: false,
		}
	}

	j := &job{
		id:          xid.New().String(),
		req:         req,
		partition:   idx,
		routingKey:  routingKey,
		maxAttempts: gw.cfg.MaxAttempts,
		bo:          newJobBackoff(gw.cfg),
		resultCh:    make(chan jobOutcome, 1),
	}

	select {
	case p.queue <- j:
	default:
		p.release()
		return nil, &ErrorResponse{
			Category: jmerrors.CategoryTerminal, Disposition: "rejected",
			Reason: "queue_full", Attempt: 0, MaxAttempts: gw.cfg.MaxAttempts,
			Partition: idx, RoutingKey: routingKey, Retryable: false,
		}
	}

	select {
	case out := <-j.resultCh:
		return out.success, out.failure
	case <-ctx.Done():
		return nil, &ErrorResponse{
			Category: jmerrors.CategoryTerminal, Disposition: "cancelled",
			Reason: ctx.Err().Error(), Attempt: j.attempt, MaxAttempts: j.maxAttempts,
			Partition: idx, RoutingKey: routingKey, Retryable: false,
		}
	}
}

func shedPriority(p model.Priority, dropList []string) bool {
	for _, d := range dropList {
		if string(p) == d {
			return true
		}
	}
	return false
}

func newJobBackoff(cfg jmconfig.Outbound) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = cfg.BackoffJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// pressureLevel classifies a partition's current occupancy (jobs
// enqueued or in flight) against the configured thresholds (spec §4.8
// "Queues and pressure").
func (p *partition) pressureLevel(cfg jmconfig.Outbound) PressureLevel {
	ratio := float64(atomic.LoadInt32(&p.depth)) / float64(p.capacity)
	switch {
	case ratio >= cfg.Pressure.Shed:
		return PressureShed
	case ratio >= cfg.Pressure.Degraded:
		return PressureDegraded
	case ratio >= cfg.Pressure.Warn:
		return PressureWarn
	default:
		return PressureNormal
	}
}

// reserve atomically claims one slot of capacity, returning false if
// the partition is already at capacity (spec §4.8 "Enqueue above
// queue_capacity is rejected with terminal :queue_full").
func (p *partition) reserve() bool {
	for {
		cur := atomic.LoadInt32(&p.depth)
		if int(cur) >= p.capacity {
			return false
		}
		if atomic.CompareAndSwapInt32(&p.depth, cur, cur+1) {
			return true
		}
	}
}

func (p *partition) release() {
	atomic.AddInt32(&p.depth, -1)
}

// transitioned reports whether level differs from the partition's last
// observed level, updating it as a side effect (spec §4.8 "Transitions
// across thresholds emit telemetry" — not every poll at the same level).
func (p *partition) transitioned(level PressureLevel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastLevel == level {
		return false
	}
	p.lastLevel = level
	return true
}

func (gw *Gateway) emitPressure(routingKey string, partitionIdx int, level PressureLevel) {
	if gw.tel == nil {
		return
	}
	gw.tel.Emit(context.Background(), "outbound.pressure", routingKey, "", map[string]any{
		"partition": partitionIdx, "level": string(level),
	})
}

// runPartition is the single goroutine that owns one partition's
// queue, serializing every attempt (including retries) for every
// routing key pinned to it.
func (gw *Gateway) runPartition(p *partition) {
	defer gw.wg.Done()
	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			gw.process(p, j)
		case <-gw.done:
			return
		}
	}
}

func (gw *Gateway) process(p *partition, j *job) {
	level := p.pressureLevel(gw.cfg)
	if level == PressureDegraded && gw.cfg.Pressure.DegradedAction == "throttle" && p.limiter != nil {
		_ = p.limiter.Wait(context.Background())
	}

	idempKey := idempotencyKey(j.req)
	if idempKey != "" {
		if cached, ok := p.idempotentHit(idempKey); ok {
			cached.Idempotent = true
			p.release()
			j.resultCh <- jobOutcome{success: &cached}
			return
		}
	}

	j.attempt++
	gw.emitTelemetry("outbound.attempt", j, map[string]any{"attempt": j.attempt})

	success, failure, outcome := gw.attempt(p, j, level, idempKey)
	switch outcome {
	case attemptSucceeded:
		p.release()
		j.resultCh <- jobOutcome{success: success}
	case attemptRetryScheduled:
		gw.scheduleRetry(p, j) // job stays reserved until a later terminal outcome
	case attemptGaveUp:
		p.release()
		j.resultCh <- jobOutcome{failure: failure}
	}
}

type attemptOutcome int

const (
	attemptSucceeded attemptOutcome = iota
	attemptRetryScheduled
	attemptGaveUp
)

// attemptResult carries either a success or the classified failure
// from a single dispatch attempt.
type attemptResult struct {
	success    *SuccessResponse
	category   jmerrors.OutboundCategory
	reason     string
	routeRes   session.ResolveResult
}

func (r *attemptResult) asError(j *job) *ErrorResponse {
	return &ErrorResponse{
		Category:    r.category,
		Disposition: outboundDisposition(r.category),
		Reason:      r.reason,
		Attempt:     j.attempt,
		MaxAttempts: j.maxAttempts,
		Partition:   j.partition,
		RoutingKey:  j.routingKey,
		Retryable:   r.category == jmerrors.CategoryRetryable,
	}
}

// outboundDisposition maps a DeadLetterRecord category to its
// disposition ∈ {retry, terminal} (spec.md's DeadLetterRecord entity);
// distinct from C2's FailureClass→{retry,degrade,crash} table, which
// governs adapter callback failures, not dead-lettered jobs.
func outboundDisposition(c jmerrors.OutboundCategory) string {
	if c == jmerrors.CategoryRetryable {
		return "retry"
	}
	return "terminal"
}

// attempt runs the full step 1-3 dispatch sequence (spec §4.8
// "Operation dispatch") for one job attempt.
func (gw *Gateway) attempt(p *partition, j *job, level PressureLevel, idempKey string) (*SuccessResponse, *ErrorResponse, attemptOutcome) {
	routeRes := gw.resolver.Resolve(j.req.SessionKey, j.req.FallbackRoutes)

	br, ok := gw.bridges(j.req.BridgeID)
	if !ok {
		r := &attemptResult{category: jmerrors.CategoryFatal, reason: "partition_unavailable", routeRes: routeRes}
		return gw.finalize(p, j, r)
	}

	sanitized, sanErr := br.SanitizeOutbound(context.Background(), j.req.Text)
	if sanErr != nil {
		sd := &jmerrors.SanitizeDenied{Reason: sanErr.Error(), Retry: false}
		r := &attemptResult{category: jmerrors.ClassifyOutbound(sanErr.Error(), sd, jmerrors.ClassDegraded), reason: sanErr.Error(), routeRes: routeRes}
		return gw.finalize(p, j, r)
	}

	route := routeRes.Route
	externalRoom := route.ExternalRoomID
	if externalRoom == "" {
		externalRoom = j.req.ExternalRoomID
	}

	result, sendErr := gw.invokeOperation(br, j.req, externalRoom, sanitized)
	if sendErr != nil {
		reason := sendErr.Error()
		class := adapter.ClassifyFailure(reason, 0)
		if cf, ok := sendErr.(*adapter.CallbackFailure); ok {
			class = cf.Class
			// cf.Error() decorates the raw reason with
			// "callback_failure[ch.op]: <reason> (<class>/<disp>)"; the
			// outbound reason table (e.g. "send_failed", "invalid_request")
			// matches against the undecorated reason.
			reason = cf.Reason
		}
		r := &attemptResult{category: jmerrors.ClassifyOutbound(reason, nil, class), reason: reason, routeRes: routeRes}
		return gw.finalize(p, j, r)
	}

	success := &SuccessResponse{
		Operation:       j.req.Operation,
		MessageID:       result.MessageID,
		Partition:       j.partition,
		Attempts:        j.attempt,
		RoutingKey:      j.routingKey,
		PressureLevel:   level,
		RouteResolution: routeRes,
	}
	if idempKey != "" {
		p.rememberIdempotent(idempKey, *success)
	}
	gw.emitTelemetry("outbound.delivered", j, map[string]any{"message_id": result.MessageID})
	return success, nil, attemptSucceeded
}

func (gw *Gateway) invokeOperation(br *adapter.Bridge, req Request, externalRoom, text string) (adapter.SendResult, error) {
	var result adapter.SendResult
	var err error
	switch req.Operation {
	case model.OpSend:
		err = adapter.Invoke(br.ChannelType(), "send_message", func() error {
			result, err = br.SendMessage(context.Background(), externalRoom, text, req.SendOpts)
			return err
		})
	case model.OpEdit:
		err = adapter.Invoke(br.ChannelType(), "edit_message", func() error {
			result, err = br.EditMessage(context.Background(), externalRoom, req.TargetExternalID, text, req.SendOpts)
			return err
		})
	case model.OpSendMedia:
		err = adapter.Invoke(br.ChannelType(), "send_media", func() error {
			result, err = br.SendMedia(context.Background(), externalRoom, *req.Media, req.SendOpts)
			return err
		})
	case model.OpEditMedia:
		err = adapter.Invoke(br.ChannelType(), "edit_media", func() error {
			result, err = br.EditMedia(context.Background(), externalRoom, req.TargetExternalID, *req.Media, req.SendOpts)
			return err
		})
	default:
		return adapter.SendResult{}, jmerrors.New(jmerrors.KindUnsupported, "unsupported_operation")
	}
	return result, err
}

// finalize decides whether a failed attempt retries, gives up, or the
// job still has attempts left, returning the right attemptOutcome for
// process to act on.
func (gw *Gateway) finalize(p *partition, j *job, r *attemptResult) (*SuccessResponse, *ErrorResponse, attemptOutcome) {
	if r.category == jmerrors.CategoryRetryable && j.attempt < j.maxAttempts {
		gw.emitTelemetry("outbound.retry_scheduled", j, map[string]any{"reason": r.reason})
		return nil, nil, attemptRetryScheduled
	}
	if r.category == jmerrors.CategoryRetryable {
		// Exhaustion escalates a retryable failure to terminal (spec
		// §4.2): retries are spent, so the caller must not be told the
		// job is still retryable once it's been dead-lettered.
		r.category = jmerrors.CategoryTerminal
	}
	gw.emitTelemetry("outbound.gave_up", j, map[string]any{"reason": r.reason, "category": string(r.category)})
	if sink := gw.deadLetter.Load(); sink != nil {
		(*sink).Capture(context.Background(), DeadLetterCapture{
			JobID: j.id, Request: j.req, Category: r.category, Reason: r.reason,
			Attempt: j.attempt, Partition: j.partition, RoutingKey: j.routingKey, FailedAt: time.Now(),
		})
	}
	return nil, r.asError(j), attemptGaveUp
}

func (gw *Gateway) scheduleRetry(p *partition, j *job) {
	delay := j.bo.NextBackOff()
	time.AfterFunc(delay, func() {
		select {
		case p.queue <- j:
		case <-gw.done:
		}
	})
}

func (gw *Gateway) emitTelemetry(name string, j *job, data map[string]any) {
	if gw.tel == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["job_id"] = j.id
	data["partition"] = j.partition
	data["routing_key"] = j.routingKey
	gw.tel.Emit(context.Background(), name, j.routingKey, j.id, data)
}

func idempotencyKey(req Request) string {
	if req.IdempotencyKey == "" {
		return ""
	}
	if req.Operation == model.OpEdit || req.Operation == model.OpEditMedia {
		return req.IdempotencyKey + ":edit"
	}
	return req.IdempotencyKey
}

func (p *partition) idempotentHit(key string) (SuccessResponse, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.idemp[key]
	if !ok {
		return SuccessResponse{}, false
	}
	p.idempLRU.MoveToFront(e.elem)
	return e.result, true
}

func (p *partition) rememberIdempotent(key string, result SuccessResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.idemp[key]; ok {
		existing.result = result
		p.idempLRU.MoveToFront(existing.elem)
		return
	}
	e := &idempotencyEntry{result: result}
	e.elem = p.idempLRU.PushFront(key)
	p.idemp[key] = e
	if len(p.idemp) > p.idempCap {
		back := p.idempLRU.Back()
		if back != nil {
			p.idempLRU.Remove(back)
			delete(p.idemp, back.Value.(string))
		}
	}
}

// jitteredDelay computes the backoff formula's shape (base doubled per
// attempt, capped at max, then jittered) with a caller-supplied random
// source. Nothing in the package calls it; production scheduling uses
// job.bo (backoff.ExponentialBackOff) directly.
func jitteredDelay(base, max time.Duration, attempt int, jitter float64, rnd *rand.Rand) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	if jitter > 0 {
		delta := float64(d) * jitter
		offset := (rnd.Float64()*2 - 1) * delta
		d = time.Duration(float64(d) + offset)
	}
	return d
}

// Shutdown stops every partition worker. Jobs already in flight finish
// their current attempt; queued jobs are abandoned.
func (gw *Gateway) Shutdown() {
	gw.closeOnce.Do(func() {
		close(gw.done)
	})
	gw.wg.Wait()
}
