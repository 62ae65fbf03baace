// Package deadletter implements C9, the bounded-ring capture store for
// outbound jobs that the Outbound Gateway (C8) gave up on, plus their
// replay lifecycle.
//
// Grounded on agentoven-agentoven's control-plane/internal/retention/
// janitor.go: a bounded-lifetime record store with explicit status
// transitions and a cron-scheduled sweep, adapted here from log
// retention to terminal-failure capture and replay instead of deletion.
package deadletter

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/xid"

	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/outbound"
)

// ReplayStatus is the closed set of per-record replay states (spec
// §4.9 "status: never|failed → running").
type ReplayStatus string

const (
	ReplayNever     ReplayStatus = "never"
	ReplayRunning   ReplayStatus = "running"
	ReplayFailed    ReplayStatus = "failed"
	ReplaySucceeded ReplayStatus = "succeeded"
)

// Record is one captured terminal/exhausted outbound failure.
type Record struct {
	ID            string
	Request       outbound.Request
	Category      string
	Reason        string
	Attempt       int
	Partition     int
	RoutingKey    string
	ArchiveStatus model.DeadLetterStatus
	ReplayStatus  ReplayStatus
	LastReplayErr string
	CapturedAt    time.Time
	LastReplayAt  time.Time
}

// NotFoundError reports an unknown record id.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("deadletter: record %q not found", e.ID) }

// ReplayConflictError reports a reservation rejected because the
// record is already running or (absent force) already succeeded.
type ReplayConflictError struct {
	ID     string
	Status ReplayStatus
}

func (e *ReplayConflictError) Error() string {
	return fmt.Sprintf("deadletter: record %q replay rejected, status=%s", e.ID, e.Status)
}

// Dispatcher is the narrow slice of *outbound.Gateway Replay needs; a
// real Gateway satisfies it directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, req outbound.Request) (*outbound.SuccessResponse, *outbound.ErrorResponse)
}

type ring struct {
	mu       sync.Mutex
	order    *list.List // front = oldest
	byID     map[string]*list.Element
	capacity int
}

func newRing(capacity int) *ring {
	return &ring{order: list.New(), byID: make(map[string]*list.Element), capacity: capacity}
}

func (r *ring) insert(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elem := r.order.PushBack(rec)
	r.byID[rec.ID] = elem
	if r.order.Len() > r.capacity {
		oldest := r.order.Front()
		r.order.Remove(oldest)
		delete(r.byID, oldest.Value.(*Record).ID)
	}
}

func (r *ring) get(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.Value.(*Record), true
}

func (r *ring) snapshot(status *model.DeadLetterStatus) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		rec := e.Value.(*Record)
		if status != nil && rec.ArchiveStatus != *status {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// purge removes every record matching status whose CapturedAt is older
// than cutoff, returning the count removed.
func (r *ring) purge(status model.DeadLetterStatus, cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for e := r.order.Front(); e != nil; {
		next := e.Next()
		rec := e.Value.(*Record)
		if rec.ArchiveStatus == status && rec.CapturedAt.Before(cutoff) {
			r.order.Remove(e)
			delete(r.byID, rec.ID)
			removed++
		}
		e = next
	}
	return removed
}

// Store is the bounded dead-letter ring plus its replay machinery.
type Store struct {
	ring       *ring
	dispatcher Dispatcher
	tel        *jmtelemetry.Sink
	sem        chan struct{} // bounds concurrent replays to replay_partitions
	cron       *cron.Cron
}

// Options configures a Store.
type Options struct {
	Capacity         int
	ReplayPartitions int
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 5000
	}
	if o.ReplayPartitions <= 0 {
		o.ReplayPartitions = 2
	}
	return o
}

// New builds a Store. dispatcher is consulted by Replay to resend a
// record's original request through C8.
func New(opts Options, dispatcher Dispatcher, tel *jmtelemetry.Sink) *Store {
	opts = opts.withDefaults()
	return &Store{
		ring:       newRing(opts.Capacity),
		dispatcher: dispatcher,
		tel:        tel,
		sem:        make(chan struct{}, opts.ReplayPartitions),
	}
}

// partitionOf is diagnostic only: it reports which of the bounded
// replay-worker slots a record id would contend over, mirroring C8's
// routing-key partitioning idiom even though the semaphore itself
// doesn't need per-id pinning (the reservation check below already
// guarantees at most one in-flight replay per id).
func partitionOf(id string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32()) % n
}

// Capture records a gave-up outbound job. Implements
// outbound.DeadLetterSink.
func (s *Store) Capture(ctx context.Context, rec outbound.DeadLetterCapture) {
	r := &Record{
		ID:            rec.JobID,
		Request:       rec.Request,
		Category:      string(rec.Category),
		Reason:        rec.Reason,
		Attempt:       rec.Attempt,
		Partition:     rec.Partition,
		RoutingKey:    rec.RoutingKey,
		ArchiveStatus: model.DeadLetterActive,
		ReplayStatus:  ReplayNever,
		CapturedAt:    rec.FailedAt,
	}
	if r.ID == "" {
		r.ID = xid.New().String()
	}
	s.ring.insert(r)
	s.emit("deadletter.captured", r.ID, map[string]any{"reason": r.Reason, "category": r.Category})
}

// List returns a snapshot of every record, optionally filtered by
// archive status.
func (s *Store) List(status *model.DeadLetterStatus) []Record {
	return s.ring.snapshot(status)
}

// Get returns one record by id.
func (s *Store) Get(id string) (Record, error) {
	r, ok := s.ring.get(id)
	if !ok {
		return Record{}, &NotFoundError{ID: id}
	}
	return *r, nil
}

// Archive flips a record's archive status to archived.
func (s *Store) Archive(id string) error {
	r, ok := s.ring.get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	s.ring.mu.Lock()
	r.ArchiveStatus = model.DeadLetterArchived
	s.ring.mu.Unlock()
	return nil
}

// Purge removes every record with the given archive status whose
// capture time is older than olderThan (spec §4.9 "purge(status,
// older_than_ms)").
func (s *Store) Purge(status model.DeadLetterStatus, olderThan time.Duration) int {
	return s.ring.purge(status, time.Now().Add(-olderThan))
}

// ReplayOpts configures a Replay call.
type ReplayOpts struct {
	// Force allows replaying a record already marked succeeded.
	Force bool
}

// Replay reserves id (never|failed → running, rejecting running or
// already-succeeded unless Force), rebuilds the original request, and
// redispatches it through C8, blocking for the outcome. Concurrency
// across distinct ids is bounded by the store's replay-partition
// semaphore (spec §4.9 "Replay is partitioned").
func (s *Store) Replay(ctx context.Context, id string, opts ReplayOpts) error {
	r, ok := s.ring.get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}

	if err := s.reserve(r, opts); err != nil {
		return err
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.setReplayStatus(r, ReplayFailed, ctx.Err().Error())
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	s.emit("deadletter.replay_started", id, map[string]any{"partition": partitionOf(id, cap(s.sem))})

	_, failure := s.dispatcher.Dispatch(ctx, r.Request)
	if failure != nil {
		s.setReplayStatus(r, ReplayFailed, failure.Reason)
		s.emit("deadletter.replay_failed", id, map[string]any{"reason": failure.Reason})
		return failure
	}

	s.setReplayStatus(r, ReplaySucceeded, "")
	s.emit("deadletter.replay_succeeded", id, nil)
	return nil
}

func (s *Store) reserve(r *Record, opts ReplayOpts) error {
	s.ring.mu.Lock()
	defer s.ring.mu.Unlock()
	switch r.ReplayStatus {
	case ReplayRunning:
		return &ReplayConflictError{ID: r.ID, Status: r.ReplayStatus}
	case ReplaySucceeded:
		if !opts.Force {
			return &ReplayConflictError{ID: r.ID, Status: r.ReplayStatus}
		}
	}
	r.ReplayStatus = ReplayRunning
	r.LastReplayAt = time.Now()
	return nil
}

func (s *Store) setReplayStatus(r *Record, status ReplayStatus, errMsg string) {
	s.ring.mu.Lock()
	r.ReplayStatus = status
	r.LastReplayErr = errMsg
	s.ring.mu.Unlock()
}

func (s *Store) emit(name, id string, data map[string]any) {
	if s.tel == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["record_id"] = id
	s.tel.Emit(context.Background(), name, "", id, data)
}

// StartScheduledPurge registers a cron-scheduled purge of archived
// records older than olderThan, returning a stop function. spec is a
// standard 5-field cron expression.
func (s *Store) StartScheduledPurge(spec string, olderThan time.Duration) (func(), error) {
	if s.cron == nil {
		s.cron = cron.New()
	}
	_, err := s.cron.AddFunc(spec, func() {
		s.Purge(model.DeadLetterArchived, olderThan)
	})
	if err != nil {
		return nil, fmt.Errorf("deadletter: schedule purge: %w", err)
	}
	s.cron.Start()
	return func() { s.cron.Stop() }, nil
}
