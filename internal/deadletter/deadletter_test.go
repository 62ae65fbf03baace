package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
	"github.com/agentjido/jido-messaging/internal/model"
	"github.com/agentjido/jido-messaging/internal/outbound"
)

// fakeDispatcher lets tests script Dispatch outcomes without a real
// Outbound Gateway.
type fakeDispatcher struct {
	fail  *outbound.ErrorResponse
	calls int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req outbound.Request) (*outbound.SuccessResponse, *outbound.ErrorResponse) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return &outbound.SuccessResponse{MessageID: "replayed"}, nil
}

func noSink() *jmtelemetry.Sink { return jmtelemetry.NewSink(zerolog.Nop(), "test") }

func TestStore_Capture_ListsActiveByDefault(t *testing.T) {
	s := New(Options{}, &fakeDispatcher{}, noSink())
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "j1", Reason: "timeout", FailedAt: time.Now()})

	active := model.DeadLetterActive
	recs := s.List(&active)
	require.Len(t, recs, 1)
	assert.Equal(t, "j1", recs[0].ID)
	assert.Equal(t, ReplayNever, recs[0].ReplayStatus)
}

func TestStore_Capture_EvictsOldestAtCapacity(t *testing.T) {
	s := New(Options{Capacity: 2}, &fakeDispatcher{}, noSink())
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "j1", FailedAt: time.Now()})
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "j2", FailedAt: time.Now()})
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "j3", FailedAt: time.Now()})

	_, err := s.Get("j1")
	assert.Error(t, err, "oldest record should have been evicted")
	_, err = s.Get("j3")
	assert.NoError(t, err)
}

func TestStore_Archive_MovesStatus(t *testing.T) {
	s := New(Options{}, &fakeDispatcher{}, noSink())
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "j1", FailedAt: time.Now()})

	require.NoError(t, s.Archive("j1"))
	rec, err := s.Get("j1")
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterArchived, rec.ArchiveStatus)
}

func TestStore_Archive_UnknownIDReturnsNotFound(t *testing.T) {
	s := New(Options{}, &fakeDispatcher{}, noSink())
	err := s.Archive("missing")
	assert.Error(t, err)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStore_Purge_RemovesOnlyMatchingStatusPastCutoff(t *testing.T) {
	s := New(Options{}, &fakeDispatcher{}, noSink())
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "old", FailedAt: time.Now().Add(-time.Hour)})
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "new", FailedAt: time.Now()})
	require.NoError(t, s.Archive("old"))
	require.NoError(t, s.Archive("new"))

	removed := s.Purge(model.DeadLetterArchived, 10*time.Minute)
	assert.Equal(t, 1, removed)
	_, err := s.Get("old")
	assert.Error(t, err)
	_, err = s.Get("new")
	assert.NoError(t, err)
}

func TestStore_Replay_SucceedsAndTransitionsStatus(t *testing.T) {
	disp := &fakeDispatcher{}
	s := New(Options{}, disp, noSink())
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "j1", FailedAt: time.Now()})

	err := s.Replay(context.Background(), "j1", ReplayOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, disp.calls)

	rec, _ := s.Get("j1")
	assert.Equal(t, ReplaySucceeded, rec.ReplayStatus)
}

func TestStore_Replay_RejectsWhenAlreadySucceededUnlessForced(t *testing.T) {
	disp := &fakeDispatcher{}
	s := New(Options{}, disp, noSink())
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "j1", FailedAt: time.Now()})

	require.NoError(t, s.Replay(context.Background(), "j1", ReplayOpts{}))

	err := s.Replay(context.Background(), "j1", ReplayOpts{})
	require.Error(t, err)
	var conflict *ReplayConflictError
	assert.ErrorAs(t, err, &conflict)

	err = s.Replay(context.Background(), "j1", ReplayOpts{Force: true})
	assert.NoError(t, err)
	assert.Equal(t, 2, disp.calls)
}

func TestStore_Replay_FailurePutsRecordBackToFailedStatus(t *testing.T) {
	disp := &fakeDispatcher{fail: &outbound.ErrorResponse{Reason: "send_failed"}}
	s := New(Options{}, disp, noSink())
	s.Capture(context.Background(), outbound.DeadLetterCapture{JobID: "j1", FailedAt: time.Now()})

	err := s.Replay(context.Background(), "j1", ReplayOpts{})
	require.Error(t, err)

	rec, _ := s.Get("j1")
	assert.Equal(t, ReplayFailed, rec.ReplayStatus)

	// a second attempt is allowed since the prior one failed, not succeeded
	disp.fail = nil
	require.NoError(t, s.Replay(context.Background(), "j1", ReplayOpts{}))
}

func TestStore_Replay_UnknownIDReturnsNotFound(t *testing.T) {
	s := New(Options{}, &fakeDispatcher{}, noSink())
	err := s.Replay(context.Background(), "missing", ReplayOpts{})
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
