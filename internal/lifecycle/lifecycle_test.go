package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentjido/jido-messaging/internal/jmconfig"
	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
)

// scriptedConnector lets tests script Connect/Probe outcomes by
// sequence index, recording call counts of each.
type scriptedConnector struct {
	connectErrs []error
	probeErrs   []error
	connectN    int32
	probeN      int32
}

func (c *scriptedConnector) Connect(ctx context.Context) error {
	n := atomic.AddInt32(&c.connectN, 1) - 1
	if int(n) < len(c.connectErrs) {
		return c.connectErrs[n]
	}
	return nil
}

func (c *scriptedConnector) Probe(ctx context.Context) error {
	n := atomic.AddInt32(&c.probeN, 1) - 1
	if int(n) < len(c.probeErrs) {
		return c.probeErrs[n]
	}
	return nil
}

func (c *scriptedConnector) ProbeCount() int { return int(atomic.LoadInt32(&c.probeN)) }

func noSink() *jmtelemetry.Sink { return jmtelemetry.NewSink(zerolog.Nop(), "test") }

func testConfig() jmconfig.Lifecycle {
	cfg := jmconfig.Default("test").Lifecycle
	cfg.HealthProbeInterval = 5 * time.Millisecond
	cfg.ReconnectBackoffMin = time.Millisecond
	cfg.ReconnectBackoffMax = 5 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	cfg.MaxRestarts = 2
	cfg.MaxRestartSeconds = 1
	return cfg
}

func TestLifecycle_ConnectsAndReportsConnected(t *testing.T) {
	conn := &scriptedConnector{}
	l := New(conn, Options{InstanceID: "i1", Config: testConfig(), Telemetry: noSink()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, func() bool {
		return l.Status().Status == StatusConnected
	}, time.Second, time.Millisecond)

	l.Stop()
}

func TestLifecycle_RecoverableProbeFailureDisconnectsThenReconnects(t *testing.T) {
	conn := &scriptedConnector{probeErrs: []error{errors.New("timeout")}}
	l := New(conn, Options{InstanceID: "i1", Config: testConfig(), Telemetry: noSink()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, func() bool {
		return l.Status().Status == StatusConnected
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return conn.ProbeCount() >= 1
	}, time.Second, time.Millisecond)

	// after the scripted timeout, the lifecycle should reconnect and
	// settle back into connected.
	require.Eventually(t, func() bool {
		return l.Status().Status == StatusConnected
	}, time.Second, time.Millisecond)

	l.Stop()
}

func TestLifecycle_DegradedProbeFailureStaysDisconnectedWithoutReconnect(t *testing.T) {
	conn := &scriptedConnector{probeErrs: []error{
		errors.New("unsupported"), errors.New("unsupported"), errors.New("unsupported"),
	}}
	l := New(conn, Options{InstanceID: "i1", Config: testConfig(), Telemetry: noSink()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, func() bool {
		return l.Status().Status == StatusConnected
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return conn.ProbeCount() >= 3
	}, time.Second, time.Millisecond)

	// degraded never schedules a reconnect, so Connect is only ever
	// called once despite repeated degraded probe failures.
	assert.Equal(t, int32(1), atomic.LoadInt32(&conn.connectN))

	l.Stop()
}

func TestLifecycle_FatalProbeEscalatesAfterRestartIntensityExceeded(t *testing.T) {
	conn := &scriptedConnector{probeErrs: []error{
		errors.New("invalid_return"), errors.New("invalid_return"), errors.New("invalid_return"),
	}}
	cfg := testConfig()
	cfg.MaxRestarts = 1
	l := New(conn, Options{InstanceID: "i1", Config: cfg, Telemetry: noSink()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not terminate after restart intensity exceeded")
	}
	assert.Equal(t, StatusError, l.Status().Status)
}

func TestLifecycle_ReconnectExhaustionEndsInError(t *testing.T) {
	conn := &scriptedConnector{connectErrs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
	}}
	l := New(conn, Options{InstanceID: "i1", Config: testConfig(), Telemetry: noSink()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not terminate after reconnect attempts exhausted")
	}
	assert.Equal(t, StatusError, l.Status().Status)
}

func TestLifecycle_StopTerminatesRunLoop(t *testing.T) {
	conn := &scriptedConnector{}
	l := New(conn, Options{InstanceID: "i1", Config: testConfig(), Telemetry: noSink()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, func() bool {
		return l.Status().Status == StatusConnected
	}, time.Second, time.Millisecond)

	l.Stop()
	assert.Equal(t, StatusStopped, l.Status().Status)
}

func TestLifecycle_StatusSnapshotReportsQueueDepth(t *testing.T) {
	conn := &scriptedConnector{}
	l := New(conn, Options{
		InstanceID: "i1", Config: testConfig(), Telemetry: noSink(),
		QueueDepth: func() int { return 42 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, func() bool {
		return l.Status().Status == StatusConnected
	}, time.Second, time.Millisecond)

	assert.Equal(t, 42, l.Status().SenderQueueDepth)
	l.Stop()
}
