// Package lifecycle implements C10, the per-external-connection state
// machine: connect, periodic health probing, bounded reconnect with
// backoff+jitter, and restart-intensity escalation.
//
// Grounded on pkg/connector/heartbeat_runner.go's single-timer,
// re-armed-per-tick idiom (epoch-millisecond due-time bookkeeping,
// one time.Timer per worker rather than a ticker per probe), adapted
// here from heartbeat scheduling to connection health probing.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/jmconfig"
	"github.com/agentjido/jido-messaging/internal/jmerrors"
	"github.com/agentjido/jido-messaging/internal/jmtelemetry"
)

// Status is the closed set of connection states (spec §4.10).
type Status string

const (
	StatusStarting    Status = "starting"
	StatusConnecting  Status = "connecting"
	StatusConnected   Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError       Status = "error"
	StatusStopped     Status = "stopped"
)

// Connector is what a lifecycle drives: something that can (re)connect
// and be probed for health. An *adapter.Bridge is adapted to it by
// FromBridge, which uses its CheckHealth for both methods.
type Connector interface {
	Connect(ctx context.Context) error
	Probe(ctx context.Context) error
}

// bridgeConnector adapts an *adapter.Bridge (which has no explicit
// Connect notion, only CheckHealth) into a Connector: the first
// successful probe counts as the connect.
type bridgeConnector struct{ br *adapter.Bridge }

func (b bridgeConnector) Connect(ctx context.Context) error { return b.br.CheckHealth(ctx) }
func (b bridgeConnector) Probe(ctx context.Context) error   { return b.br.CheckHealth(ctx) }

// FromBridge wraps an adapter Bridge as a Connector for New.
func FromBridge(br *adapter.Bridge) Connector { return bridgeConnector{br: br} }

// StatusSnapshot answers a status query per spec §4.10.
type StatusSnapshot struct {
	Status              Status
	InstanceID          string
	UptimeMs            int64
	ConnectedAt         time.Time
	LastError           string
	ConsecutiveFailures int
	SenderQueueDepth    int
}

// QueueDepthFunc lets the lifecycle report a live sender queue depth
// (e.g. an outbound partition's occupancy) without importing outbound.
type QueueDepthFunc func() int

// Lifecycle runs one external connection's state machine and health
// probe worker.
type Lifecycle struct {
	cfg        jmconfig.Lifecycle
	instanceID string
	conn       Connector
	tel        *jmtelemetry.Sink
	log        zerolog.Logger
	queueDepth QueueDepthFunc

	mu                  sync.Mutex
	status              Status
	startedAt           time.Time
	connectedAt         time.Time
	lastErr             string
	consecutiveFailures int
	restartsInWindow    int
	windowStart         time.Time

	done    chan struct{}
	closeOnce sync.Once
	wg      sync.WaitGroup
}

// Options configures a Lifecycle.
type Options struct {
	InstanceID string
	Config     jmconfig.Lifecycle
	Telemetry  *jmtelemetry.Sink
	Logger     zerolog.Logger
	QueueDepth QueueDepthFunc
}

func (o Options) withDefaults() Options {
	if o.QueueDepth == nil {
		o.QueueDepth = func() int { return 0 }
	}
	return o
}

// New builds a Lifecycle in the starting state; call Run to drive it.
func New(conn Connector, opts Options) *Lifecycle {
	opts = opts.withDefaults()
	return &Lifecycle{
		cfg:        opts.Config,
		instanceID: opts.InstanceID,
		conn:       conn,
		tel:        opts.Telemetry,
		log:        opts.Logger,
		queueDepth: opts.QueueDepth,
		status:     StatusStarting,
		startedAt:  time.Now(),
		done:       make(chan struct{}),
	}
}

// Run drives the state machine until Stop is called or a fatal probe
// outcome terminates the subtree. It blocks; callers typically invoke
// it in its own goroutine.
func (l *Lifecycle) Run(ctx context.Context) {
	l.wg.Add(1)
	defer l.wg.Done()

	for {
		if l.isDone() || ctx.Err() != nil {
			l.setStatus(StatusStopped)
			return
		}
		if !l.connectWithRetry(ctx) {
			// bounded reconnect attempts exhausted; treat as fatal.
			l.setStatus(StatusError)
			l.emit("lifecycle.reconnect_exhausted", nil)
			return
		}
		if !l.runHealthLoop(ctx) {
			return // fatal probe outcome terminated the subtree
		}
		// runHealthLoop returned true: either Stop()/ctx fired, or the
		// connection needs a reconnect; the check at the top tells them apart.
	}
}

func (l *Lifecycle) isDone() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// connectWithRetry attempts Connect with bounded exponential
// backoff+jitter, returning false once attempts are exhausted.
func (l *Lifecycle) connectWithRetry(ctx context.Context) bool {
	l.setStatus(StatusConnecting)
	bo := newReconnectBackoff(l.cfg)

	maxAttempts := l.cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if l.isDone() {
			return false
		}
		err := l.conn.Connect(ctx)
		if err == nil {
			l.mu.Lock()
			l.connectedAt = time.Now()
			l.consecutiveFailures = 0
			l.mu.Unlock()
			l.setStatus(StatusConnected)
			l.emit("lifecycle.connected", nil)
			return true
		}

		l.recordFailure(err)
		class := jmerrors.ClassifyFailure(err.Error(), 0)
		if class == jmerrors.ClassFatal {
			l.emit("lifecycle.connect_fatal", map[string]any{"reason": err.Error()})
			return false
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return false
		}
		select {
		case <-time.After(delay):
		case <-l.done:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return false
}

// runHealthLoop runs the probe worker until the connection degrades
// into needing a reconnect (returns true to let Run reconnect), a
// fatal outcome terminates the subtree (returns false), or Stop is
// called (returns true, caller checks isDone separately).
func (l *Lifecycle) runHealthLoop(ctx context.Context) bool {
	interval := l.cfg.HealthProbeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-l.done:
			return true
		case <-ctx.Done():
			return true
		case <-timer.C:
			err := l.conn.Probe(ctx)
			if err == nil {
				l.mu.Lock()
				recovered := l.consecutiveFailures > 0
				l.consecutiveFailures = 0
				l.mu.Unlock()
				if recovered {
					l.setStatus(StatusConnected)
				}
				timer.Reset(interval)
				continue
			}

			l.recordFailure(err)
			class := jmerrors.ClassifyFailure(err.Error(), 0)
			switch class {
			case jmerrors.ClassRecoverable:
				l.setStatus(StatusDisconnected)
				l.emit("lifecycle.probe_recoverable", map[string]any{"reason": err.Error()})
				return true // Run loops back into connectWithRetry
			case jmerrors.ClassDegraded:
				l.setStatus(StatusDisconnected)
				l.emit("lifecycle.probe_degraded", map[string]any{"reason": err.Error()})
				timer.Reset(interval)
				continue // keep probing from disconnected, no reconnect attempt yet
			default: // fatal
				if !l.applyRestartPolicy() {
					l.setStatus(StatusError)
					l.emit("lifecycle.probe_fatal_escalated", map[string]any{"reason": err.Error()})
					return false
				}
				l.emit("lifecycle.probe_fatal_restart", map[string]any{"reason": err.Error()})
				return true // supervisor restarts the subtree via reconnect
			}
		}
	}
}

// applyRestartPolicy tracks restarts within a rolling window
// (max_restarts within max_restart_seconds); returns false once the
// intensity threshold is exceeded, signalling escalation.
func (l *Lifecycle) applyRestartPolicy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	maxRestarts := l.cfg.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = 6
	}
	windowSecs := l.cfg.MaxRestartSeconds
	if windowSecs <= 0 {
		windowSecs = 30
	}
	window := time.Duration(windowSecs) * time.Second

	now := time.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) > window {
		l.windowStart = now
		l.restartsInWindow = 0
	}
	l.restartsInWindow++
	return l.restartsInWindow <= maxRestarts
}

func (l *Lifecycle) recordFailure(err error) {
	l.mu.Lock()
	l.lastErr = err.Error()
	l.consecutiveFailures++
	l.mu.Unlock()
}

func (l *Lifecycle) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

// Status returns a point-in-time status snapshot (spec §4.10).
func (l *Lifecycle) Status() StatusSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return StatusSnapshot{
		Status:              l.status,
		InstanceID:          l.instanceID,
		UptimeMs:            time.Since(l.startedAt).Milliseconds(),
		ConnectedAt:         l.connectedAt,
		LastError:           l.lastErr,
		ConsecutiveFailures: l.consecutiveFailures,
		SenderQueueDepth:    l.queueDepth(),
	}
}

// Stop terminates the lifecycle's Run loop and waits for it to exit.
func (l *Lifecycle) Stop() {
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
}

func (l *Lifecycle) emit(name string, data map[string]any) {
	if l.tel == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["instance_id"] = l.instanceID
	l.tel.Emit(context.Background(), name, l.instanceID, l.instanceID, data)
}

func newReconnectBackoff(cfg jmconfig.Lifecycle) *backoff.ExponentialBackOff {
	base := cfg.ReconnectBackoffMin
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	max := cfg.ReconnectBackoffMax
	if max <= 0 {
		max = 5000 * time.Millisecond
	}
	jitter := cfg.ReconnectJitter
	if jitter <= 0 {
		jitter = 0.20
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = max
	bo.Multiplier = 2
	bo.RandomizationFactor = jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
