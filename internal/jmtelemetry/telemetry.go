// Package jmtelemetry implements the dual-sink event stream spec §6
// describes: every Emit call feeds both a zerolog event (for metrics
// pipelines that scrape logs) and a bounded, non-blocking fan-out to
// CloudEvents-shaped subscribers, mirroring how jido.messaging.* signals
// are dispatched dual to telemetry.
//
// Tracing is a thin wrapper over otel's trace API, bootstrapped the way
// agentoven-agentoven/control-plane/internal/telemetry/telemetry.go
// does, minus the OTLP/gRPC exporter: the core never assumes a live
// collector, so the default TracerProvider has no exporter wired in
// unless the caller supplies one.
package jmtelemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Event is the CloudEvents-shaped payload delivered to subscribers
// (spec §6 "Signals / CloudEvents").
type Event struct {
	Type          string // e.g. "jido.ingest.message_received"
	Source        string // "runtime/<instance>"
	Subject       string // room id, when applicable
	Data          map[string]any
	CorrelationID string
	CausationID   string
	Time          time.Time
}

// Sink fans an Emit call out to a zerolog logger and a bounded set of
// subscriber channels. Both legs are fire-and-forget: a full subscriber
// channel drops the event rather than blocking the producer (spec §5).
type Sink struct {
	log    zerolog.Logger
	source string

	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewSink builds a telemetry sink for one instance.
func NewSink(log zerolog.Logger, instanceID string) *Sink {
	return &Sink{
		log:    log,
		source: "runtime/" + instanceID,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a new CloudEvents subscriber with a bounded
// buffer and returns an unsubscribe function.
func (s *Sink) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}
}

// Emit fans a telemetry name + structured data out to both sinks.
// subject is the room id when the event is room-scoped, empty otherwise.
func (s *Sink) Emit(ctx context.Context, name, subject, correlationID string, data map[string]any) {
	zctx := s.log.Info().Str("telemetry", name)
	if subject != "" {
		zctx = zctx.Str("subject", subject)
	}
	if correlationID != "" {
		zctx = zctx.Str("correlation_id", correlationID)
	}
	for k, v := range data {
		zctx = zctx.Interface(k, v)
	}
	zctx.Msg(name)

	ce := Event{
		Type:          "jido." + name,
		Source:        s.source,
		Subject:       subject,
		Data:          data,
		CorrelationID: correlationID,
		Time:          time.Now(),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ce:
		default:
			// Subscriber is slow; dropping keeps the producer
			// from ever blocking on telemetry delivery.
		}
	}
}

// TracerProvider builds a local-only otel TracerProvider: spans are
// created and can be inspected by in-process SpanProcessors the caller
// registers, but nothing is exported over the network by default.
func TracerProvider() *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
}

// Tracer returns a named tracer from the given provider, or the global
// no-op tracer if provider is nil.
func Tracer(provider *sdktrace.TracerProvider, name string) trace.Tracer {
	if provider == nil {
		return otel.Tracer(name)
	}
	return provider.Tracer(name)
}
