// Package adapter implements C2, the pure boundary over the external
// adapter contract (spec §6). It defines the capability vocabulary,
// the Adapter interface with its required and optional operations, and
// the deterministic defaults every optional callback gets so callers
// never need to feature-detect.
//
// Grounded on pkg/bridgeadapter/bridgeadapter.go's pattern of a thin
// wrapper type supplying "not implemented" defaults for operations the
// underlying transport doesn't support.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/agentjido/jido-messaging/internal/jmerrors"
)

// Capability is a member of the closed adapter-feature vocabulary.
type Capability string

const (
	CapText               Capability = "text"
	CapImage              Capability = "image"
	CapAudio              Capability = "audio"
	CapVideo              Capability = "video"
	CapFile                Capability = "file"
	CapToolUse             Capability = "tool_use"
	CapStreaming           Capability = "streaming"
	CapReactions           Capability = "reactions"
	CapThreads             Capability = "threads"
	CapTyping              Capability = "typing"
	CapPresence            Capability = "presence"
	CapReadReceipts        Capability = "read_receipts"
	CapListenerLifecycle   Capability = "listener_lifecycle"
	CapRoutingMetadata     Capability = "routing_metadata"
	CapSenderVerification  Capability = "sender_verification"
	CapOutboundSanitization Capability = "outbound_sanitization"
	CapMediaSend           Capability = "media_send"
	CapMediaEdit           Capability = "media_edit"
	CapCommandHints        Capability = "command_hints"
	CapMessageEdit         Capability = "message_edit"
)

// Incoming is the normalized shape produced by TransformIncoming.
type Incoming struct {
	ExternalRoomID     string
	ExternalUserID     string
	Text               string
	ExternalMessageID  string
	ExternalReplyToID  string
	ExternalThreadID   string
	Timestamp          time.Time
	ChatType           string // private|group|supergroup|channel|...
	ChatTitle          string
	Username           string
	DisplayName        string
	WasMentioned       bool
	Mentions           []string
	Media              []MediaItem
	ChannelMeta        map[string]any
	Raw                map[string]any
}

// MediaItem is one raw media attachment as handed to MediaPolicy.
type MediaItem struct {
	Kind      string // image|audio|video|file
	MediaType string // e.g. "image/png"
	Bytes     []byte
	URL       string
	Filename  string
}

// SendResult is the shape of a successful outbound call.
type SendResult struct {
	MessageID string
	Metadata  map[string]any
}

// SendOpts carries outbound call options (e.g. reply-to, thread id).
type SendOpts struct {
	ReplyToExternalID string
	ThreadExternalID  string
	Metadata          map[string]any
}

// Adapter is the contract every platform adapter implements. Required
// methods have no default; optional methods are implemented with a
// deterministic default by Wrap, so callers of Bridge never need to
// type-assert for optional capabilities (spec §4.2).
type Adapter interface {
	ChannelType() string
	TransformIncoming(raw map[string]any) (Incoming, error)
	SendMessage(ctx context.Context, externalRoom, text string, opts SendOpts) (SendResult, error)
}

// Capabilities is implemented by adapters that advertise a capability
// set beyond the implicit "text" (spec §4.2: "Text is always included").
type Capabilities interface {
	Capabilities() []Capability
}

// MessageEditor is implemented by adapters supporting message edits.
type MessageEditor interface {
	EditMessage(ctx context.Context, externalRoom, targetExternalID, text string, opts SendOpts) (SendResult, error)
}

// MediaSender is implemented by adapters supporting media sends.
type MediaSender interface {
	SendMedia(ctx context.Context, externalRoom string, item MediaItem, opts SendOpts) (SendResult, error)
}

// MediaEditor is implemented by adapters supporting media edits.
type MediaEditor interface {
	EditMedia(ctx context.Context, externalRoom, targetExternalID string, item MediaItem, opts SendOpts) (SendResult, error)
}

// SenderVerifier is implemented by adapters that can verify a sender
// out of band (spec §4.5 stage 2).
type SenderVerifier interface {
	VerifySender(ctx context.Context, in Incoming) (ok bool, reason string, err error)
}

// OutboundSanitizer is implemented by adapters that need to sanitize
// outbound content before it reaches the platform (spec §4.8 step 2).
type OutboundSanitizer interface {
	SanitizeOutbound(ctx context.Context, text string) (string, error)
}

// RoutingMetadataExtractor pulls routing hints out of an Incoming.
type RoutingMetadataExtractor interface {
	ExtractRoutingMetadata(in Incoming) (map[string]any, error)
}

// CommandHintExtractor pulls a command hint (e.g. "/reset") out of text.
type CommandHintExtractor interface {
	ExtractCommandHint(in Incoming) ([]string, error)
}

// HealthChecker is implemented by adapters supporting a heartbeat probe
// for C10's lifecycle health check.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
	ProbeIntervalMs() int64
}

// Bridge wraps a raw Adapter and supplies deterministic defaults for
// every optional operation, exactly the way
// pkg/bridgeadapter.Adapter wraps a bridgev2.MatrixAPI.
type Bridge struct {
	Impl Adapter
}

// Wrap builds a Bridge over impl.
func Wrap(impl Adapter) *Bridge { return &Bridge{Impl: impl} }

// CapabilitySet returns the adapter's normalized capability set, always
// including CapText per spec §4.2.
func (b *Bridge) CapabilitySet() map[Capability]bool {
	set := map[Capability]bool{CapText: true}
	if c, ok := b.Impl.(Capabilities); ok {
		for _, cap := range c.Capabilities() {
			set[cap] = true
		}
	}
	return set
}

// ChannelType delegates to the wrapped adapter.
func (b *Bridge) ChannelType() string { return b.Impl.ChannelType() }

// TransformIncoming delegates to the wrapped adapter.
func (b *Bridge) TransformIncoming(raw map[string]any) (Incoming, error) {
	return b.Impl.TransformIncoming(raw)
}

// SendMessage delegates to the wrapped adapter.
func (b *Bridge) SendMessage(ctx context.Context, externalRoom, text string, opts SendOpts) (SendResult, error) {
	return b.Impl.SendMessage(ctx, externalRoom, text, opts)
}

// EditMessage returns :unsupported unless the adapter implements
// MessageEditor.
func (b *Bridge) EditMessage(ctx context.Context, externalRoom, targetExternalID, text string, opts SendOpts) (SendResult, error) {
	if e, ok := b.Impl.(MessageEditor); ok {
		return e.EditMessage(ctx, externalRoom, targetExternalID, text, opts)
	}
	return SendResult{}, jmerrors.New(jmerrors.KindUnsupported, "edit_message")
}

// SendMedia returns :unsupported unless the adapter implements
// MediaSender.
func (b *Bridge) SendMedia(ctx context.Context, externalRoom string, item MediaItem, opts SendOpts) (SendResult, error) {
	if m, ok := b.Impl.(MediaSender); ok {
		return m.SendMedia(ctx, externalRoom, item, opts)
	}
	return SendResult{}, jmerrors.New(jmerrors.KindUnsupported, "send_media")
}

// EditMedia returns :unsupported unless the adapter implements
// MediaEditor.
func (b *Bridge) EditMedia(ctx context.Context, externalRoom, targetExternalID string, item MediaItem, opts SendOpts) (SendResult, error) {
	if m, ok := b.Impl.(MediaEditor); ok {
		return m.EditMedia(ctx, externalRoom, targetExternalID, item, opts)
	}
	return SendResult{}, jmerrors.New(jmerrors.KindUnsupported, "edit_media")
}

// VerifySender defaults to {:ok} (allow) unless the adapter implements
// SenderVerifier.
func (b *Bridge) VerifySender(ctx context.Context, in Incoming) (bool, string, error) {
	if v, ok := b.Impl.(SenderVerifier); ok {
		return v.VerifySender(ctx, in)
	}
	return true, "", nil
}

// SanitizeOutbound defaults to {:ok, input} unless the adapter
// implements OutboundSanitizer.
func (b *Bridge) SanitizeOutbound(ctx context.Context, text string) (string, error) {
	if s, ok := b.Impl.(OutboundSanitizer); ok {
		return s.SanitizeOutbound(ctx, text)
	}
	return text, nil
}

// ExtractRoutingMetadata defaults to an empty map unless the adapter
// implements RoutingMetadataExtractor.
func (b *Bridge) ExtractRoutingMetadata(in Incoming) (map[string]any, error) {
	if e, ok := b.Impl.(RoutingMetadataExtractor); ok {
		return e.ExtractRoutingMetadata(in)
	}
	return map[string]any{}, nil
}

// ExtractCommandHint defaults to {:ok, []} unless the adapter
// implements CommandHintExtractor.
func (b *Bridge) ExtractCommandHint(in Incoming) ([]string, error) {
	if e, ok := b.Impl.(CommandHintExtractor); ok {
		return e.ExtractCommandHint(in)
	}
	return nil, nil
}

// CheckHealth defaults to a no-op success unless the adapter implements
// HealthChecker.
func (b *Bridge) CheckHealth(ctx context.Context) error {
	if h, ok := b.Impl.(HealthChecker); ok {
		return h.CheckHealth(ctx)
	}
	return nil
}

// ProbeIntervalMs defaults to 0 (caller should use its own default)
// unless the adapter implements HealthChecker.
func (b *Bridge) ProbeIntervalMs() int64 {
	if h, ok := b.Impl.(HealthChecker); ok {
		return h.ProbeIntervalMs()
	}
	return 0
}

// ClassifyFailure maps a raw adapter error reason to a FailureClass,
// per spec §4.2's table.
func ClassifyFailure(reason string, httpStatus int) jmerrors.FailureClass {
	return jmerrors.ClassifyFailure(reason, httpStatus)
}

// CallbackFailure wraps a panicking or non-conforming callback
// invocation into the envelope spec §4.2 describes.
type CallbackFailure struct {
	AdapterChannel string
	Callback       string
	Class          jmerrors.FailureClass
	Disposition    jmerrors.Disposition
	Reason         string
}

func (e *CallbackFailure) Error() string {
	return fmt.Sprintf("callback_failure[%s.%s]: %s (%s/%s)", e.AdapterChannel, e.Callback, e.Reason, e.Class, e.Disposition)
}

// Invoke calls fn, recovering from panics and classifying any error
// (or panic reason) into a CallbackFailure so the ingest/outbound
// pipelines never have to special-case adapter misbehavior.
func Invoke(adapterChannel, callback string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			class := jmerrors.ClassifyFailure("exception", 0)
			err = &CallbackFailure{
				AdapterChannel: adapterChannel,
				Callback:       callback,
				Class:          class,
				Disposition:    jmerrors.FailureDisposition(class),
				Reason:         fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	if e := fn(); e != nil {
		class := jmerrors.ClassifyFailure(e.Error(), 0)
		return &CallbackFailure{
			AdapterChannel: adapterChannel,
			Callback:       callback,
			Class:          class,
			Disposition:    jmerrors.FailureDisposition(class),
			Reason:         e.Error(),
		}
	}
	return nil
}
