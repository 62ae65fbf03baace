// Package jmerrors implements the closed error taxonomy the messaging
// runtime surfaces to callers (spec §6) and the classification tables
// C2 and C8 use to turn raw adapter/storage reasons into dispositions.
//
// Modeled on the teacher's pkg/connector/errors.go: a constant table of
// known error codes plus small classifier functions, rather than one
// giant switch statement.
package jmerrors

import "fmt"

// Kind is the closed set of error kinds surfaced to callers (spec §6).
type Kind string

const (
	KindDuplicate            Kind = "duplicate"
	KindNotFound             Kind = "not_found"
	KindQueueFull            Kind = "queue_full"
	KindLoadShed             Kind = "load_shed"
	KindUnsupported          Kind = "unsupported"
	KindMissingExternalMsgID Kind = "missing_external_message_id"
	KindPolicyDenied         Kind = "policy_denied"
	KindSecurityDenied       Kind = "security_denied"
	KindMediaPolicyDenied    Kind = "media_policy_denied"
	KindDeliveryFailed       Kind = "delivery_failed"
	KindNoRoutes             Kind = "no_routes"
	KindRevisionConflict     Kind = "revision_conflict"
	KindInvalidPolicy        Kind = "invalid_policy"
)

// Error is the general-purpose error value for closed-set kinds that
// carry no extra structured payload.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds a plain Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// PolicyDenied is returned when a gater/moderator stage short-circuits
// ingest (spec §6 {:policy_denied, stage, reason, description}).
type PolicyDenied struct {
	Stage       string
	Reason      string
	Description string
}

func (e *PolicyDenied) Error() string {
	return fmt.Sprintf("policy_denied[%s]: %s (%s)", e.Stage, e.Reason, e.Description)
}

// SecurityDenied is returned when sender verification fails closed.
type SecurityDenied struct {
	Stage       string
	Reason      string
	Description string
}

func (e *SecurityDenied) Error() string {
	return fmt.Sprintf("security_denied[%s]: %s (%s)", e.Stage, e.Reason, e.Description)
}

// MediaPolicyDenied is returned when MediaPolicy rejects an incoming
// attachment and on_policy_violation=reject.
type MediaPolicyDenied struct {
	Reason   string
	Metadata map[string]any
}

func (e *MediaPolicyDenied) Error() string {
	return fmt.Sprintf("media_policy_denied: %s", e.Reason)
}

// DeliveryFailed summarizes a C11 RouteOutbound failure across all
// attempted targets.
type DeliveryFailed struct {
	Summary string
}

func (e *DeliveryFailed) Error() string {
	return fmt.Sprintf("delivery_failed: %s", e.Summary)
}

// RevisionConflict is returned by C11 optimistic-concurrency writes.
type RevisionConflict struct {
	Expected int64
	Actual   int64
}

func (e *RevisionConflict) Error() string {
	return fmt.Sprintf("revision_conflict: expected %d, actual %d", e.Expected, e.Actual)
}

// FailureClass is C2's adapter failure classification (spec §4.2).
type FailureClass string

const (
	ClassRecoverable FailureClass = "recoverable"
	ClassDegraded    FailureClass = "degraded"
	ClassFatal       FailureClass = "fatal"
)

// Disposition is the action a FailureClass maps to.
type Disposition string

const (
	DispositionRetry  Disposition = "retry"
	DispositionDegrade Disposition = "degrade"
	DispositionCrash  Disposition = "crash"
)

// FailureDisposition maps a FailureClass to its action per spec §4.2.
func FailureDisposition(class FailureClass) Disposition {
	switch class {
	case ClassRecoverable:
		return DispositionRetry
	case ClassDegraded:
		return DispositionDegrade
	default:
		return DispositionCrash
	}
}

// recoverableReasons and friends are the raw adapter reason strings the
// spec's table (§4.2) enumerates explicitly.
var recoverableReasons = map[string]bool{
	"timeout":        true,
	"econnrefused":   true,
	"closed":         true,
	"nxdomain":       true,
	"network_error":  true,
	"rate_limited":   true,
}

var degradedReasons = map[string]bool{
	"unsupported":          true,
	"unsupported_method":   true,
	"media_policy_denied":  true,
	"policy_denied":        true,
}

var fatalReasons = map[string]bool{
	"invalid_return":        true,
	"invalid_request":       true,
	"unsupported_operation": true,
}

// ClassifyFailure maps a raw adapter error reason to a FailureClass per
// spec §4.2. httpStatus is 0 when not applicable; reason "exception" and
// task-exit reasons are treated as recoverable, matching the spec's
// "task exit, exception" row.
func ClassifyFailure(reason string, httpStatus int) FailureClass {
	if httpStatus >= 500 {
		return ClassRecoverable
	}
	if recoverableReasons[reason] || reason == "exception" || reason == "task_exit" {
		return ClassRecoverable
	}
	if degradedReasons[reason] {
		return ClassDegraded
	}
	if fatalReasons[reason] {
		return ClassFatal
	}
	return ClassFatal // default per spec's table
}

// OutboundCategory is C8's error taxonomy (spec §4.8), distinct from
// C2's FailureClass even though it reuses the same three-way shape.
type OutboundCategory string

const (
	CategoryRetryable OutboundCategory = "retryable"
	CategoryTerminal  OutboundCategory = "terminal"
	CategoryFatal     OutboundCategory = "fatal"
)

var terminalOutboundReasons = map[string]bool{
	"queue_full":                   true,
	"load_shed":                    true,
	"send_failed":                  true,
	"missing_external_message_id":  true,
	"invalid_request":              true,
	"media_policy_denied":          true,
	"unsupported_media":            true,
}

var fatalOutboundReasons = map[string]bool{
	"partition_unavailable":  true,
	"unsupported_operation":  true,
}

// SanitizeDenied is the shape of a sanitize_outbound rejection; Retry
// true means the adapter asked for a retryable security failure
// (spec §4.8's `{security_failure, :retry}` row).
type SanitizeDenied struct {
	Reason string
	Retry  bool
}

func (e *SanitizeDenied) Error() string {
	return fmt.Sprintf("sanitize_denied: %s", e.Reason)
}

// ClassifyOutbound maps a raw outbound reason (optionally a
// SanitizeDenied or an adapter FailureClass fallback) to C8's
// OutboundCategory per spec §4.8's table.
func ClassifyOutbound(reason string, sanitize *SanitizeDenied, adapterClass FailureClass) OutboundCategory {
	if sanitize != nil {
		if sanitize.Retry {
			return CategoryRetryable
		}
		return CategoryTerminal
	}
	if terminalOutboundReasons[reason] {
		return CategoryTerminal
	}
	if fatalOutboundReasons[reason] {
		return CategoryFatal
	}
	switch adapterClass {
	case ClassRecoverable:
		return CategoryRetryable
	case ClassDegraded:
		return CategoryTerminal
	default:
		return CategoryFatal
	}
}
