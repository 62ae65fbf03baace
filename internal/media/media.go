// Package media implements the MediaPolicy sub-step of C5 (spec §4.5.1):
// normalizing raw adapter media attachments into canonical content
// blocks while enforcing count, size, and kind limits.
//
// Grounded on pkg/connector/media_understanding_defaults.go and
// media_understanding_scope.go's kind allow-lists and byte budgets,
// generalized from "decide whether to pass media to a model" into
// "decide whether to admit media into a message at all".
package media

import (
	"fmt"
	"strings"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/jmconfig"
	"github.com/agentjido/jido-messaging/internal/model"
)

// Reason is the closed violation-reason vocabulary (spec §4.5.1).
type Reason string

const (
	ReasonUnsupportedKind      Reason = "unsupported_kind"
	ReasonMissingPayload       Reason = "missing_payload"
	ReasonInvalidMediaType     Reason = "invalid_media_type"
	ReasonMaxItemBytesExceeded Reason = "max_item_bytes_exceeded"
	ReasonMaxTotalBytesExceeded Reason = "max_total_bytes_exceeded"
	ReasonMaxItemsExceeded     Reason = "max_items_exceeded"
	ReasonInvalidMediaPayload  Reason = "invalid_media_payload"
)

// Violation records one policy rejection or drop.
type Violation struct {
	Index  int
	Reason Reason
}

// Result is the outcome of evaluating a raw media list.
type Result struct {
	Blocks     []model.ContentBlock
	Violations []Violation
	Rejected   bool // true when on_violation=reject and any violation occurred
}

// Policy evaluates incoming media items against configured limits.
type Policy struct {
	cfg jmconfig.Media
}

// New builds a Policy from configuration.
func New(cfg jmconfig.Media) *Policy {
	return &Policy{cfg: cfg}
}

func (p *Policy) kindAllowed(kind string) bool {
	for _, k := range p.cfg.AllowedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func kindPrefix(kind string) string {
	switch kind {
	case "image", "audio", "video":
		return kind + "/"
	default:
		return "" // "file" has no required media-type prefix
	}
}

// Evaluate normalizes items into content blocks, applying the policy's
// item/kind/size limits. When on_violation=drop, violating items are
// silently omitted from Blocks and recorded in Violations; when
// on_violation=reject (the default), any single violation causes
// Rejected=true and Blocks is left empty.
func (p *Policy) Evaluate(items []adapter.MediaItem) Result {
	var overflow []Violation
	if len(items) > p.cfg.MaxItems {
		if p.cfg.OnViolation == "reject" {
			return p.violateAll(ReasonMaxItemsExceeded)
		}
		for i := p.cfg.MaxItems; i < len(items); i++ {
			overflow = append(overflow, Violation{Index: i, Reason: ReasonMaxItemsExceeded})
		}
		items = items[:p.cfg.MaxItems]
	}

	var blocks []model.ContentBlock
	var violations []Violation
	var totalBytes int64

	for i, item := range items {
		reason, ok := p.checkItem(item)
		if !ok {
			violations = append(violations, Violation{Index: i, Reason: reason})
			if p.cfg.OnViolation == "reject" {
				return Result{Violations: violations, Rejected: true}
			}
			continue
		}
		totalBytes += int64(len(item.Bytes))
		if totalBytes > p.cfg.MaxTotalBytes {
			violations = append(violations, Violation{Index: i, Reason: ReasonMaxTotalBytesExceeded})
			if p.cfg.OnViolation == "reject" {
				return Result{Violations: violations, Rejected: true}
			}
			continue
		}
		blocks = append(blocks, model.ContentBlock{
			Kind:     model.BlockKind(item.Kind),
			MimeType: item.MediaType,
			URL:      item.URL,
			Bytes:    item.Bytes,
			Metadata: map[string]any{"filename": item.Filename},
		})
	}

	return Result{Blocks: blocks, Violations: append(violations, overflow...)}
}

func (p *Policy) checkItem(item adapter.MediaItem) (Reason, bool) {
	if !p.kindAllowed(item.Kind) {
		return ReasonUnsupportedKind, false
	}
	if len(item.Bytes) == 0 && item.URL == "" {
		return ReasonMissingPayload, false
	}
	if prefix := kindPrefix(item.Kind); prefix != "" && !strings.HasPrefix(item.MediaType, prefix) {
		return ReasonInvalidMediaType, false
	}
	if int64(len(item.Bytes)) > p.cfg.MaxItemBytes {
		return ReasonMaxItemBytesExceeded, false
	}
	return "", true
}

func (p *Policy) violateAll(reason Reason) Result {
	return Result{Violations: []Violation{{Index: -1, Reason: reason}}, Rejected: true}
}

// Describe renders a Violation as a human-readable description string.
func (v Violation) Describe() string {
	if v.Index < 0 {
		return fmt.Sprintf("media policy violation: %s", v.Reason)
	}
	return fmt.Sprintf("media policy violation at item %d: %s", v.Index, v.Reason)
}
