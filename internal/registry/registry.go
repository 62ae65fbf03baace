// Package registry implements C3, the in-memory catalog of bridge
// manifests an instance was started with. It resolves manifest
// collisions deterministically and gives O(1) lookup by bridge id.
//
// Grounded on pkg/connector/command_registry.go's pattern of a small
// keyed catalog built once at startup with an explicit collision
// policy, rather than a general plugin-loading framework.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agentjido/jido-messaging/internal/adapter"
)

// CollisionPolicy governs what happens when two manifests declare the
// same bridge id.
type CollisionPolicy string

const (
	PreferFirst CollisionPolicy = "prefer_first"
	PreferLast  CollisionPolicy = "prefer_last"
)

// Manifest is the on-disk shape of a bridge manifest (spec §4.3).
type Manifest struct {
	ManifestVersion int                  `json:"manifest_version"`
	ID              string               `json:"id"`
	AdapterModule   string               `json:"adapter_module"`
	Label           string               `json:"label,omitempty"`
	Capabilities    []adapter.Capability `json:"capabilities,omitempty"`
	// Adapters maps a secondary capability kind (e.g. "media") to the
	// module implementing it, for bridges that split their adapter
	// surface across multiple modules. Unknown kinds are accepted
	// verbatim; the registry does not validate against a closed set.
	Adapters map[string]string `json:"adapters,omitempty"`
	Optional bool              `json:"optional,omitempty"`
}

// LoadError reports which manifest (and whether it was fatal) failed
// to parse or load.
type LoadError struct {
	ID       string
	Optional bool
	Err      error
}

func (e *LoadError) Error() string {
	kind := "fatal"
	if e.Optional {
		kind = "degraded"
	}
	return fmt.Sprintf("registry: %s manifest load failed (%s): %v", e.ID, kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// entry pairs a manifest with the live adapter bridge that backs it.
type entry struct {
	manifest Manifest
	bridge   *adapter.Bridge
}

// Registry is the O(1)-lookup catalog of registered bridges.
type Registry struct {
	byID   map[string]*entry
	policy CollisionPolicy
}

// New builds an empty Registry with the given collision policy
// (defaults to PreferFirst when empty).
func New(policy CollisionPolicy) *Registry {
	if policy == "" {
		policy = PreferFirst
	}
	return &Registry{byID: make(map[string]*entry), policy: policy}
}

// ParseManifest decodes raw JSON bytes into a Manifest. manifest_version
// must be 1; anything else is rejected as unsupported.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("registry: decode manifest: %w", err)
	}
	if m.ManifestVersion != 1 {
		return Manifest{}, fmt.Errorf("registry: unsupported manifest_version %d", m.ManifestVersion)
	}
	if m.ID == "" {
		return Manifest{}, fmt.Errorf("registry: manifest missing id")
	}
	return m, nil
}

// Register adds a manifest and its live bridge to the catalog. On an id
// collision, the configured CollisionPolicy decides whether the
// incoming registration replaces the existing one or is dropped.
// Register never returns an error for a collision: required-manifest
// load failures (a missing/invalid adapter_module) are the caller's
// responsibility to surface as fatal before Register is ever called,
// per spec §4.3's required-vs-optional policy.
func (r *Registry) Register(m Manifest, bridge *adapter.Bridge) {
	if existing, ok := r.byID[m.ID]; ok {
		if r.policy == PreferFirst {
			_ = existing
			return
		}
	}
	r.byID[m.ID] = &entry{manifest: m, bridge: bridge}
}

// Get returns the bridge registered under id, or nil and false if no
// such bridge exists.
func (r *Registry) Get(id string) (*adapter.Bridge, bool) {
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.bridge, true
}

// MustGet returns the bridge registered under id, or a plain error
// naming the id when no such bridge is registered.
func (r *Registry) MustGet(id string) (*adapter.Bridge, error) {
	b, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("registry: bridge %q not found", id)
	}
	return b, nil
}

// ManifestFor returns the Manifest registered under id.
func (r *Registry) ManifestFor(id string) (Manifest, bool) {
	e, ok := r.byID[id]
	if !ok {
		return Manifest{}, false
	}
	return e.manifest, true
}

// IDs returns every registered bridge id, in no particular order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

// Len reports how many bridges are registered.
func (r *Registry) Len() int { return len(r.byID) }

// FindByChannelType returns every registered id whose adapter reports
// the given channel type, used by C11 policy fallback resolution
// (spec §4.11 "first matching by channel, sorted by id").
func (r *Registry) FindByChannelType(channelType string) []string {
	var ids []string
	for id, e := range r.byID {
		if e.bridge.ChannelType() == channelType {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
