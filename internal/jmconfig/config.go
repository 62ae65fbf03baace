// Package jmconfig holds the static, process-local configuration for a
// messaging instance: shard counts, timeouts, queue capacities,
// pressure thresholds. Runtime-mutable BridgeConfig/RoutingPolicy live
// in the storage contract and are owned by C11, not here.
//
// Shaped like the teacher's pkg/connector/config.go: one large struct
// with small resolver functions supplying defaults for zero values.
package jmconfig

import (
	"fmt"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Dedup holds C1 defaults.
type Dedup struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

// Session holds C4 defaults.
type Session struct {
	Shards          int           `yaml:"shards"`
	TTL             time.Duration `yaml:"ttl"`
	ShardCapacity   int           `yaml:"shard_capacity"`
	PruneInterval   time.Duration `yaml:"prune_interval"`
}

// Ingest holds C5 defaults.
type Ingest struct {
	VerifyTimeout       time.Duration `yaml:"verify_timeout"`
	PolicyStageTimeout  time.Duration `yaml:"policy_stage_timeout"`
	PolicyTimeoutFallback string      `yaml:"policy_timeout_fallback"` // deny | allow_with_flag
	PolicyErrorFallback   string      `yaml:"policy_error_fallback"`   // deny | allow_with_flag
	VerifyFailurePolicy   string      `yaml:"verify_failure_policy"`   // allow | deny
}

// Media holds the MediaPolicy defaults (spec §4.5.1).
type Media struct {
	MaxItems      int   `yaml:"max_items"`
	MaxItemBytes  int64 `yaml:"max_item_bytes"`
	MaxTotalBytes int64 `yaml:"max_total_bytes"`
	AllowedKinds  []string `yaml:"allowed_kinds"`
	OnViolation   string   `yaml:"on_violation"` // reject | drop
}

// Room holds C6 defaults.
type Room struct {
	HistoryCap       int           `yaml:"history_cap"`
	HibernateAfter   time.Duration `yaml:"hibernate_after"`
	TypingTimeout    time.Duration `yaml:"typing_timeout"`
}

// Pressure holds C8's queue pressure thresholds (spec §4.8); must
// satisfy Warn < Degraded < Shed.
type Pressure struct {
	Warn             float64  `yaml:"warn"`
	Degraded         float64  `yaml:"degraded"`
	Shed             float64  `yaml:"shed"`
	DegradedAction   string   `yaml:"degraded_action"` // throttle | none
	DegradedDelay    time.Duration `yaml:"degraded_delay"`
	ShedAction       string   `yaml:"shed_action"` // drop_low | none
	ShedDropPriorities []string `yaml:"shed_drop_priorities"`
}

// Valid reports whether the pressure thresholds are monotone, per
// testable property 5.
func (p Pressure) Valid() bool {
	return p.Warn < p.Degraded && p.Degraded < p.Shed
}

// Outbound holds C8 defaults.
type Outbound struct {
	Partitions      int           `yaml:"partitions"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	BackoffJitter   float64       `yaml:"backoff_jitter"`
	IdempotencyCap  int           `yaml:"idempotency_cap"`
	Pressure        Pressure      `yaml:"pressure"`
}

// DeadLetter holds C9 defaults.
type DeadLetter struct {
	Capacity         int `yaml:"capacity"`
	ReplayPartitions int `yaml:"replay_partitions"`
}

// Lifecycle holds C10 defaults.
type Lifecycle struct {
	HealthProbeInterval time.Duration `yaml:"health_probe_interval"`
	MaxReconnectAttempts int          `yaml:"max_reconnect_attempts"`
	ReconnectBackoffMin time.Duration `yaml:"reconnect_backoff_min"`
	ReconnectBackoffMax time.Duration `yaml:"reconnect_backoff_max"`
	ReconnectJitter     float64       `yaml:"reconnect_jitter"`
	MaxRestarts         int           `yaml:"max_restarts"`
	MaxRestartSeconds   int           `yaml:"max_restart_seconds"`
}

// Config is the full static configuration for one messaging instance.
type Config struct {
	InstanceID string     `yaml:"instance_id"`
	Dedup      Dedup      `yaml:"dedup"`
	Session    Session    `yaml:"session"`
	Ingest     Ingest     `yaml:"ingest"`
	Media      Media      `yaml:"media"`
	Room       Room       `yaml:"room"`
	Outbound   Outbound   `yaml:"outbound"`
	DeadLetter DeadLetter `yaml:"dead_letter"`
	Lifecycle  Lifecycle  `yaml:"lifecycle"`
}

// Default returns a Config with every spec-documented default applied.
func Default(instanceID string) Config {
	cpus := runtime.NumCPU()
	shards := 2 * cpus
	if shards < 2 {
		shards = 2
	}
	return Config{
		InstanceID: instanceID,
		Dedup: Dedup{
			TTL:     20 * time.Minute,
			MaxSize: 5000,
		},
		Session: Session{
			Shards:        shards,
			TTL:           30 * time.Minute,
			ShardCapacity: 10000,
			PruneInterval: time.Minute,
		},
		Ingest: Ingest{
			VerifyTimeout:         50 * time.Millisecond,
			PolicyStageTimeout:    50 * time.Millisecond,
			PolicyTimeoutFallback: "deny",
			PolicyErrorFallback:   "deny",
			VerifyFailurePolicy:   "deny",
		},
		Media: Media{
			MaxItems:      4,
			MaxItemBytes:  10 * 1024 * 1024,
			MaxTotalBytes: 20 * 1024 * 1024,
			AllowedKinds:  []string{"image", "audio", "video", "file"},
			OnViolation:   "reject",
		},
		Room: Room{
			HistoryCap:     100,
			HibernateAfter: 5 * time.Minute,
			TypingTimeout:  5 * time.Second,
		},
		Outbound: Outbound{
			Partitions:     shards,
			QueueCapacity:  128,
			MaxAttempts:    3,
			BackoffBase:    25 * time.Millisecond,
			BackoffMax:     500 * time.Millisecond,
			BackoffJitter:  0.20,
			IdempotencyCap: 1000,
			Pressure: Pressure{
				Warn: 0.70, Degraded: 0.85, Shed: 0.95,
				DegradedAction: "throttle", DegradedDelay: 5 * time.Millisecond,
				ShedAction: "drop_low", ShedDropPriorities: []string{"low"},
			},
		},
		DeadLetter: DeadLetter{
			Capacity:         5000,
			ReplayPartitions: maxInt(2, cpus),
		},
		Lifecycle: Lifecycle{
			HealthProbeInterval: 30 * time.Second,
			MaxReconnectAttempts: 5,
			ReconnectBackoffMin: 250 * time.Millisecond,
			ReconnectBackoffMax: 5000 * time.Millisecond,
			ReconnectJitter:     0.20,
			MaxRestarts:         6,
			MaxRestartSeconds:   30,
		},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Sanitize validates a Config in place, replacing any invalid pressure
// thresholds with the spec defaults (testable property 5: "violating
// configs are replaced by defaults").
func (c *Config) Sanitize() {
	if !c.Outbound.Pressure.Valid() {
		c.Outbound.Pressure = Default(c.InstanceID).Outbound.Pressure
	}
	if c.Session.Shards <= 0 {
		c.Session.Shards = Default(c.InstanceID).Session.Shards
	}
	if c.Outbound.Partitions <= 0 {
		c.Outbound.Partitions = Default(c.InstanceID).Outbound.Partitions
	}
}

// Load parses a YAML document into a Config seeded with spec defaults,
// so partial documents only override what they specify.
func Load(instanceID string, data []byte) (Config, error) {
	cfg := Default(instanceID)
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("jmconfig: parse yaml: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Marshal serializes the Config back to YAML.
func Marshal(cfg Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("jmconfig: marshal yaml: %w", err)
	}
	return out, nil
}
