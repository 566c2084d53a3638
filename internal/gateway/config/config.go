// Package config provides configuration for the gateway wiring.
package config

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"admissiongate/internal/gateway/core"
	"admissiongate/internal/gateway/observability"
)

// Config captures dependency and runtime settings.
type Config struct {
	Region           string
	EnableHTTP       bool
	HTTPListenAddr   string
	EnableGRPCHealth bool
	GRPCListenAddr   string
	EnableAuth       bool
	AdminToken       string
	TraceSampleRate  int

	UseRedis      bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreTimeout time.Duration
	RetryBackoff time.Duration
	EmergencyCap int64

	HealthInterval  time.Duration
	ProbeTimeout    time.Duration
	SampleBuffer    int
	PublishInterval time.Duration
	TelemetryChan   string

	LeaseTTL      time.Duration
	SweepInterval time.Duration
	DrainTimeout  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	MaxBodyBytes     int64

	CircuitDefaults core.CircuitOptions
	RouterDefaults  core.RouterDefaults

	Rules      []*core.RateLimitRule
	Principals []*core.Principal
	Upstreams  []*core.UpstreamService
	Routes     []*core.RouteConfig

	// Injected dependencies. Nil selects the default implementation.
	Logger         observability.Logger
	Metrics        observability.Metrics
	Tracer         observability.Tracer
	Sampler        observability.Sampler
	Prober         core.Prober
	Store          core.CounterStore
	EmergencyStore core.CounterStore
	Outbox         core.Outbox
	PubSub         core.Publisher
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Region:           "local",
		EnableHTTP:       true,
		HTTPListenAddr:   ":8080",
		EnableGRPCHealth: true,
		GRPCListenAddr:   ":9090",
		TraceSampleRate:  100,
		StoreTimeout:     100 * time.Millisecond,
		RetryBackoff:     10 * time.Millisecond,
		EmergencyCap:     10,
		HealthInterval:   time.Second,
		ProbeTimeout:     500 * time.Millisecond,
		SampleBuffer:     1024,
		PublishInterval:  50 * time.Millisecond,
		TelemetryChan:    "gateway_telemetry",
		LeaseTTL:         30 * time.Second,
		SweepInterval:    5 * time.Second,
		DrainTimeout:     5 * time.Second,
		HTTPReadTimeout:  5 * time.Second,
		HTTPWriteTimeout: 10 * time.Second,
		HTTPIdleTimeout:  60 * time.Second,
		MaxBodyBytes:     1 << 20,
		CircuitDefaults: core.CircuitOptions{
			FailureRatio:    0.5,
			MinSamples:      10,
			RecoveryTimeout: 5 * time.Second,
			HalfOpenProbes:  3,
			WindowBuckets:   10,
			BucketLength:    time.Second,
			TrickleRPS:      1,
			TrickleBurst:    1,
		},
		RouterDefaults: core.RouterDefaults{
			Slots:            64,
			ReservedFraction: 0.1,
		},
	}
}

// Validate rejects malformed configuration rather than defaulting silently.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	var errs error
	if cfg.Region == "" {
		errs = multierr.Append(errs, fmt.Errorf("region is required"))
	}
	if cfg.RouterDefaults.ReservedFraction < 0 || cfg.RouterDefaults.ReservedFraction >= 1 {
		errs = multierr.Append(errs, fmt.Errorf("reserved fraction must be in [0,1)"))
	}
	if cfg.CircuitDefaults.FailureRatio <= 0 || cfg.CircuitDefaults.FailureRatio > 1 {
		errs = multierr.Append(errs, fmt.Errorf("circuit failure ratio must be in (0,1]"))
	}
	if cfg.EnableAuth && cfg.AdminToken == "" {
		errs = multierr.Append(errs, fmt.Errorf("admin token is required when auth is enabled"))
	}
	if cfg.UseRedis && cfg.RedisAddr == "" {
		errs = multierr.Append(errs, fmt.Errorf("redis address is required when redis is enabled"))
	}

	for i, rule := range cfg.Rules {
		if rule == nil {
			errs = multierr.Append(errs, fmt.Errorf("rule %d is nil", i))
			continue
		}
		if rule.ResourcePattern == "" {
			errs = multierr.Append(errs, fmt.Errorf("rule %d: resource pattern is required", i))
		}
		if rule.BaseQuota <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("rule %d (%s): base quota must be > 0", i, rule.ResourcePattern))
		}
		if rule.Window <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("rule %d (%s): window must be > 0", i, rule.ResourcePattern))
		}
		if rule.PriorityMultiplier < 1 {
			errs = multierr.Append(errs, fmt.Errorf("rule %d (%s): priority multiplier must be >= 1", i, rule.ResourcePattern))
		}
	}

	upstreamIDs := make(map[string]bool, len(cfg.Upstreams))
	for i, upstream := range cfg.Upstreams {
		if upstream == nil || upstream.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("upstream %d: id is required", i))
			continue
		}
		if upstreamIDs[upstream.ID] {
			errs = multierr.Append(errs, fmt.Errorf("upstream %q is duplicated", upstream.ID))
		}
		upstreamIDs[upstream.ID] = true
		if upstream.FailureRatio < 0 || upstream.FailureRatio > 1 {
			errs = multierr.Append(errs, fmt.Errorf("upstream %q: failure ratio must be in [0,1]", upstream.ID))
		}
		if upstream.ReservedFraction < 0 || upstream.ReservedFraction >= 1 {
			errs = multierr.Append(errs, fmt.Errorf("upstream %q: reserved fraction must be in [0,1)", upstream.ID))
		}
	}

	for i, route := range cfg.Routes {
		if route == nil || route.ResourcePattern == "" {
			errs = multierr.Append(errs, fmt.Errorf("route %d: resource pattern is required", i))
			continue
		}
		if len(route.Upstreams) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("route %q: at least one upstream is required", route.ResourcePattern))
		}
		for _, id := range route.Upstreams {
			if !upstreamIDs[id] {
				errs = multierr.Append(errs, fmt.Errorf("route %q references unknown upstream %q", route.ResourcePattern, id))
			}
		}
		if route.Fallback != "" && !upstreamIDs[route.Fallback] {
			errs = multierr.Append(errs, fmt.Errorf("route %q references unknown fallback %q", route.ResourcePattern, route.Fallback))
		}
	}

	for i, principal := range cfg.Principals {
		if principal == nil || principal.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("principal %d: id is required", i))
		}
	}
	return errs
}
