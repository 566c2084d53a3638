package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"admissiongate/internal/gateway/core"
)

// LoadOptions controls config loading.
type LoadOptions struct {
	ConfigPath string
	Args       []string
	Environ    []string
}

// LoadConfig loads configuration from defaults, file, env, and flags.
func LoadConfig(opts LoadOptions) (*Config, error) {
	args := opts.Args
	if args == nil {
		args = os.Args[1:]
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	flagOverrides, err := parseFlagOverrides(args)
	if err != nil {
		return nil, err
	}

	configPath := opts.ConfigPath
	if flagOverrides.ConfigPath != nil {
		configPath = *flagOverrides.ConfigPath
	}

	cfg := Default()
	if configPath != "" {
		fileOverrides, err := loadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := applyConfigOverrides(cfg, fileOverrides); err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg, flagOverrides)
	return cfg, nil
}

type configOverrides struct {
	Region           *string        `json:"Region"`
	EnableHTTP       *bool          `json:"EnableHTTP"`
	HTTPListenAddr   *string        `json:"HTTPListenAddr"`
	EnableGRPCHealth *bool          `json:"EnableGRPCHealth"`
	GRPCListenAddr   *string        `json:"GRPCListenAddr"`
	EnableAuth       *bool          `json:"EnableAuth"`
	AdminToken       *string        `json:"AdminToken"`
	TraceSampleRate  *int           `json:"TraceSampleRate"`
	UseRedis         *bool          `json:"UseRedis"`
	RedisAddr        *string        `json:"RedisAddr"`
	RedisPassword    *string        `json:"RedisPassword"`
	RedisDB          *int           `json:"RedisDB"`
	StoreTimeout     *durationValue `json:"StoreTimeout"`
	RetryBackoff     *durationValue `json:"RetryBackoff"`
	EmergencyCap     *int64         `json:"EmergencyCap"`
	HealthInterval   *durationValue `json:"HealthInterval"`
	ProbeTimeout     *durationValue `json:"ProbeTimeout"`
	SampleBuffer     *int           `json:"SampleBuffer"`
	PublishInterval  *durationValue `json:"PublishInterval"`
	TelemetryChan    *string        `json:"TelemetryChan"`
	LeaseTTL         *durationValue `json:"LeaseTTL"`
	SweepInterval    *durationValue `json:"SweepInterval"`
	DrainTimeout     *durationValue `json:"DrainTimeout"`
	HTTPReadTimeout  *durationValue `json:"HTTPReadTimeout"`
	HTTPWriteTimeout *durationValue `json:"HTTPWriteTimeout"`
	HTTPIdleTimeout  *durationValue `json:"HTTPIdleTimeout"`
	MaxBodyBytes     *int64         `json:"MaxBodyBytes"`

	CircuitDefaults *circuitOptionsInput `json:"CircuitDefaults"`
	RouterDefaults  *routerDefaultsInput `json:"RouterDefaults"`

	Rules      []ruleInput      `json:"Rules"`
	Principals []principalInput `json:"Principals"`
	Upstreams  []upstreamInput  `json:"Upstreams"`
	Routes     []routeInput     `json:"Routes"`
}

type circuitOptionsInput struct {
	FailureRatio    *float64       `json:"FailureRatio"`
	MinSamples      *int64         `json:"MinSamples"`
	RecoveryTimeout *durationValue `json:"RecoveryTimeout"`
	HalfOpenProbes  *int64         `json:"HalfOpenProbes"`
	WindowBuckets   *int           `json:"WindowBuckets"`
	BucketLength    *durationValue `json:"BucketLength"`
	TrickleRPS      *float64       `json:"TrickleRPS"`
	TrickleBurst    *int           `json:"TrickleBurst"`
}

type routerDefaultsInput struct {
	Slots            *int64   `json:"Slots"`
	ReservedFraction *float64 `json:"ReservedFraction"`
}

type ruleInput struct {
	PrincipalID        string        `json:"PrincipalID"`
	Tier               string        `json:"Tier"`
	ResourcePattern    string        `json:"ResourcePattern"`
	BaseQuota          int64         `json:"BaseQuota"`
	Window             durationValue `json:"Window"`
	PriorityMultiplier float64       `json:"PriorityMultiplier"`
	CriticalPath       bool          `json:"CriticalPath"`
	Version            int64         `json:"Version"`
}

type principalInput struct {
	ID       string   `json:"ID"`
	Tier     string   `json:"Tier"`
	EventIDs []string `json:"EventIDs"`
}

type upstreamInput struct {
	ID               string        `json:"ID"`
	ProbeTarget      string        `json:"ProbeTarget"`
	FailureRatio     float64       `json:"FailureRatio"`
	MinSamples       int64         `json:"MinSamples"`
	RecoveryTimeout  durationValue `json:"RecoveryTimeout"`
	HalfOpenProbes   int64         `json:"HalfOpenProbes"`
	CriticalPath     bool          `json:"CriticalPath"`
	Slots            int64         `json:"Slots"`
	ReservedFraction float64       `json:"ReservedFraction"`
	TrickleRPS       float64       `json:"TrickleRPS"`
	TrickleBurst     int           `json:"TrickleBurst"`
}

type routeInput struct {
	ResourcePattern string   `json:"ResourcePattern"`
	Upstreams       []string `json:"Upstreams"`
	Fallback        string   `json:"Fallback"`
}

type durationValue struct {
	Value time.Duration
	Set   bool
}

func (d *durationValue) UnmarshalJSON(data []byte) error {
	if d == nil {
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err == nil {
		value, err := number.Int64()
		if err != nil {
			return err
		}
		d.Value = time.Duration(value) * time.Millisecond
		d.Set = true
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		value, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return err
		}
		d.Value = time.Duration(value) * time.Millisecond
		d.Set = true
		return nil
	}
	return errors.New("invalid duration value")
}

type flagOverrides struct {
	ConfigPath      *string
	Region          *string
	EnableHTTP      *bool
	HTTPListenAddr  *string
	EnableGRPC      *bool
	GRPCListenAddr  *string
	EnableAuth      *bool
	AdminToken      *string
	TraceSampleRate *int
	UseRedis        *bool
	RedisAddr       *string
	EmergencyCap    *int64
	LeaseTTLMS      *int
}

func parseFlagOverrides(args []string) (flagOverrides, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	configPath := fs.String("config", "", "config file path")
	region := fs.String("region", "", "region value")
	enableHTTP := fs.Bool("enable_http", false, "enable http")
	httpAddr := fs.String("http_addr", "", "http address")
	enableGRPC := fs.Bool("enable_grpc_health", false, "enable grpc health")
	grpcAddr := fs.String("grpc_addr", "", "grpc address")
	enableAuth := fs.Bool("enable_auth", false, "enable auth")
	adminToken := fs.String("admin_token", "", "admin token")
	traceSampleRate := fs.Int("trace_sample_rate", 0, "trace sample rate")
	useRedis := fs.Bool("use_redis", false, "use redis counters")
	redisAddr := fs.String("redis_addr", "", "redis address")
	emergencyCap := fs.Int64("emergency_cap", 0, "emergency cap per window")
	leaseTTL := fs.Int("lease_ttl_ms", 0, "lease ttl ms")

	if err := fs.Parse(args); err != nil {
		return flagOverrides{}, errors.New("invalid flag values")
	}

	overrides := flagOverrides{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			overrides.ConfigPath = configPath
		case "region":
			overrides.Region = region
		case "enable_http":
			overrides.EnableHTTP = enableHTTP
		case "http_addr":
			overrides.HTTPListenAddr = httpAddr
		case "enable_grpc_health":
			overrides.EnableGRPC = enableGRPC
		case "grpc_addr":
			overrides.GRPCListenAddr = grpcAddr
		case "enable_auth":
			overrides.EnableAuth = enableAuth
		case "admin_token":
			overrides.AdminToken = adminToken
		case "trace_sample_rate":
			overrides.TraceSampleRate = traceSampleRate
		case "use_redis":
			overrides.UseRedis = useRedis
		case "redis_addr":
			overrides.RedisAddr = redisAddr
		case "emergency_cap":
			overrides.EmergencyCap = emergencyCap
		case "lease_ttl_ms":
			overrides.LeaseTTLMS = leaseTTL
		}
	})
	return overrides, nil
}

func loadConfigFile(path string) (*configOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overrides configOverrides
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, err
	}
	return &overrides, nil
}

func applyConfigOverrides(cfg *Config, overrides *configOverrides) error {
	if cfg == nil || overrides == nil {
		return nil
	}
	if overrides.Region != nil {
		cfg.Region = *overrides.Region
	}
	if overrides.EnableHTTP != nil {
		cfg.EnableHTTP = *overrides.EnableHTTP
	}
	if overrides.HTTPListenAddr != nil {
		cfg.HTTPListenAddr = *overrides.HTTPListenAddr
	}
	if overrides.EnableGRPCHealth != nil {
		cfg.EnableGRPCHealth = *overrides.EnableGRPCHealth
	}
	if overrides.GRPCListenAddr != nil {
		cfg.GRPCListenAddr = *overrides.GRPCListenAddr
	}
	if overrides.EnableAuth != nil {
		cfg.EnableAuth = *overrides.EnableAuth
	}
	if overrides.AdminToken != nil {
		cfg.AdminToken = *overrides.AdminToken
	}
	if overrides.TraceSampleRate != nil {
		cfg.TraceSampleRate = *overrides.TraceSampleRate
	}
	if overrides.UseRedis != nil {
		cfg.UseRedis = *overrides.UseRedis
	}
	if overrides.RedisAddr != nil {
		cfg.RedisAddr = *overrides.RedisAddr
	}
	if overrides.RedisPassword != nil {
		cfg.RedisPassword = *overrides.RedisPassword
	}
	if overrides.RedisDB != nil {
		cfg.RedisDB = *overrides.RedisDB
	}
	if overrides.StoreTimeout != nil && overrides.StoreTimeout.Set {
		cfg.StoreTimeout = overrides.StoreTimeout.Value
	}
	if overrides.RetryBackoff != nil && overrides.RetryBackoff.Set {
		cfg.RetryBackoff = overrides.RetryBackoff.Value
	}
	if overrides.EmergencyCap != nil {
		cfg.EmergencyCap = *overrides.EmergencyCap
	}
	if overrides.HealthInterval != nil && overrides.HealthInterval.Set {
		cfg.HealthInterval = overrides.HealthInterval.Value
	}
	if overrides.ProbeTimeout != nil && overrides.ProbeTimeout.Set {
		cfg.ProbeTimeout = overrides.ProbeTimeout.Value
	}
	if overrides.SampleBuffer != nil {
		cfg.SampleBuffer = *overrides.SampleBuffer
	}
	if overrides.PublishInterval != nil && overrides.PublishInterval.Set {
		cfg.PublishInterval = overrides.PublishInterval.Value
	}
	if overrides.TelemetryChan != nil {
		cfg.TelemetryChan = *overrides.TelemetryChan
	}
	if overrides.LeaseTTL != nil && overrides.LeaseTTL.Set {
		cfg.LeaseTTL = overrides.LeaseTTL.Value
	}
	if overrides.SweepInterval != nil && overrides.SweepInterval.Set {
		cfg.SweepInterval = overrides.SweepInterval.Value
	}
	if overrides.DrainTimeout != nil && overrides.DrainTimeout.Set {
		cfg.DrainTimeout = overrides.DrainTimeout.Value
	}
	if overrides.HTTPReadTimeout != nil && overrides.HTTPReadTimeout.Set {
		cfg.HTTPReadTimeout = overrides.HTTPReadTimeout.Value
	}
	if overrides.HTTPWriteTimeout != nil && overrides.HTTPWriteTimeout.Set {
		cfg.HTTPWriteTimeout = overrides.HTTPWriteTimeout.Value
	}
	if overrides.HTTPIdleTimeout != nil && overrides.HTTPIdleTimeout.Set {
		cfg.HTTPIdleTimeout = overrides.HTTPIdleTimeout.Value
	}
	if overrides.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *overrides.MaxBodyBytes
	}
	if overrides.CircuitDefaults != nil {
		applyCircuitOverrides(&cfg.CircuitDefaults, overrides.CircuitDefaults)
	}
	if overrides.RouterDefaults != nil {
		if overrides.RouterDefaults.Slots != nil {
			cfg.RouterDefaults.Slots = *overrides.RouterDefaults.Slots
		}
		if overrides.RouterDefaults.ReservedFraction != nil {
			cfg.RouterDefaults.ReservedFraction = *overrides.RouterDefaults.ReservedFraction
		}
	}
	return applyTopology(cfg, overrides)
}

func applyCircuitOverrides(opts *core.CircuitOptions, input *circuitOptionsInput) {
	if opts == nil || input == nil {
		return
	}
	if input.FailureRatio != nil {
		opts.FailureRatio = *input.FailureRatio
	}
	if input.MinSamples != nil {
		opts.MinSamples = *input.MinSamples
	}
	if input.RecoveryTimeout != nil && input.RecoveryTimeout.Set {
		opts.RecoveryTimeout = input.RecoveryTimeout.Value
	}
	if input.HalfOpenProbes != nil {
		opts.HalfOpenProbes = *input.HalfOpenProbes
	}
	if input.WindowBuckets != nil {
		opts.WindowBuckets = *input.WindowBuckets
	}
	if input.BucketLength != nil && input.BucketLength.Set {
		opts.BucketLength = input.BucketLength.Value
	}
	if input.TrickleRPS != nil {
		opts.TrickleRPS = *input.TrickleRPS
	}
	if input.TrickleBurst != nil {
		opts.TrickleBurst = *input.TrickleBurst
	}
}

func applyTopology(cfg *Config, overrides *configOverrides) error {
	for _, input := range overrides.Rules {
		tier, ok := core.ParseTier(input.Tier)
		if input.Tier != "" && !ok {
			return fmt.Errorf("rule %q: unknown tier %q", input.ResourcePattern, input.Tier)
		}
		cfg.Rules = append(cfg.Rules, &core.RateLimitRule{
			PrincipalID:        input.PrincipalID,
			Tier:               tier,
			ResourcePattern:    input.ResourcePattern,
			BaseQuota:          input.BaseQuota,
			Window:             input.Window.Value,
			PriorityMultiplier: input.PriorityMultiplier,
			CriticalPath:       input.CriticalPath,
			Version:            input.Version,
		})
	}
	for _, input := range overrides.Principals {
		tier, ok := core.ParseTier(input.Tier)
		if !ok {
			return fmt.Errorf("principal %q: unknown tier %q", input.ID, input.Tier)
		}
		cfg.Principals = append(cfg.Principals, &core.Principal{
			ID:       input.ID,
			Tier:     tier,
			EventIDs: append([]string(nil), input.EventIDs...),
		})
	}
	for _, input := range overrides.Upstreams {
		cfg.Upstreams = append(cfg.Upstreams, &core.UpstreamService{
			ID:               input.ID,
			ProbeTarget:      input.ProbeTarget,
			FailureRatio:     input.FailureRatio,
			MinSamples:       input.MinSamples,
			RecoveryTimeout:  input.RecoveryTimeout.Value,
			HalfOpenProbes:   input.HalfOpenProbes,
			CriticalPath:     input.CriticalPath,
			Slots:            input.Slots,
			ReservedFraction: input.ReservedFraction,
			TrickleRPS:       input.TrickleRPS,
			TrickleBurst:     input.TrickleBurst,
		})
	}
	for _, input := range overrides.Routes {
		cfg.Routes = append(cfg.Routes, &core.RouteConfig{
			ResourcePattern: input.ResourcePattern,
			Upstreams:       append([]string(nil), input.Upstreams...),
			Fallback:        input.Fallback,
		})
	}
	return nil
}

func applyFlagOverrides(cfg *Config, overrides flagOverrides) {
	if cfg == nil {
		return
	}
	if overrides.Region != nil {
		cfg.Region = *overrides.Region
	}
	if overrides.EnableHTTP != nil {
		cfg.EnableHTTP = *overrides.EnableHTTP
	}
	if overrides.HTTPListenAddr != nil {
		cfg.HTTPListenAddr = *overrides.HTTPListenAddr
	}
	if overrides.EnableGRPC != nil {
		cfg.EnableGRPCHealth = *overrides.EnableGRPC
	}
	if overrides.GRPCListenAddr != nil {
		cfg.GRPCListenAddr = *overrides.GRPCListenAddr
	}
	if overrides.EnableAuth != nil {
		cfg.EnableAuth = *overrides.EnableAuth
	}
	if overrides.AdminToken != nil {
		cfg.AdminToken = *overrides.AdminToken
	}
	if overrides.TraceSampleRate != nil {
		cfg.TraceSampleRate = *overrides.TraceSampleRate
	}
	if overrides.UseRedis != nil {
		cfg.UseRedis = *overrides.UseRedis
	}
	if overrides.RedisAddr != nil {
		cfg.RedisAddr = *overrides.RedisAddr
	}
	if overrides.EmergencyCap != nil {
		cfg.EmergencyCap = *overrides.EmergencyCap
	}
	if overrides.LeaseTTLMS != nil {
		cfg.LeaseTTL = time.Duration(*overrides.LeaseTTLMS) * time.Millisecond
	}
}
