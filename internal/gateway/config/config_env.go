package config

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

func applyEnvOverrides(cfg *Config, environ []string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	values := envMap(environ)
	if value, ok := values["ADMISSION_REGION"]; ok {
		cfg.Region = value
	}
	if value, ok := values["ADMISSION_ENABLE_HTTP"]; ok {
		parsed, err := parseBoolEnv("ADMISSION_ENABLE_HTTP", value)
		if err != nil {
			return err
		}
		cfg.EnableHTTP = parsed
	}
	if value, ok := values["ADMISSION_HTTP_ADDR"]; ok {
		cfg.HTTPListenAddr = value
	}
	if value, ok := values["ADMISSION_ENABLE_GRPC_HEALTH"]; ok {
		parsed, err := parseBoolEnv("ADMISSION_ENABLE_GRPC_HEALTH", value)
		if err != nil {
			return err
		}
		cfg.EnableGRPCHealth = parsed
	}
	if value, ok := values["ADMISSION_GRPC_ADDR"]; ok {
		cfg.GRPCListenAddr = value
	}
	if value, ok := values["ADMISSION_ENABLE_AUTH"]; ok {
		parsed, err := parseBoolEnv("ADMISSION_ENABLE_AUTH", value)
		if err != nil {
			return err
		}
		cfg.EnableAuth = parsed
	}
	if value, ok := values["ADMISSION_ADMIN_TOKEN"]; ok {
		cfg.AdminToken = value
	}
	if value, ok := values["ADMISSION_TRACE_SAMPLE_RATE"]; ok {
		parsed, err := parseIntEnv("ADMISSION_TRACE_SAMPLE_RATE", value)
		if err != nil {
			return err
		}
		cfg.TraceSampleRate = int(parsed)
	}
	if value, ok := values["ADMISSION_USE_REDIS"]; ok {
		parsed, err := parseBoolEnv("ADMISSION_USE_REDIS", value)
		if err != nil {
			return err
		}
		cfg.UseRedis = parsed
	}
	if value, ok := values["ADMISSION_REDIS_ADDR"]; ok {
		cfg.RedisAddr = value
	}
	if value, ok := values["ADMISSION_REDIS_PASSWORD"]; ok {
		cfg.RedisPassword = value
	}
	if value, ok := values["ADMISSION_REDIS_DB"]; ok {
		parsed, err := parseIntEnv("ADMISSION_REDIS_DB", value)
		if err != nil {
			return err
		}
		cfg.RedisDB = int(parsed)
	}
	if value, ok := values["ADMISSION_STORE_TIMEOUT_MS"]; ok {
		parsed, err := parseIntEnv("ADMISSION_STORE_TIMEOUT_MS", value)
		if err != nil {
			return err
		}
		cfg.StoreTimeout = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["ADMISSION_EMERGENCY_CAP"]; ok {
		parsed, err := parseIntEnv("ADMISSION_EMERGENCY_CAP", value)
		if err != nil {
			return err
		}
		cfg.EmergencyCap = parsed
	}
	if value, ok := values["ADMISSION_HEALTH_INTERVAL_MS"]; ok {
		parsed, err := parseIntEnv("ADMISSION_HEALTH_INTERVAL_MS", value)
		if err != nil {
			return err
		}
		cfg.HealthInterval = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["ADMISSION_LEASE_TTL_MS"]; ok {
		parsed, err := parseIntEnv("ADMISSION_LEASE_TTL_MS", value)
		if err != nil {
			return err
		}
		cfg.LeaseTTL = time.Duration(parsed) * time.Millisecond
	}
	return nil
}

func envMap(environ []string) map[string]string {
	values := make(map[string]string)
	for _, entry := range environ {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = parts[1]
	}
	return values
}

func parseBoolEnv(name, value string) (bool, error) {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}

func parseIntEnv(name, value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}
