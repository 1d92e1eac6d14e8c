package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "fleetd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FLEET_PORT")
	setString(&cfg.Server.BaseURL, "FLEET_BASE_URL")
	setFloat64(&cfg.Server.InboundRPS, "FLEET_INBOUND_RPS")
	setInt(&cfg.Server.InboundBurst, "FLEET_INBOUND_BURST")

	// System identity
	setString(&cfg.System.ID, "FLEET_SYSTEM_ID")
	setString(&cfg.System.Type, "FLEET_SYSTEM_TYPE")
	setString(&cfg.System.DisplayName, "FLEET_SYSTEM_NAME")
	setList(&cfg.System.Categories, "FLEET_SYSTEM_CATEGORIES")

	// Gateway
	setString(&cfg.Gateway.URL, "FLEET_GATEWAY_URL")
	setDuration(&cfg.Gateway.HeartbeatInterval, "FLEET_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Gateway.ReconnectInterval, "FLEET_RECONNECT_INTERVAL")
	setInt(&cfg.Gateway.MaxReconnectAttempts, "FLEET_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Gateway.RequestTimeout, "FLEET_GATEWAY_TIMEOUT")
	setFloat64(&cfg.Gateway.RequestsPerSecond, "FLEET_GATEWAY_RPS")
	setInt(&cfg.Gateway.Burst, "FLEET_GATEWAY_BURST")
	setString(&cfg.Gateway.InboundToken, "FLEET_INBOUND_TOKEN")
	setString(&cfg.Gateway.InboundTokenFile, "FLEET_INBOUND_TOKEN_FILE")

	setInt(&cfg.Publisher.MaxRetries, "FLEET_PUBLISH_MAX_RETRIES")
	setDuration(&cfg.Publisher.RetryDelay, "FLEET_PUBLISH_RETRY_DELAY")

	setInt(&cfg.Breaker.MaxFailures, "FLEET_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FLEET_BREAKER_TIMEOUT")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Subject, "FLEET_NATS_SUBJECT")
	setString(&cfg.NATS.Group, "FLEET_NATS_GROUP")
	setString(&cfg.NATS.DedupBucket, "FLEET_NATS_DEDUP_BUCKET")

	setInt64(&cfg.Dedup.MaxCostBytes, "FLEET_DEDUP_MAX_BYTES")
	setDuration(&cfg.Dedup.TTL, "FLEET_DEDUP_TTL")

	setString(&cfg.Logging.Level, "FLEET_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FLEET_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FLEET_LOG_ASYNC")

	setBool(&cfg.Telemetry.Enabled, "FLEET_OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFloat64(&cfg.Telemetry.SampleRate, "FLEET_OTEL_SAMPLE_RATE")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.InboundRPS < 0 {
		return errors.New("server.inbound_rps must be >= 0")
	}
	if cfg.Server.InboundRPS > 0 && cfg.Server.InboundBurst < 1 {
		return errors.New("server.inbound_burst must be >= 1 when inbound_rps is set")
	}
	if cfg.System.ID == "" {
		return errors.New("system.id is required")
	}
	if cfg.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	if cfg.Gateway.HeartbeatInterval <= 0 {
		return errors.New("gateway.heartbeat_interval must be > 0")
	}
	if cfg.Gateway.ReconnectInterval < 0 {
		return errors.New("gateway.reconnect_interval must be >= 0")
	}
	if cfg.Gateway.MaxReconnectAttempts < 1 {
		return errors.New("gateway.max_reconnect_attempts must be >= 1")
	}
	if cfg.Publisher.MaxRetries < 0 {
		return errors.New("publisher.max_retries must be >= 0")
	}
	if cfg.Publisher.RetryDelay <= 0 {
		return errors.New("publisher.retry_delay must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}

	seen := make(map[string]struct{}, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d].id is required", i)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("agents[%d]: duplicate agent id %q", i, a.ID)
		}
		seen[a.ID] = struct{}{}
		for _, c := range a.Capabilities {
			if strings.Contains(c, "*") {
				return fmt.Errorf("agents[%d]: capability id %q must not contain '*'", i, c)
			}
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList parses a comma-separated env value, dropping empty entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
