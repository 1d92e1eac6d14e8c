// Package config provides hierarchical configuration loading for fleetd.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for a fleet system process.
type Config struct {
	Server    Server    `yaml:"server"`
	System    System    `yaml:"system"`
	Gateway   Gateway   `yaml:"gateway"`
	Publisher Publisher `yaml:"publisher"`
	Breaker   Breaker   `yaml:"breaker"`
	NATS      NATS      `yaml:"nats"`
	Dedup     Dedup     `yaml:"dedup"`
	Logging   Logging   `yaml:"logging"`
	Telemetry Telemetry `yaml:"telemetry"`
	Agents    []Agent   `yaml:"agents"`
}

// Server holds the inbound HTTP server configuration.
type Server struct {
	Port         string  `yaml:"port"`
	BaseURL      string  `yaml:"base_url"`      // advertised in the agent card
	InboundRPS   float64 `yaml:"inbound_rps"`   // per-peer limit on pushed events; 0 disables
	InboundBurst int     `yaml:"inbound_burst"`
}

// System identifies this fleet to the Federation Gateway.
type System struct {
	ID          string   `yaml:"id"`
	Type        string   `yaml:"type"`
	DisplayName string   `yaml:"display_name"`
	Categories  []string `yaml:"categories"` // coarse capability categories, e.g. "patrol"
}

// Gateway holds Federation Gateway connectivity configuration.
type Gateway struct {
	URL                  string        `yaml:"url"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	RequestsPerSecond    float64       `yaml:"requests_per_second"` // 0 = unlimited
	Burst                int           `yaml:"burst"`
	InboundToken         string        `yaml:"inbound_token"`      // bearer token required on pushed events; empty disables the check
	InboundTokenFile     string        `yaml:"inbound_token_file"` // overrides inbound_token; re-read on SIGHUP
}

// Publisher holds outbound event delivery configuration.
type Publisher struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Breaker holds circuit breaker configuration for Gateway calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NATS holds the optional inbound NATS transport configuration.
// An empty URL disables the NATS subscriber.
type NATS struct {
	URL         string `yaml:"url"`
	Subject     string `yaml:"subject"`
	Group       string `yaml:"group"`        // queue group shared by replicas of one system
	DedupBucket string `yaml:"dedup_bucket"` // JetStream KV bucket for shared dedup; empty keeps dedup process-local
}

// Dedup holds the inbound event dedup cache configuration.
type Dedup struct {
	MaxCostBytes int64         `yaml:"max_cost_bytes"`
	TTL          time.Duration `yaml:"ttl"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// Agent describes one locally hosted agent and its simulated execution profile.
type Agent struct {
	ID           string        `yaml:"id"`
	Type         string        `yaml:"type"`
	Capabilities []string      `yaml:"capabilities"`
	StepDuration time.Duration `yaml:"step_duration"`
	Steps        int           `yaml:"steps"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:         "8090",
			BaseURL:      "http://localhost:8090",
			InboundRPS:   50,
			InboundBurst: 100,
		},
		System: System{
			ID:          "fleet-local",
			Type:        "robot_fleet",
			DisplayName: "Local Robot Fleet",
		},
		Gateway: Gateway{
			URL:                  "http://localhost:8000/api/v1",
			HeartbeatInterval:    30 * time.Second,
			ReconnectInterval:    5 * time.Second,
			MaxReconnectAttempts: 5,
			RequestTimeout:       10 * time.Second,
			Burst:                10,
		},
		Publisher: Publisher{
			MaxRetries: 3,
			RetryDelay: 5 * time.Second,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		NATS: NATS{
			Subject: "ecis.inbound.>",
			Group:   "fleetd",
		},
		Dedup: Dedup{
			MaxCostBytes: 8 << 20,
			TTL:          10 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "fleetd",
		},
		Telemetry: Telemetry{
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "fleetd",
		},
	}
}
