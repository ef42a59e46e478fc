// Package config manages application configuration loading and validation.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where Inkwire operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

type dispatchWorkerKind int

const (
	dispatchWorkerUnset dispatchWorkerKind = iota
	dispatchWorkerExplicit
	dispatchWorkerAuto
	dispatchWorkerDefault
)

const dispatchWorkerFallback = 8

// DispatchWorkerSetting encapsulates the delivery fan-out worker configuration
// allowing both numeric and symbolic values.
type DispatchWorkerSetting struct {
	kind  dispatchWorkerKind
	value int
}

// UnmarshalYAML supports integer, "auto", and "default" values for workers.
func (s *DispatchWorkerSetting) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = DispatchWorkerSetting{kind: dispatchWorkerUnset, value: 0}
		return nil
	}

	text := strings.TrimSpace(node.Value)
	if text == "" {
		s.kind = dispatchWorkerUnset
		s.value = 0
		return nil
	}

	switch strings.ToLower(text) {
	case "auto":
		s.kind = dispatchWorkerAuto
		s.value = 0
		return nil
	case "default":
		s.kind = dispatchWorkerDefault
		s.value = 0
		return nil
	}

	val, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("workers: invalid value %q", node.Value)
	}
	if val <= 0 {
		return fmt.Errorf("workers: numeric value must be > 0")
	}
	s.kind = dispatchWorkerExplicit
	s.value = val
	return nil
}

func (s DispatchWorkerSetting) resolve() int {
	switch s.kind {
	case dispatchWorkerExplicit:
		return s.value
	case dispatchWorkerAuto:
		if cores := runtime.NumCPU(); cores > 0 {
			return cores
		}
		return dispatchWorkerFallback
	case dispatchWorkerDefault, dispatchWorkerUnset:
		return dispatchWorkerFallback
	default:
		return dispatchWorkerFallback
	}
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// PublicBaseURL is the externally reachable base URL used when
	// building links embedded in outbound email.
	PublicBaseURL string `yaml:"publicBaseURL"`
	// RequestBodyLimit caps accepted request bodies in bytes. Zero applies
	// the built-in limit.
	RequestBodyLimit int64 `yaml:"requestBodyLimit"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// EmailConfig configures the outbound email provider.
type EmailConfig struct {
	BaseURL           string  `yaml:"baseURL"`
	ServerToken       string  `yaml:"serverToken"`
	Sender            string  `yaml:"sender"`
	SendTimeout       string  `yaml:"sendTimeout"`
	MaxAttempts       int     `yaml:"maxAttempts"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// SendTimeoutDuration resolves the configured per-send timeout.
func (c EmailConfig) SendTimeoutDuration() (time.Duration, error) {
	raw := strings.TrimSpace(c.SendTimeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("email sendTimeout: %w", err)
	}
	return d, nil
}

// DispatchConfig sizes the delivery fan-out.
type DispatchConfig struct {
	Workers DispatchWorkerSetting `yaml:"workers"`
	// FailedDeliveryBuffer bounds the in-memory record of failed
	// deliveries exposed for diagnostics.
	FailedDeliveryBuffer int `yaml:"failedDeliveryBuffer"`
}

// WorkerCount returns the resolved fan-out worker count.
func (c DispatchConfig) WorkerCount() int {
	return c.Workers.resolve()
}

// IdempotencyConfig tunes reservation behaviour.
type IdempotencyConfig struct {
	// ReservationLease is how long a reservation may sit uncommitted
	// before a retry is allowed to reclaim it.
	ReservationLease string `yaml:"reservationLease"`
}

// ReservationLeaseDuration resolves the configured lease.
func (c IdempotencyConfig) ReservationLeaseDuration() (time.Duration, error) {
	raw := strings.TrimSpace(c.ReservationLease)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("idempotency reservationLease: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("idempotency reservationLease must be > 0")
	}
	return d, nil
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// AppConfig is the unified Inkwire application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment       `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Email       EmailConfig       `yaml:"email"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// Load reads and validates an AppConfig from the provided YAML file. An empty
// path falls back to the INKWIRE_CONFIG environment variable. Environment
// overrides are applied before validation.
func Load(configPath string) (AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("INKWIRE_CONFIG"))
	}
	if path == "" {
		return AppConfig{}, fmt.Errorf("config path required")
	}

	reader, closer, err := openConfigFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicBaseURL), "/")
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Email.BaseURL = strings.TrimSpace(c.Email.BaseURL)
	c.Email.ServerToken = strings.TrimSpace(c.Email.ServerToken)
	c.Email.Sender = strings.TrimSpace(c.Email.Sender)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
}

func (c *AppConfig) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("INKWIRE_ENV")); v != "" {
		c.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("INKWIRE_DATABASE_DSN")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("INKWIRE_EMAIL_TOKEN")); v != "" {
		c.Email.ServerToken = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		c.Telemetry.ServiceName = v
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server addr required")
	}
	if c.Server.RequestBodyLimit < 0 {
		return fmt.Errorf("server requestBodyLimit must be >= 0")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn required")
	}

	if c.Email.ServerToken == "" {
		return fmt.Errorf("email serverToken required")
	}
	if c.Email.Sender == "" {
		return fmt.Errorf("email sender required")
	}
	if c.Email.MaxAttempts < 0 {
		return fmt.Errorf("email maxAttempts must be >= 0")
	}
	if c.Email.RequestsPerSecond < 0 {
		return fmt.Errorf("email requestsPerSecond must be >= 0")
	}
	if _, err := c.Email.SendTimeoutDuration(); err != nil {
		return err
	}

	if c.Dispatch.WorkerCount() <= 0 {
		return fmt.Errorf("dispatch workers must be > 0")
	}
	if c.Dispatch.FailedDeliveryBuffer < 0 {
		return fmt.Errorf("dispatch failedDeliveryBuffer must be >= 0")
	}

	if _, err := c.Idempotency.ReservationLeaseDuration(); err != nil {
		return err
	}

	if c.Telemetry.EnableMetrics && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required when metrics enabled")
	}

	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
