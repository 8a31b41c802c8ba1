package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values come from defaults,
// then an optional YAML file, then NEOCORE_* environment overrides.
type Config struct {
	// Server tunes the HTTP listeners.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log tunes the zap logger built at startup.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Auth selects and configures inbound authentication.
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Telemetry configures the OpenTelemetry exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Limiter tunes per-backend admission.
	Limiter LimiterConfig `yaml:"limiter" env:"LIMITER"`

	// Dispatch tunes per-task routing and retries.
	Dispatch DispatchConfig `yaml:"dispatch" env:"DISPATCH"`

	// Batch tunes the fan-out coordinator.
	Batch BatchConfig `yaml:"batch" env:"BATCH"`

	// Council tunes the advisor decide pipeline.
	Council CouncilConfig `yaml:"council" env:"COUNCIL"`

	// Health tunes the backend health state machine.
	Health HealthConfig `yaml:"health" env:"HEALTH"`

	// Prober tunes the optional active health prober.
	Prober ProberConfig `yaml:"prober" env:"PROBER"`

	// Backends declares the worker pool. YAML only; credentials are
	// resolved from the environment variable each entry names.
	Backends []BackendConfig `yaml:"backends" env:"-"`
}

// ServerConfig tunes the HTTP listeners.
type ServerConfig struct {
	// HTTPPort is the API listener port.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort is the Prometheus listener port.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// ReadTimeout bounds reading one request.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds writing one response. Must outlast the batch
	// deadline or slow batches are cut off mid-response.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// IdleTimeout bounds keep-alive connections.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS is the per-client request rate.
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORSOrigins lists allowed cross-origin hosts. Empty denies all.
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
}

// LogConfig tunes the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with file:line.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stacks to error entries.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// AuthConfig selects inbound authentication.
type AuthConfig struct {
	// Mode: api_key, jwt, or none.
	Mode string `yaml:"mode" env:"MODE"`
	// APIKeys are the accepted X-API-Key values in api_key mode.
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// AllowQueryAPIKey also accepts ?api_key= in api_key mode.
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWT configures bearer-token validation in jwt mode.
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig configures bearer-token validation.
type JWTConfig struct {
	// Secret is the HS256 signing secret.
	Secret string `yaml:"secret" env:"SECRET"`
	// PublicKey is a PEM-encoded RSA public key for RS256 tokens.
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// Issuer, when set, is required in token claims.
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// Audience, when set, is required in token claims.
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns tracing and metric export on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint is the gRPC collector address.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName labels exported spans and metrics.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// LimiterConfig tunes per-backend admission.
type LimiterConfig struct {
	// AcquireTimeout bounds one wait for backend capacity.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" env:"ACQUIRE_TIMEOUT"`
}

// DispatchConfig tunes routing and retries.
type DispatchConfig struct {
	// CallTimeout bounds each individual backend call.
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// MaxAttempts caps attempts per task, first call included.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	// MaxDelay caps the grown backoff delay.
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// Multiplier is the backoff growth factor.
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// Jitter randomizes delays by up to 25 percent.
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// BatchConfig tunes the fan-out coordinator.
type BatchConfig struct {
	// Workers caps tasks dispatched in parallel.
	Workers int `yaml:"workers" env:"WORKERS"`
	// QueueSize is the shared dispatch queue capacity.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// BatchTimeout is the global deadline per submitted batch.
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"BATCH_TIMEOUT"`
	// MaxBatchSize caps tasks accepted per API request.
	MaxBatchSize int `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
}

// CouncilConfig tunes the decide pipeline.
type CouncilConfig struct {
	// AdversarialPass enables the peer-review revision round.
	AdversarialPass bool `yaml:"adversarial_pass" env:"ADVERSARIAL_PASS"`
	// AdvisorMaxTokens bounds each advisor completion.
	AdvisorMaxTokens int `yaml:"advisor_max_tokens" env:"ADVISOR_MAX_TOKENS"`
	// MonarchMaxTokens bounds the synthesis completion.
	MonarchMaxTokens int `yaml:"monarch_max_tokens" env:"MONARCH_MAX_TOKENS"`
}

// HealthConfig tunes the backend health state machine.
type HealthConfig struct {
	// FailureThreshold: consecutive failures before healthy turns degraded.
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// TripThreshold: further failures before degraded turns unavailable.
	TripThreshold int `yaml:"trip_threshold" env:"TRIP_THRESHOLD"`
	// CoolDown: how long an unavailable backend stays ineligible.
	CoolDown time.Duration `yaml:"cool_down" env:"COOL_DOWN"`
	// RecoverySuccesses: consecutive successes before degraded turns healthy.
	RecoverySuccesses int `yaml:"recovery_successes" env:"RECOVERY_SUCCESSES"`
	// ProbationConcurrent caps concurrent calls admitted while degraded.
	ProbationConcurrent int `yaml:"probation_concurrent" env:"PROBATION_CONCURRENT"`
}

// ProberConfig tunes the active health prober.
type ProberConfig struct {
	// Enabled starts the prober with the server.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Interval between probe rounds.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// Timeout for each individual ping.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// BackendConfig declares one worker backend. Only the credential's
// environment variable name appears here, never the credential itself.
type BackendConfig struct {
	// ID uniquely identifies the backend.
	ID string `yaml:"id"`
	// Endpoint is the resource base URL.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the deployment name serving the model.
	Deployment string `yaml:"deployment"`
	// APIVersion selects the REST API version.
	APIVersion string `yaml:"api_version"`
	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`
	// MaxConcurrent caps in-flight requests on this backend.
	MaxConcurrent int64 `yaml:"max_concurrent"`
	// RequestsPerSec caps sustained request volume. Zero means unlimited.
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	// Burst is the token-bucket burst size.
	Burst int `yaml:"burst"`
	// Timeout bounds one HTTP exchange to this backend.
	Timeout time.Duration `yaml:"timeout"`
}

// Loader assembles a Config. Zero or more validators run after merging.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the NEOCORE environment prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "NEOCORE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to read.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix replaces the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after merging.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load merges defaults, the YAML file, and environment overrides, in that
// order, then runs the registered validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. A missing file is not an
// error; the defaults stand.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct, deriving each field's variable name
// from the env tags joined with underscores, e.g. NEOCORE_SERVER_HTTP_PORT.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	// time.Duration has int64 kind but parses as a duration string.
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		// Comma-separated values for string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads and validates the file at path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().
		WithConfigPath(path).
		WithValidator((*Config).Validate).
		Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv builds a Config from defaults and environment overrides only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the merged configuration for values the service cannot
// start with. All problems are reported in one error.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	} else if c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}

	switch c.Auth.Mode {
	case "", "none":
	case "api_key":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, "auth mode api_key requires at least one key")
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.PublicKey == "" {
			errs = append(errs, "auth mode jwt requires a secret or public key")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown auth mode %q", c.Auth.Mode))
	}

	if c.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, "dispatch max_attempts must be positive")
	}
	if c.Dispatch.Multiplier < 1 {
		errs = append(errs, "dispatch multiplier must be at least 1")
	}
	if c.Batch.Workers <= 0 {
		errs = append(errs, "batch workers must be positive")
	}
	if c.Batch.MaxBatchSize <= 0 {
		errs = append(errs, "batch max_batch_size must be positive")
	}

	seen := make(map[string]struct{}, len(c.Backends))
	for i, b := range c.Backends {
		switch {
		case b.ID == "":
			errs = append(errs, fmt.Sprintf("backend %d: id is required", i))
		case b.Endpoint == "" || b.Deployment == "":
			errs = append(errs, fmt.Sprintf("backend %q: endpoint and deployment are required", b.ID))
		default:
			if _, dup := seen[b.ID]; dup {
				errs = append(errs, fmt.Sprintf("backend %q: duplicate id", b.ID))
			}
			seen[b.ID] = struct{}{}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
