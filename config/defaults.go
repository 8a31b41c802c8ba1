package config

import "time"

// DefaultConfig returns the configuration the service starts with when no
// file or environment overrides are given. Backends must come from the
// caller; there is no default worker pool.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Auth:      DefaultAuthConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Limiter:   DefaultLimiterConfig(),
		Dispatch:  DefaultDispatchConfig(),
		Batch:     DefaultBatchConfig(),
		Council:   DefaultCouncilConfig(),
		Health:    DefaultHealthConfig(),
		Prober:    DefaultProberConfig(),
	}
}

// DefaultServerConfig returns the default listener tuning. The write
// timeout leaves room for a full batch deadline plus response encoding.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    3 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig returns the default logger tuning.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultAuthConfig returns open access. Production deployments set a mode.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Mode: "none",
	}
}

// DefaultTelemetryConfig returns telemetry switched off.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "neocore-swarm",
		SampleRate:   0.1,
	}
}

// DefaultLimiterConfig returns the default admission tuning.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		AcquireTimeout: 2 * time.Second,
	}
}

// DefaultDispatchConfig returns the default routing and retry tuning.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		CallTimeout: 30 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// DefaultBatchConfig returns the default fan-out tuning.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Workers:      8,
		QueueSize:    1024,
		BatchTimeout: 2 * time.Minute,
		MaxBatchSize: 64,
	}
}

// DefaultCouncilConfig returns the default decide pipeline tuning.
func DefaultCouncilConfig() CouncilConfig {
	return CouncilConfig{
		AdversarialPass:  true,
		AdvisorMaxTokens: 600,
		MonarchMaxTokens: 800,
	}
}

// DefaultHealthConfig returns the default health machine thresholds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold:    5,
		TripThreshold:       2,
		CoolDown:            30 * time.Second,
		RecoverySuccesses:   3,
		ProbationConcurrent: 2,
	}
}

// DefaultProberConfig returns the prober switched off.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Enabled:  false,
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}
