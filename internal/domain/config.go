package domain

import "time"

// Config holds the complete Prudence configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`

	// Profile selects the infrastructure defaults (community or pro).
	Profile Profile `mapstructure:"profile"`

	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`

	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Auth     AuthConfig     `mapstructure:"auth"`

	// Observability
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// AuthConfig controls how API actors are identified.
// An empty JWTSecret enables header mode (X-Actor-ID / X-Actor-Role).
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// MissingPolicy decides what a scoring run does with a Missing sub-score.
type MissingPolicy string

const (
	MissingFail   MissingPolicy = "fail"
	MissingSkip   MissingPolicy = "skip"
	MissingReduce MissingPolicy = "reduce"
)

// ScoringConfig tunes the orchestrator.
type ScoringConfig struct {
	// Workers bounds how many entities a batch scores in parallel.
	Workers int `mapstructure:"workers"`

	MissingPolicy MissingPolicy `mapstructure:"missing_policy"`

	// BatchErrorThreshold is the failed/total ratio above which a batch fails.
	BatchErrorThreshold float64 `mapstructure:"batch_error_threshold"`

	// StageAttempts is the number of tries per stage for transient errors.
	StageAttempts int `mapstructure:"stage_attempts"`

	RunLockTTL time.Duration `mapstructure:"run_lock_ttl"`

	// BreachNoticeTTL is how long a published breach is remembered so the
	// sweep does not publish it again.
	BreachNoticeTTL time.Duration `mapstructure:"breach_notice_ttl"`

	// Breach defaults, overridden by formula thresholds["breach"].
	RiskBreachScore       float64 `mapstructure:"risk_breach_score"`
	ComplianceBreachScore float64 `mapstructure:"compliance_breach_score"`
}

// ScheduleConfig holds cron expressions for periodic runs.
type ScheduleConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	RiskCron       string `mapstructure:"risk_cron"`
	ComplianceCron string `mapstructure:"compliance_cron"`
	BreachCron     string `mapstructure:"breach_cron"`
}

// Profile represents the deployment profile.
type Profile string

const (
	// ProfileCommunity runs on SQLite, an in-process cache and channels.
	ProfileCommunity Profile = "community"

	// ProfilePro runs on PostgreSQL, Redis and NATS.
	ProfilePro Profile = "pro"
)

// DefaultConfig returns the community profile configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Profile: ProfileCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./prudence.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			FormulaTTL:   10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringConfig{
			Workers:               8,
			MissingPolicy:         MissingReduce,
			BatchErrorThreshold:   0.25,
			StageAttempts:         2,
			RunLockTTL:            15 * time.Minute,
			BreachNoticeTTL:       30 * 24 * time.Hour,
			RiskBreachScore:       80,
			ComplianceBreachScore: 60,
		},
		Schedule: ScheduleConfig{
			Enabled:        true,
			RiskCron:       "@hourly",
			ComplianceCron: "@daily",
			BreachCron:     "@hourly",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "prudence",
		},
	}
}

// ProConfig returns the pro profile configuration.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfilePro
	cfg.Repository = RepositoryConfig{
		Driver:                 "postgres",
		PostgresHost:           "localhost",
		PostgresPort:           5432,
		PostgresDB:             "prudence",
		PostgresConnectTimeout: 10 * time.Second,
		MaxOpenConns:           25,
		MaxIdleConns:           5,
		ConnMaxLifetime:        30 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		FormulaTTL:     10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
