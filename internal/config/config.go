// Package config loads Prudence configuration and initialises logging.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. PRUDENCE_SERVER_PORT.
const EnvPrefix = "PRUDENCE"

// Load reads configuration from .env, config.yaml and the environment.
// The profile key picks the default set (community or pro) before overrides
// are applied.
func Load() (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	base := domain.DefaultConfig()
	switch domain.Profile(v.GetString("profile")) {
	case "", domain.ProfileCommunity:
	case domain.ProfilePro:
		base = domain.ProConfig()
	default:
		return nil, eris.Wrapf(domain.ErrValidation, "config: unknown profile %q", v.GetString("profile"))
	}
	setDefaults(v, base)

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("profile", string(c.Profile))

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.postgres_url", c.Repository.PostgresURL)
	v.SetDefault("repository.postgres_schema", c.Repository.PostgresSchema)
	v.SetDefault("repository.postgres_connect_timeout", c.Repository.PostgresConnectTimeout)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.two_phase", c.Cache.EnableTwoPhase)
	v.SetDefault("cache.formula_ttl", c.Cache.FormulaTTL)

	v.SetDefault("event_bus.type", c.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)

	v.SetDefault("scoring.workers", c.Scoring.Workers)
	v.SetDefault("scoring.missing_policy", string(c.Scoring.MissingPolicy))
	v.SetDefault("scoring.batch_error_threshold", c.Scoring.BatchErrorThreshold)
	v.SetDefault("scoring.stage_attempts", c.Scoring.StageAttempts)
	v.SetDefault("scoring.run_lock_ttl", c.Scoring.RunLockTTL)
	v.SetDefault("scoring.breach_notice_ttl", c.Scoring.BreachNoticeTTL)
	v.SetDefault("scoring.risk_breach_score", c.Scoring.RiskBreachScore)
	v.SetDefault("scoring.compliance_breach_score", c.Scoring.ComplianceBreachScore)

	v.SetDefault("schedule.enabled", c.Schedule.Enabled)
	v.SetDefault("schedule.risk_cron", c.Schedule.RiskCron)
	v.SetDefault("schedule.compliance_cron", c.Schedule.ComplianceCron)
	v.SetDefault("schedule.breach_cron", c.Schedule.BreachCron)

	v.SetDefault("auth.jwt_secret", c.Auth.JWTSecret)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
}

// Validate rejects settings the engine cannot run with.
func Validate(cfg *domain.Config) error {
	var problems []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "repository.driver must be sqlite or postgres")
	}
	switch cfg.Scoring.MissingPolicy {
	case domain.MissingFail, domain.MissingSkip, domain.MissingReduce:
	default:
		problems = append(problems, "scoring.missing_policy must be fail, skip or reduce")
	}
	if cfg.Scoring.Workers < 1 {
		problems = append(problems, "scoring.workers must be positive")
	}
	if cfg.Scoring.BatchErrorThreshold < 0 || cfg.Scoring.BatchErrorThreshold > 1 {
		problems = append(problems, "scoring.batch_error_threshold must be within [0,1]")
	}
	if cfg.Scoring.StageAttempts < 1 {
		problems = append(problems, "scoring.stage_attempts must be positive")
	}
	if cfg.Scoring.RiskBreachScore < 0 || cfg.Scoring.RiskBreachScore > 100 {
		problems = append(problems, "scoring.risk_breach_score must be within [0,100]")
	}
	if cfg.Scoring.ComplianceBreachScore < 0 || cfg.Scoring.ComplianceBreachScore > 100 {
		problems = append(problems, "scoring.compliance_breach_score must be within [0,100]")
	}

	if len(problems) > 0 {
		return eris.Wrapf(domain.ErrValidation, "config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg domain.LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
