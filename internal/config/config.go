package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration, loaded once at startup.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	Mode      string `mapstructure:"mode"` // debug | release
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FeedConfig carries the tunables of the ranking pipeline. The velocity
// windows are deployment-scale knobs, not a fixed contract.
type FeedConfig struct {
	QueryTimeout           time.Duration `mapstructure:"query_timeout"`
	VelocityRecentWindow   time.Duration `mapstructure:"velocity_recent_window"`
	VelocityPreviousWindow time.Duration `mapstructure:"velocity_previous_window"`
	LatestWindow           time.Duration `mapstructure:"latest_window"`
	OlderWindow            time.Duration `mapstructure:"older_window"`
	LatestCandidateLimit   int           `mapstructure:"latest_candidate_limit"`
	OlderCandidateLimit    int           `mapstructure:"older_candidate_limit"`
	FollowingLimit         int           `mapstructure:"following_limit"`
	InvalidationWorkers    int           `mapstructure:"invalidation_workers"`
	InvalidationQueueSize  int           `mapstructure:"invalidation_queue_size"`
}

type TelemetryConfig struct {
	SentryDSN    string `mapstructure:"sentry_dsn"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// Load reads config.yaml from the given path (or the working directory) and
// applies CIRKLE_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("CIRKLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine; env + defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.jwt_secret", "dev-secret-change-me")

	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=cirkle port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 5*time.Second)
	v.SetDefault("redis.write_timeout", 5*time.Second)

	v.SetDefault("feed.query_timeout", 5*time.Second)
	v.SetDefault("feed.velocity_recent_window", 30*time.Minute)
	v.SetDefault("feed.velocity_previous_window", time.Hour)
	v.SetDefault("feed.latest_window", 24*time.Hour)
	v.SetDefault("feed.older_window", 30*24*time.Hour)
	v.SetDefault("feed.latest_candidate_limit", 2000)
	v.SetDefault("feed.older_candidate_limit", 1000)
	v.SetDefault("feed.following_limit", 5000)
	v.SetDefault("feed.invalidation_workers", 4)
	v.SetDefault("feed.invalidation_queue_size", 10000)

	v.SetDefault("telemetry.service_name", "cirkle-backend")
}
