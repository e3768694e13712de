package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type StoreConfig struct {
	Driver       string
	DatabaseURL  string
	MaxOpenConns int
	SeedPath     string
}

type GroupingConfig struct {
	RadiusKm  float64
	Threshold int
	TimeLimit time.Duration
}

type SweepConfig struct {
	Interval    time.Duration
	Concurrency int
	RedisAddr   string
	LockTTL     time.Duration
}

type OptimizerConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type NotifyConfig struct {
	AMQPURL    string
	Exchange   string
	RoutingKey string
	Timeout    time.Duration
}

type Config struct {
	Environment     string
	HTTP            HTTPConfig
	Store           StoreConfig
	Grouping        GroupingConfig
	Sweep           SweepConfig
	AssumedSpeedKmh float64
	Optimizer       OptimizerConfig
	Notify          NotifyConfig
}

const (
	// StoreMemory keeps everything in process and copies the whole state on
	// every transaction. Development and tests only; refused in production.
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Load reads configuration from the environment, an optional .env file and
// an optional app.env config file, in that order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	_ = v.ReadInConfig()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("SEED_PATH", "data/seeds/workers.json")
	v.SetDefault("PROXIMITY_RADIUS_KM", 1.0)
	v.SetDefault("REPORT_THRESHOLD", 10)
	v.SetDefault("GROUP_TIME_LIMIT", "72h")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_CONCURRENCY", 4)
	v.SetDefault("SWEEP_LOCK_TTL", "10m")
	v.SetDefault("ASSUMED_SPEED_KMH", 30.0)
	v.SetDefault("ORS_BASE_URL", "https://api.openrouteservice.org")
	v.SetDefault("OPTIMIZER_TIMEOUT", "5s")
	v.SetDefault("AMQP_EXCHANGE", "notifications")
	v.SetDefault("AMQP_ROUTING_KEY", "notification.send")
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment: strings.TrimSpace(v.GetString("APP_ENV")),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		Store: StoreConfig{
			Driver:       strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
			DatabaseURL:  strings.TrimSpace(v.GetString("DATABASE_URL")),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			SeedPath:     v.GetString("SEED_PATH"),
		},
		Grouping: GroupingConfig{
			RadiusKm:  v.GetFloat64("PROXIMITY_RADIUS_KM"),
			Threshold: v.GetInt("REPORT_THRESHOLD"),
			TimeLimit: v.GetDuration("GROUP_TIME_LIMIT"),
		},
		Sweep: SweepConfig{
			Interval:    v.GetDuration("SWEEP_INTERVAL"),
			Concurrency: v.GetInt("SWEEP_CONCURRENCY"),
			RedisAddr:   strings.TrimSpace(v.GetString("REDIS_ADDR")),
			LockTTL:     v.GetDuration("SWEEP_LOCK_TTL"),
		},
		AssumedSpeedKmh: v.GetFloat64("ASSUMED_SPEED_KMH"),
		Optimizer: OptimizerConfig{
			APIKey:  strings.TrimSpace(v.GetString("ORS_API_KEY")),
			BaseURL: v.GetString("ORS_BASE_URL"),
			Timeout: v.GetDuration("OPTIMIZER_TIMEOUT"),
		},
		Notify: NotifyConfig{
			AMQPURL:    strings.TrimSpace(v.GetString("AMQP_URL")),
			Exchange:   v.GetString("AMQP_EXCHANGE"),
			RoutingKey: v.GetString("AMQP_ROUTING_KEY"),
			Timeout:    v.GetDuration("NOTIFY_TIMEOUT"),
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case StoreMemory:
		if cfg.Environment == "production" {
			return fmt.Errorf("STORE_DRIVER=%s is not allowed when APP_ENV=production", StoreMemory)
		}
	case StorePostgres:
		if cfg.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, cfg.Store.Driver)
	}

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", cfg.HTTP.Port)
	}
	if cfg.Grouping.RadiusKm <= 0 {
		return fmt.Errorf("PROXIMITY_RADIUS_KM must be positive")
	}
	if cfg.Grouping.Threshold <= 0 {
		return fmt.Errorf("REPORT_THRESHOLD must be positive")
	}
	if cfg.Grouping.TimeLimit <= 0 {
		return fmt.Errorf("GROUP_TIME_LIMIT must be positive")
	}
	if cfg.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if cfg.Sweep.Concurrency <= 0 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be positive")
	}
	if cfg.AssumedSpeedKmh <= 0 {
		return fmt.Errorf("ASSUMED_SPEED_KMH must be positive")
	}
	if cfg.Optimizer.Timeout <= 0 {
		return fmt.Errorf("OPTIMIZER_TIMEOUT must be positive")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
