package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type App struct {
	Name         string `mapstructure:"name"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	MaxHeaderMB  int    `mapstructure:"max_header_mb"`
	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Database struct {
	DSN string `mapstructure:"dsn"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Gateway struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	SendPath      string        `mapstructure:"send_path"`
	StatusPath    string        `mapstructure:"status_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type Webhook struct {
	Secret string `mapstructure:"secret"`
}

type Worker struct {
	BatchSize     uint          `mapstructure:"batch_size"`
	PollBatchSize uint          `mapstructure:"poll_batch_size"`
	ClaimTTL      time.Duration `mapstructure:"claim_ttl"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

type AutoRun struct {
	Enabled           bool          `mapstructure:"enabled"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
	WorkerInterval    time.Duration `mapstructure:"worker_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

type Locale struct {
	Timezone string `mapstructure:"timezone"`
}

type Logging struct {
	Level string `mapstructure:"level"`
}

type Telemetry struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

type Config struct {
	App       App       `mapstructure:"app"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Gateway   Gateway   `mapstructure:"gateway"`
	Webhook   Webhook   `mapstructure:"webhook"`
	Worker    Worker    `mapstructure:"worker"`
	AutoRun   AutoRun   `mapstructure:"autorun"`
	Locale    Locale    `mapstructure:"locale"`
	Logging   Logging   `mapstructure:"logging"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string][]string{
	"database.dsn":        {"DATABASE_DSN"},
	"redis.addr":          {"REDIS_ADDR"},
	"redis.password":      {"REDIS_PASSWORD"},
	"redis.db":            {"REDIS_DB"},
	"gateway.base_url":    {"UAZAPI_BASE_URL"},
	"gateway.token":       {"UAZAPI_TOKEN"},
	"gateway.send_path":   {"UAZAPI_SEND_PATH"},
	"gateway.status_path": {"UAZAPI_STATUS_PATH"},
	"webhook.secret":      {"UAZAPI_WEBHOOK_SECRET", "UAZAPI_WEBHOOK_TOKEN"},
	"telemetry.endpoint":  {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"logging.level":       {"LOG_LEVEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gopulse-dispatch")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"*"})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("gateway.provider", "uazapi")
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("worker.batch_size", 200)
	v.SetDefault("worker.poll_batch_size", 500)
	v.SetDefault("worker.claim_ttl", 10*time.Minute)
	v.SetDefault("worker.lock_ttl", 5*time.Minute)
	v.SetDefault("autorun.scheduler_interval", time.Minute)
	v.SetDefault("autorun.worker_interval", time.Minute)
	v.SetDefault("autorun.poll_interval", 5*time.Minute)
	v.SetDefault("locale.timezone", "America/Sao_Paulo")
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.sample_rate", 1.0)
}

// Load reads the YAML file at path. A .env file in the working directory, when
// present, is loaded into the environment first; environment variables win over the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Gateway.BaseURL = strings.TrimRight(cfg.Gateway.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.App.Port <= 0 {
		return fmt.Errorf("invalid app.port %d", c.App.Port)
	}
	return nil
}
