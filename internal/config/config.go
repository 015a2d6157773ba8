package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Cooldown  CooldownConfig  `mapstructure:"cooldown"`
	Capacity  CapacityConfig  `mapstructure:"capacity"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Warmth    WarmthConfig    `mapstructure:"warmth"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
}

type ServerConfig struct {
	Port          int        `mapstructure:"port"`
	Mode          string     `mapstructure:"mode"`
	DefaultUserID string     `mapstructure:"default_user_id"`
	CORS          CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN builds the driver-specific connection string.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	}
	return d.Path
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // r2, s3, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type CryptoConfig struct {
	Secret string `mapstructure:"secret"`
	Salt   string `mapstructure:"salt"`
}

type RiskConfig struct {
	CookieAgeWeight      float64       `mapstructure:"cookie_age_weight"`
	WarmthWeight         float64       `mapstructure:"warmth_weight"`
	ParserErrorWeight    float64       `mapstructure:"parser_error_weight"`
	RateLimitWeight      float64       `mapstructure:"rate_limit_weight"`
	IdleWeight           float64       `mapstructure:"idle_weight"`
	RequestRatePenalty   float64       `mapstructure:"request_rate_penalty"`
	MissingCookiePenalty float64       `mapstructure:"missing_cookie_penalty"`
	CookieAgeSaturation  time.Duration `mapstructure:"cookie_age_saturation"`
	RateLimitSaturation  int           `mapstructure:"rate_limit_saturation"`
	IdleGrace            time.Duration `mapstructure:"idle_grace"`
	IdleSaturation       time.Duration `mapstructure:"idle_saturation"`
	HighRequestsPerHour  int           `mapstructure:"high_requests_per_hour"`
	SignalWindow         time.Duration `mapstructure:"signal_window"`
	SessionMaxAge        time.Duration `mapstructure:"session_max_age"`
	WarningAt            int           `mapstructure:"warning_at"`
	CriticalAt           int           `mapstructure:"critical_at"`
}

type CooldownConfig struct {
	RateLimit                 time.Duration `mapstructure:"rate_limit"`
	AbortStorm                time.Duration `mapstructure:"abort_storm"`
	ConsecutiveEmpty          time.Duration `mapstructure:"consecutive_empty"`
	Captcha                   time.Duration `mapstructure:"captcha"`
	AbortStormThreshold       int           `mapstructure:"abort_storm_threshold"`
	AbortStormWindow          time.Duration `mapstructure:"abort_storm_window"`
	ConsecutiveEmptyThreshold int           `mapstructure:"consecutive_empty_threshold"`
	BackoffBase               time.Duration `mapstructure:"backoff_base"`
	BackoffMax                time.Duration `mapstructure:"backoff_max"`
	BackoffMaxAttempts        int           `mapstructure:"backoff_max_attempts"`
}

type CapacityConfig struct {
	Window         time.Duration `mapstructure:"window"`
	DegradedAfter  int           `mapstructure:"degraded_after"`
	ErrorAfter     int           `mapstructure:"error_after"`
	RecoveryStreak int           `mapstructure:"recovery_streak"`
	AutoPauseAfter int           `mapstructure:"auto_pause_after"`
	SampleSize     int           `mapstructure:"sample_size"`
}

type SchedulerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	MaxTasksPerBatch int           `mapstructure:"max_tasks_per_batch"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
}

type WorkerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Concurrency    int           `mapstructure:"concurrency"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RuntimeTimeout time.Duration `mapstructure:"runtime_timeout"`
}

type WarmthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
	RatePerMinute float64       `mapstructure:"rate_per_minute"`
	Burst         int           `mapstructure:"burst"`
	RiskInterval  time.Duration `mapstructure:"risk_interval"`
}

type RuntimeConfig struct {
	Mock   MockRuntimeConfig   `mapstructure:"mock"`
	Proxy  ProxyRuntimeConfig  `mapstructure:"proxy"`
	Remote RemoteRuntimeConfig `mapstructure:"remote"`
}

type MockRuntimeConfig struct {
	FailureRate float64       `mapstructure:"failure_rate"`
	Latency     time.Duration `mapstructure:"latency"`
}

type ProxyRuntimeConfig struct {
	ParserURL string        `mapstructure:"parser_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RemoteRuntimeConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment endpoints
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("crypto.secret", "COOKIE_ENCRYPTION_SECRET")
	v.BindEnv("runtime.remote.api_key", "REMOTE_WORKER_API_KEY")
	v.BindEnv("runtime.proxy.parser_url", "PARSER_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.default_user_id", "dev-user")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/twparser.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "twparser")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.type", "s3compatible")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.bucket", "twparser-results")
	v.SetDefault("storage.prefix", "tasks")

	v.SetDefault("crypto.secret", "dev-only-cookie-secret")
	v.SetDefault("crypto.salt", "twparser/cookies")

	v.SetDefault("risk.cookie_age_weight", 25)
	v.SetDefault("risk.warmth_weight", 25)
	v.SetDefault("risk.parser_error_weight", 20)
	v.SetDefault("risk.rate_limit_weight", 15)
	v.SetDefault("risk.idle_weight", 10)
	v.SetDefault("risk.request_rate_penalty", 5)
	v.SetDefault("risk.missing_cookie_penalty", 30)
	v.SetDefault("risk.cookie_age_saturation", 720*time.Hour)
	v.SetDefault("risk.rate_limit_saturation", 5)
	v.SetDefault("risk.idle_grace", 24*time.Hour)
	v.SetDefault("risk.idle_saturation", 168*time.Hour)
	v.SetDefault("risk.high_requests_per_hour", 60)
	v.SetDefault("risk.signal_window", 24*time.Hour)
	v.SetDefault("risk.session_max_age", 1440*time.Hour)
	v.SetDefault("risk.warning_at", 30)
	v.SetDefault("risk.critical_at", 90)

	v.SetDefault("cooldown.rate_limit", 15*time.Minute)
	v.SetDefault("cooldown.abort_storm", 30*time.Minute)
	v.SetDefault("cooldown.consecutive_empty", 10*time.Minute)
	v.SetDefault("cooldown.captcha", 60*time.Minute)
	v.SetDefault("cooldown.abort_storm_threshold", 3)
	v.SetDefault("cooldown.abort_storm_window", 10*time.Minute)
	v.SetDefault("cooldown.consecutive_empty_threshold", 5)
	v.SetDefault("cooldown.backoff_base", 30*time.Second)
	v.SetDefault("cooldown.backoff_max", 15*time.Minute)
	v.SetDefault("cooldown.backoff_max_attempts", 3)

	v.SetDefault("capacity.window", time.Hour)
	v.SetDefault("capacity.degraded_after", 2)
	v.SetDefault("capacity.error_after", 5)
	v.SetDefault("capacity.recovery_streak", 3)
	v.SetDefault("capacity.auto_pause_after", 10)
	v.SetDefault("capacity.sample_size", 20)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 5*time.Minute)
	v.SetDefault("scheduler.max_tasks_per_batch", 50)
	v.SetDefault("scheduler.lock_ttl", 2*time.Minute)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("worker.poll_interval", 2*time.Second)
	v.SetDefault("worker.runtime_timeout", 90*time.Second)

	v.SetDefault("warmth.enabled", true)
	v.SetDefault("warmth.interval", 6*time.Hour)
	v.SetDefault("warmth.idle_threshold", 12*time.Hour)
	v.SetDefault("warmth.rate_per_minute", 6)
	v.SetDefault("warmth.burst", 1)
	v.SetDefault("warmth.risk_interval", 30*time.Minute)

	v.SetDefault("runtime.mock.failure_rate", 0.05)
	v.SetDefault("runtime.mock.latency", 200*time.Millisecond)
	v.SetDefault("runtime.proxy.parser_url", "http://localhost:7070")
	v.SetDefault("runtime.proxy.timeout", 60*time.Second)
	v.SetDefault("runtime.remote.timeout", 60*time.Second)
}
